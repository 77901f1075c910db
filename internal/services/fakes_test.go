package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	apierrors "keydash/internal/errors"
	"keydash/internal/identity"
	"keydash/pkg/contracts/domain"
)

// fakeGateway is a func-backed identity.Gateway.
type fakeGateway struct {
	authenticateFunc func(ctx context.Context, email, password string) (*identity.Identity, error)
	lookupFunc       func(ctx context.Context, idToken string) (*identity.Account, error)
}

func (f *fakeGateway) Authenticate(ctx context.Context, email, password string) (*identity.Identity, error) {
	if f.authenticateFunc != nil {
		return f.authenticateFunc(ctx, email, password)
	}
	return &identity.Identity{
		UserID:    "user-42",
		Email:     email,
		IDToken:   "tok-abc",
		ExpiresIn: time.Hour,
	}, nil
}

func (f *fakeGateway) Lookup(ctx context.Context, idToken string) (*identity.Account, error) {
	if f.lookupFunc != nil {
		return f.lookupFunc(ctx, idToken)
	}
	return nil, apierrors.NewIdentityError("unknown session", apierrors.ErrSessionNotFound)
}

// fakeBackend is a stateful in-memory licensing.Backend. Mutations apply
// to the held records so refetch-after-action tests observe real state
// transitions.
type fakeBackend struct {
	mu        sync.Mutex
	records   []domain.LicenseRecord
	listErr   error
	mutateErr error
	listCalls int
	nextID    string

	// When set, mutations block here until the channel closes.
	gate chan struct{}
}

func (f *fakeBackend) waitGate() {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (f *fakeBackend) List(ctx context.Context) ([]domain.LicenseRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.LicenseRecord, len(f.records))
	copy(out, f.records)
	return out, nil
}

func (f *fakeBackend) Create(ctx context.Context, days int) (*domain.LicenseRecord, error) {
	f.waitGate()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutateErr != nil {
		return nil, f.mutateErr
	}
	id := f.nextID
	if id == "" {
		id = fmt.Sprintf("KEY-NEW-%04d", len(f.records)+1)
	}
	record := domain.LicenseRecord{
		ID:         id,
		Status:     domain.LicenseStatusActive,
		ExpireTime: domain.NewTimestamp(time.Now().Add(time.Duration(days) * 24 * time.Hour)),
	}
	f.records = append(f.records, record)
	return &record, nil
}

func (f *fakeBackend) Delete(ctx context.Context, id string) error {
	f.waitGate()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutateErr != nil {
		return f.mutateErr
	}
	for i, record := range f.records {
		if record.ID == id {
			f.records = append(f.records[:i], f.records[i+1:]...)
			return nil
		}
	}
	return apierrors.NewBackendRejection(404, "license not found")
}

func (f *fakeBackend) ResetHwid(ctx context.Context, id string) error {
	f.waitGate()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutateErr != nil {
		return f.mutateErr
	}
	for i := range f.records {
		if f.records[i].ID == id {
			f.records[i].Hwid = nil
			return nil
		}
	}
	return apierrors.NewBackendRejection(404, "license not found")
}

func (f *fakeBackend) ToggleStatus(ctx context.Context, id string) error {
	f.waitGate()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutateErr != nil {
		return f.mutateErr
	}
	for i := range f.records {
		if f.records[i].ID == id {
			f.records[i].Status = f.records[i].Status.Toggled()
			return nil
		}
	}
	return apierrors.NewBackendRejection(404, "license not found")
}

func (f *fakeBackend) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeBackend) setListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

func (f *fakeBackend) setMutateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutateErr = err
}
