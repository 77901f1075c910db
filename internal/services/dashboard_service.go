package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"keydash/internal/audit"
	apierrors "keydash/internal/errors"
	"keydash/internal/infrastructure"
	"keydash/internal/licensing"
	"keydash/internal/viewmodel"
)

// Actor identifies the administrator performing a dashboard operation.
type Actor struct {
	SessionID string
	Email     string
}

// Broadcaster pushes dashboard events to connected websocket clients.
// Implemented by the websocket hub; declared here so the service can be
// tested without one.
type Broadcaster interface {
	BroadcastLicensesChanged(action, licenseID string)
	BroadcastActionState(sessionID string, state viewmodel.State)
	ClientCount() int
}

// DashboardService owns the per-session dashboard state and orchestrates
// license operations for the HTTP handlers.
type DashboardService interface {
	// List refreshes the actor's view model from the backend and returns
	// the snapshot with the search term applied. On a refresh failure the
	// returned view still carries the last successfully fetched records.
	List(ctx context.Context, actor Actor, searchTerm string) (viewmodel.View, error)

	Create(ctx context.Context, actor Actor, days int) error
	Delete(ctx context.Context, actor Actor, licenseID string) error
	ResetHwid(ctx context.Context, actor Actor, licenseID string) error
	ToggleStatus(ctx context.Context, actor Actor, licenseID string) error

	// ActionState reports the actor's dispatcher state.
	ActionState(actor Actor) viewmodel.State

	// DismissAction clears a terminal dispatcher state, closing the loop
	// on a failed action the operator has acknowledged.
	DismissAction(actor Actor)

	// Release drops the dashboard owned by the given session. Wired to
	// session sign-out and expiry events.
	Release(sessionID string)

	// DashboardCount reports how many session dashboards are live.
	DashboardCount() int
}

// dashboard is the per-session state bundle.
type dashboard struct {
	vm          *viewmodel.ViewModel
	dispatcher  *viewmodel.Dispatcher
	unsubscribe func()
}

type dashboardService struct {
	backend licensing.Backend
	hub     Broadcaster
	trail   audit.Recorder
	metrics *infrastructure.BusinessMetrics
	logger  *slog.Logger

	mu     sync.Mutex
	boards map[string]*dashboard
}

// NewDashboardService creates the orchestration service. hub and trail
// may be nil; broadcasting and auditing are then skipped.
func NewDashboardService(backend licensing.Backend, hub Broadcaster, trail audit.Recorder, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) DashboardService {
	if logger == nil {
		logger = slog.Default()
	}
	if trail == nil {
		trail = audit.NopRecorder{}
	}
	return &dashboardService{
		backend: backend,
		hub:     hub,
		trail:   trail,
		metrics: metrics,
		logger:  logger.With(slog.String("service", "dashboard")),
		boards:  make(map[string]*dashboard),
	}
}

// board returns the session's dashboard, creating it on first use.
func (s *dashboardService) board(sessionID string) *dashboard {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.boards[sessionID]; ok {
		return b
	}

	vm := viewmodel.New(s.backend, s.logger)
	vm.SetMetrics(s.metrics)

	dispatcher := viewmodel.NewDispatcher(s.logger)
	dispatcher.SetMetrics(s.metrics)
	dispatcher.OnSuccess(vm.Refresh)

	b := &dashboard{vm: vm, dispatcher: dispatcher}
	if s.hub != nil {
		b.unsubscribe = dispatcher.Subscribe(func(state viewmodel.State) {
			s.hub.BroadcastActionState(sessionID, state)
		})
	}
	s.boards[sessionID] = b

	s.logger.Debug("dashboard created",
		slog.Int("dashboards", len(s.boards)))
	return b
}

func (s *dashboardService) List(ctx context.Context, actor Actor, searchTerm string) (viewmodel.View, error) {
	b := s.board(actor.SessionID)
	b.vm.SetSearchTerm(searchTerm)
	err := b.vm.Refresh(ctx)
	return b.vm.Snapshot(), err
}

func (s *dashboardService) Create(ctx context.Context, actor Actor, days int) error {
	return s.act(ctx, actor, viewmodel.ActionCreate, "", func(ctx context.Context) (string, error) {
		record, err := s.backend.Create(ctx, days)
		if err != nil {
			return "", err
		}
		if record == nil {
			return "", nil
		}
		s.logger.InfoContext(ctx, "license created",
			slog.String("license_id", record.ID),
			slog.Int("days", days),
			slog.String("actor", actor.Email))
		return record.ID, nil
	})
}

func (s *dashboardService) Delete(ctx context.Context, actor Actor, licenseID string) error {
	return s.act(ctx, actor, viewmodel.ActionDelete, licenseID, func(ctx context.Context) (string, error) {
		return "", s.backend.Delete(ctx, licenseID)
	})
}

func (s *dashboardService) ResetHwid(ctx context.Context, actor Actor, licenseID string) error {
	return s.act(ctx, actor, viewmodel.ActionResetHwid, licenseID, func(ctx context.Context) (string, error) {
		return "", s.backend.ResetHwid(ctx, licenseID)
	})
}

func (s *dashboardService) ToggleStatus(ctx context.Context, actor Actor, licenseID string) error {
	return s.act(ctx, actor, viewmodel.ActionToggleStatus, licenseID, func(ctx context.Context) (string, error) {
		return "", s.backend.ToggleStatus(ctx, licenseID)
	})
}

// act funnels one license action through the actor's dispatcher and, when
// the action actually ran, records it on the audit trail and broadcasts
// the change. op may return the affected license id when it only learns
// it from the backend reply (create).
func (s *dashboardService) act(ctx context.Context, actor Actor, action viewmodel.ActionKind, licenseID string, op func(context.Context) (string, error)) error {
	b := s.board(actor.SessionID)

	affectedID := licenseID
	err := b.dispatcher.Invoke(ctx, action, licenseID, func(ctx context.Context) error {
		id, opErr := op(ctx)
		if id != "" {
			affectedID = id
		}
		return opErr
	})
	if errors.Is(err, apierrors.ErrActionInFlight) {
		// The action never ran; there is nothing to audit or broadcast.
		return err
	}

	entry := audit.Entry{
		Actor:     actor.Email,
		Action:    string(action),
		LicenseID: affectedID,
		Outcome:   audit.OutcomeSuccess,
		At:        time.Now(),
	}
	if err != nil {
		entry.Outcome = audit.OutcomeFailure
		entry.Detail = viewmodel.ActionErrorMessage(err)
	}
	if auditErr := s.trail.Record(ctx, entry); auditErr != nil {
		s.logger.WarnContext(ctx, "audit record failed",
			slog.String("action", string(action)),
			slog.String("error", auditErr.Error()))
	}

	if err == nil && s.hub != nil {
		s.hub.BroadcastLicensesChanged(string(action), affectedID)
	}
	return err
}

func (s *dashboardService) ActionState(actor Actor) viewmodel.State {
	return s.board(actor.SessionID).dispatcher.State()
}

func (s *dashboardService) DismissAction(actor Actor) {
	s.board(actor.SessionID).dispatcher.Reset()
}

func (s *dashboardService) Release(sessionID string) {
	s.mu.Lock()
	b, ok := s.boards[sessionID]
	if ok {
		delete(s.boards, sessionID)
	}
	remaining := len(s.boards)
	s.mu.Unlock()

	if !ok {
		return
	}
	if b.unsubscribe != nil {
		b.unsubscribe()
	}
	s.logger.Debug("dashboard released",
		slog.Int("dashboards", remaining))
}

func (s *dashboardService) DashboardCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.boards)
}
