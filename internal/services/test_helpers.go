package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"keydash/internal/audit"
	"keydash/internal/viewmodel"
)

// MockBroadcaster is a mock for the Broadcaster interface
type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) BroadcastLicensesChanged(action, licenseID string) {
	m.Called(action, licenseID)
}

func (m *MockBroadcaster) BroadcastActionState(sessionID string, state viewmodel.State) {
	m.Called(sessionID, state)
}

func (m *MockBroadcaster) ClientCount() int {
	args := m.Called()
	return args.Int(0)
}

// MockAuditRecorder is a mock for the audit.Recorder interface
type MockAuditRecorder struct {
	mock.Mock
}

func (m *MockAuditRecorder) Record(ctx context.Context, entry audit.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}
