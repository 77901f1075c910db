package testutil

import (
	"fmt"
	"time"

	"keydash/pkg/contracts/domain"
)

// LicenseFixtures provides license records and backend payloads for testing
type LicenseFixtures struct {
	Now time.Time
}

// NewLicenseFixtures creates a fixtures builder anchored at a fixed instant
// so remaining-day calculations stay stable within a test.
func NewLicenseFixtures() *LicenseFixtures {
	return &LicenseFixtures{
		Now: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
}

// ActiveBound returns an active license locked to a device
func (f *LicenseFixtures) ActiveBound() domain.LicenseRecord {
	hwid := "HW-77F2-AC1B-90D1"
	return domain.LicenseRecord{
		ID:         "KEY-ACTIVE-0001",
		Status:     domain.LicenseStatusActive,
		Hwid:       &hwid,
		ExpireTime: domain.NewTimestamp(f.Now.Add(30 * 24 * time.Hour)),
	}
}

// ActiveUnbound returns an active license no device has claimed yet
func (f *LicenseFixtures) ActiveUnbound() domain.LicenseRecord {
	return domain.LicenseRecord{
		ID:         "KEY-ACTIVE-0002",
		Status:     domain.LicenseStatusActive,
		ExpireTime: domain.NewTimestamp(f.Now.Add(90 * 24 * time.Hour)),
	}
}

// Paused returns a paused license
func (f *LicenseFixtures) Paused() domain.LicenseRecord {
	hwid := "HW-55E0-1D3C-22B8"
	return domain.LicenseRecord{
		ID:         "KEY-PAUSED-0003",
		Status:     domain.LicenseStatusPaused,
		Hwid:       &hwid,
		ExpireTime: domain.NewTimestamp(f.Now.Add(14 * 24 * time.Hour)),
	}
}

// Expired returns an active license whose expiry already passed
func (f *LicenseFixtures) Expired() domain.LicenseRecord {
	hwid := "HW-0A9F-C4E7-8815"
	return domain.LicenseRecord{
		ID:         "KEY-EXPIRED-0004",
		Status:     domain.LicenseStatusActive,
		Hwid:       &hwid,
		ExpireTime: domain.NewTimestamp(f.Now.Add(-10 * 24 * time.Hour)),
	}
}

// NoExpiry returns a license with no expiry set
func (f *LicenseFixtures) NoExpiry() domain.LicenseRecord {
	return domain.LicenseRecord{
		ID:     "KEY-NOEXP-0005",
		Status: domain.LicenseStatusActive,
	}
}

// Records returns the standard fixture set in a stable order
func (f *LicenseFixtures) Records() []domain.LicenseRecord {
	return []domain.LicenseRecord{
		f.ActiveBound(),
		f.ActiveUnbound(),
		f.Paused(),
		f.Expired(),
		f.NoExpiry(),
	}
}

// ListPayload returns a backend list reply mixing both timestamp encodings
func (f *LicenseFixtures) ListPayload() string {
	iso := f.Now.Add(30 * 24 * time.Hour).Format(time.RFC3339)
	seconds := f.Now.Add(90 * 24 * time.Hour).Unix()
	pastISO := f.Now.Add(-10 * 24 * time.Hour).Format(time.RFC3339)
	return fmt.Sprintf(`{
  "licenses": [
    {"id": "KEY-ACTIVE-0001", "status": "active", "hwid": "HW-77F2-AC1B-90D1", "expire_time": %q},
    {"id": "KEY-ACTIVE-0002", "status": "active", "expire_time": {"_seconds": %d, "_nanoseconds": 0}},
    {"id": "KEY-PAUSED-0003", "status": "paused", "hwid": "HW-55E0-1D3C-22B8", "expire_time": %q},
    {"id": "KEY-NOEXP-0005", "status": "active"}
  ]
}`, iso, seconds, pastISO)
}

// CreatedPayload returns a backend create reply for a fresh key
func (f *LicenseFixtures) CreatedPayload(id string, days int) string {
	expiry := f.Now.Add(time.Duration(days) * 24 * time.Hour).Format(time.RFC3339)
	return fmt.Sprintf(`{"id": %q, "status": "active", "expire_time": %q}`, id, expiry)
}

// RejectionPayload returns the backend's error body shape
func (f *LicenseFixtures) RejectionPayload(message string) string {
	return fmt.Sprintf(`{"message": %q}`, message)
}
