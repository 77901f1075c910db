// Package audit appends admin license actions to an external append-only
// trail. The trail is optional: when no spreadsheet is configured the
// service runs with the no-op recorder and nothing is written anywhere.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"keydash/internal/config"
	"keydash/internal/infrastructure"
)

// Entry is one recorded admin action.
type Entry struct {
	Actor     string
	Action    string
	LicenseID string
	Outcome   string
	Detail    string
	At        time.Time
}

// Outcome values for Entry.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder appends entries to the audit trail.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// NopRecorder discards every entry.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(context.Context, Entry) error { return nil }

// SheetsRecorder appends one row per admin action to a Google Sheet.
type SheetsRecorder struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	logger        *slog.Logger
	metrics       *infrastructure.BusinessMetrics
}

// NewSheetsRecorder builds a recorder against the configured spreadsheet.
// With a credentials file the service authenticates as that service
// account; without one the Google client falls back to application
// default credentials.
func NewSheetsRecorder(ctx context.Context, cfg config.AuditConfig, logger *slog.Logger) (*SheetsRecorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("audit spreadsheet id is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	sheetName := cfg.SheetName
	if sheetName == "" {
		sheetName = "AuditLog"
	}

	return &SheetsRecorder{
		service:       service,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     sheetName,
		logger:        logger.With(slog.String("component", "audit_recorder")),
	}, nil
}

// SetMetrics wires the appended-rows counter. Safe to leave unset.
func (r *SheetsRecorder) SetMetrics(metrics *infrastructure.BusinessMetrics) {
	r.metrics = metrics
}

// Record appends one row. Row shape:
// id | timestamp | actor | action | license id | outcome | detail
func (r *SheetsRecorder) Record(ctx context.Context, entry Entry) error {
	at := entry.At
	if at.IsZero() {
		at = time.Now()
	}

	values := [][]interface{}{
		{
			uuid.NewString(),
			at.UTC().Format(time.RFC3339),
			entry.Actor,
			entry.Action,
			entry.LicenseID,
			entry.Outcome,
			entry.Detail,
		},
	}
	valueRange := &sheets.ValueRange{Values: values}
	appendRange := fmt.Sprintf("%s!A:G", r.sheetName)

	_, err := r.service.Spreadsheets.Values.Append(r.spreadsheetID, appendRange, valueRange).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		r.logger.ErrorContext(ctx, "audit row append failed",
			slog.String("action", entry.Action),
			slog.String("license_id", entry.LicenseID),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to append audit row: %w", err)
	}

	if r.metrics != nil && r.metrics.AuditRowsAppended != nil {
		r.metrics.AuditRowsAppended.Add(ctx, 1)
	}
	r.logger.DebugContext(ctx, "audit row appended",
		slog.String("actor", entry.Actor),
		slog.String("action", entry.Action),
		slog.String("license_id", entry.LicenseID),
		slog.String("outcome", entry.Outcome))
	return nil
}
