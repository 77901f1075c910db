// Package viewmodel holds the dashboard's in-memory view of the license
// list and the single-slot action state machine. Both are plain state
// containers: handlers mutate them through their methods and render
// whatever Snapshot returns.
package viewmodel

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"keydash/internal/infrastructure"
	"keydash/internal/licensing"
	"keydash/pkg/contracts/domain"
)

const day = 24 * time.Hour

// dateLayout is how expiry dates render in the dashboard and exports.
const dateLayout = "Jan 2, 2006"

// Placeholders for expiry values the display cannot format.
const (
	AbsentPlaceholder  = "N/A"
	InvalidPlaceholder = "Invalid Date"
)

// ViewModel owns the last-fetched license list, the current search term,
// the loading flag and the last fetch error. Refreshes carry a monotonic
// token; a response that comes back after a newer refresh was issued is
// discarded instead of overwriting fresher data.
type ViewModel struct {
	mu sync.RWMutex

	backend licensing.Backend
	logger  *slog.Logger
	metrics *infrastructure.BusinessMetrics
	now     func() time.Time

	records    []domain.LicenseRecord
	searchTerm string
	fetchErr   error

	issuedToken  uint64
	appliedToken uint64
}

// View is a point-in-time copy of the dashboard state with the display
// fields already derived.
type View struct {
	Records    []Row  `json:"licenses"`
	SearchTerm string `json:"search_term"`
	Loading    bool   `json:"loading"`
	Error      string `json:"error,omitempty"`
	Total      int    `json:"total"`
	Matched    int    `json:"matched"`
}

// Row is one license record decorated for display.
type Row struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	Hwid          *string `json:"hwid,omitempty"`
	ExpireDate    string  `json:"expire_date"`
	RemainingDays string  `json:"remaining_days"`
}

// New builds a view model over the given backend.
func New(backend licensing.Backend, logger *slog.Logger) *ViewModel {
	if logger == nil {
		logger = slog.Default()
	}
	return &ViewModel{
		backend: backend,
		logger:  logger.With(slog.String("component", "license_view")),
		now:     time.Now,
	}
}

// SetMetrics wires fetch counters. Safe to leave unset in tests.
func (vm *ViewModel) SetMetrics(metrics *infrastructure.BusinessMetrics) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.metrics = metrics
}

// Refresh fetches the license list and applies it if no newer refresh
// was issued meanwhile. The returned error reports this fetch's own
// outcome; a discarded stale result returns nil because fresher data
// already won.
func (vm *ViewModel) Refresh(ctx context.Context) error {
	token := vm.beginFetch()
	start := vm.now()

	records, err := vm.backend.List(ctx)
	return vm.completeFetch(ctx, token, records, err, vm.now().Sub(start))
}

// beginFetch issues the next fetch token and flips the loading flag.
func (vm *ViewModel) beginFetch() uint64 {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.issuedToken++
	return vm.issuedToken
}

// completeFetch applies a finished fetch. Only the newest issued token
// may write; older responses are counted and dropped.
func (vm *ViewModel) completeFetch(ctx context.Context, token uint64, records []domain.LicenseRecord, err error, elapsed time.Duration) error {
	vm.mu.Lock()
	metrics := vm.metrics

	if token != vm.issuedToken {
		vm.mu.Unlock()
		if metrics != nil && metrics.StaleFetchesDiscarded != nil {
			metrics.StaleFetchesDiscarded.Add(ctx, 1)
		}
		vm.logger.InfoContext(ctx, "stale list response discarded",
			slog.Uint64("token", token))
		return nil
	}

	vm.appliedToken = token
	if err != nil {
		vm.fetchErr = err
	} else {
		vm.fetchErr = nil
		vm.records = records
	}
	vm.mu.Unlock()

	result := "success"
	if err != nil {
		result = "error"
	}
	if metrics != nil {
		if metrics.ListFetches != nil {
			metrics.ListFetches.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
		}
		if metrics.ListFetchDuration != nil {
			metrics.ListFetchDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("result", result)))
		}
	}
	return err
}

// SetSearchTerm stores the operator's filter input.
func (vm *ViewModel) SetSearchTerm(term string) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.searchTerm = term
}

// SearchTerm returns the current filter input.
func (vm *ViewModel) SearchTerm() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.searchTerm
}

// Records returns a copy of the unfiltered list in backend order.
func (vm *ViewModel) Records() []domain.LicenseRecord {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := make([]domain.LicenseRecord, len(vm.records))
	copy(out, vm.records)
	return out
}

// Err returns the last fetch error, nil after a successful refresh.
func (vm *ViewModel) Err() error {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.fetchErr
}

// Loading reports whether a refresh is in flight.
func (vm *ViewModel) Loading() bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.appliedToken < vm.issuedToken
}

// Snapshot derives the filtered, display-ready view.
func (vm *ViewModel) Snapshot() View {
	vm.mu.RLock()
	records := vm.records
	term := vm.searchTerm
	loading := vm.appliedToken < vm.issuedToken
	fetchErr := vm.fetchErr
	now := vm.now()
	vm.mu.RUnlock()

	filtered := Filter(records, term)
	rows := make([]Row, len(filtered))
	for i, rec := range filtered {
		rows[i] = Row{
			ID:            rec.ID,
			Status:        string(rec.Status),
			Hwid:          rec.Hwid,
			ExpireDate:    FormatDate(rec.ExpireTime),
			RemainingDays: RemainingDaysLabel(rec.ExpireTime, now),
		}
	}

	view := View{
		Records:    rows,
		SearchTerm: term,
		Loading:    loading,
		Total:      len(records),
		Matched:    len(filtered),
	}
	if fetchErr != nil {
		view.Error = fetchErr.Error()
	}
	return view
}

// Filter returns the subsequence of records whose id, hwid or status
// contains the term case-insensitively. An empty term returns the input
// unchanged; order is always preserved.
func Filter(records []domain.LicenseRecord, term string) []domain.LicenseRecord {
	if term == "" {
		return records
	}

	needle := strings.ToLower(term)
	out := make([]domain.LicenseRecord, 0, len(records))
	for _, rec := range records {
		if matches(rec, needle) {
			out = append(out, rec)
		}
	}
	return out
}

func matches(rec domain.LicenseRecord, needle string) bool {
	if strings.Contains(strings.ToLower(rec.ID), needle) {
		return true
	}
	if rec.Hwid != nil && strings.Contains(strings.ToLower(*rec.Hwid), needle) {
		return true
	}
	return strings.Contains(strings.ToLower(string(rec.Status)), needle)
}

// FormatDate renders an expiry for display: the date itself, "N/A" when
// absent, or the invalid placeholder when the backend sent a value no
// parser accepted.
func FormatDate(ts *domain.Timestamp) string {
	if ts == nil {
		return AbsentPlaceholder
	}
	if !ts.Valid() {
		return InvalidPlaceholder
	}
	return ts.Time().Format(dateLayout)
}

// RemainingDays computes ceil((expiry - now) / 1 day), floored at zero
// once the expiry has passed. The second return is false when the expiry
// is absent or invalid.
func RemainingDays(ts *domain.Timestamp, now time.Time) (int, bool) {
	if ts == nil || !ts.Valid() {
		return 0, false
	}

	diff := ts.Time().Sub(now)
	if diff <= 0 {
		return 0, true
	}
	return int((diff + day - 1) / day), true
}

// RemainingDaysLabel is RemainingDays for display, with "N/A" standing
// in for absent or invalid expiries.
func RemainingDaysLabel(ts *domain.Timestamp, now time.Time) string {
	days, ok := RemainingDays(ts, now)
	if !ok {
		return AbsentPlaceholder
	}
	return strconv.Itoa(days)
}
