package viewmodel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apierrors "keydash/internal/errors"
	"keydash/internal/infrastructure"
)

// Phase is the dispatcher's position in its lifecycle.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhasePending Phase = "pending"
	PhaseSuccess Phase = "success"
	PhaseFailed  Phase = "failed"
)

// ActionKind names the mutating operations the dashboard can dispatch.
type ActionKind string

const (
	ActionCreate       ActionKind = "create"
	ActionDelete       ActionKind = "delete"
	ActionResetHwid    ActionKind = "reset_hwid"
	ActionToggleStatus ActionKind = "toggle_status"
)

// State is a point-in-time copy of the dispatcher. Message is only set
// in the failed phase and carries the text shown to the operator.
type State struct {
	Phase     Phase      `json:"phase"`
	Action    ActionKind `json:"action,omitempty"`
	Key       string     `json:"key,omitempty"`
	Message   string     `json:"message,omitempty"`
	ChangedAt time.Time  `json:"changed_at"`
}

// Occupied reports whether an action currently holds the slot. Success
// counts as occupied because the post-action refetch is still running.
func (s State) Occupied() bool {
	return s.Phase == PhasePending || s.Phase == PhaseSuccess
}

// Dispatcher runs mutating license actions one at a time. A second
// invoke while one is in flight is rejected with ErrActionInFlight
// rather than queued. After a success the configured refetch runs before
// the slot frees; after a failure the failed state persists until the
// operator dismisses or retries, so the UI can keep its modal open.
type Dispatcher struct {
	mu          sync.Mutex
	state       State
	subscribers map[int]func(State)
	nextSub     int

	onSuccess func(context.Context) error
	logger    *slog.Logger
	metrics   *infrastructure.BusinessMetrics
	now       func() time.Time
}

// NewDispatcher builds an idle dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		subscribers: make(map[int]func(State)),
		logger:      logger.With(slog.String("component", "action_dispatcher")),
		now:         time.Now,
	}
	d.state = State{Phase: PhaseIdle, ChangedAt: d.now()}
	return d
}

// OnSuccess sets the hook that runs after a successful action, before
// the slot frees. The dashboard wires the list refetch here.
func (d *Dispatcher) OnSuccess(fn func(context.Context) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSuccess = fn
}

// SetMetrics wires action counters. Safe to leave unset in tests.
func (d *Dispatcher) SetMetrics(metrics *infrastructure.BusinessMetrics) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics = metrics
}

// State returns a copy of the current state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Subscribe registers a callback for state transitions and returns a
// function that removes it. Callbacks run on the invoking goroutine and
// must not block.
func (d *Dispatcher) Subscribe(fn func(State)) func() {
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subscribers[id] = fn
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subscribers, id)
			d.mu.Unlock()
		})
	}
}

// Invoke runs one action through the machine: Pending, then Success plus
// refetch and back to Idle, or Failed with an operator-facing message.
// The returned error is the action's own failure, or ErrActionInFlight
// when the slot is taken.
func (d *Dispatcher) Invoke(ctx context.Context, action ActionKind, key string, op func(context.Context) error) error {
	d.mu.Lock()
	if d.state.Occupied() {
		holder := d.state.Action
		metrics := d.metrics
		d.mu.Unlock()

		if metrics != nil && metrics.ActionRejections != nil {
			metrics.ActionRejections.Add(ctx, 1,
				metric.WithAttributes(attribute.String("action", string(action))))
		}
		d.logger.WarnContext(ctx, "action rejected, slot occupied",
			slog.String("action", string(action)),
			slog.String("pending_action", string(holder)))
		return apierrors.ErrActionInFlight
	}
	d.transitionLocked(State{Phase: PhasePending, Action: action, Key: key})
	d.mu.Unlock()
	d.notify(d.State())

	d.logger.InfoContext(ctx, "action started",
		slog.String("action", string(action)),
		slog.String("license_id", key))

	start := d.now()
	err := op(ctx)
	elapsed := d.now().Sub(start)

	if err != nil {
		message := ActionErrorMessage(err)

		d.mu.Lock()
		d.transitionLocked(State{Phase: PhaseFailed, Action: action, Key: key, Message: message})
		d.mu.Unlock()
		d.notify(d.State())

		d.recordAction(ctx, action, "error", elapsed)
		d.logger.ErrorContext(ctx, "action failed",
			slog.String("action", string(action)),
			slog.String("license_id", key),
			slog.String("error", err.Error()))
		return err
	}

	d.mu.Lock()
	d.transitionLocked(State{Phase: PhaseSuccess, Action: action, Key: key})
	d.mu.Unlock()
	d.notify(d.State())

	d.recordAction(ctx, action, "success", elapsed)
	d.logger.InfoContext(ctx, "action completed",
		slog.String("action", string(action)),
		slog.String("license_id", key),
		slog.Duration("elapsed", elapsed))

	// The slot stays occupied until the refetch lands so the list the
	// operator sees next already reflects the mutation.
	if hook := d.successHook(); hook != nil {
		if refetchErr := hook(ctx); refetchErr != nil {
			d.logger.WarnContext(ctx, "refetch after action failed",
				slog.String("action", string(action)),
				slog.String("error", refetchErr.Error()))
		}
	}

	d.mu.Lock()
	d.transitionLocked(State{Phase: PhaseIdle})
	d.mu.Unlock()
	d.notify(d.State())
	return nil
}

// Reset dismisses a terminal state. From Failed (or a lingering Success)
// it returns the machine to Idle; while an action is Pending it does
// nothing.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	if d.state.Phase != PhaseFailed && d.state.Phase != PhaseSuccess {
		d.mu.Unlock()
		return
	}
	d.transitionLocked(State{Phase: PhaseIdle})
	d.mu.Unlock()
	d.notify(d.State())
}

func (d *Dispatcher) transitionLocked(next State) {
	next.ChangedAt = d.now()
	d.state = next
}

func (d *Dispatcher) successHook() func(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.onSuccess
}

func (d *Dispatcher) recordAction(ctx context.Context, action ActionKind, result string, elapsed time.Duration) {
	d.mu.Lock()
	metrics := d.metrics
	d.mu.Unlock()
	if metrics == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.String("result", result),
	)
	if metrics.ActionsTotal != nil {
		metrics.ActionsTotal.Add(ctx, 1, attrs)
	}
	if metrics.ActionDuration != nil {
		metrics.ActionDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

func (d *Dispatcher) notify(state State) {
	d.mu.Lock()
	subs := make([]func(State), 0, len(d.subscribers))
	for _, fn := range d.subscribers {
		subs = append(subs, fn)
	}
	d.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}

// ActionErrorMessage converts an action failure into the text shown to
// the operator. A backend rejection's own message wins; everything else
// falls back to a stable phrase.
func ActionErrorMessage(err error) string {
	var rejection *apierrors.BackendRejection
	if errors.As(err, &rejection) && rejection.Message != "" {
		return rejection.Message
	}
	if errors.Is(err, apierrors.ErrBackendUnavailable) {
		return "The license backend could not be reached. Please try again."
	}
	if errors.Is(err, apierrors.ErrInvalidDays) {
		return "The license duration must be at least one day."
	}
	return "The action could not be completed. Please try again."
}
