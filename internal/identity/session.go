package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	apierrors "keydash/internal/errors"
	"keydash/internal/infrastructure"
)

// EventType classifies a session change delivered to subscribers.
type EventType string

const (
	EventSignedIn  EventType = "signed_in"
	EventSignedOut EventType = "signed_out"
	EventExpired   EventType = "expired"
)

// Event describes a change in authentication state. Session is a copy of
// the record the change applies to.
type Event struct {
	Type    EventType
	Session Session
}

// Session is the server-side record of a signed-in operator. The browser
// only ever sees the sealed form of ID.
type Session struct {
	ID           string
	UserID       string
	Email        string
	IDToken      string
	RefreshToken string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Store keeps sessions in memory with a fixed TTL. A background sweeper
// evicts expired records so subscribers hear about expiry even when the
// operator never comes back.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	subscribers map[int]func(Event)
	nextSub     int

	ttl     time.Duration
	logger  *slog.Logger
	metrics *infrastructure.BusinessMetrics
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewStore builds a session store. A sweepInterval of zero disables the
// background sweeper; expired sessions are then only evicted on access or
// by explicit Sweep calls.
func NewStore(ttl, sweepInterval time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}

	s := &Store{
		sessions:    make(map[string]*Session),
		subscribers: make(map[int]func(Event)),
		ttl:         ttl,
		logger:      logger.With(slog.String("component", "session_store")),
		now:         time.Now,
		done:        make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.sweepLoop(sweepInterval)
	}
	return s
}

// SetMetrics wires session gauges. Safe to leave unset in tests.
func (s *Store) SetMetrics(metrics *infrastructure.BusinessMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = metrics
}

// Create stores a new session for an authenticated identity and notifies
// subscribers. The returned session carries the random ID the cookie
// sealer wraps.
func (s *Store) Create(ctx context.Context, id *Identity) (*Session, error) {
	token, err := generateSessionID()
	if err != nil {
		return nil, apierrors.NewIdentityError("failed to generate session id", err)
	}

	now := s.now()
	sess := &Session{
		ID:           token,
		UserID:       id.UserID,
		Email:        id.Email,
		IDToken:      id.IDToken,
		RefreshToken: id.RefreshToken,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}

	s.mu.Lock()
	s.sessions[token] = sess
	metrics := s.metrics
	s.mu.Unlock()

	if metrics != nil && metrics.ActiveSessions != nil {
		metrics.ActiveSessions.Add(ctx, 1)
	}

	s.logger.InfoContext(ctx, "session created",
		slog.String("user_id", sess.UserID),
		slog.Time("expires_at", sess.ExpiresAt))

	s.notify(Event{Type: EventSignedIn, Session: *sess})
	out := *sess
	return &out, nil
}

// Get returns the session for an ID. Missing and expired sessions both
// yield ErrSessionNotFound; an expired record is evicted on the way out.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, apierrors.ErrSessionNotFound
	}

	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, apierrors.ErrSessionNotFound
	}

	if s.now().After(sess.ExpiresAt) {
		s.evict(ctx, id, EventExpired)
		return nil, apierrors.ErrSessionNotFound
	}

	out := *sess
	return &out, nil
}

// Delete signs a session out. Deleting an unknown ID is a no-op.
func (s *Store) Delete(ctx context.Context, id string) {
	s.evict(ctx, id, EventSignedOut)
}

// Count reports the number of stored sessions, expired ones included
// until the sweeper catches them.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Subscribe registers a callback for session events and returns a
// function that removes it. Callbacks run on the goroutine that caused
// the event and must not block.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

// Sweep evicts every expired session and reports how many were removed.
// The background sweeper calls this on its interval; tests and shutdown
// paths may call it directly.
func (s *Store) Sweep(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var expired []*Session
	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, id)
			expired = append(expired, sess)
		}
	}
	metrics := s.metrics
	s.mu.Unlock()

	for _, sess := range expired {
		if metrics != nil && metrics.ActiveSessions != nil {
			metrics.ActiveSessions.Add(ctx, -1)
		}
		s.notify(Event{Type: EventExpired, Session: *sess})
	}

	if len(expired) > 0 {
		s.logger.InfoContext(ctx, "expired sessions swept",
			slog.Int("count", len(expired)))
	}
	return len(expired)
}

// Close stops the background sweeper. Stored sessions stay readable.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.done:
			return
		}
	}
}

// evict removes one session and notifies subscribers with the given
// event type when the session actually existed.
func (s *Store) evict(ctx context.Context, id string, event EventType) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	metrics := s.metrics
	s.mu.Unlock()

	if !ok {
		return
	}

	if metrics != nil && metrics.ActiveSessions != nil {
		metrics.ActiveSessions.Add(ctx, -1)
	}

	s.logger.InfoContext(ctx, "session removed",
		slog.String("user_id", sess.UserID),
		slog.String("reason", string(event)))

	s.notify(Event{Type: event, Session: *sess})
}

// notify delivers an event to a snapshot of the current subscribers so
// callbacks never run under the store lock.
func (s *Store) notify(event Event) {
	s.mu.RLock()
	subs := make([]func(Event), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()

	for _, fn := range subs {
		fn(event)
	}
}

// generateSessionID returns a 64 character hex token from 32 bytes of
// system randomness.
func generateSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
