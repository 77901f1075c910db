package services

import (
	"context"
	"log/slog"

	"keydash/internal/identity"
)

// AuthService signs administrators in and out and resolves their session
// cookies back to live sessions.
type AuthService interface {
	// SignIn authenticates the credentials against the identity gateway,
	// creates a server-side session, and returns it together with the
	// sealed cookie value the browser should hold.
	SignIn(ctx context.Context, email, password string) (*identity.Session, string, error)

	// SignOut ends the session behind the given cookie value. Unknown or
	// malformed cookies are not an error; signing out is idempotent.
	SignOut(ctx context.Context, cookieValue string) error

	// Resolve opens the sealed cookie value and returns the session it
	// names, or ErrSessionNotFound.
	Resolve(ctx context.Context, cookieValue string) (*identity.Session, error)
}

type authService struct {
	gateway  identity.Gateway
	sessions *identity.Store
	sealer   *identity.Sealer
	logger   *slog.Logger
}

// NewAuthService creates the session-backed auth service.
func NewAuthService(gateway identity.Gateway, sessions *identity.Store, sealer *identity.Sealer, logger *slog.Logger) AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &authService{
		gateway:  gateway,
		sessions: sessions,
		sealer:   sealer,
		logger:   logger.With(slog.String("service", "auth")),
	}
}

func (s *authService) SignIn(ctx context.Context, email, password string) (*identity.Session, string, error) {
	ident, err := s.gateway.Authenticate(ctx, email, password)
	if err != nil {
		return nil, "", err
	}

	sess, err := s.sessions.Create(ctx, ident)
	if err != nil {
		return nil, "", err
	}

	cookie, err := s.sealer.Seal(sess.ID)
	if err != nil {
		// A session the browser cannot name is unusable; drop it again.
		s.sessions.Delete(ctx, sess.ID)
		return nil, "", err
	}

	s.logger.InfoContext(ctx, "admin signed in",
		slog.String("user_id", sess.UserID))
	return sess, cookie, nil
}

func (s *authService) SignOut(ctx context.Context, cookieValue string) error {
	id, err := s.sealer.Open(cookieValue)
	if err != nil {
		// Nothing server-side to end; the handler clears the cookie anyway.
		return nil
	}

	s.sessions.Delete(ctx, id)
	s.logger.InfoContext(ctx, "admin signed out")
	return nil
}

func (s *authService) Resolve(ctx context.Context, cookieValue string) (*identity.Session, error) {
	id, err := s.sealer.Open(cookieValue)
	if err != nil {
		return nil, err
	}
	return s.sessions.Get(ctx, id)
}
