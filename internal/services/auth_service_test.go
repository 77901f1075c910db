package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "keydash/internal/errors"
	"keydash/internal/identity"
	"keydash/internal/shared/testutil"
)

const testAuthSecret = "0123456789abcdef-auth-secret"

func newTestAuthService(t *testing.T, gateway identity.Gateway) (AuthService, *identity.Store) {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)

	store := identity.NewStore(time.Hour, 0, logger)
	t.Cleanup(store.Close)

	sealer, err := identity.NewSealer(testAuthSecret)
	require.NoError(t, err)

	return NewAuthService(gateway, store, sealer, logger), store
}

func TestSignInSuccess(t *testing.T) {
	svc, store := newTestAuthService(t, &fakeGateway{})

	sess, cookie, err := svc.SignIn(context.Background(), "ops@example.com", "hunter22")
	require.NoError(t, err)
	require.NotNil(t, sess)

	assert.Equal(t, "user-42", sess.UserID)
	assert.Equal(t, "ops@example.com", sess.Email)
	assert.Equal(t, 1, store.Count())

	assert.NotEmpty(t, cookie)
	assert.NotContains(t, cookie, sess.ID, "the cookie must not expose the raw session id")
}

func TestSignInRejectedCredentials(t *testing.T) {
	gateway := &fakeGateway{
		authenticateFunc: func(ctx context.Context, email, password string) (*identity.Identity, error) {
			return nil, apierrors.NewIdentityError("invalid email or password", apierrors.ErrInvalidCredentials)
		},
	}
	svc, store := newTestAuthService(t, gateway)

	sess, cookie, err := svc.SignIn(context.Background(), "ops@example.com", "wrong")
	assert.True(t, errors.Is(err, apierrors.ErrInvalidCredentials))
	assert.Nil(t, sess)
	assert.Empty(t, cookie)
	assert.Zero(t, store.Count(), "no session on a failed sign-in")
}

func TestSignInIdentityUnavailable(t *testing.T) {
	gateway := &fakeGateway{
		authenticateFunc: func(ctx context.Context, email, password string) (*identity.Identity, error) {
			return nil, apierrors.NewNetworkError("identity provider unreachable", apierrors.ErrIdentityUnavailable)
		},
	}
	svc, store := newTestAuthService(t, gateway)

	_, _, err := svc.SignIn(context.Background(), "ops@example.com", "hunter22")
	assert.True(t, errors.Is(err, apierrors.ErrIdentityUnavailable))
	assert.Zero(t, store.Count())
}

func TestResolveRoundTrip(t *testing.T) {
	svc, _ := newTestAuthService(t, &fakeGateway{})

	signedIn, cookie, err := svc.SignIn(context.Background(), "ops@example.com", "hunter22")
	require.NoError(t, err)

	resolved, err := svc.Resolve(context.Background(), cookie)
	require.NoError(t, err)
	assert.Equal(t, signedIn.ID, resolved.ID)
	assert.Equal(t, signedIn.Email, resolved.Email)
}

func TestResolveRejectsTamperedCookie(t *testing.T) {
	svc, _ := newTestAuthService(t, &fakeGateway{})

	_, cookie, err := svc.SignIn(context.Background(), "ops@example.com", "hunter22")
	require.NoError(t, err)

	tampered := cookie[:len(cookie)-2] + "zz"
	_, err = svc.Resolve(context.Background(), tampered)
	assert.True(t, errors.Is(err, apierrors.ErrSessionNotFound))
}

func TestResolveExpiredSession(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	store := identity.NewStore(time.Nanosecond, 0, logger)
	t.Cleanup(store.Close)
	sealer, err := identity.NewSealer(testAuthSecret)
	require.NoError(t, err)
	svc := NewAuthService(&fakeGateway{}, store, sealer, logger)

	_, cookie, err := svc.SignIn(context.Background(), "ops@example.com", "hunter22")
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	_, err = svc.Resolve(context.Background(), cookie)
	assert.True(t, errors.Is(err, apierrors.ErrSessionNotFound))
}

func TestSignOutEndsSession(t *testing.T) {
	svc, store := newTestAuthService(t, &fakeGateway{})

	_, cookie, err := svc.SignIn(context.Background(), "ops@example.com", "hunter22")
	require.NoError(t, err)
	require.Equal(t, 1, store.Count())

	require.NoError(t, svc.SignOut(context.Background(), cookie))
	assert.Zero(t, store.Count())

	_, err = svc.Resolve(context.Background(), cookie)
	assert.True(t, errors.Is(err, apierrors.ErrSessionNotFound))
}

func TestSignOutIsIdempotent(t *testing.T) {
	svc, _ := newTestAuthService(t, &fakeGateway{})

	_, cookie, err := svc.SignIn(context.Background(), "ops@example.com", "hunter22")
	require.NoError(t, err)

	require.NoError(t, svc.SignOut(context.Background(), cookie))
	require.NoError(t, svc.SignOut(context.Background(), cookie))
	require.NoError(t, svc.SignOut(context.Background(), "not-even-a-cookie"))
	require.NoError(t, svc.SignOut(context.Background(), ""))
}
