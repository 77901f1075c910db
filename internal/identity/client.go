// Package identity talks to the external identity provider and keeps
// server-side sessions for signed-in operators. The provider is never
// exposed to the browser; the dashboard exchanges email/password for a
// provider token here and hands the browser an opaque sealed cookie.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"keydash/internal/config"
	apierrors "keydash/internal/errors"
)

// Identity is the authenticated account returned by a successful sign-in.
type Identity struct {
	UserID       string
	Email        string
	IDToken      string
	RefreshToken string
	ExpiresIn    time.Duration
}

// Account holds the profile details returned by a token lookup.
type Account struct {
	UserID        string
	Email         string
	EmailVerified bool
	LastLoginAt   time.Time
}

// Gateway is the identity provider surface the rest of the application
// depends on. Client implements it against the provider's REST API.
type Gateway interface {
	Authenticate(ctx context.Context, email, password string) (*Identity, error)
	Lookup(ctx context.Context, idToken string) (*Account, error)
}

// Client calls the identity provider's REST API. It holds the provider
// API key server-side and maps provider failures onto domain errors so
// handlers can distinguish bad credentials from an unreachable provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates the identity configuration and builds a client.
// Missing configuration is a fatal setup problem, not a sign-in failure,
// so it surfaces as ErrGatewayNotConfigured.
func NewClient(cfg config.IdentityConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, apierrors.NewConfigError("identity base URL is required", apierrors.ErrGatewayNotConfigured)
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, apierrors.NewConfigError(fmt.Sprintf("identity base URL %q is not a valid URL", cfg.BaseURL), apierrors.ErrGatewayNotConfigured)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apierrors.NewConfigError("identity API key is required", apierrors.ErrGatewayNotConfigured)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.IdentityTimeout
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "identity_client")),
	}, nil
}

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

// Authenticate exchanges an email/password pair for a provider identity.
// Wrong credentials come back as ErrInvalidCredentials; an unreachable or
// failing provider comes back as ErrIdentityUnavailable.
func (c *Client) Authenticate(ctx context.Context, email, password string) (*Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, apierrors.NewIdentityError("email and password are required", apierrors.ErrInvalidCredentials)
	}

	c.logger.InfoContext(ctx, "identity sign-in attempt",
		slog.String("operation", "identity_sign_in"),
		slog.String("email", maskEmail(email)))

	raw, status, err := c.post(ctx, config.IdentitySignInPath, signInRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "identity sign-in request failed",
			slog.String("operation", "identity_sign_in"),
			slog.String("error", err.Error()))
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.signInError(ctx, status, raw)
	}

	var result signInResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, apierrors.NewParsingError("failed to decode sign-in response", err)
	}
	if result.LocalID == "" || result.IDToken == "" {
		return nil, apierrors.NewParsingError("sign-in response is missing the account token", nil)
	}

	c.logger.InfoContext(ctx, "identity sign-in succeeded",
		slog.String("operation", "identity_sign_in"),
		slog.String("user_id", result.LocalID))

	return &Identity{
		UserID:       result.LocalID,
		Email:        result.Email,
		IDToken:      result.IDToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    parseExpiresIn(result.ExpiresIn),
	}, nil
}

type lookupRequest struct {
	IDToken string `json:"idToken"`
}

type lookupResponse struct {
	Users []lookupUser `json:"users"`
}

type lookupUser struct {
	LocalID       string `json:"localId"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
	LastLoginAt   string `json:"lastLoginAt"`
}

// Lookup verifies a provider token and returns the account it belongs to.
// A rejected or expired token maps to ErrSessionNotFound so callers treat
// it the same as a missing session.
func (c *Client) Lookup(ctx context.Context, idToken string) (*Account, error) {
	if idToken == "" {
		return nil, apierrors.NewIdentityError("id token is required", apierrors.ErrSessionNotFound)
	}

	raw, status, err := c.post(ctx, config.IdentityLookupPath, lookupRequest{IDToken: idToken})
	if err != nil {
		c.logger.ErrorContext(ctx, "identity lookup request failed",
			slog.String("operation", "identity_lookup"),
			slog.String("error", err.Error()))
		return nil, err
	}
	if status != http.StatusOK {
		code := providerErrorCode(raw)
		c.logger.WarnContext(ctx, "identity lookup rejected",
			slog.String("operation", "identity_lookup"),
			slog.Int("status", status),
			slog.String("provider_code", code))
		if status >= http.StatusInternalServerError {
			return nil, apierrors.NewIdentityError(
				fmt.Sprintf("identity provider returned status %d", status),
				apierrors.ErrIdentityUnavailable)
		}
		return nil, apierrors.NewIdentityError(
			fmt.Sprintf("token lookup rejected: %s", code),
			apierrors.ErrSessionNotFound)
	}

	var result lookupResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, apierrors.NewParsingError("failed to decode lookup response", err)
	}
	if len(result.Users) == 0 {
		return nil, apierrors.NewIdentityError("token lookup returned no account", apierrors.ErrSessionNotFound)
	}

	user := result.Users[0]
	return &Account{
		UserID:        user.LocalID,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		LastLoginAt:   parseEpochMillis(user.LastLoginAt),
	}, nil
}

// post sends a JSON payload to a provider endpoint and returns the raw
// response body with its status code. Transport failures are already
// wrapped as domain errors.
func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, apierrors.NewParsingError("failed to encode identity request", err)
	}

	endpoint := fmt.Sprintf("%s%s?key=%s", c.baseURL, path, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, 0, apierrors.NewNetworkError("failed to create identity request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, apierrors.NewNetworkError("identity provider unreachable",
			fmt.Errorf("%w: %v", apierrors.ErrIdentityUnavailable, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, apierrors.NewNetworkError("failed to read identity response",
			fmt.Errorf("%w: %v", apierrors.ErrIdentityUnavailable, err))
	}
	return raw, resp.StatusCode, nil
}

// signInError maps a non-200 sign-in reply onto a domain error. Known
// credential rejections become ErrInvalidCredentials; everything else is
// treated as the provider being unable to serve the request.
func (c *Client) signInError(ctx context.Context, status int, raw []byte) error {
	code := providerErrorCode(raw)
	c.logger.WarnContext(ctx, "identity sign-in rejected",
		slog.String("operation", "identity_sign_in"),
		slog.Int("status", status),
		slog.String("provider_code", code))

	switch code {
	case "EMAIL_NOT_FOUND", "USER_NOT_FOUND", "INVALID_PASSWORD", "MISSING_PASSWORD",
		"INVALID_EMAIL", "INVALID_LOGIN_CREDENTIALS", "USER_DISABLED":
		return apierrors.NewIdentityError(
			fmt.Sprintf("sign-in rejected: %s", code),
			apierrors.ErrInvalidCredentials)
	}

	detail := code
	if detail == "" {
		detail = fmt.Sprintf("status %d", status)
	}
	return apierrors.NewIdentityError(
		fmt.Sprintf("identity provider refused sign-in: %s", detail),
		apierrors.ErrIdentityUnavailable)
}

type providerErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// providerErrorCode extracts the machine-readable code from a provider
// error body. Codes sometimes carry trailing prose after a colon, e.g.
// "TOO_MANY_ATTEMPTS_TRY_LATER : retry later", which is stripped.
func providerErrorCode(raw []byte) string {
	var body providerErrorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	code := body.Error.Message
	if idx := strings.IndexAny(code, " :"); idx > 0 {
		code = code[:idx]
	}
	return code
}

// parseExpiresIn converts the provider's expiresIn field, a string of
// seconds, into a duration. Unparsable values fall back to one hour.
func parseExpiresIn(value string) time.Duration {
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return time.Hour
	}
	return time.Duration(seconds) * time.Second
}

// parseEpochMillis converts a millisecond epoch string into a time.
// Absent or malformed values return the zero time.
func parseEpochMillis(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	millis, err := strconv.ParseInt(value, 10, 64)
	if err != nil || millis <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(millis).UTC()
}

// maskEmail keeps the first character and the domain so log lines stay
// correlatable without recording the full address.
func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
