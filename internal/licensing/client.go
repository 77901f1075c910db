// Package licensing is the REST client for the license backend. The
// backend owns every record; this client issues the five operations the
// dashboard needs and surfaces the backend's own error messages without
// rewriting or retrying.
package licensing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"keydash/internal/config"
	apierrors "keydash/internal/errors"
	"keydash/pkg/contracts/domain"
)

// Backend is the license backend surface the rest of the application
// depends on. Client implements it; tests substitute fakes.
type Backend interface {
	List(ctx context.Context) ([]domain.LicenseRecord, error)
	Create(ctx context.Context, days int) (*domain.LicenseRecord, error)
	Delete(ctx context.Context, id string) error
	ResetHwid(ctx context.Context, id string) error
	ToggleStatus(ctx context.Context, id string) error
}

// Client talks to the license backend. Mutating calls carry the static
// API key and a JSON content type; the list call carries neither. A
// failed request is reported once, never retried.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates the backend configuration and builds a client.
func NewClient(cfg config.BackendConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, apierrors.NewConfigError("license backend base URL is required", nil)
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, apierrors.NewConfigError(fmt.Sprintf("license backend base URL %q is not a valid URL", cfg.BaseURL), err)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apierrors.NewConfigError("license backend API key is required", nil)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultHTTPTimeout
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "backend_client")),
	}, nil
}

type listResponse struct {
	Licenses []domain.LicenseRecord `json:"licenses"`
}

// List fetches every license record the backend knows about. The reply
// order is preserved.
func (c *Client) List(ctx context.Context) ([]domain.LicenseRecord, error) {
	c.logger.InfoContext(ctx, "license list requested",
		slog.String("operation", "backend_list"))

	raw, status, err := c.do(ctx, http.MethodGet, config.BackendListPath, nil)
	if err != nil {
		c.logger.ErrorContext(ctx, "license list request failed",
			slog.String("operation", "backend_list"),
			slog.String("error", err.Error()))
		return nil, err
	}
	if !is2xx(status) {
		return nil, c.rejection(ctx, "backend_list", status, raw)
	}

	var result listResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, apierrors.NewParsingError("failed to decode license list", err)
	}

	records := result.Licenses
	if records == nil {
		records = []domain.LicenseRecord{}
	}

	c.logger.InfoContext(ctx, "license list fetched",
		slog.String("operation", "backend_list"),
		slog.Int("count", len(records)))
	return records, nil
}

type createRequest struct {
	Days int `json:"days"`
}

// Create issues a new license valid for the given number of days. When
// the backend echoes the created record it is returned; an ack-only
// reply returns nil, and callers reconcile by refetching either way.
func (c *Client) Create(ctx context.Context, days int) (*domain.LicenseRecord, error) {
	if days < 1 {
		return nil, apierrors.ErrInvalidDays
	}

	c.logger.InfoContext(ctx, "license create requested",
		slog.String("operation", "backend_create"),
		slog.Int("days", days))

	raw, status, err := c.do(ctx, http.MethodPost, config.BackendCreatePath, createRequest{Days: days})
	if err != nil {
		c.logger.ErrorContext(ctx, "license create request failed",
			slog.String("operation", "backend_create"),
			slog.String("error", err.Error()))
		return nil, err
	}
	if !is2xx(status) {
		return nil, c.rejection(ctx, "backend_create", status, raw)
	}

	record := parseCreatedRecord(raw)
	if record != nil {
		c.logger.InfoContext(ctx, "license created",
			slog.String("operation", "backend_create"),
			slog.String("license_id", record.ID))
	} else {
		c.logger.InfoContext(ctx, "license created",
			slog.String("operation", "backend_create"))
	}
	return record, nil
}

// Delete removes a license key permanently.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.action(ctx, "backend_delete", config.BackendDeletePath, id)
}

// ResetHwid clears the hardware binding so another device can claim the
// key.
func (c *Client) ResetHwid(ctx context.Context, id string) error {
	return c.action(ctx, "backend_reset_hwid", config.BackendResetHwidPath, id)
}

// ToggleStatus flips a key between active and paused.
func (c *Client) ToggleStatus(ctx context.Context, id string) error {
	return c.action(ctx, "backend_toggle_status", config.BackendToggleStatePath, id)
}

// action issues one of the id-keyed mutations. The body is an empty JSON
// object: the backend requires a JSON content type on mutations and an
// empty object is the least surprising payload to send with it.
func (c *Client) action(ctx context.Context, operation, basePath, id string) error {
	if strings.TrimSpace(id) == "" {
		return apierrors.NewAppValidationError("license id is required")
	}

	c.logger.InfoContext(ctx, "license action requested",
		slog.String("operation", operation),
		slog.String("license_id", id))

	path := basePath + "/" + url.PathEscape(id)
	raw, status, err := c.do(ctx, http.MethodPost, path, struct{}{})
	if err != nil {
		c.logger.ErrorContext(ctx, "license action request failed",
			slog.String("operation", operation),
			slog.String("license_id", id),
			slog.String("error", err.Error()))
		return err
	}
	if !is2xx(status) {
		return c.rejection(ctx, operation, status, raw)
	}

	c.logger.InfoContext(ctx, "license action completed",
		slog.String("operation", operation),
		slog.String("license_id", id))
	return nil
}

// do sends one request and returns the raw body with its status code.
// POSTs carry the API key and JSON content type; the list GET carries
// neither.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, apierrors.NewParsingError("failed to encode backend request", err)
		}
		reader = bytes.NewBuffer(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, apierrors.NewNetworkError("failed to create backend request", err)
	}
	req.Header.Set("User-Agent", config.UserAgent)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(config.APIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, apierrors.NewNetworkError("license backend unreachable",
			fmt.Errorf("%w: %v", apierrors.ErrBackendUnavailable, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, apierrors.NewNetworkError("failed to read backend response",
			fmt.Errorf("%w: %v", apierrors.ErrBackendUnavailable, err))
	}
	return raw, resp.StatusCode, nil
}

// rejection wraps a non-2xx reply. The backend's {message} rides along
// verbatim so the operator sees exactly what the backend said.
func (c *Client) rejection(ctx context.Context, operation string, status int, raw []byte) error {
	var body struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &body)

	c.logger.WarnContext(ctx, "backend rejected request",
		slog.String("operation", operation),
		slog.Int("status", status),
		slog.String("message", body.Message))

	return apierrors.NewBackendRejection(status, body.Message)
}

// parseCreatedRecord pulls the created record out of a create reply. The
// backend replies with either the bare record or a {license} wrapper;
// anything else reads as an ack without a record.
func parseCreatedRecord(raw []byte) *domain.LicenseRecord {
	var record domain.LicenseRecord
	if err := json.Unmarshal(raw, &record); err == nil && record.ID != "" {
		return &record
	}

	var wrapped struct {
		License *domain.LicenseRecord `json:"license"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.License != nil && wrapped.License.ID != "" {
		return wrapped.License
	}
	return nil
}

func is2xx(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
