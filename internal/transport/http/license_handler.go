package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "keydash/internal/errors"
	"keydash/internal/exporter"
	"keydash/internal/middleware"
	"keydash/internal/services"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// LicenseHandler serves the license list and the four admin actions.
// Every route runs behind the session guard, so requests arriving here
// carry a resolved principal.
type LicenseHandler struct {
	service services.DashboardService
	errs    *apierrors.ErrorHandler
	logger  *slog.Logger
	query   *middleware.QueryParamValidator
	now     func() time.Time
}

// NewLicenseHandler creates a new license handler.
func NewLicenseHandler(service services.DashboardService, errs *apierrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		errs:    errs,
		logger:  logger.With(slog.String("handler", "licenses")),
		query:   middleware.NewQueryParamValidator(logger, errs),
		now:     time.Now,
	}
}

// CreateLicenseRequest is the create-key payload.
type CreateLicenseRequest struct {
	Days int `json:"days"`
}

// Bind implements render.Binder. Durations under one day never reach
// the dispatcher, so an invalid form cannot occupy the action slot.
func (c *CreateLicenseRequest) Bind(r *http.Request) error {
	if c.Days < 1 {
		return apierrors.ErrInvalidDays
	}
	return nil
}

// ActionResponse acknowledges a completed license action.
type ActionResponse struct {
	Success bool   `json:"success"`
	Action  string `json:"action"`
	Key     string `json:"key,omitempty"`
}

// Routes returns the license endpoints.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30*time.Second, h.logger))

	r.Get("/", h.List)
	r.Get("/export", h.Export)
	r.Get("/action", h.ActionState)
	r.Post("/action/dismiss", h.DismissAction)

	// Mutations get an audit log entry naming the acting session. Only
	// create carries a body; the id-keyed actions post with none.
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuditLog(h.logger))

		r.With(middleware.ContentTypeValidator("application/json")).Post("/", h.Create)
		r.Post("/{id}/delete", h.Delete)
		r.Post("/{id}/reset-hwid", h.ResetHwid)
		r.Post("/{id}/toggle-status", h.ToggleStatus)
	})

	return r
}

// List handles GET /api/licenses. A failed refresh with an earlier list
// still on hand returns that list with the error set on the view, so
// the dashboard keeps showing data instead of a blank page.
func (h *LicenseHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	view, err := h.service.List(ctx, actor, r.URL.Query().Get("q"))
	if err != nil && view.Total == 0 {
		h.errs.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, view)
}

// Create handles POST /api/licenses.
func (h *LicenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("license-handler")
	ctx, span := tracer.Start(ctx, "license_handler.create",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/licenses"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	var req CreateLicenseRequest
	if err := render.Bind(r, &req); err != nil {
		span.RecordError(err)
		if !errors.Is(err, apierrors.ErrInvalidDays) {
			err = apierrors.InvalidRequestWithError(err)
		}
		h.errs.HandleError(w, r.WithContext(ctx), err)
		return
	}

	span.SetAttributes(attribute.Int("license.days", req.Days))

	if err := h.service.Create(ctx, actor, req.Days); err != nil {
		span.RecordError(err)
		h.errs.HandleError(w, r.WithContext(ctx), err)
		return
	}

	h.logger.InfoContext(ctx, "license created",
		slog.String("request_id", reqID),
		slog.Int("days", req.Days))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, ActionResponse{Success: true, Action: "create"})
}

// Delete handles POST /api/licenses/{id}/delete.
func (h *LicenseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "delete", h.service.Delete)
}

// ResetHwid handles POST /api/licenses/{id}/reset-hwid.
func (h *LicenseHandler) ResetHwid(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "reset_hwid", h.service.ResetHwid)
}

// ToggleStatus handles POST /api/licenses/{id}/toggle-status.
func (h *LicenseHandler) ToggleStatus(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "toggle_status", h.service.ToggleStatus)
}

// Export handles GET /api/licenses/export. It streams the same filtered
// view the dashboard shows as an XLSX attachment, or as CSV with
// ?format=csv.
func (h *LicenseHandler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	format, ok := h.query.ValidateEnum(w, r, "format", []string{"xlsx", "csv"}, "xlsx")
	if !ok {
		return
	}

	view, err := h.service.List(ctx, actor, r.URL.Query().Get("q"))
	if err != nil && view.Total == 0 {
		h.errs.HandleError(w, r, err)
		return
	}

	generatedAt := h.now()
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exporter.Filename(generatedAt, format)))

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		err = exporter.WriteCSV(w, view)
	} else {
		w.Header().Set("Content-Type", xlsxContentType)
		err = exporter.WriteXLSX(w, view, generatedAt)
	}
	if err != nil {
		// Headers are already on the wire; all we can do is log.
		h.logger.ErrorContext(ctx, "export stream failed",
			slog.String("request_id", middleware.GetReqID(ctx)),
			slog.String("error", err.Error()))
	}
}

// ActionState handles GET /api/licenses/action. A reloaded dashboard
// calls it to restore a pending or failed action banner.
func (h *LicenseHandler) ActionState(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	render.JSON(w, r, h.service.ActionState(actor))
}

// DismissAction handles POST /api/licenses/action/dismiss.
func (h *LicenseHandler) DismissAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	h.service.DismissAction(actor)
	render.NoContent(w, r)
}

// dispatch runs one of the id-keyed license actions.
func (h *LicenseHandler) dispatch(w http.ResponseWriter, r *http.Request, action string, op func(context.Context, services.Actor, string) error) {
	ctx := r.Context()
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		h.errs.HandleError(w, r, apierrors.ErrValidation("id", "license id is required"))
		return
	}

	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("license-handler")
	ctx, span := tracer.Start(ctx, "license_handler."+action,
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/licenses/{id}/"+action),
			attribute.String("request_id", reqID),
			attribute.String("license.id", id),
		),
	)
	defer span.End()

	if err := op(ctx, actor, id); err != nil {
		span.RecordError(err)
		h.errs.HandleError(w, r.WithContext(ctx), err)
		return
	}

	h.logger.InfoContext(ctx, "license action completed",
		slog.String("request_id", reqID),
		slog.String("action", action),
		slog.String("license_id", id))

	render.JSON(w, r, ActionResponse{Success: true, Action: action, Key: id})
}

// actor resolves the session principal placed by the guard. Requests
// without one get a 401 problem and no service call.
func (h *LicenseHandler) actor(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		h.errs.HandleError(w, r, apierrors.ErrSessionNotFound)
		return services.Actor{}, false
	}

	return services.Actor{SessionID: principal.SessionID, Email: principal.Email}, true
}
