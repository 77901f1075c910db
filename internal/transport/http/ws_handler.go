package http

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"keydash/internal/config"
	"keydash/internal/middleware"
	ws "keydash/internal/websocket"
)

// WSHandler upgrades dashboard connections onto the live-update hub.
type WSHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler creates the websocket upgrade handler.
func NewWSHandler(hub *ws.Hub, cfg config.WebSocketConfig, logger *slog.Logger) *WSHandler {
	l := logger.With(slog.String("handler", "websocket"))
	return &WSHandler{
		hub:    hub,
		logger: l,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     sameHostOrigin(l),
			// With a custom Error hook the upgrader no longer writes its
			// own response, so this must.
			Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
				l.ErrorContext(r.Context(), "websocket upgrade error",
					slog.Int("status", status),
					slog.String("reason", reason.Error()),
					slog.String("origin", r.Header.Get("Origin")))
				http.Error(w, http.StatusText(status), status)
			},
		},
	}
}

// ServeHTTP handles GET /ws. The session guard has already resolved the
// principal; its session ID keys which connections receive that
// dashboard's action-state frames.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := middleware.PrincipalFromContext(ctx)
	if !ok {
		http.Error(w, "session required", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied with an HTTP error.
		h.logger.ErrorContext(ctx, "websocket upgrade failed",
			slog.String("error", err.Error()),
			slog.String("origin", r.Header.Get("Origin")))
		return
	}

	h.logger.InfoContext(ctx, "websocket client connected",
		slog.String("remote_addr", r.RemoteAddr))

	ws.ServeWS(h.hub, conn, principal.SessionID, h.logger)
}

// sameHostOrigin allows browser connections only from the page the
// dashboard itself served. Non-browser clients send no Origin and pass.
func sameHostOrigin(logger *slog.Logger) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}

		logger.Warn("websocket origin rejected",
			slog.String("origin", origin),
			slog.String("host", r.Host))
		return false
	}
}
