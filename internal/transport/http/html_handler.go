package http

import (
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
)

// ShellHandler serves the embedded single-page shell. The browser script
// decides between the loading, login, and dashboard screens; the server
// only hands over the page and its static assets.
type ShellHandler struct {
	tmpl    *template.Template
	assets  http.Handler
	version string
	logger  *slog.Logger
}

// NewShellHandler parses the embedded shell template and prepares the
// static file server. webFS is rooted at the directory holding
// index.html and static/.
func NewShellHandler(webFS fs.FS, version string, logger *slog.Logger) (*ShellHandler, error) {
	tmpl, err := template.ParseFS(webFS, "index.html")
	if err != nil {
		return nil, fmt.Errorf("parse shell template: %w", err)
	}

	static, err := fs.Sub(webFS, "static")
	if err != nil {
		return nil, fmt.Errorf("locate static assets: %w", err)
	}

	return &ShellHandler{
		tmpl:    tmpl,
		assets:  http.StripPrefix("/static/", http.FileServer(http.FS(static))),
		version: version,
		logger:  logger.With(slog.String("handler", "shell")),
	}, nil
}

// ServeShell handles GET /.
func (h *ShellHandler) ServeShell(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	// The shell carries per-session state hints; never cache it.
	w.Header().Set("Cache-Control", "no-store")

	if err := h.tmpl.Execute(w, map[string]string{"Version": h.version}); err != nil {
		h.logger.ErrorContext(r.Context(), "shell render failed",
			slog.String("error", err.Error()))
	}
}

// Assets serves GET /static/*.
func (h *ShellHandler) Assets() http.Handler {
	return h.assets
}
