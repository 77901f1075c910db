package main

import (
	"embed"
	"io/fs"
	"log/slog"
	"os"

	"keydash/internal/app"
)

// Embedded dashboard shell and its static assets.
//go:embed all:web
var webFiles embed.FS

func main() {
	webFS, err := fs.Sub(webFiles, "web")
	if err != nil {
		slog.Error("Embedded web assets missing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	application, err := app.NewApplication(webFS)
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
