package main

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedWebAssets(t *testing.T) {
	webFS, err := fs.Sub(webFiles, "web")
	require.NoError(t, err)

	tests := []struct {
		name string
		path string
	}{
		{name: "shell template", path: "index.html"},
		{name: "dashboard script", path: "static/app.js"},
		{name: "stylesheet", path: "static/style.css"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := fs.ReadFile(webFS, tt.path)
			require.NoError(t, err)
			assert.NotEmpty(t, data)
		})
	}
}

func TestShellTemplateStructure(t *testing.T) {
	data, err := fs.ReadFile(webFiles, "web/index.html")
	require.NoError(t, err)

	page := string(data)
	assert.Contains(t, page, "{{.Version}}", "shell must render the build version")
	assert.Contains(t, page, `id="screen-loading"`)
	assert.Contains(t, page, `id="screen-login"`)
	assert.Contains(t, page, `id="screen-dashboard"`)
	assert.Contains(t, page, `id="modal-create"`)
	assert.Contains(t, page, `id="modal-delete"`)
	assert.Contains(t, page, `/static/app.js`)
}
