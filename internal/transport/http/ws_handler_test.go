package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keydash/internal/config"
	"keydash/internal/middleware"
	ws "keydash/internal/websocket"
)

func newWSTestServer(t *testing.T, authenticated bool) (*httptest.Server, *ws.Hub) {
	t.Helper()

	cfg := config.WebSocketConfig{ReadBufferSize: 1024, WriteBufferSize: 1024}
	hub := ws.NewHub(cfg, discardLogger())
	hub.Start()
	t.Cleanup(hub.Stop)

	var handler http.Handler = NewWSHandler(hub, cfg, discardLogger())
	if authenticated {
		handler = withTestPrincipal(handler)
	}

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, hub
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readEnvelope(t *testing.T, conn *websocket.Conn) ws.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env ws.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestWSUpgradeDeliversWelcome(t *testing.T) {
	srv, hub := newWSTestServer(t, true)

	conn, res, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()
	res.Body.Close()

	env := readEnvelope(t, conn)
	assert.Equal(t, ws.TypeConnection, env.Type)

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWSBroadcastReachesClient(t *testing.T) {
	srv, hub := newWSTestServer(t, true)

	conn, res, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()
	res.Body.Close()

	env := readEnvelope(t, conn)
	require.Equal(t, ws.TypeConnection, env.Type)

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	hub.BroadcastLicensesChanged("create", "KEY-1")

	env = readEnvelope(t, conn)
	assert.Equal(t, ws.TypeLicensesChanged, env.Type)

	payload, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "create", payload["action"])
	assert.Equal(t, "KEY-1", payload["license_id"])
}

func TestWSWithoutPrincipalIsRejected(t *testing.T) {
	srv, _ := newWSTestServer(t, false)

	conn, res, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, res)
	defer res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestWSRejectsCrossOrigin(t *testing.T) {
	srv, _ := newWSTestServer(t, true)

	header := http.Header{}
	header.Set("Origin", "http://evil.example.com")

	conn, res, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, res)
	defer res.Body.Close()
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestSameHostOriginCheck(t *testing.T) {
	check := sameHostOrigin(discardLogger())

	tests := []struct {
		name    string
		origin  string
		host    string
		allowed bool
	}{
		{name: "no origin", origin: "", host: "dash.local:8080", allowed: true},
		{name: "same host", origin: "http://dash.local:8080", host: "dash.local:8080", allowed: true},
		{name: "case insensitive host", origin: "http://DASH.local:8080", host: "dash.local:8080", allowed: true},
		{name: "different host", origin: "http://evil.example.com", host: "dash.local:8080", allowed: false},
		{name: "different port", origin: "http://dash.local:9999", host: "dash.local:8080", allowed: false},
		{name: "mangled origin", origin: "://broken", host: "dash.local:8080", allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.allowed, check(r))
		})
	}
}
