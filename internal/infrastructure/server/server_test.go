package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/remoteui/internal/infrastructure/config"
	"github.com/GriffinCanCode/remoteui/internal/infrastructure/logging"
	"github.com/GriffinCanCode/remoteui/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/remoteui/internal/sandbox"
	"github.com/GriffinCanCode/remoteui/internal/supervisor"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Development = true
	if mutate != nil {
		mutate(cfg)
	}
	srv, err := New(cfg, Deps{
		Logger:   logging.NewNop(),
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func get(srv *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestServerRoutes(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		path string
		want int
	}{
		{"/", http.StatusOK},
		{"/health", http.StatusOK},
		{"/components", http.StatusOK},
		{"/sessions", http.StatusOK},
		{"/sessions/nope", http.StatusBadRequest},
		{"/nowhere", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, get(srv, tt.path).Code)
		})
	}

	health := get(srv, "/health")
	assert.NotEmpty(t, health.Header().Get(tracing.TraceHeader))

	metrics := get(srv, "/metrics")
	require.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "remoteui_http_requests_total")
	assert.Contains(t, metrics.Body.String(), `path="/health"`)
}

func TestServerRendersSession(t *testing.T) {
	srv := newTestServer(t, nil)

	script := `function render(ui) { ui.insert(ui.root, 0, {id: "h", type: "Heading", props: {content: "Hello", level: 1}}); }`
	body, _ := json.Marshal(map[string]string{
		"script_url": "data:text/javascript;base64," + base64.StdEncoding.EncodeToString([]byte(script)),
	})
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var info supervisor.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, 1, srv.Sessions().Count())

	html := get(srv, "/sessions/"+info.ID.String()+"/html")
	require.Equal(t, http.StatusOK, html.Code)
	assert.Contains(t, html.Body.String(), "<h1")
	assert.Contains(t, html.Body.String(), "Hello")

	require.NoError(t, srv.Close())
	assert.Equal(t, 0, srv.Sessions().Count())
}

func TestServerRateLimit(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1, Burst: 1}
	})

	assert.Equal(t, http.StatusOK, get(srv, "/health").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(srv, "/health").Code)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Sandbox.Mode = "vm"
	_, err := New(cfg, Deps{Logger: logging.NewNop(), Registry: prometheus.NewRegistry()})
	assert.Error(t, err)
}

func TestNewLauncher(t *testing.T) {
	cfg := config.Default().Sandbox
	cfg.ExecTimeout = 3 * time.Second
	cfg.AllowFile = true

	inproc, ok := NewLauncher(cfg, nil).(*sandbox.InProcessLauncher)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, inproc.Config.ExecTimeout)
	assert.True(t, inproc.Config.AllowFile)

	cfg.Mode = config.ModeProcess
	cfg.Binary = "/usr/local/bin/remoteui"
	proc, ok := NewLauncher(cfg, nil).(*sandbox.ProcessLauncher)
	require.True(t, ok)
	assert.Equal(t, "/usr/local/bin/remoteui", proc.Binary)
	assert.Contains(t, proc.Args(), "--allow-file")
}
