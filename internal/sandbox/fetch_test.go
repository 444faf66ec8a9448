package sandbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/remoteui/internal/infrastructure/resilience"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestFetchDataURL(t *testing.T) {
	f := NewFetcher(DefaultConfig(), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "base64", url: dataURL("function render(ui) {}"), want: "function render(ui) {}"},
		{name: "percent encoded", url: "data:text/javascript,var%20x%20%3D%201%3B", want: "var x = 1;"},
		{name: "no media type", url: "data:,x", want: "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Fetch(ctx, tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := f.Fetch(ctx, "data:text/javascript;base64,%%%")
	assert.Error(t, err)
	_, err = f.Fetch(ctx, "data:nocomma")
	assert.Error(t, err)
}

func TestFetchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.js")
	require.NoError(t, os.WriteFile(path, []byte("var fromFile = true;"), 0o600))
	fileURL := "file://" + filepath.ToSlash(path)

	_, err := NewFetcher(DefaultConfig(), nil).Fetch(context.Background(), fileURL)
	assert.ErrorIs(t, err, ErrFileNotAllowed)

	cfg := DefaultConfig()
	cfg.AllowFile = true
	got, err := NewFetcher(cfg, nil).Fetch(context.Background(), fileURL)
	require.NoError(t, err)
	assert.Equal(t, "var fromFile = true;", got)
}

func TestFetchHTTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/app.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript")
		w.Write([]byte("function render(ui) {}"))
	})
	mux.HandleFunc("/missing.js", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/image.js", func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngHeader)
	})
	mux.HandleFunc("/huge.js", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MaxScriptBytes = 1024
	cfg.FetchRetries = 0
	f := NewFetcher(cfg, nil)
	ctx := context.Background()

	got, err := f.Fetch(ctx, srv.URL+"/app.js")
	require.NoError(t, err)
	assert.Equal(t, "function render(ui) {}", got)

	_, err = f.Fetch(ctx, srv.URL+"/missing.js")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Status)

	_, err = f.Fetch(ctx, srv.URL+"/image.js")
	assert.ErrorIs(t, err, ErrNotScript)

	_, err = f.Fetch(ctx, srv.URL+"/huge.js")
	assert.ErrorIs(t, err, ErrScriptTooLarge)
}

func TestFetchBreakerOpensPerOrigin(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.FetchRetries = 0
	f := NewFetcher(cfg, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.Fetch(ctx, srv.URL+"/app.js")
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
	}
	_, err := f.Fetch(ctx, srv.URL+"/app.js")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	tests := []struct {
		name     string
		retries  int
		failures int32
		wantHits int32
		wantErr  bool
	}{
		{name: "recovers within retries", retries: 2, failures: 2, wantHits: 3},
		{name: "gives up after retries", retries: 1, failures: 5, wantHits: 2, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if hits.Add(1) <= tt.failures {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				w.Write([]byte("function render(ui) {}"))
			}))
			defer srv.Close()

			cfg := DefaultConfig()
			cfg.FetchRetries = tt.retries
			got, err := NewFetcher(cfg, nil).Fetch(context.Background(), srv.URL+"/app.js")

			assert.Equal(t, tt.wantHits, hits.Load())
			if tt.wantErr {
				var statusErr *StatusError
				require.ErrorAs(t, err, &statusErr)
				assert.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "function render(ui) {}", got)
		})
	}
}

func TestFetchUnsupportedScheme(t *testing.T) {
	_, err := NewFetcher(DefaultConfig(), nil).Fetch(context.Background(), "javascript:alert(1)")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}
