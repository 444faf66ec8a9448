package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func serve(router *gin.Engine, method, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	router := setupTestRouter()
	router.Use(CORS(DefaultCORSConfig()))
	router.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": []string{}})
	})

	tests := []struct {
		name           string
		method         string
		origin         string
		wantStatus     int
		wantCORSHeader bool
	}{
		{
			name:           "simple GET with origin",
			method:         http.MethodGet,
			origin:         "http://localhost:3000",
			wantStatus:     http.StatusOK,
			wantCORSHeader: true,
		},
		{
			name:           "preflight",
			method:         http.MethodOptions,
			origin:         "http://localhost:3000",
			wantStatus:     http.StatusNoContent,
			wantCORSHeader: true,
		},
		{
			name:           "no origin header",
			method:         http.MethodGet,
			wantStatus:     http.StatusOK,
			wantCORSHeader: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/sessions", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
				req.Header.Set("Access-Control-Request-Method", http.MethodGet)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCORSHeader {
				assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestDefaultCORSConfig(t *testing.T) {
	cfg := DefaultCORSConfig()

	assert.Equal(t, []string{"*"}, cfg.AllowOrigins)
	assert.Equal(t, 12*time.Hour, cfg.MaxAge)
}

func TestOriginAllowed(t *testing.T) {
	restricted := CORSConfig{AllowOrigins: []string{"https://app.example.com"}}

	tests := []struct {
		name   string
		cfg    CORSConfig
		origin string
		want   bool
	}{
		{"wildcard", DefaultCORSConfig(), "https://evil.example.com", true},
		{"empty list allows all", CORSConfig{}, "https://any.example.com", true},
		{"listed origin", restricted, "https://app.example.com", true},
		{"unlisted origin", restricted, "https://evil.example.com", false},
		{"no origin header", restricted, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.OriginAllowed(tt.origin))
		})
	}
}

func TestCORSRestrictedOrigins(t *testing.T) {
	router := setupTestRouter()
	router.Use(CORS(CORSConfig{AllowOrigins: []string{"https://app.example.com"}, MaxAge: time.Hour}))
	router.GET("/sessions", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), VersionHeader)

	req = httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimit(t *testing.T) {
	router := setupTestRouter()
	router.Use(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		w := serve(router, http.MethodGet, "/test", "192.168.1.1:1234")
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := serve(router, http.MethodGet, "/test", "192.168.1.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())

	// A different client has its own bucket.
	w = serve(router, http.MethodGet, "/test", "192.168.1.2:1234")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGlobalRateLimit(t *testing.T) {
	router := setupTestRouter()
	router.Use(GlobalRateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/test", "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/test", "10.0.0.2:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(router, http.MethodGet, "/test", "10.0.0.3:1").Code)
}

func TestLimiterSetSweepsIdleClients(t *testing.T) {
	set := newLimiterSet(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Minute})
	now := time.Unix(1_700_000_000, 0)
	set.now = func() time.Time { return now }

	require.True(t, set.allow("a"))
	require.True(t, set.allow("b"))
	assert.False(t, set.allow("a"))
	assert.Equal(t, 2, set.size())

	now = now.Add(2 * time.Minute)
	assert.True(t, set.allow("a"), "bucket refilled")
	assert.Equal(t, 1, set.size(), "b was idle and swept")
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()

	assert.Equal(t, 100, cfg.RequestsPerSecond)
	assert.Equal(t, 200, cfg.Burst)
	assert.Equal(t, 10*time.Minute, cfg.IdleTTL)
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	router := setupTestRouter()
	router.Use(Logger(zap.New(core)))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	tests := []struct {
		path  string
		level zapcore.Level
	}{
		{"/ok", zapcore.DebugLevel},
		{"/missing", zapcore.WarnLevel},
		{"/boom", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			serve(router, http.MethodGet, tt.path, "")
			entries := logs.TakeAll()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0].Level)
			assert.Equal(t, tt.path, entries[0].ContextMap()["path"])
		})
	}
}

func BenchmarkRateLimit(b *testing.B) {
	router := setupTestRouter()
	router.Use(RateLimit(DefaultRateLimitConfig()))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.1:1234"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}
}
