package middleware

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/remoteui/internal/infrastructure/tracing"
)

// VersionHeader carries the tree version of tree and HTML responses.
const VersionHeader = "X-Tree-Version"

// CORSConfig decides which browser origins may drive sessions.
type CORSConfig struct {
	// AllowOrigins lists exact origins; "*" admits any origin.
	AllowOrigins []string
	MaxAge       time.Duration
}

// DefaultCORSConfig admits any origin. The API carries no credentials.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		MaxAge:       12 * time.Hour,
	}
}

func (c CORSConfig) allowAll() bool {
	return len(c.AllowOrigins) == 0 || slices.Contains(c.AllowOrigins, "*")
}

// OriginAllowed reports whether a request from origin may proceed. Requests
// without an Origin header do not come from a browser page and are allowed.
func (c CORSConfig) OriginAllowed(origin string) bool {
	return origin == "" || c.allowAll() || slices.Contains(c.AllowOrigins, origin)
}

// CORS creates a CORS middleware with the provided configuration.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Content-Length", "Accept", tracing.TraceHeader, tracing.SpanHeader},
		ExposeHeaders: []string{VersionHeader, tracing.TraceHeader, tracing.SpanHeader},
		MaxAge:        cfg.MaxAge,
	}
	if cfg.allowAll() {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = cfg.AllowOrigins
	}
	return cors.New(cc)
}
