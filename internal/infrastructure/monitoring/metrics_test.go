package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordHTTPRequest("GET", "/", "200", time.Millisecond)
		m.RecordRPCCall("out", "load", "ok", time.Millisecond)
		m.AddRPCPending(1)
		m.RecordRPCDropped("unknown_call")
		m.RecordMutation("insert", "applied")
		m.RecordTransition("ready")
		m.IncSessionsActive()
		m.DecSessionsActive()
		m.RecordRender()
		m.RecordFallback("unknown_type")
		m.RecordWSMessage("out", "html")
		m.IncWSConnections()
		m.DecWSConnections()
		NewTimer(m, Outbound, "render").Stop("ok")
	})
}

func TestRecorders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordMutation("insert", "applied")
	m.RecordMutation("insert", "applied")
	m.RecordMutation("remove", "rejected")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Mutations.WithLabelValues("insert", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Mutations.WithLabelValues("remove", "rejected")))

	m.AddRPCPending(3)
	m.AddRPCPending(-1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RPCPending))

	m.IncSessionsActive()
	m.IncSessionsActive()
	m.DecSessionsActive()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics(prometheus.NewRegistry())

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/sessions/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/sess_abc", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/sessions/:id", "204")))
}
