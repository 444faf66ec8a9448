package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware records one HTTP request metric per handled request, labelled
// by route template rather than raw path.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		began := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(began))
	}
}

// RPC call directions, as seen from the endpoint recording them.
const (
	Outbound = "out"
	Inbound  = "in"
)

// Timer measures one RPC call. A nil *Metrics makes Stop a no-op.
type Timer struct {
	metrics   *Metrics
	direction string
	method    string
	began     time.Time
}

func NewTimer(metrics *Metrics, direction, method string) *Timer {
	return &Timer{metrics: metrics, direction: direction, method: method, began: time.Now()}
}

// Stop records the call under status.
func (t *Timer) Stop(status string) {
	t.metrics.RecordRPCCall(t.direction, t.method, status, time.Since(t.began))
}
