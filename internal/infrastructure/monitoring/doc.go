/*
Package monitoring provides Prometheus metrics for the bridge.

# Metrics

  - HTTP requests (by route template)
  - RPC calls by direction, method and outcome; pending calls; dropped frames
  - Tree mutations by op and outcome
  - Session counts and state transitions
  - Render passes and fallback placeholders
  - Live-view WebSocket connections and messages

# Usage

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

A nil *Metrics is valid and records nothing.
*/
package monitoring
