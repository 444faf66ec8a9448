// Package middleware provides the gin middleware stack for the host API.
//
// Middleware stack includes:
//   - CORS: cross-origin access to the session API
//   - RateLimit: per-IP token buckets, idle buckets are swept
//   - GlobalRateLimit: one bucket shared by every client
//   - Logger: one zap line per request
//
// Example Usage:
//
//	router.Use(middleware.Logger(log))
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
