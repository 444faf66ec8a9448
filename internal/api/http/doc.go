// Package http exposes sessions over a JSON REST API built on gin.
//
// Endpoints:
//   - Health: / and /health
//   - Components: /components
//   - Sessions: /sessions, /sessions/:id
//   - Tree: /sessions/:id/tree (JSON) and /sessions/:id/html
//   - Events: POST /sessions/:id/events
//
// Errors are returned as {"error": "..."} with a status derived from the
// error's identity, see statusFor.
package http
