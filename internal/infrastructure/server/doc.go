// Package server assembles the host service.
//
// NewServer wires, in order:
//  1. Logger (production or development, from config)
//  2. Prometheus metrics and the span tracer
//  3. Sandbox launcher (in-process goja or child process)
//  4. Component registry and session manager
//  5. Gin router with recovery, tracing, logging, metrics, CORS and rate
//     limiting
//  6. REST handlers, live-view and attach websockets, /metrics
//
// Example Usage:
//
//	cfg, err := config.Load()
//	srv, err := server.NewServer(cfg)
//	go srv.Run()
//	defer srv.Close()
package server
