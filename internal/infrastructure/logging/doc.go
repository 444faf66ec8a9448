// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// Every bridge component takes a *zap.Logger and tolerates nil. Sandbox
// console output is forwarded through a logger named "sandbox".
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("session started", zap.String("session_id", sid.String()))
//	logger.Error("load failed", zap.Error(err))
package logging
