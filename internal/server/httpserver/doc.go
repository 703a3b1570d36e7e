// Package httpserver provides the local admin HTTP server for Quiesce.
//
// This package implements the diagnostic plane using stdlib net/http:
//
//   - Status endpoints: /v1/status, /v1/history, /v1/subscribers
//   - Health endpoints: /health, /ready
//   - Metrics endpoint: /metrics (Prometheus exposition)
//
// Features:
//
//   - Middleware chain: RequestID, RateLimit, Audit, Recover
//   - Graceful shutdown with configurable timeout
//
// The server binds loopback by default; it carries no authentication
// and must not be exposed beyond the device.
package httpserver
