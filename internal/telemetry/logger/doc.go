// Package logger provides structured logging for Quiesce.
//
// This package wraps log/slog:
//
//   - logger.go: Handler construction and level control
//   - context.go: Context-aware logging with request IDs
//   - redact.go: Sensitive data redaction
//
// Features:
//
//   - JSON and text output formats
//   - Runtime log level adjustment
//   - Automatic masking of suspend token values (qstk_ prefix)
//   - Context propagation for request tracing
package logger
