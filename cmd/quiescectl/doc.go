// Package main provides the entry point for quiescectl.
//
// The CLI tool provides command-line access to the quiesce daemon for:
//
//   - Triggering suspend cycles and reporting their outcome
//   - Daemon status, subscriber listing and cycle history
//   - Health and version probes
//   - CLI configuration management
//
// Usage:
//
//	quiescectl [command] [flags]
//	quiescectl suspend --reason "lid closed"
//	quiescectl history --output json
//
// The CLI supports both single-command mode and an interactive REPL
// mode (quiescectl repl).
package main
