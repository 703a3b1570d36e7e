// Package command provides CLI command definitions for quiescectl.
//
// This package defines all CLI commands using urfave/cli/v2:
//
//   - root.go: Root command, global flags, target resolution
//   - status.go: Daemon state snapshot over the bus socket
//   - suspend.go: Trigger a suspend cycle and report the outcome
//   - subscribers.go: Subscriber listing from the admin plane
//   - history.go: Cycle history from the admin plane
//   - health.go: Admin plane health and readiness probes
//   - config.go: CLI configuration inspection and bootstrap
//   - repl.go: Interactive mode
//
// Commands follow a consistent pattern of parsing flags, calling the
// daemon over the bus socket or admin plane, and formatting output.
package command
