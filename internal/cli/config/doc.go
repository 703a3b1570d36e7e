// Package config provides CLI configuration for quiescectl.
//
// This package defines CLI-specific configuration:
//
//   - spec.go: CLIConfig struct (~/.quiesce/cli.yaml)
//   - loader.go: Configuration loading and saving
//
// Configuration covers the daemon targets (bus socket, admin address)
// and the preferred output format. Flags and QUIESCE_* environment
// variables override the file per invocation.
package config
