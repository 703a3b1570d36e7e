// Package config provides server configuration for Quiesce.
//
// This package defines the daemon configuration structure and validation:
//
//   - spec.go: ServerConfig struct definition
//   - default.go: Default configuration values
//   - verify.go: Business validation (paths, timeouts, key format)
//   - sanitize.go: Log sanitization (hide sensitive values)
//   - wiring.go: Mapping into gateway and orchestrator configs
//
// Configuration is loaded via internal/infra/confloader and supports
// multiple sources: files, environment variables, and flags.
package config
