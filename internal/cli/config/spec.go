// Package config defines the quiescectl configuration structure.
package config

import (
	serverconfig "github.com/veridios/quiesce-go/internal/server/config"
)

// CLIConfig is the configuration for quiescectl, read from
// ~/.quiesce/cli.yaml. Flags and QUIESCE_* environment variables
// override it per invocation.
type CLIConfig struct {
	// Socket is the daemon's bus socket path.
	Socket string `koanf:"socket" yaml:"socket"`

	// AdminAddr is the daemon's admin plane address (host:port).
	AdminAddr string `koanf:"admin_addr" yaml:"admin_addr"`

	// Output is the default output format: table, json, yaml.
	Output string `koanf:"output" yaml:"output"`
}

// Default returns the default CLI configuration, pointing at the
// daemon's default socket and admin address.
func Default() *CLIConfig {
	return &CLIConfig{
		Socket:    serverconfig.DefaultBusSocket,
		AdminAddr: serverconfig.DefaultAdminAddr,
		Output:    "table",
	}
}
