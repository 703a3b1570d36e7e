// Package config defines the server configuration structure.
package config

import (
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/veridios/quiesce-go/internal/core/service"
	"github.com/veridios/quiesce-go/internal/gateway"
	"github.com/veridios/quiesce-go/internal/storage/swapstore"
)

// Subdirectories of storage.data_dir.
const (
	slotSubdir = "slot"
	swapSubdir = "swap"
)

// SlotDir returns the token slot directory under the data dir.
func (c *ServerConfig) SlotDir() string {
	return filepath.Join(c.Storage.DataDir, slotSubdir)
}

// BusSocketMode parses the configured bus socket mode. Verify has already
// checked the format; an empty mode falls back to the default.
func (c *ServerConfig) BusSocketMode() fs.FileMode {
	s := c.Server.Bus.Mode
	if s == "" {
		s = DefaultBusSocketMode
	}
	mode, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		mode = 0o660
	}
	return fs.FileMode(mode)
}

// GatewayConfig maps the gateway section onto the gateway package config,
// deriving the handoff file from the data dir when not set.
func (c *ServerConfig) GatewayConfig() gateway.Config {
	out := gateway.DefaultConfig(c.Storage.DataDir)
	if c.Gateway.Kind != "" {
		out.Kind = c.Gateway.Kind
	}
	if c.Gateway.HandoffFile != "" {
		out.HandoffFile = c.Gateway.HandoffFile
	}
	if c.Gateway.SleepControlFile != "" {
		out.HAL.ControlFile = c.Gateway.SleepControlFile
	}
	if c.Gateway.SleepState != "" {
		out.HAL.SleepState = c.Gateway.SleepState
	}
	if len(c.Gateway.RebootCommand) > 0 {
		out.Reboot.Command = c.Gateway.RebootCommand
	}
	if c.Gateway.RebootIssueTimeout > 0 {
		out.Reboot.IssueTimeout = c.Gateway.RebootIssueTimeout
	}
	if c.Gateway.RebootGraceWindow > 0 {
		out.Reboot.GraceWindow = c.Gateway.RebootGraceWindow
	}
	return out
}

// OrchestratorConfig maps the cycle section onto the orchestrator config.
func (c *ServerConfig) OrchestratorConfig() *service.OrchestratorConfig {
	return &service.OrchestratorConfig{
		SubscriberAckTimeout: c.Cycle.SubscriberAckTimeout,
		CycleDeadline:        c.Cycle.CycleDeadline,
		NotifyTimeout:        c.Cycle.NotifyTimeout,
		HistorySize:          c.Cycle.HistorySize,
		TriggerRate:          c.Cycle.TriggerRate,
		TriggerBurst:         c.Cycle.TriggerBurst,
		SwapEnabled:          c.Swap.Enabled,
	}
}

// SwapConfig maps the swap section onto the swap store config, deriving the
// directory from the data dir when not set.
func (c *ServerConfig) SwapConfig() swapstore.Config {
	dir := c.Swap.Dir
	if dir == "" {
		dir = filepath.Join(c.Storage.DataDir, swapSubdir)
	}
	out := swapstore.DefaultConfig(dir)
	if c.Swap.GCInterval > 0 {
		out.GCInterval = c.Swap.GCInterval
	}
	if c.Swap.GCThreshold > 0 {
		out.GCThreshold = c.Swap.GCThreshold
	}
	return out
}

// SealKeyBytes returns the configured slot sealing key, either inline hex
// or read from the key file. It returns nil with no error when neither is
// configured; the caller decides whether to generate one.
func (c *ServerConfig) SealKeyBytes() ([]byte, error) {
	if c.Security.SealKey != "" {
		key, err := hex.DecodeString(strings.TrimSpace(c.Security.SealKey))
		if err != nil {
			return nil, errors.New("security.seal_key must be hex encoded")
		}
		return key, nil
	}
	if c.Security.SealKeyFile != "" {
		raw, err := os.ReadFile(c.Security.SealKeyFile)
		if err != nil {
			return nil, errors.New("cannot read security.seal_key_file: " + err.Error())
		}
		key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, errors.New("security.seal_key_file must contain a hex encoded key")
		}
		return key, nil
	}
	return nil, nil
}
