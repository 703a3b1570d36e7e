// Package config defines the server configuration structure.
package config

import (
	"encoding/hex"
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/veridios/quiesce-go/internal/gateway"
	"github.com/veridios/quiesce-go/pkg/crypto/seal"
)

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifySecurity(&cfg.Security); err != nil {
		return err
	}
	if err := verifyGateway(&cfg.Gateway); err != nil {
		return err
	}
	if err := verifyCycle(&cfg.Cycle); err != nil {
		return err
	}
	return verifySwap(&cfg.Swap)
}

func verifyServer(cfg *ServerSection) error {
	if cfg.Bus.Path == "" {
		return errors.New("server.bus.path is required")
	}
	if cfg.Bus.Mode != "" {
		mode, err := strconv.ParseUint(cfg.Bus.Mode, 8, 32)
		if err != nil || mode > 0o777 {
			return errors.New("server.bus.mode must be an octal mode like \"0660\"")
		}
	}
	if cfg.Admin.Enabled && cfg.Admin.Addr == "" {
		return errors.New("server.admin.addr is required when the admin plane is enabled")
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	if cfg.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}

	// Check if data directory exists or can be created
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return errors.New("cannot create data directory: " + err.Error())
	}

	return nil
}

func verifySecurity(cfg *SecuritySection) error {
	if cfg.SealKey != "" && cfg.SealKeyFile != "" {
		return errors.New("security.seal_key and security.seal_key_file are mutually exclusive")
	}
	if cfg.SealKey != "" {
		key, err := hex.DecodeString(strings.TrimSpace(cfg.SealKey))
		if err != nil {
			return errors.New("security.seal_key must be hex encoded")
		}
		if len(key) < seal.MinKeyLength {
			return errors.New("security.seal_key is too short")
		}
	}
	return nil
}

func verifyGateway(cfg *GatewaySection) error {
	switch cfg.Kind {
	case "", gateway.KindHAL, gateway.KindReboot, gateway.KindManual:
	default:
		return errors.New("gateway.kind must be \"hal\", \"reboot\" or \"manual\"")
	}
	if cfg.RebootIssueTimeout < 0 {
		return errors.New("gateway.reboot_issue_timeout must not be negative")
	}
	if cfg.RebootGraceWindow < 0 {
		return errors.New("gateway.reboot_grace_window must not be negative")
	}
	return nil
}

func verifyCycle(cfg *CycleSection) error {
	if cfg.SubscriberAckTimeout <= 0 {
		return errors.New("cycle.subscriber_ack_timeout must be positive")
	}
	if cfg.CycleDeadline <= 0 {
		return errors.New("cycle.cycle_deadline must be positive")
	}
	if cfg.CycleDeadline < cfg.SubscriberAckTimeout {
		return errors.New("cycle.cycle_deadline must not be shorter than cycle.subscriber_ack_timeout")
	}
	if cfg.NotifyTimeout <= 0 {
		return errors.New("cycle.notify_timeout must be positive")
	}
	if cfg.HistorySize < 1 {
		return errors.New("cycle.history_size must be at least 1")
	}
	if cfg.TriggerRate <= 0 {
		return errors.New("cycle.trigger_rate must be positive")
	}
	if cfg.TriggerBurst < 1 {
		return errors.New("cycle.trigger_burst must be at least 1")
	}
	return nil
}

func verifySwap(cfg *SwapSection) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.GCInterval <= 0 {
		return errors.New("swap.gc_interval must be positive")
	}
	if cfg.GCThreshold <= 0 || cfg.GCThreshold > 1 {
		return errors.New("swap.gc_threshold must be in (0, 1]")
	}
	return nil
}
