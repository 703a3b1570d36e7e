// Package config defines the server configuration structure.
package config

import (
	"time"

	"github.com/veridios/quiesce-go/internal/buildopts"
	"github.com/veridios/quiesce-go/internal/gateway"
	"github.com/veridios/quiesce-go/internal/storage/swapstore"
)

// Default configuration values.
const (
	DefaultBusSocket     = "/var/run/quiesced/quiesced.sock"
	DefaultBusSocketMode = "0660"
	DefaultAdminAddr     = "127.0.0.1:5090"

	DefaultDataDir = "/var/lib/quiesced/data"

	DefaultSubscriberAckTimeout = 5 * time.Second
	DefaultCycleDeadline        = 30 * time.Second
	DefaultNotifyTimeout        = 2 * time.Second
	DefaultHistorySize          = 32
	DefaultTriggerRate          = 1.0
	DefaultTriggerBurst         = 3

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Bus: BusConfig{
				Path: DefaultBusSocket,
				Mode: DefaultBusSocketMode,
			},
			Admin: AdminConfig{
				Enabled: true,
				Addr:    DefaultAdminAddr,
			},
		},
		Storage: StorageSection{
			DataDir: DefaultDataDir,
		},
		Gateway: GatewaySection{
			Kind:               gateway.DefaultKind(),
			SleepControlFile:   gateway.DefaultSleepControlFile,
			SleepState:         gateway.DefaultSleepState,
			RebootCommand:      gateway.DefaultRebootCommand,
			RebootIssueTimeout: gateway.DefaultRebootConfig().IssueTimeout,
		},
		Cycle: CycleSection{
			SubscriberAckTimeout: DefaultSubscriberAckTimeout,
			CycleDeadline:        DefaultCycleDeadline,
			NotifyTimeout:        DefaultNotifyTimeout,
			HistorySize:          DefaultHistorySize,
			TriggerRate:          DefaultTriggerRate,
			TriggerBurst:         DefaultTriggerBurst,
		},
		Swap: SwapSection{
			Enabled:     buildopts.Swap,
			GCInterval:  swapstore.DefaultGCInterval,
			GCThreshold: swapstore.DefaultGCThreshold,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
