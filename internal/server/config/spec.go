// Package config defines the server configuration structure.
package config

import "time"

// ServerConfig is the root configuration for quiesced.
type ServerConfig struct {
	Server   ServerSection   `koanf:"server"`
	Storage  StorageSection  `koanf:"storage"`
	Security SecuritySection `koanf:"security"`
	Gateway  GatewaySection  `koanf:"gateway"`
	Cycle    CycleSection    `koanf:"cycle"`
	Swap     SwapSection     `koanf:"swap"`
	Log      LogSection      `koanf:"log"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	Bus   BusConfig   `koanf:"bus"`
	Admin AdminConfig `koanf:"admin"`
}

// BusConfig configures the subscriber bus socket.
type BusConfig struct {
	// Path is the Unix socket the bus listens on.
	Path string `koanf:"path"`

	// Mode is the socket file mode as an octal string, e.g. "0660".
	// Socket permissions are the bus access control.
	Mode string `koanf:"mode"`
}

// AdminConfig configures the local admin HTTP plane.
type AdminConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// StorageSection configures on-disk state. The token slot, the gateway
// handoff file and the swap store all root under DataDir unless overridden.
type StorageSection struct {
	DataDir string `koanf:"data_dir"`
}

// SecuritySection configures the token slot sealing key.
//
// Exactly one of SealKey (hex) or SealKeyFile may be set. With neither,
// the daemon generates a key under the data dir at first start.
type SecuritySection struct {
	SealKey     string `koanf:"seal_key"`
	SealKeyFile string `koanf:"seal_key_file"`
}

// GatewaySection configures the power transition gateway.
type GatewaySection struct {
	// Kind selects the gateway: "hal", "reboot" or "manual".
	// Empty picks the build default.
	Kind string `koanf:"kind"`

	// HandoffFile overrides where the committed token is parked across
	// the transition. Empty derives it from storage.data_dir.
	HandoffFile string `koanf:"handoff_file"`

	// SleepControlFile and SleepState configure the hal gateway.
	SleepControlFile string `koanf:"sleep_control_file"`
	SleepState       string `koanf:"sleep_state"`

	// RebootCommand, RebootIssueTimeout and RebootGraceWindow configure
	// the reboot substitute.
	RebootCommand      []string      `koanf:"reboot_command"`
	RebootIssueTimeout time.Duration `koanf:"reboot_issue_timeout"`
	RebootGraceWindow  time.Duration `koanf:"reboot_grace_window"`
}

// CycleSection configures suspend cycle timing and history.
type CycleSection struct {
	// SubscriberAckTimeout is the per-subscriber prepare deadline.
	SubscriberAckTimeout time.Duration `koanf:"subscriber_ack_timeout"`

	// CycleDeadline caps the whole prepare phase.
	CycleDeadline time.Duration `koanf:"cycle_deadline"`

	// NotifyTimeout bounds each abort/resume/reinit delivery.
	NotifyTimeout time.Duration `koanf:"notify_timeout"`

	// HistorySize is how many finished cycles the status surface keeps.
	HistorySize int `koanf:"history_size"`

	// TriggerRate and TriggerBurst meter repeated suspend triggers.
	TriggerRate  float64 `koanf:"trigger_rate"`
	TriggerBurst int     `koanf:"trigger_burst"`
}

// SwapSection configures the memory swap store.
type SwapSection struct {
	Enabled bool `koanf:"enabled"`

	// Dir overrides the swap store directory. Empty derives it from
	// storage.data_dir.
	Dir string `koanf:"dir"`

	GCInterval  time.Duration `koanf:"gc_interval"`
	GCThreshold float64       `koanf:"gc_threshold"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
