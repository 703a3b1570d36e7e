package gateway

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/veridios/quiesce-go/internal/buildopts"
	"github.com/veridios/quiesce-go/internal/core/domain"
)

// Gateway kinds selectable in configuration. The names live in the domain
// package because the suspend path mints a distinct token origin for the
// reboot substitute.
const (
	KindHAL    = domain.GatewayKindHAL
	KindReboot = domain.GatewayKindReboot
	KindManual = domain.GatewayKindManual
)

// DefaultHandoffFile is where the committed token is parked for the wake
// path to present back.
const DefaultHandoffFile = "wake.claim"

// Gateway performs the platform power transition.
//
// Enter is called with the committed suspend token after the token slot has
// been made durable. It blocks for the whole suspended period and returns
// the wake claim once the device is running again. An error means the
// transition could not be initiated and power was never lost.
type Gateway interface {
	// Kind identifies the implementation.
	Kind() string

	// Enter performs the transition and blocks until wake.
	Enter(ctx context.Context, token domain.SuspendToken) (domain.WakeClaim, error)
}

// Config selects and configures a gateway implementation.
type Config struct {
	// Kind selects the implementation: "hal", "reboot" or "manual".
	Kind string

	// HandoffFile is where the token is parked across the transition.
	HandoffFile string

	// HAL holds hal-specific settings.
	HAL HALConfig

	// Reboot holds reboot-substitute settings.
	Reboot RebootConfig
}

// DefaultKind returns the gateway kind selected by the build options.
func DefaultKind() string {
	if buildopts.RebootOnSuspend {
		return KindReboot
	}
	return KindHAL
}

// DefaultConfig returns the default gateway configuration rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Kind:        DefaultKind(),
		HandoffFile: filepath.Join(dir, DefaultHandoffFile),
		HAL:         DefaultHALConfig(),
		Reboot:      DefaultRebootConfig(),
	}
}

// New builds the configured gateway.
func New(cfg Config, logger *slog.Logger) (Gateway, error) {
	switch cfg.Kind {
	case KindHAL:
		return NewHAL(cfg.HAL, cfg.HandoffFile, logger)
	case KindReboot:
		return NewReboot(cfg.Reboot, cfg.HandoffFile, logger)
	case KindManual:
		return NewManual(logger), nil
	default:
		return nil, domain.ErrGatewayUnsupported.WithDetails("unknown gateway kind: " + cfg.Kind)
	}
}

// WriteHandoff parks the token for the wake path. The file is synced so it
// survives the power transition that follows immediately after.
func WriteHandoff(path string, token domain.SuspendToken) error {
	if path == "" {
		return domain.ErrMissingArgument.WithDetails("handoff path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return domain.ErrGatewayFailure.WithDetails("create handoff dir").WithCause(err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return domain.ErrGatewayFailure.WithDetails("open handoff file").WithCause(err)
	}
	if _, err := f.WriteString(token.Encode() + "\n"); err != nil {
		f.Close()
		return domain.ErrGatewayFailure.WithDetails("write handoff file").WithCause(err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return domain.ErrGatewayFailure.WithDetails("sync handoff file").WithCause(err)
	}
	if err := f.Close(); err != nil {
		return domain.ErrGatewayFailure.WithDetails("close handoff file").WithCause(err)
	}
	return nil
}

// ConsumeHandoff reads the parked token and removes the file. Each claim is
// usable once; a second read finds nothing.
func ConsumeHandoff(path string) (domain.SuspendToken, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.SuspendToken{}, domain.ErrTokenMalformed.WithDetails("no wake claim present")
		}
		return domain.SuspendToken{}, domain.ErrGatewayFailure.WithDetails("read handoff file").WithCause(err)
	}

	// Consume before validating so a malformed claim cannot be retried.
	if err := os.Remove(path); err != nil {
		return domain.SuspendToken{}, domain.ErrGatewayFailure.WithDetails("remove handoff file").WithCause(err)
	}

	token, err := domain.DecodeToken(strings.TrimSpace(string(raw)))
	if err != nil {
		return domain.SuspendToken{}, err
	}
	return token, nil
}

// HandoffPresent reports whether a wake claim is parked at path.
func HandoffPresent(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// HandoffClaims presents the parked wake claim to the startup inspection,
// which runs before any gateway exists.
type HandoffClaims struct {
	Path string
}

// Present reports whether a claim is parked.
func (h HandoffClaims) Present() bool {
	return HandoffPresent(h.Path)
}

// Consume reads and removes the parked claim.
func (h HandoffClaims) Consume() (domain.SuspendToken, error) {
	return ConsumeHandoff(h.Path)
}
