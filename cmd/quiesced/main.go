// Package main provides the entry point for quiesced.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/veridios/quiesce-go/internal/core/registry"
	"github.com/veridios/quiesce-go/internal/core/service"
	"github.com/veridios/quiesce-go/internal/gateway"
	"github.com/veridios/quiesce-go/internal/infra/buildinfo"
	"github.com/veridios/quiesce-go/internal/infra/confloader"
	"github.com/veridios/quiesce-go/internal/infra/shutdown"
	"github.com/veridios/quiesce-go/internal/server/busserver"
	"github.com/veridios/quiesce-go/internal/server/config"
	"github.com/veridios/quiesce-go/internal/server/httpserver"
	"github.com/veridios/quiesce-go/internal/storage/slot"
	"github.com/veridios/quiesce-go/internal/storage/swapstore"
	"github.com/veridios/quiesce-go/internal/telemetry/logger"
	"github.com/veridios/quiesce-go/internal/telemetry/metric"
	"github.com/veridios/quiesce-go/pkg/crypto/seal"
)

// sealKeyFileName is where a generated seal key is persisted under the
// data directory when the configuration provides none.
const sealKeyFileName = "seal.key"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("quiesced %s\n", buildinfo.String())
		return nil
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCfg := logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)
	slogLogger := logger.NewSlog(logCfg)

	log.Info("starting quiesced",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"config", *configFile,
		"gateway", cfg.Gateway.Kind,
		"swap", cfg.Swap.Enabled)

	// Registry first: the metric set exports its live count.
	reg := registry.New()
	metrics := metric.New(metric.Options{
		SubscriberCount: reg.Len,
		ProcessMetrics:  true,
	})

	// Token slot behind the sealer. A missing seal key is generated and
	// persisted on first start so reboots validate what this boot wrote.
	sealKey, err := loadOrCreateSealKey(cfg, slogLogger)
	if err != nil {
		return fmt.Errorf("seal key: %w", err)
	}
	sealer, err := seal.New(sealKey)
	if err != nil {
		return fmt.Errorf("init sealer: %w", err)
	}
	slotStore, err := slot.New(cfg.SlotDir(), sealer)
	if err != nil {
		return fmt.Errorf("init token slot: %w", err)
	}
	tokens, err := service.NewTokenService(slotStore, nil, slogLogger)
	if err != nil {
		return fmt.Errorf("init token service: %w", err)
	}

	var swapper service.Swapper
	var swapStore *swapstore.Store
	if cfg.Swap.Enabled {
		swapStore, err = swapstore.New(cfg.SwapConfig(), slogLogger)
		if err != nil {
			return fmt.Errorf("init swap store: %w", err)
		}
		swapStore.RegisterMetrics(metrics.Registry())
		swapper = swapStore
	}

	gatewayCfg := cfg.GatewayConfig()
	gw, err := gateway.New(gatewayCfg, slogLogger)
	if err != nil {
		return fmt.Errorf("init gateway: %w", err)
	}

	courier := busserver.NewCourier(slogLogger)

	orch, err := service.NewOrchestrator(service.OrchestratorDeps{
		Registry: reg,
		Tokens:   tokens,
		Courier:  courier,
		Gateway:  gw,
		Swapper:  swapper,
		Claims:   gateway.HandoffClaims{Path: gatewayCfg.HandoffFile},
		Metrics:  metrics,
		Logger:   slogLogger,
	}, cfg.OrchestratorConfig())
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	// Settle the persisted slot before the bus accepts registrations: a
	// pending wake from the reboot substitute is validated here.
	startup := orch.RecoverStartup(context.Background())
	log.Info("startup recovery settled",
		"kind", startup.Kind,
		"resumed", startup.Resumed,
		"cycle_id", startup.CycleID,
		"origin", startup.Origin.String(),
		"epoch", startup.Epoch,
		"swap_restored", startup.SwapRestored)

	busHandler := busserver.NewHandler(reg, orch, courier, slogLogger)
	busServer := busserver.New(busserver.Config{
		SocketPath: cfg.Server.Bus.Path,
		SocketMode: cfg.BusSocketMode(),
	}, busHandler.Routes(), slogLogger)

	var adminServer *httpserver.Server
	if cfg.Server.Admin.Enabled {
		routerCfg := httpserver.DefaultRouterConfig()
		routerCfg.Orchestrator = orch
		routerCfg.Registry = reg
		routerCfg.Metrics = metrics.Handler()
		routerCfg.Logger = slogLogger
		adminServer = httpserver.New(cfg.Server.Admin.Addr, httpserver.NewRouter(routerCfg))
	}

	shutdownHandler := shutdown.NewHandler(30 * time.Second)

	// Hooks run in reverse registration order: listeners stop before the
	// stores they depend on.
	if swapStore != nil {
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			log.Info("closing swap store")
			return swapStore.Close()
		})
	}
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down bus server")
		return busServer.Shutdown(ctx)
	})
	if adminServer != nil {
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			log.Info("shutting down admin server")
			return adminServer.Shutdown(ctx)
		})
	}

	go func() {
		log.Info("bus listening", "socket", cfg.Server.Bus.Path)
		if err := busServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("bus server error", "error", err)
			shutdownHandler.Trigger()
		}
	}()

	if adminServer != nil {
		go func() {
			log.Info("admin plane listening", "addr", cfg.Server.Admin.Addr)
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("admin server error", "error", err)
				shutdownHandler.Trigger()
			}
		}()
	}

	if *configFile != "" {
		watcher, err := watchLogLevel(*configFile, slogLogger)
		if err != nil {
			log.Warn("config watcher unavailable", "error", err)
		} else {
			shutdownHandler.OnShutdown(func(context.Context) error {
				return watcher.Stop()
			})
		}
	}

	log.Info("daemon started")
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("daemon stopped gracefully")
	return nil
}

// loadConfig loads configuration from file and environment.
func loadConfig(configFile string) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}

	loader := confloader.NewLoader(opts...)
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadOrCreateSealKey resolves the slot sealing key. When the
// configuration names neither an inline key nor a key file, a key is
// generated under the data directory and reused on later boots.
func loadOrCreateSealKey(cfg *config.ServerConfig, log *slog.Logger) ([]byte, error) {
	key, err := cfg.SealKeyBytes()
	if err != nil {
		return nil, err
	}
	if key != nil {
		return key, nil
	}

	path := filepath.Join(cfg.Storage.DataDir, sealKeyFileName)
	if raw, err := os.ReadFile(path); err == nil {
		key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if len(key) < seal.MinKeyLength {
			return nil, fmt.Errorf("%s: key shorter than %d bytes", path, seal.MinKeyLength)
		}
		return key, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate seal key: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("persist seal key: %w", err)
	}

	log.Info("generated seal key", "path", path)
	return key, nil
}

// watchLogLevel reloads the log level when the config file changes.
// Everything else requires a restart.
func watchLogLevel(configFile string, log *slog.Logger) (*confloader.Watcher, error) {
	watcher, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := watcher.Watch(configFile); err != nil {
		watcher.Stop()
		return nil, err
	}

	watcher.OnChange(func(path string) {
		cfg, err := loadConfig(configFile)
		if err != nil {
			log.Warn("ignoring config change", "path", path, "error", err)
			return
		}
		logger.SetLevel(cfg.Log.Level)
		log.Info("log level applied", "level", cfg.Log.Level)
	})

	watcher.StartAsync()
	return watcher, nil
}
