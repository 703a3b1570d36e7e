package command

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/veridios/quiesce-go/internal/cli/connection"
	"github.com/veridios/quiesce-go/internal/cli/output"
	"github.com/veridios/quiesce-go/internal/infra/buildinfo"
)

// HealthCommand returns the health command.
func HealthCommand() *cli.Command {
	return &cli.Command{
		Name:   "health",
		Usage:  "Probe the daemon's health and readiness",
		Action: healthAction,
	}
}

func healthAction(c *cli.Context) error {
	client := EnsureAdmin(c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := client.Get(ctx, "/health")
	if err != nil {
		PrintError("health check failed: %v", err)
		return fmt.Errorf("daemon unreachable at %s", client.BaseURL())
	}
	if err := connection.ParseResponse(resp, nil); err != nil {
		return err
	}

	var ready struct {
		State string `json:"state"`
	}
	resp, err = client.Get(ctx, "/ready")
	readyErr := err
	if err == nil {
		readyErr = connection.ParseResponse(resp, &ready)
	}

	flags := ParseGlobalFlags(c)
	switch output.Format(flags.Output) {
	case output.FormatJSON, output.FormatYAML:
		view := struct {
			Healthy bool   `json:"healthy"`
			Ready   bool   `json:"ready"`
			State   string `json:"state,omitempty"`
		}{
			Healthy: true,
			Ready:   readyErr == nil,
			State:   ready.State,
		}
		return formatter(c).Format(os.Stdout, view)
	default:
		fmt.Printf("✓ Daemon is healthy\n")
		fmt.Printf("  Target: %s\n", client.BaseURL())
		if readyErr != nil {
			fmt.Printf("✗ Not ready: %v\n", readyErr)
			return cli.Exit("", 1)
		}
		fmt.Printf("✓ Ready (state: %s)\n", ready.State)
		return nil
	}
}

// VersionCommand returns the version command, reporting both the client
// build and the daemon build when reachable.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show client and daemon versions",
		Action: versionAction,
	}
}

func versionAction(c *cli.Context) error {
	client := EnsureAdmin(c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	local := buildinfo.Get()

	var daemon buildinfo.Info
	var daemonErr error
	resp, err := client.Get(ctx, "/v1/version")
	if err != nil {
		daemonErr = err
	} else {
		daemonErr = connection.ParseResponse(resp, &daemon)
	}

	flags := ParseGlobalFlags(c)
	switch output.Format(flags.Output) {
	case output.FormatJSON, output.FormatYAML:
		view := struct {
			Client buildinfo.Info  `json:"client"`
			Daemon *buildinfo.Info `json:"daemon,omitempty"`
		}{Client: local}
		if daemonErr == nil {
			view.Daemon = &daemon
		}
		return formatter(c).Format(os.Stdout, view)
	default:
		fmt.Printf("Client:  %s (%s)\n", local.Version, local.Commit)
		if daemonErr != nil {
			fmt.Printf("Daemon:  unreachable (%v)\n", daemonErr)
			return nil
		}
		fmt.Printf("Daemon:  %s (%s)\n", daemon.Version, daemon.Commit)
		return nil
	}
}
