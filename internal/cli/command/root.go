// Package command provides CLI command definitions for quiescectl.
package command

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	cliconfig "github.com/veridios/quiesce-go/internal/cli/config"
	"github.com/veridios/quiesce-go/internal/cli/connection"
	"github.com/veridios/quiesce-go/internal/cli/output"
	"github.com/veridios/quiesce-go/internal/infra/buildinfo"
	"github.com/veridios/quiesce-go/pkg/subscriber"
)

// App creates the CLI application.
func App() *cli.App {
	app := &cli.App{
		Name:    "quiescectl",
		Usage:   "Quiesce suspend coordination control tool",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			StatusCommand(),
			SuspendCommand(),
			SubscribersCommand(),
			HistoryCommand(),
			HealthCommand(),
			VersionCommand(),
			ConfigCommand(),
			ReplCommand(),
		},
		Before: func(c *cli.Context) error {
			cfg, err := cliconfig.Load(c.String("config"))
			if err != nil {
				return err
			}
			c.App.Metadata["cliConfig"] = cfg
			c.App.Metadata["connMgr"] = connection.NewManager()
			return nil
		},
		After: func(c *cli.Context) error {
			if mgr := GetConnectionManager(c); mgr != nil {
				mgr.Close()
			}
			return nil
		},
	}

	return app
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the CLI config file",
			EnvVars: []string{"QUIESCE_CLI_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "socket",
			Aliases: []string{"s"},
			Usage:   "Bus socket path",
			EnvVars: []string{"QUIESCE_SOCKET"},
		},
		&cli.StringFlag{
			Name:    "admin",
			Aliases: []string{"a"},
			Usage:   "Admin plane address (host:port)",
			EnvVars: []string{"QUIESCE_ADMIN_ADDR"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "Enable verbose output",
		},
	}
}

// GlobalFlags defines flags available to all commands, resolved against
// the CLI config file. A set flag wins over the file.
type GlobalFlags struct {
	// Daemon targets
	Socket string
	Admin  string

	// Output format
	Output string // table, json, yaml
	Wide   bool

	// Other
	Verbose bool
}

// ParseGlobalFlags extracts global flags from context, falling back to
// the loaded CLI config for unset values.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	cfg := getCLIConfig(c)

	g := &GlobalFlags{
		Socket:  c.String("socket"),
		Admin:   c.String("admin"),
		Output:  c.String("output"),
		Wide:    c.Bool("wide"),
		Verbose: c.Bool("verbose"),
	}
	if g.Socket == "" {
		g.Socket = cfg.Socket
	}
	if g.Admin == "" {
		g.Admin = cfg.AdminAddr
	}
	if g.Output == "" {
		g.Output = cfg.Output
	}
	return g
}

// getCLIConfig retrieves the loaded config from context, defaulting
// when the app ran without Before (tests, REPL dispatch).
func getCLIConfig(c *cli.Context) *cliconfig.CLIConfig {
	if cfg, ok := c.App.Metadata["cliConfig"].(*cliconfig.CLIConfig); ok {
		return cfg
	}
	return cliconfig.Default()
}

// GetConnectionManager retrieves the connection manager from context.
func GetConnectionManager(c *cli.Context) *connection.Manager {
	if mgr, ok := c.App.Metadata["connMgr"].(*connection.Manager); ok {
		return mgr
	}
	return nil
}

// EnsureAdmin returns the admin plane client for the resolved target.
func EnsureAdmin(c *cli.Context) *connection.HTTPClient {
	flags := ParseGlobalFlags(c)

	mgr := GetConnectionManager(c)
	if mgr == nil {
		return connection.NewHTTPClient(flags.Admin)
	}
	mgr.SetTarget(connection.Target{Socket: flags.Socket, AdminAddr: flags.Admin})
	return mgr.Admin()
}

// EnsureBus returns the bus socket client for the resolved target.
func EnsureBus(c *cli.Context) (*subscriber.Client, error) {
	flags := ParseGlobalFlags(c)

	mgr := GetConnectionManager(c)
	if mgr == nil {
		return connection.DialBus(flags.Socket)
	}
	mgr.SetTarget(connection.Target{Socket: flags.Socket, AdminAddr: flags.Admin})
	return mgr.Bus()
}

// formatter builds the output formatter selected by the global flags.
func formatter(c *cli.Context) output.Formatter {
	flags := ParseGlobalFlags(c)
	return output.NewFormatter(output.Format(flags.Output), flags.Wide)
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
