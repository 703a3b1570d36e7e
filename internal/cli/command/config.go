package command

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	cliconfig "github.com/veridios/quiesce-go/internal/cli/config"
	"github.com/veridios/quiesce-go/internal/cli/output"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "CLI configuration commands",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the effective CLI configuration",
				Action: configShow,
			},
			{
				Name:   "path",
				Usage:  "Print the CLI config file path",
				Action: configPath,
			},
			{
				Name:   "init",
				Usage:  "Write the current configuration to the config file",
				Action: configInit,
			},
		},
	}
}

func configShow(c *cli.Context) error {
	flags := ParseGlobalFlags(c)

	view := struct {
		Socket    string `json:"socket"`
		AdminAddr string `json:"admin_addr"`
		Output    string `json:"output"`
	}{
		Socket:    flags.Socket,
		AdminAddr: flags.Admin,
		Output:    flags.Output,
	}

	switch output.Format(flags.Output) {
	case output.FormatJSON, output.FormatYAML:
		return formatter(c).Format(os.Stdout, view)
	default:
		fmt.Printf("Socket:      %s\n", view.Socket)
		fmt.Printf("Admin addr:  %s\n", view.AdminAddr)
		fmt.Printf("Output:      %s\n", view.Output)
		return nil
	}
}

func configPath(c *cli.Context) error {
	path := c.String("config")
	if path == "" {
		path = cliconfig.DefaultConfigPath()
	}
	fmt.Println(path)
	return nil
}

func configInit(c *cli.Context) error {
	flags := ParseGlobalFlags(c)

	path := c.String("config")
	if path == "" {
		path = cliconfig.DefaultConfigPath()
	}

	cfg := &cliconfig.CLIConfig{
		Socket:    flags.Socket,
		AdminAddr: flags.Admin,
		Output:    flags.Output,
	}
	if err := cliconfig.Save(cfg, path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
