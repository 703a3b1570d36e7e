package command

import (
	"github.com/urfave/cli/v2"

	"github.com/veridios/quiesce-go/internal/cli/repl"
)

// ReplCommand returns the interactive mode command.
func ReplCommand() *cli.Command {
	return &cli.Command{
		Name:    "repl",
		Aliases: []string{"shell"},
		Usage:   "Start an interactive session",
		Action:  replAction,
	}
}

func replAction(c *cli.Context) error {
	// Carry the invocation's global flags into every dispatched line so
	// "quiescectl -s /tmp/q.sock repl" targets the same daemon
	// throughout the session.
	prefix := []string{"quiescectl"}
	for _, name := range []string{"config", "socket", "admin", "output"} {
		if v := c.String(name); v != "" {
			prefix = append(prefix, "--"+name, v)
		}
	}

	r := repl.New(func(args []string) error {
		return App().Run(append(append([]string{}, prefix...), args...))
	})
	return r.Run()
}
