package command

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/veridios/quiesce-go/internal/cli/output"
)

// SuspendCommand returns the suspend command.
func SuspendCommand() *cli.Command {
	return &cli.Command{
		Name:  "suspend",
		Usage: "Run a suspend cycle and report its outcome",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "reason",
				Aliases: []string{"r"},
				Usage:   "Reason recorded on the cycle",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up waiting for the cycle after this long",
				Value: 60 * time.Second,
			},
		},
		Action: suspendAction,
	}
}

func suspendAction(c *cli.Context) error {
	bus, err := EnsureBus(c)
	if err != nil {
		return err
	}

	flags := ParseGlobalFlags(c)

	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
	defer cancel()

	// The call blocks for the whole cycle: prepare, transition, wake,
	// resume. Animate on stderr so piped output stays clean.
	var spin *output.Spinner
	if output.Format(flags.Output) == output.FormatTable {
		spin = output.NewSpinner(os.Stderr, "waiting for suspend cycle")
		spin.Start()
	}

	cy, err := bus.TriggerSuspend(ctx, c.String("reason"))
	if err != nil {
		if spin != nil {
			spin.Fail("suspend request failed")
		}
		return err
	}

	view := newCycleView(cy)
	if spin != nil {
		if view.Outcome == "completed" {
			spin.Success(fmt.Sprintf("cycle %s completed", view.ID))
		} else {
			spin.Fail(fmt.Sprintf("cycle %s ended: %s", view.ID, view.Outcome))
		}
	}

	switch output.Format(flags.Output) {
	case output.FormatJSON, output.FormatYAML:
		if err := formatter(c).Format(os.Stdout, view); err != nil {
			return err
		}
	default:
		fmt.Printf("Cycle:     %s\n", view.ID)
		fmt.Printf("Epoch:     %d\n", view.Epoch)
		fmt.Printf("Outcome:   %s\n", view.Outcome)
		fmt.Printf("Acked:     %d/%d\n", view.Acked, view.Notified)
		if view.FailedSubscriber != "" {
			fmt.Printf("Failed:    %s\n", view.FailedSubscriber)
		}
		if view.DenyReason != "" {
			fmt.Printf("Reason:    %s\n", view.DenyReason)
		}
		if !view.StartedAt.IsZero() && !view.EndedAt.IsZero() {
			fmt.Printf("Duration:  %s\n", view.EndedAt.Sub(view.StartedAt).Round(time.Millisecond))
		}
	}

	if view.Outcome != "completed" {
		return cli.Exit("", 1)
	}
	return nil
}
