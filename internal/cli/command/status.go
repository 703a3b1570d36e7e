package command

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/veridios/quiesce-go/internal/cli/output"
	"github.com/veridios/quiesce-go/pkg/busproto"
)

// cycleView is the render shape for one suspend cycle.
type cycleView struct {
	ID               string    `json:"id"`
	Epoch            uint64    `json:"epoch"`
	Outcome          string    `json:"outcome"`
	FailedSubscriber string    `json:"failed_subscriber,omitempty"`
	DenyReason       string    `json:"deny_reason,omitempty"`
	Acked            int       `json:"acked"`
	Notified         int       `json:"notified"`
	StartedAt        time.Time `json:"started_at" table:"wide"`
	EndedAt          time.Time `json:"ended_at" table:"wide"`
}

func newCycleView(cy *busproto.CycleSummary) *cycleView {
	if cy == nil {
		return nil
	}
	return &cycleView{
		ID:               cy.ID,
		Epoch:            cy.Epoch,
		Outcome:          cy.Outcome,
		FailedSubscriber: cy.FailedSubscriber,
		DenyReason:       cy.DenyReason,
		Acked:            cy.Acked,
		Notified:         cy.Notified,
		StartedAt:        millisTime(cy.StartedAt),
		EndedAt:          millisTime(cy.EndedAt),
	}
}

func millisTime(unixMilli int64) time.Time {
	if unixMilli == 0 {
		return time.Time{}
	}
	return time.UnixMilli(unixMilli)
}

// statusView is the render shape for the daemon snapshot.
type statusView struct {
	State       string     `json:"state"`
	Epoch       uint64     `json:"epoch"`
	Subscribers int        `json:"subscribers"`
	Gateway     string     `json:"gateway"`
	SwapEnabled bool       `json:"swap_enabled"`
	LastCycle   *cycleView `json:"last_cycle,omitempty"`
}

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show daemon state, epoch and last cycle",
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	bus, err := EnsureBus(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := bus.Status(ctx)
	if err != nil {
		return fmt.Errorf("status request failed: %w", err)
	}

	view := &statusView{
		State:       st.State,
		Epoch:       st.Epoch,
		Subscribers: st.Subscribers,
		Gateway:     st.GatewayKind,
		SwapEnabled: st.SwapEnabled,
		LastCycle:   newCycleView(st.LastCycle),
	}

	flags := ParseGlobalFlags(c)
	switch output.Format(flags.Output) {
	case output.FormatJSON, output.FormatYAML:
		return formatter(c).Format(os.Stdout, view)
	default:
		fmt.Printf("State:        %s\n", view.State)
		fmt.Printf("Epoch:        %d\n", view.Epoch)
		fmt.Printf("Subscribers:  %d\n", view.Subscribers)
		fmt.Printf("Gateway:      %s\n", view.Gateway)
		fmt.Printf("Swap:         %v\n", view.SwapEnabled)
		if view.LastCycle != nil {
			fmt.Printf("Last cycle:   %s (%s)\n", view.LastCycle.ID, view.LastCycle.Outcome)
		}
		return nil
	}
}
