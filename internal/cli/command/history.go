package command

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/veridios/quiesce-go/internal/cli/connection"
	"github.com/veridios/quiesce-go/internal/core/domain"
)

// historyRow is the render shape for one history entry.
type historyRow struct {
	ID               string        `json:"id" table:"wide"`
	Epoch            uint64        `json:"epoch"`
	Requester        string        `json:"requester,omitempty"`
	Outcome          string        `json:"outcome"`
	FailedSubscriber string        `json:"failed_subscriber,omitempty" table:"wide"`
	DenyReason       string        `json:"deny_reason,omitempty" table:"wide"`
	Acked            int           `json:"acked"`
	Notified         int           `json:"notified"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
}

// HistoryCommand returns the history command.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recent suspend cycles, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of cycles to show (0 = all retained)",
			},
		},
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	client := EnsureAdmin(c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path := "/v1/history"
	if limit := c.Int("limit"); limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}

	resp, err := client.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var payload struct {
		Items []struct {
			ID               string `json:"id"`
			Epoch            uint64 `json:"epoch"`
			Requester        string `json:"requester"`
			Outcome          int    `json:"outcome"`
			FailedSubscriber string `json:"failed_subscriber"`
			DenyReason       string `json:"deny_reason"`
			Acked            int    `json:"acked"`
			Notified         int    `json:"notified"`
			StartedAt        int64  `json:"started_at"`
			EndedAt          int64  `json:"ended_at"`
		} `json:"items"`
		Total int `json:"total"`
	}
	if err := connection.ParseResponse(resp, &payload); err != nil {
		return err
	}

	rows := make([]historyRow, 0, len(payload.Items))
	for _, item := range payload.Items {
		row := historyRow{
			ID:               item.ID,
			Epoch:            item.Epoch,
			Requester:        item.Requester,
			Outcome:          domain.Outcome(item.Outcome).String(),
			FailedSubscriber: item.FailedSubscriber,
			DenyReason:       item.DenyReason,
			Acked:            item.Acked,
			Notified:         item.Notified,
			StartedAt:        millisTime(item.StartedAt),
		}
		if item.StartedAt != 0 && item.EndedAt != 0 {
			row.Duration = time.Duration(item.EndedAt-item.StartedAt) * time.Millisecond
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		flags := ParseGlobalFlags(c)
		if flags.Output == "" || flags.Output == "table" {
			fmt.Println("No suspend cycles recorded.")
			return nil
		}
	}

	return formatter(c).Format(os.Stdout, rows)
}
