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

// subscriberRow is the render shape for one registration.
type subscriberRow struct {
	ID           string    `json:"id" table:"wide"`
	Name         string    `json:"name"`
	Order        string    `json:"order"`
	Opcode       uint32    `json:"opcode" table:"wide"`
	Remote       string    `json:"remote,omitempty" table:"wide"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// SubscribersCommand returns the subscribers command.
func SubscribersCommand() *cli.Command {
	return &cli.Command{
		Name:    "subscribers",
		Aliases: []string{"subs"},
		Usage:   "List registered subscribers in broadcast order",
		Action:  subscribersAction,
	}
}

func subscribersAction(c *cli.Context) error {
	client := EnsureAdmin(c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := client.Get(ctx, "/v1/subscribers")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var payload struct {
		Items []struct {
			ID           string `json:"id"`
			Name         string `json:"name"`
			Order        int    `json:"order"`
			Opcode       uint32 `json:"opcode"`
			Remote       string `json:"remote"`
			RegisteredAt int64  `json:"registered_at"`
			LastSeenAt   int64  `json:"last_seen_at"`
		} `json:"items"`
		Total int `json:"total"`
	}
	if err := connection.ParseResponse(resp, &payload); err != nil {
		return err
	}

	rows := make([]subscriberRow, 0, len(payload.Items))
	for _, item := range payload.Items {
		rows = append(rows, subscriberRow{
			ID:           item.ID,
			Name:         item.Name,
			Order:        domain.Order(item.Order).String(),
			Opcode:       item.Opcode,
			Remote:       item.Remote,
			RegisteredAt: millisTime(item.RegisteredAt),
			LastSeenAt:   millisTime(item.LastSeenAt),
		})
	}

	if len(rows) == 0 {
		flags := ParseGlobalFlags(c)
		if flags.Output == "" || flags.Output == "table" {
			fmt.Println("No subscribers registered.")
			return nil
		}
	}

	return formatter(c).Format(os.Stdout, rows)
}
