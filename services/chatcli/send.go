package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatclient/internal/events"
	"github.com/chatclient/internal/model"
)

var sendTimeout time.Duration

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <text...>",
	Short: "Send one message and wait for the server to confirm it",
	Args:  cobra.MinimumNArgs(2),
	RunE:  sendOnce,
}

func init() {
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "how long to wait for connect and confirmation")
}

func sendOnce(cmd *cobra.Command, args []string) error {
	chatID, text := args[0], strings.Join(args[1:], " ")

	ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
	defer cancel()

	client, err := newClient(cfg, nil)
	if err != nil {
		return err
	}
	connected := make(chan struct{}, 1)
	failed := make(chan struct{}, 1)
	client.Events().On(events.Connect, func(events.Event) error {
		select {
		case connected <- struct{}{}:
		default:
		}
		return nil
	})
	client.Events().On(events.ReconnectFailed, func(events.Event) error {
		select {
		case failed <- struct{}{}:
		default:
		}
		return nil
	})

	runCtx, stopLoop := context.WithCancel(context.Background())
	go client.Run(runCtx)
	defer stop(client, stopLoop)

	if err := client.Connect(ctx); err != nil {
		return err
	}
	select {
	case <-connected:
	case <-failed:
		return fmt.Errorf("could not connect to %s", cfg.Endpoint)
	case <-ctx.Done():
		return fmt.Errorf("connect: %w", ctx.Err())
	}

	pending, err := client.Send(ctx, chatID, text)
	if err != nil {
		return err
	}
	confirmed, err := waitConfirmed(ctx, client.Store().Messages, chatID, pending.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", confirmed.ID, confirmed.Status)
	return nil
}

// waitConfirmed polls the conversation until the pending entry has been
// replaced in place by the server's copy, and returns that copy.
func waitConfirmed(ctx context.Context, messages func(string) []model.Message, chatID, tempID string) (model.Message, error) {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	idx := -1
	for {
		list := messages(chatID)
		if i := indexOf(list, tempID); i >= 0 {
			idx = i
		} else if idx >= 0 {
			if idx < len(list) && !list[idx].IsPending() && list[idx].Direction == model.DirectionOutgoing {
				return list[idx], nil
			}
			return model.Message{}, fmt.Errorf("pending entry %s was dropped before confirmation", tempID)
		}
		select {
		case <-ctx.Done():
			return model.Message{}, fmt.Errorf("no confirmation for %s: %w", tempID, ctx.Err())
		case <-t.C:
		}
	}
}

func indexOf(list []model.Message, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}
