package main

import (
	"context"
	"fmt"
	"time"

	"github.com/chatclient/internal/api"
	"github.com/chatclient/internal/chat"
	"github.com/chatclient/internal/config"
	"github.com/chatclient/internal/connection"
	"github.com/chatclient/internal/events"
	"github.com/chatclient/internal/logger"
	"github.com/chatclient/internal/outbox"
	"github.com/chatclient/internal/startup"
	"github.com/chatclient/internal/storage"
	redisstorage "github.com/chatclient/internal/storage/redis"
	"github.com/chatclient/internal/ws"
)

const mirrorConnectWait = 15 * time.Second

// subscriptions maps configured frame names to event types. Nil means every
// inbound type.
func subscriptions(names []string) ([]events.Type, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]events.Type, 0, len(names))
	for _, n := range names {
		t, ok := events.ParseInbound(n)
		if !ok {
			return nil, fmt.Errorf("unknown subscription %q", n)
		}
		out = append(out, t)
	}
	return out, nil
}

// openMirror connects the Redis change mirror when configured. A mirror that
// cannot be reached is logged and skipped.
func openMirror(ctx context.Context, cfg *config.Config) *redisstorage.Mirror {
	if cfg.Mirror.RedisURL == "" {
		return nil
	}
	m, err := startup.ConnectMirrorWithRetry(ctx, cfg.Mirror.RedisURL, cfg.Mirror.Channel, mirrorConnectWait)
	if err != nil {
		logger.Errorf("mirror disabled: %v", err)
		return nil
	}
	return m
}

func newClient(cfg *config.Config, sink storage.ChangeSink) (*chat.Client, error) {
	subs, err := subscriptions(cfg.Subscriptions)
	if err != nil {
		return nil, err
	}
	dialer := ws.NewDialer(ws.Options{
		HandshakeTimeout: cfg.WS.DialTimeout,
		WriteWait:        cfg.WS.WriteTimeout,
		PongWait:         cfg.WS.PongTimeout,
		MaxMessageSize:   cfg.WS.MaxMessageSize,
		SendBufferSize:   cfg.WS.SendBufferSize,
	})
	return chat.New(dialer, chat.Options{
		Endpoint: cfg.Endpoint,
		UserID:   cfg.UserID,
		Connection: connection.Options{
			MaxAttempts:       cfg.Reconnect.MaxAttempts,
			BaseDelay:         cfg.Reconnect.BaseDelay,
			DialTimeout:       cfg.WS.DialTimeout,
			HeartbeatInterval: cfg.WS.HeartbeatInterval,
			Subscriptions:     subs,
		},
		Outbox: outbox.Options{
			Fallback: cfg.Pending.FallbackTimeout,
			Keep:     cfg.Pending.Keep,
		},
		DebugLogSize: cfg.DebugLogSize,
		Sink:         sink,
		API:          api.NewClient(cfg.APIURL),
	}), nil
}

// stop disconnects the channel and waits for the loop and its dials to end.
func stop(c *chat.Client, cancel context.CancelFunc) {
	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	if err := c.Disconnect(ctx); err != nil {
		logger.Errorf("disconnect: %v", err)
	}
	done()
	cancel()
	<-c.Done()
	c.Wait()
}
