// Package chat assembles the client core: event loop, dispatcher, connection
// manager, outbound tracker, reconciliation engine and conversation store.
//
// Client methods are safe to call from any goroutine; they hop onto the event
// loop with loop.Call. Store reads go straight to the store.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chatclient/internal/api"
	"github.com/chatclient/internal/connection"
	"github.com/chatclient/internal/events"
	"github.com/chatclient/internal/logger"
	"github.com/chatclient/internal/loop"
	"github.com/chatclient/internal/model"
	"github.com/chatclient/internal/outbox"
	"github.com/chatclient/internal/reconcile"
	"github.com/chatclient/internal/storage"
	"github.com/chatclient/internal/storage/memory"
)

const defaultSeedLimit = 50

type Options struct {
	Endpoint string
	UserID   string

	Connection connection.Options
	Outbox     outbox.Options

	DebugLogSize int
	// Sink, when set, receives every store change.
	Sink storage.ChangeSink
	// API seeds chats and history before connecting. Nil disables seeding.
	API       *api.Client
	SeedLimit int
}

type Client struct {
	loop    *loop.Loop
	disp    *events.Dispatcher
	store   *memory.Store
	conn    *connection.Manager
	tracker *outbox.Tracker
	engine  *reconcile.Engine
	api     *api.Client
	opts    Options
}

// Status is a snapshot of the channel.
type Status struct {
	State        model.ConnectionState `json:"state"`
	Connected    bool                  `json:"connected"`
	Reconnecting bool                  `json:"reconnecting"`
	Attempt      int                   `json:"attempt"`
	MaxAttempts  int                   `json:"max_attempts"`
	URL          string                `json:"url"`
	UserID       string                `json:"user_id"`
}

func New(dialer connection.Dialer, opts Options) *Client {
	if opts.SeedLimit <= 0 {
		opts.SeedLimit = defaultSeedLimit
	}
	if opts.API == nil {
		opts.API = api.NewClient("")
	}
	storeOpts := []memory.Option{memory.WithDebugLogSize(opts.DebugLogSize)}
	if opts.Sink != nil {
		storeOpts = append(storeOpts, memory.WithSink(opts.Sink))
	}

	c := &Client{
		loop:  loop.New(),
		disp:  events.NewDispatcher(),
		store: memory.New(storeOpts...),
		api:   opts.API,
		opts:  opts,
	}
	connOpts := opts.Connection
	connOpts.Recorder = c.store
	c.conn = connection.New(c.loop, dialer, c.disp, connOpts)
	c.tracker = outbox.New(c.loop, c.store, c.conn, opts.Outbox)
	c.engine = reconcile.New(c.store, c.tracker)
	c.engine.SetIdentity(opts.UserID)
	c.engine.Register(c.disp)
	c.registerDebugLog()
	return c
}

// Run drives the event loop until ctx is cancelled.
func (c *Client) Run(ctx context.Context) { c.loop.Run(ctx) }

// Done is closed once Run has returned.
func (c *Client) Done() <-chan struct{} { return c.loop.Done() }

// Wait blocks until off-loop work (dials) has finished.
func (c *Client) Wait() { c.loop.Wait() }

func (c *Client) Store() *memory.Store { return c.store }

// Events exposes the dispatcher for presentation-layer subscriptions.
// Handlers run on the event loop.
func (c *Client) Events() *events.Dispatcher { return c.disp }

func (c *Client) UserID() string { return c.opts.UserID }

// Connect opens the channel with the configured endpoint and identity.
func (c *Client) Connect(ctx context.Context) error {
	return c.loop.Call(ctx, func() error {
		return c.conn.Connect(c.opts.Endpoint, c.opts.UserID)
	})
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.loop.Call(ctx, func() error {
		c.conn.Disconnect()
		return nil
	})
}

func (c *Client) ForceReconnect(ctx context.Context) error {
	return c.loop.Call(ctx, func() error {
		return c.conn.ForceReconnect(c.opts.Endpoint, c.opts.UserID)
	})
}

// Send shows text in chatID immediately and transmits it. When the channel is
// down the pending entry is still returned together with an error wrapping
// connection.ErrNotConnected.
func (c *Client) Send(ctx context.Context, chatID, text string) (model.Message, error) {
	var m model.Message
	err := c.loop.Call(ctx, func() error {
		var err error
		m, err = c.tracker.Send(chatID, text, c.opts.UserID)
		if errors.Is(err, connection.ErrNotConnected) {
			c.debug("error", "message kept locally: not connected to server")
		}
		return err
	})
	return m, err
}

func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.loop.Call(ctx, func() error { return c.tracker.MarkRead(messageID) })
}

// SetOnline publishes the local user's presence.
func (c *Client) SetOnline(ctx context.Context, online bool) error {
	return c.loop.Call(ctx, func() error { return c.conn.UpdateUserStatus(c.opts.UserID, online) })
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var s Status
	err := c.loop.Call(ctx, func() error {
		s = Status{
			State:        c.conn.State(),
			Connected:    c.conn.Connected(),
			Reconnecting: c.conn.State() == model.StateReconnecting,
			Attempt:      c.conn.Attempts(),
			MaxAttempts:  c.conn.MaxAttempts(),
			URL:          c.conn.URL(),
			UserID:       c.opts.UserID,
		}
		return nil
	})
	return s, err
}

// Seed loads the user's chats and their latest messages from the API into
// the store. A chat whose history fails to load is skipped.
func (c *Client) Seed(ctx context.Context) error {
	if !c.api.Enabled() {
		return nil
	}
	defer logger.DeferLogDuration("chat.Seed", time.Now())()
	chats, err := c.api.UserChats(ctx, c.opts.UserID)
	if err != nil {
		return fmt.Errorf("chat.Seed: %w", err)
	}
	for _, ch := range chats {
		chatID := string(ch.ID)
		msgs, err := c.api.ChatMessages(ctx, chatID, c.opts.UserID, c.opts.SeedLimit, 0)
		if err != nil {
			logger.Errorf("seed chat %s: %v", chatID, err)
			msgs = nil
		}
		ch := ch
		if err := c.loop.Call(ctx, func() error {
			c.store.PutChat(ch)
			if msgs != nil {
				c.store.SetMessages(chatID, msgs)
			}
			return nil
		}); err != nil {
			return fmt.Errorf("chat.Seed: %w", err)
		}
	}
	logger.Infof("seeded %d chats", len(chats))
	return nil
}

// registerDebugLog mirrors channel lifecycle events into the store's debug log.
func (c *Client) registerDebugLog() {
	c.disp.On(events.Connect, func(events.Event) error {
		c.debug("connection", "connected to server")
		return nil
	})
	c.disp.On(events.Disconnect, func(ev events.Event) error {
		p, _ := ev.Payload.(events.DisconnectPayload)
		c.debug("connection", fmt.Sprintf("disconnected by server (code %d %s)", p.Code, p.Reason))
		return nil
	})
	c.disp.On(events.ConnectError, func(ev events.Event) error {
		p, _ := ev.Payload.(events.ErrorPayload)
		c.debug("error", fmt.Sprintf("connection error: %v", p.Err))
		return nil
	})
	c.disp.On(events.Reconnecting, func(ev events.Event) error {
		p, _ := ev.Payload.(events.ReconnectingPayload)
		c.debug("connection", fmt.Sprintf("reconnecting (attempt %d of %d)", p.Attempt, p.MaxAttempts))
		return nil
	})
	c.disp.On(events.ReconnectError, func(ev events.Event) error {
		p, _ := ev.Payload.(events.ReconnectErrorPayload)
		c.debug("error", fmt.Sprintf("reconnect attempt %d failed", p.Attempt))
		return nil
	})
	c.disp.On(events.ReconnectFailed, func(ev events.Event) error {
		p, _ := ev.Payload.(events.ReconnectFailedPayload)
		c.debug("error", fmt.Sprintf("reconnect failed after %d attempts", p.Attempts))
		return nil
	})
}

func (c *Client) debug(typ, description string) {
	c.store.AddDebugEvent(model.DebugEvent{
		ID:          typ + "-" + uuid.NewString(),
		Timestamp:   time.Now(),
		Type:        typ,
		Description: description,
	})
}
