// Package connection owns the single channel to the chat server: open,
// subscribe, heartbeat, close handling and backoff reconnection.
//
// Manager is not safe for concurrent use. Every method and every transport
// callback runs on the event loop given to New.
package connection

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/chatclient/internal/events"
	"github.com/chatclient/internal/logger"
	"github.com/chatclient/internal/loop"
	"github.com/chatclient/internal/model"
	"github.com/chatclient/internal/ws"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
	defaultDialTimeout = 10 * time.Second
)

// Dialer opens a channel. ws.Dialer is the production implementation.
type Dialer interface {
	Dial(ctx context.Context, url string, l ws.Listener) (ws.Conn, error)
}

// StateRecorder is told about every state change. memory.Store implements it.
type StateRecorder interface {
	RecordState(state model.ConnectionState, attempt int)
}

type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	DialTimeout time.Duration
	// HeartbeatInterval is the period of app-level ping frames. Zero disables them.
	HeartbeatInterval time.Duration
	// Subscriptions are sent in the subscribe frame after every open.
	// Nil subscribes to every inbound type.
	Subscriptions []events.Type
	Recorder      StateRecorder
}

type Manager struct {
	sched  loop.Scheduler
	dialer Dialer
	disp   *events.Dispatcher
	opts   Options

	state    model.ConnectionState
	endpoint string
	identity string
	url      string
	conn     ws.Conn

	// gen identifies the current channel; callbacks carrying an older value are stale.
	gen        uint64
	dialing    bool
	cancelDial context.CancelFunc
	attempts   int
	backoff    loop.Timer
	heartbeat  loop.Timer
}

func New(sched loop.Scheduler, dialer Dialer, disp *events.Dispatcher, opts Options) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.Subscriptions == nil {
		opts.Subscriptions = events.InboundTypes()
	}
	return &Manager{
		sched:  sched,
		dialer: dialer,
		disp:   disp,
		opts:   opts,
		state:  model.StateDisconnected,
	}
}

func (m *Manager) State() model.ConnectionState { return m.state }

// Attempts returns the number of automatic reconnect attempts made since the
// last successful open.
func (m *Manager) Attempts() int { return m.attempts }

func (m *Manager) MaxAttempts() int { return m.opts.MaxAttempts }

// URL returns the channel URL of the last Connect.
func (m *Manager) URL() string { return m.url }

// Identity returns the user id of the last Connect.
func (m *Manager) Identity() string { return m.identity }

// Connected reports whether frames can be sent right now.
func (m *Manager) Connected() bool {
	return m.state == model.StateConnected && m.conn != nil
}

// Connect opens the channel for identity. It is a no-op while a dial is in
// flight, while connected to the same URL, or while an automatic reconnect
// to the same URL is pending. A different endpoint or identity replaces the
// current channel.
func (m *Manager) Connect(endpoint, identity string) error {
	u, err := channelURL(endpoint, identity)
	if err != nil {
		return fmt.Errorf("connection.Connect: %w", err)
	}
	if m.dialing {
		logger.Debugf("connect %s ignored: dial in flight", u)
		return nil
	}
	if u == m.url && (m.state == model.StateConnected || m.state == model.StateReconnecting) {
		return nil
	}
	m.teardown("reconnect")
	m.attempts = 0
	m.endpoint, m.identity, m.url = endpoint, identity, u
	m.setState(model.StateConnecting)
	m.dial()
	return nil
}

// Disconnect closes the channel with the intentional code and suppresses
// automatic reconnection until the next Connect or ForceReconnect.
func (m *Manager) Disconnect() {
	m.teardown("client disconnect")
	m.attempts = 0
	m.setState(model.StateDisconnected)
}

// ForceReconnect drops any channel, pending backoff or in-flight dial and
// opens a new channel right away with a fresh attempt counter. Empty
// arguments reuse the ones of the last Connect.
func (m *Manager) ForceReconnect(endpoint, identity string) error {
	if endpoint == "" {
		endpoint = m.endpoint
	}
	if identity == "" {
		identity = m.identity
	}
	u, err := channelURL(endpoint, identity)
	if err != nil {
		return fmt.Errorf("connection.ForceReconnect: %w", err)
	}
	logger.Infof("force reconnect %s", u)
	m.teardown("force reconnect")
	m.attempts = 0
	m.endpoint, m.identity, m.url = endpoint, identity, u
	m.setState(model.StateConnecting)
	m.dial()
	return nil
}

// teardown cancels the backoff timer and any in-flight dial, and closes the
// open channel with the intentional code. Callbacks of the old channel are
// discarded afterwards.
func (m *Manager) teardown(reason string) {
	m.gen++
	if m.backoff != nil {
		m.backoff.Stop()
		m.backoff = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.dialing = false
	m.stopHeartbeat()
	if m.conn != nil {
		if err := m.conn.Close(ws.CloseIntentional, reason); err != nil {
			logger.Errorf("close channel: %v", err)
		}
		m.conn = nil
	}
}

func (m *Manager) dial() {
	m.gen++
	gen := m.gen
	m.dialing = true
	target := m.url
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DialTimeout)
	m.cancelDial = cancel
	l := &listener{m: m, gen: gen}
	logger.Debugf("dial %s gen=%d attempt=%d", target, gen, m.attempts)
	m.sched.Go(func() func() {
		defer cancel()
		conn, err := m.dialer.Dial(ctx, target, l)
		return func() { m.dialed(gen, conn, err) }
	})
}

func (m *Manager) dialed(gen uint64, conn ws.Conn, err error) {
	if gen != m.gen {
		if conn != nil {
			_ = conn.Close(ws.CloseIntentional, "superseded")
		}
		return
	}
	m.dialing = false
	m.cancelDial = nil
	if err != nil {
		cerr := &ConnectionError{URL: m.url, Attempt: m.attempts, Err: err}
		logger.Errorf("%v", cerr)
		m.disp.Dispatch(events.ConnectError, events.ErrorPayload{Err: cerr})
		if m.attempts > 1 {
			m.disp.Dispatch(events.ReconnectError, events.ReconnectErrorPayload{Attempt: m.attempts, Err: cerr})
		}
		m.lost(ws.CloseAbnormal, err.Error())
		return
	}
	m.conn = conn
	m.attempts = 0
	logger.Infof("connected %s", m.url)
	m.setState(model.StateConnected)
	if err := m.Subscribe(m.opts.Subscriptions...); err != nil {
		logger.Errorf("subscribe: %v", err)
	}
	m.disp.Dispatch(events.Connect, nil)
	m.startHeartbeat(gen)
}

// lost handles the end of the current channel: a server close, a dropped
// connection or a failed open.
func (m *Manager) lost(code int, reason string) {
	m.gen++
	if m.conn != nil {
		// Releases the transport; nothing reaches the peer any more.
		_ = m.conn.Close(ws.CloseIntentional, "channel lost")
		m.conn = nil
	}
	m.stopHeartbeat()

	if code == ws.CloseIntentional {
		logger.Infof("channel closed by server code=%d reason=%q", code, reason)
		m.attempts = 0
		m.setState(model.StateDisconnected)
		m.disp.Dispatch(events.Disconnect, events.DisconnectPayload{Code: code, Reason: reason})
		return
	}
	if m.attempts >= m.opts.MaxAttempts {
		logger.Errorf("reconnect failed after %d attempts", m.attempts)
		m.setState(model.StateFailed)
		m.disp.Dispatch(events.ReconnectFailed, events.ReconnectFailedPayload{Attempts: m.attempts})
		return
	}

	m.attempts++
	delay := m.opts.BaseDelay << (m.attempts - 1)
	logger.Infof("channel lost code=%d reason=%q, reconnect attempt %d/%d in %v", code, reason, m.attempts, m.opts.MaxAttempts, delay)
	m.setState(model.StateReconnecting)
	if m.attempts == 1 {
		m.disp.Dispatch(events.Reconnecting, events.ReconnectingPayload{Attempt: 1, MaxAttempts: m.opts.MaxAttempts})
	}
	m.backoff = m.sched.AfterFunc(delay, func() {
		m.backoff = nil
		m.dial()
	})
}

func (m *Manager) setState(to model.ConnectionState) {
	from := m.state
	m.state = to
	if m.opts.Recorder != nil {
		m.opts.Recorder.RecordState(to, m.attempts)
	}
	if from != to {
		m.disp.Dispatch(events.StateChange, events.StatePayload{From: from, To: to})
	}
}

// --- Inbound ---

func (m *Manager) onFrame(gen uint64, raw []byte) {
	if gen != m.gen {
		return
	}
	f, err := ws.DecodeFrame(raw)
	if err != nil {
		logger.Errorf("%v", newProtocolError(raw, err))
		return
	}
	typ, ok := events.ParseInbound(f.Type)
	if !ok {
		logger.Infof("unknown frame type %q dropped", f.Type)
		return
	}
	m.disp.Dispatch(typ, f.Data)
}

func (m *Manager) onClosed(gen uint64, code int, reason string) {
	if gen != m.gen {
		return
	}
	// Closed before the dial continuation ran: the continuation is now stale.
	if m.dialing {
		m.dialing = false
		m.cancelDial = nil
	}
	m.lost(code, reason)
}

// listener forwards transport callbacks onto the loop, tagged with the
// generation of the channel they belong to.
type listener struct {
	m   *Manager
	gen uint64
}

func (l *listener) Frame(raw []byte) {
	l.m.sched.Post(func() { l.m.onFrame(l.gen, raw) })
}

func (l *listener) Closed(code int, reason string) {
	l.m.sched.Post(func() { l.m.onClosed(l.gen, code, reason) })
}

// --- Heartbeat ---

func (m *Manager) startHeartbeat(gen uint64) {
	if m.opts.HeartbeatInterval <= 0 {
		return
	}
	m.heartbeat = m.sched.AfterFunc(m.opts.HeartbeatInterval, func() {
		m.heartbeat = nil
		if gen != m.gen || !m.Connected() {
			return
		}
		if err := m.Send(ws.OutgoingFrame{Type: ws.FramePing}); err != nil {
			logger.Errorf("heartbeat: %v", err)
		}
		m.startHeartbeat(gen)
	})
}

func (m *Manager) stopHeartbeat() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
}

// --- Outbound ---

// Send transmits f once. It returns ErrNotConnected when no channel is open;
// the frame is not queued or retried.
func (m *Manager) Send(f ws.OutgoingFrame) error {
	if !m.Connected() {
		logger.Debugf("send %s: not connected", f.Type)
		return ErrNotConnected
	}
	data, err := ws.EncodeFrame(f)
	if err != nil {
		return fmt.Errorf("connection.Send %s: %w", f.Type, err)
	}
	if err := m.conn.Send(data); err != nil {
		return fmt.Errorf("connection.Send %s: %w", f.Type, err)
	}
	return nil
}

// Subscribe asks the server to deliver the given event types.
func (m *Manager) Subscribe(types ...events.Type) error {
	return m.Send(ws.OutgoingFrame{Type: ws.FrameSubscribe, Data: typeNames(types)})
}

func (m *Manager) Unsubscribe(types ...events.Type) error {
	return m.Send(ws.OutgoingFrame{Type: ws.FrameUnsubscribe, Data: typeNames(types)})
}

func (m *Manager) SendMessage(chatID, text, fromUserID string) error {
	return m.Send(ws.OutgoingFrame{
		Type: ws.FrameSendMessage,
		Data: ws.SendMessagePayload{ChatID: chatID, Text: text, FromUserID: fromUserID},
	})
}

func (m *Manager) MarkMessageRead(messageID string) error {
	return m.Send(ws.OutgoingFrame{Type: ws.FrameMarkMessageRead, Data: ws.MarkReadPayload{MessageID: messageID}})
}

func (m *Manager) UpdateUserStatus(userID string, online bool) error {
	return m.Send(ws.OutgoingFrame{
		Type: ws.FrameUpdateUserStatus,
		Data: ws.UserStatusPayload{UserID: userID, IsOnline: online},
	})
}

func typeNames(types []events.Type) []string {
	names := make([]string, 0, len(types))
	for _, t := range types {
		if t.Valid() {
			names = append(names, t.String())
		}
	}
	return names
}

// channelURL appends user_id to endpoint.
func channelURL(endpoint, identity string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("empty endpoint")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if identity != "" {
		q := u.Query()
		q.Set("user_id", identity)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
