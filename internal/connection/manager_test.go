package connection

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatclient/internal/events"
	"github.com/chatclient/internal/logger"
	"github.com/chatclient/internal/loop/looptest"
	"github.com/chatclient/internal/model"
	"github.com/chatclient/internal/ws"
)

func TestMain(m *testing.M) {
	logger.SetOutput(zap.NewNop())
	os.Exit(m.Run())
}

const endpoint = "ws://chat.local/ws"

var errRefused = errors.New("connection refused")

type fakeConn struct {
	l      ws.Listener
	sent   [][]byte
	closed bool
	code   int
}

func (c *fakeConn) Send(data []byte) error {
	if c.closed {
		return ws.ErrClosed
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Close(code int, _ string) error {
	if !c.closed {
		c.closed = true
		c.code = code
	}
	return nil
}

func (c *fakeConn) frames(t *testing.T) []ws.InboundFrame {
	t.Helper()
	out := make([]ws.InboundFrame, 0, len(c.sent))
	for _, raw := range c.sent {
		f, err := ws.DecodeFrame(raw)
		require.NoError(t, err)
		out = append(out, f)
	}
	return out
}

type fakeDialer struct {
	urls  []string
	conns []*fakeConn
	// fail makes every dial fail; failNext fails only the next n dials.
	fail     bool
	failNext int
}

func (d *fakeDialer) Dial(_ context.Context, url string, l ws.Listener) (ws.Conn, error) {
	d.urls = append(d.urls, url)
	if d.fail || d.failNext > 0 {
		if d.failNext > 0 {
			d.failNext--
		}
		return nil, errRefused
	}
	c := &fakeConn{l: l}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) last() *fakeConn {
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) open() int {
	n := 0
	for _, c := range d.conns {
		if !c.closed {
			n++
		}
	}
	return n
}

type recorded struct {
	typ     events.Type
	payload any
}

type harness struct {
	sched  *looptest.Manual
	dialer *fakeDialer
	disp   *events.Dispatcher
	mgr    *Manager
	events []recorded
	states []model.ConnectionState
}

func (h *harness) RecordState(s model.ConnectionState, _ int) {
	h.states = append(h.states, s)
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		sched:  looptest.NewManual(),
		dialer: &fakeDialer{},
		disp:   events.NewDispatcher(),
	}
	for _, typ := range []events.Type{
		events.Connect, events.ConnectError, events.Disconnect, events.Reconnecting,
		events.ReconnectError, events.ReconnectFailed, events.Message, events.Pong,
	} {
		h.disp.On(typ, func(ev events.Event) error {
			h.events = append(h.events, recorded{typ: ev.Type, payload: ev.Payload})
			return nil
		})
	}
	opts.Recorder = h
	h.mgr = New(h.sched, h.dialer, h.disp, opts)
	return h
}

func (h *harness) count(typ events.Type) int {
	n := 0
	for _, e := range h.events {
		if e.typ == typ {
			n++
		}
	}
	return n
}

func (h *harness) of(typ events.Type) []any {
	var out []any
	for _, e := range h.events {
		if e.typ == typ {
			out = append(out, e.payload)
		}
	}
	return out
}

func (h *harness) connect(t *testing.T) *fakeConn {
	t.Helper()
	require.NoError(t, h.mgr.Connect(endpoint, "u1"))
	h.sched.Drain()
	require.Equal(t, model.StateConnected, h.mgr.State())
	return h.dialer.last()
}

func TestConnect_OpensSubscribesAndEmitsConnect(t *testing.T) {
	h := newHarness(t, Options{Subscriptions: []events.Type{events.Message, events.ChatRead}})
	conn := h.connect(t)

	assert.Equal(t, []string{endpoint + "?user_id=u1"}, h.dialer.urls)
	assert.Equal(t, []model.ConnectionState{model.StateConnecting, model.StateConnected}, h.states)
	assert.Equal(t, 1, h.count(events.Connect))

	frames := conn.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "subscribe", frames[0].Type)
	assert.JSONEq(t, `["message","chat_read"]`, string(frames[0].Data))
}

func TestConnect_DefaultSubscriptionsCoverInboundTypes(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.connect(t)

	var names []string
	require.NoError(t, json.Unmarshal(conn.frames(t)[0].Data, &names))
	assert.Len(t, names, len(events.InboundTypes()))
	assert.Contains(t, names, "message_status_update")
}

func TestConnect_WhileDialingOpensOneChannel(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.mgr.Connect(endpoint, "u1"))
	require.NoError(t, h.mgr.Connect(endpoint, "u1"))
	require.NoError(t, h.mgr.Connect(endpoint, "u2"))
	h.sched.Drain()

	assert.Len(t, h.dialer.urls, 1)
	assert.Equal(t, 1, h.dialer.open())

	require.NoError(t, h.mgr.Connect(endpoint, "u1"))
	h.sched.Drain()
	assert.Len(t, h.dialer.urls, 1, "already connected to the same URL")
}

func TestConnect_DifferentIdentityReplacesChannel(t *testing.T) {
	h := newHarness(t, Options{})
	first := h.connect(t)

	require.NoError(t, h.mgr.Connect(endpoint, "u2"))
	h.sched.Drain()

	assert.True(t, first.closed)
	assert.Equal(t, ws.CloseIntentional, first.code)
	assert.Equal(t, 1, h.dialer.open())
	assert.Equal(t, endpoint+"?user_id=u2", h.mgr.URL())
	assert.Zero(t, h.count(events.Reconnecting))
}

func TestConnect_RejectsBadEndpoint(t *testing.T) {
	h := newHarness(t, Options{})
	assert.Error(t, h.mgr.Connect("", "u1"))
	assert.Error(t, h.mgr.Connect("http://chat.local/ws", "u1"))
	assert.Empty(t, h.dialer.urls)
	assert.Equal(t, model.StateDisconnected, h.mgr.State())
}

func TestAbnormalClose_FullBackoffSequence(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.connect(t)
	h.dialer.fail = true

	conn.l.Closed(ws.CloseAbnormal, "")
	h.sched.Drain()

	require.Equal(t, []any{events.ReconnectingPayload{Attempt: 1, MaxAttempts: 5}}, h.of(events.Reconnecting))
	assert.Equal(t, model.StateReconnecting, h.mgr.State())

	// Delays double: 1s, 2s, 4s, 8s, 16s.
	for i, delay := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second} {
		d, ok := h.sched.NextDelay()
		require.True(t, ok, "attempt %d", i+1)
		assert.Equal(t, delay, d, "attempt %d", i+1)
		h.sched.Advance(delay)
		assert.Len(t, h.dialer.urls, i+2)
	}

	assert.Equal(t, 1, h.count(events.Reconnecting))
	assert.Equal(t, 5, h.count(events.ConnectError))
	var attempts []int
	for _, p := range h.of(events.ReconnectError) {
		attempts = append(attempts, p.(events.ReconnectErrorPayload).Attempt)
	}
	assert.Equal(t, []int{2, 3, 4, 5}, attempts)
	assert.Equal(t, []any{events.ReconnectFailedPayload{Attempts: 5}}, h.of(events.ReconnectFailed))
	assert.Equal(t, model.StateFailed, h.mgr.State())

	h.sched.Advance(time.Hour)
	assert.Len(t, h.dialer.urls, 6, "no retries after reconnect_failed")
	assert.Zero(t, h.sched.Pending())
}

func TestAbnormalClose_AttemptsNeverExceedMax(t *testing.T) {
	for _, max := range []int{1, 2, 3, 7} {
		h := newHarness(t, Options{MaxAttempts: max, BaseDelay: 10 * time.Millisecond})
		conn := h.connect(t)
		h.dialer.fail = true
		conn.l.Closed(ws.CloseGoingAway, "restart")
		h.sched.Drain()
		h.sched.Advance(time.Hour)

		assert.Len(t, h.dialer.urls, 1+max, "max=%d", max)
		assert.Equal(t, 1, h.count(events.ReconnectFailed), "max=%d", max)
		assert.LessOrEqual(t, h.mgr.Attempts(), max)
	}
}

func TestAbnormalClose_RecoveryResetsAttempts(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.connect(t)
	h.dialer.failNext = 2

	conn.l.Closed(ws.CloseAbnormal, "")
	h.sched.Drain()
	h.sched.Advance(time.Second)     // attempt 1 fails
	h.sched.Advance(2 * time.Second) // attempt 2 fails
	h.sched.Advance(4 * time.Second) // attempt 3 succeeds

	assert.Equal(t, model.StateConnected, h.mgr.State())
	assert.Zero(t, h.mgr.Attempts())
	assert.Equal(t, 2, h.count(events.Connect))
	assert.Equal(t, 1, h.count(events.ReconnectError))

	// A later drop starts over from attempt 1.
	h.dialer.last().l.Closed(ws.CloseAbnormal, "")
	h.sched.Drain()
	assert.Equal(t, 2, h.count(events.Reconnecting))
}

func TestInitialDialFailure_EntersBackoff(t *testing.T) {
	h := newHarness(t, Options{})
	h.dialer.failNext = 1
	require.NoError(t, h.mgr.Connect(endpoint, "u1"))
	h.sched.Drain()

	assert.Equal(t, 1, h.count(events.ConnectError))
	var cerr *ConnectionError
	require.ErrorAs(t, h.of(events.ConnectError)[0].(events.ErrorPayload).Err, &cerr)
	assert.ErrorIs(t, cerr, errRefused)
	assert.Equal(t, model.StateReconnecting, h.mgr.State())

	h.sched.Advance(time.Second)
	assert.Equal(t, model.StateConnected, h.mgr.State())
}

func TestForceReconnect_MidBackoffLeavesOneChannel(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.connect(t)
	conn.l.Closed(ws.CloseAbnormal, "")
	h.sched.Drain()
	require.Equal(t, 1, h.sched.Pending())

	require.NoError(t, h.mgr.ForceReconnect("", ""))
	h.sched.Drain()
	assert.Zero(t, h.sched.Pending(), "backoff timer cancelled")
	assert.Equal(t, model.StateConnected, h.mgr.State())

	h.sched.Advance(time.Minute)
	assert.Len(t, h.dialer.urls, 2)
	assert.Equal(t, 1, h.dialer.open())
	assert.Zero(t, h.mgr.Attempts())
}

func TestForceReconnect_DuringDialSupersedesIt(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.mgr.Connect(endpoint, "u1"))
	require.NoError(t, h.mgr.ForceReconnect(endpoint, "u1"))
	h.sched.Drain()

	require.Len(t, h.dialer.conns, 2)
	assert.True(t, h.dialer.conns[0].closed, "stale dial result is closed")
	assert.False(t, h.dialer.conns[1].closed)
	assert.Equal(t, 1, h.dialer.open())
	assert.Equal(t, 1, h.count(events.Connect))
}

func TestForceReconnect_FromFailed(t *testing.T) {
	h := newHarness(t, Options{MaxAttempts: 1})
	conn := h.connect(t)
	h.dialer.fail = true
	conn.l.Closed(ws.CloseAbnormal, "")
	h.sched.Advance(time.Minute)
	require.Equal(t, model.StateFailed, h.mgr.State())

	h.dialer.fail = false
	require.NoError(t, h.mgr.ForceReconnect("", ""))
	h.sched.Drain()
	assert.Equal(t, model.StateConnected, h.mgr.State())
	assert.Equal(t, 1, h.dialer.open())
}

func TestDisconnect_NeverReconnects(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.connect(t)

	h.mgr.Disconnect()
	assert.True(t, conn.closed)
	assert.Equal(t, ws.CloseIntentional, conn.code)
	assert.Equal(t, model.StateDisconnected, h.mgr.State())

	// A late close callback of the old channel is stale.
	conn.l.Closed(ws.CloseAbnormal, "")
	h.sched.Advance(time.Hour)

	assert.Zero(t, h.count(events.Reconnecting))
	assert.Zero(t, h.sched.Pending())
	assert.Len(t, h.dialer.urls, 1)
}

func TestDisconnect_CancelsPendingBackoff(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.connect(t)
	conn.l.Closed(ws.CloseAbnormal, "")
	h.sched.Drain()

	h.mgr.Disconnect()
	h.sched.Advance(time.Hour)

	assert.Len(t, h.dialer.urls, 1)
	assert.Zero(t, h.mgr.Attempts())
	assert.Equal(t, model.StateDisconnected, h.mgr.State())
}

func TestServerIntentionalClose_EmitsDisconnect(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.connect(t)

	conn.l.Closed(ws.CloseIntentional, "bye")
	h.sched.Advance(time.Hour)

	assert.Equal(t, []any{events.DisconnectPayload{Code: 1000, Reason: "bye"}}, h.of(events.Disconnect))
	assert.Zero(t, h.count(events.Reconnecting))
	assert.Len(t, h.dialer.urls, 1)
}

func TestSend_NotConnected(t *testing.T) {
	h := newHarness(t, Options{})
	assert.ErrorIs(t, h.mgr.SendMessage("c1", "hi", "u1"), ErrNotConnected)

	conn := h.connect(t)
	h.mgr.Disconnect()
	assert.ErrorIs(t, h.mgr.MarkMessageRead("m1"), ErrNotConnected)
	assert.Len(t, conn.sent, 1, "only the subscribe frame went out")
}

func TestSend_FrameHelpers(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.connect(t)

	require.NoError(t, h.mgr.SendMessage("c1", "hello", "u1"))
	require.NoError(t, h.mgr.MarkMessageRead("m7"))
	require.NoError(t, h.mgr.UpdateUserStatus("u1", true))
	require.NoError(t, h.mgr.Unsubscribe(events.BotUpdate))

	frames := conn.frames(t)[1:]
	require.Len(t, frames, 4)
	assert.Equal(t, "send_message", frames[0].Type)
	assert.JSONEq(t, `{"chat_id":"c1","text":"hello","from_user_id":"u1"}`, string(frames[0].Data))
	assert.JSONEq(t, `{"message_id":"m7"}`, string(frames[1].Data))
	assert.JSONEq(t, `{"user_id":"u1","is_online":true}`, string(frames[2].Data))
	assert.Equal(t, "unsubscribe", frames[3].Type)
	assert.JSONEq(t, `["bot_update"]`, string(frames[3].Data))
}

func TestInbound_DispatchesVerbatimAndDropsBadFrames(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.connect(t)

	conn.l.Frame([]byte(`{not json`))
	conn.l.Frame([]byte(`{"type":"typing","data":{}}`))
	conn.l.Frame([]byte(`{"type":"message","data":{"id":"m1","chat_id":"c1"}}`))
	h.sched.Drain()

	msgs := h.of(events.Message)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"id":"m1","chat_id":"c1"}`, string(msgs[0].(json.RawMessage)))
	assert.Equal(t, model.StateConnected, h.mgr.State(), "channel stays open")
	assert.False(t, conn.closed)
}

func TestInbound_StaleChannelIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	old := h.connect(t)
	require.NoError(t, h.mgr.ForceReconnect("", ""))
	h.sched.Drain()

	old.l.Frame([]byte(`{"type":"message","data":{"id":"m1","chat_id":"c1"}}`))
	old.l.Closed(ws.CloseAbnormal, "")
	h.sched.Drain()

	assert.Zero(t, h.count(events.Message))
	assert.Zero(t, h.count(events.Reconnecting))
	assert.Equal(t, model.StateConnected, h.mgr.State())
}

func TestHeartbeat_SendsPingWhileConnected(t *testing.T) {
	h := newHarness(t, Options{HeartbeatInterval: 30 * time.Second})
	conn := h.connect(t)

	h.sched.Advance(95 * time.Second)
	var pings int
	for _, f := range conn.frames(t) {
		if f.Type == "ping" {
			pings++
		}
	}
	assert.Equal(t, 3, pings)

	h.mgr.Disconnect()
	assert.Zero(t, h.sched.Pending())
}

func TestChannelURL(t *testing.T) {
	u, err := channelURL("ws://h:3001/ws", "42")
	require.NoError(t, err)
	assert.Equal(t, "ws://h:3001/ws?user_id=42", u)

	u, err = channelURL("wss://h/ws?token=x", "a b")
	require.NoError(t, err)
	assert.Equal(t, "wss://h/ws?token=x&user_id=a+b", u)

	u, err = channelURL("ws://h/ws", "")
	require.NoError(t, err)
	assert.Equal(t, "ws://h/ws", u)
}

func TestErrors(t *testing.T) {
	cerr := &ConnectionError{URL: "ws://h", Attempt: 2, Err: errRefused}
	assert.ErrorIs(t, cerr, errRefused)
	assert.Contains(t, cerr.Error(), "attempt 2")

	long := make([]byte, 1000)
	perr := newProtocolError(long, errors.New("bad"))
	assert.LessOrEqual(t, len(perr.Frame), maxFrameInError+3)
}
