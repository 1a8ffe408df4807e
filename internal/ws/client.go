package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatclient/internal/logger"
)

const (
	// CloseIntentional is sent when the client disconnects on purpose.
	CloseIntentional = websocket.CloseNormalClosure
	// CloseAbnormal is reported when the channel dropped without a close frame.
	CloseAbnormal = websocket.CloseAbnormalClosure
	// CloseGoingAway is what a restarting server sends.
	CloseGoingAway = websocket.CloseGoingAway
)

var (
	ErrClosed         = errors.New("ws: connection closed")
	ErrSendBufferFull = errors.New("ws: send buffer full")
)

// Listener receives channel callbacks. Both methods are called from transport
// goroutines; Closed is called at most once and never after a local Close.
type Listener interface {
	Frame(raw []byte)
	Closed(code int, reason string)
}

// Conn is one open channel.
type Conn interface {
	// Send queues a text message without blocking.
	Send(data []byte) error
	// Close sends a close frame with code and tears the channel down.
	Close(code int, reason string) error
}

// Options tune the transport. Zero values take the defaults below.
type Options struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	MaxMessageSize   int64
	SendBufferSize   int
}

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 64 << 10
	defaultSendBufSize    = 256
)

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = defaultSendBufSize
	}
	return o
}

// Dialer opens gorilla WebSocket channels.
type Dialer struct {
	opts   Options
	dialer *websocket.Dialer
}

func NewDialer(opts Options) *Dialer {
	opts = opts.withDefaults()
	return &Dialer{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

// Dial performs the handshake and starts the pumps. The returned Conn reports
// to l until it is closed.
func (d *Dialer) Dial(ctx context.Context, url string, l Listener) (Conn, error) {
	defer logger.DeferLogDuration("ws.Dial", time.Now())()
	conn, resp, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("ws dial %s: %w", url, err)
	}
	c := newClient(conn, l, d.opts)
	c.start()
	return c, nil
}

// client is a single dialed channel.
// Lifecycle: newClient -> start -> [readPump, writePump] -> Close -> Wait.
type client struct {
	conn     *websocket.Conn
	listener Listener
	opts     Options
	send     chan []byte

	// done is closed by Close; writePump then sends the close frame.
	done        chan struct{}
	once        sync.Once
	closeCode   int
	closeReason string
	local       atomic.Bool
	notify      sync.Once
	wg          sync.WaitGroup
}

func newClient(conn *websocket.Conn, l Listener, opts Options) *client {
	return &client{
		conn:     conn,
		listener: l,
		opts:     opts,
		send:     make(chan []byte, opts.SendBufferSize),
		done:     make(chan struct{}),
	}
}

func (c *client) start() {
	c.wg.Add(2)
	go c.writePump()
	go c.readPump()
}

// Wait blocks until both pump goroutines have exited.
func (c *client) Wait() {
	c.wg.Wait()
}

func (c *client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSendBufferFull
	}
}

// Close is safe to call multiple times from any goroutine.
func (c *client) Close(code int, reason string) error {
	c.once.Do(func() {
		c.local.Store(true)
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
	return nil
}

func (c *client) closed(code int, reason string) {
	if c.local.Load() {
		return
	}
	c.notify.Do(func() {
		c.listener.Closed(code, reason)
	})
}

// readPump reads frames until the channel fails or is closed.
func (c *client) readPump() {
	defer c.wg.Done()
	defer c.conn.Close()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		logger.Errorf("ws set read deadline: %v", err)
		c.closed(CloseAbnormal, err.Error())
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			code, reason := closeStatus(err)
			if code != CloseIntentional && !c.local.Load() {
				logger.Errorf("ws read error code=%d: %v", code, err)
			}
			c.closed(code, reason)
			return
		}
		// Any inbound traffic proves liveness.
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		c.listener.Frame(raw)
	}
}

// writePump writes queued frames and pings; exits on Close or write error.
func (c *client) writePump() {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod(c.opts.PongWait))
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				logger.Debugf("ws close message: %v", err)
			}
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				logger.Errorf("ws set write deadline: %v", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Errorf("ws write: %v", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				logger.Errorf("ws set write deadline: %v", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func pingPeriod(pongWait time.Duration) time.Duration {
	return (pongWait * 9) / 10
}

// closeStatus extracts the close code from a read error. Anything other than
// a close frame from the peer counts as an abnormal closure.
func closeStatus(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return CloseAbnormal, err.Error()
}
