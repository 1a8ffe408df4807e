package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/chatclient/internal/logger"
	"github.com/chatclient/internal/storage"
)

const (
	defaultBuffer  = 1024
	publishTimeout = 2 * time.Second
)

// Mirror publishes conversation store changes to a Redis channel so other
// processes can follow the client state. Publish never blocks the caller;
// changes that do not fit the buffer are dropped and counted.
type Mirror struct {
	pub     publisher
	channel string

	mu     sync.RWMutex
	closed bool
	ch     chan storage.Change
	done   chan struct{}

	dropped atomic.Int64
}

// publisher is the part of *redis.Client the mirror needs.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

var _ storage.ChangeSink = (*Mirror)(nil)

// New connects to url and starts the publishing worker.
func New(ctx context.Context, url, channel string) (*Mirror, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newMirror(cli, channel, defaultBuffer), nil
}

func newMirror(p publisher, channel string, buffer int) *Mirror {
	m := &Mirror{
		pub:     p,
		channel: channel,
		ch:      make(chan storage.Change, buffer),
		done:    make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Mirror) Publish(c storage.Change) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.ch <- c:
	default:
		m.dropped.Add(1)
	}
}

// Dropped returns how many changes were discarded because the buffer was full.
func (m *Mirror) Dropped() int64 { return m.dropped.Load() }

func (m *Mirror) run() {
	defer close(m.done)
	for c := range m.ch {
		data, err := encodeChange(c)
		if err != nil {
			logger.Errorf("mirror encode %s: %v", c.Kind, err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = m.pub.Publish(ctx, m.channel, data).Err()
		cancel()
		if err != nil {
			logger.Errorf("mirror publish %s: %v", c.Kind, err)
		}
	}
}

// Close flushes queued changes and closes the Redis client.
func (m *Mirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.ch)
	m.mu.Unlock()
	<-m.done
	return m.pub.Close()
}

type envelope struct {
	ID string `json:"id"`
	storage.Change
}

// encodeChange wraps c with a unique event id so subscribers can dedupe.
func encodeChange(c storage.Change) ([]byte, error) {
	return json.Marshal(envelope{ID: uuid.NewString(), Change: c})
}
