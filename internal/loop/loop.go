// Package loop serializes the chat core onto one goroutine.
//
// Every state change of the core (socket callbacks, timer callbacks, user
// actions) runs as a closure on the loop goroutine, so the core itself needs
// no locks. Other goroutines reach the core with Post or Call.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatclient/internal/logger"
)

// ErrStopped is returned by Call once the loop has exited.
var ErrStopped = errors.New("loop: stopped")

// Timer is a cancellable scheduled task.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer (false if it already ran or was stopped).
	Stop() bool
}

// Scheduler is the part of the loop the core components depend on.
type Scheduler interface {
	// Post queues f to run on the loop.
	Post(f func())
	// AfterFunc runs f on the loop after d unless the returned timer is stopped first.
	AfterFunc(d time.Duration, f func()) Timer
	// Go runs work off the loop and posts the continuation it returns (if any).
	Go(work func() func())
}

// Loop is the production Scheduler.
// Lifecycle: New -> Run(ctx) in its own goroutine -> ctx cancel -> Done closed.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	closed  bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Run executes queued closures until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	defer l.close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
		for {
			batch := l.take()
			if len(batch) == 0 {
				break
			}
			for _, f := range batch {
				if ctx.Err() != nil {
					return
				}
				exec(f)
			}
		}
	}
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Wait blocks until goroutines started with Go have returned.
func (l *Loop) Wait() { l.wg.Wait() }

func (l *Loop) close() {
	l.mu.Lock()
	l.closed = true
	l.pending = nil
	l.mu.Unlock()
}

func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.pending
	l.pending = nil
	return batch
}

// Post queues f. Closures posted after the loop stopped are dropped.
func (l *Loop) Post(f func()) {
	l.post(f)
}

func (l *Loop) post(f func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, f)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for its result.
// Must not be called from the loop goroutine itself.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	ok := l.post(func() {
		defer func() {
			if r := recover(); r != nil {
				res <- fmt.Errorf("loop: panic: %v", r)
			}
		}()
		res <- fn()
	})
	if !ok {
		return ErrStopped
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrStopped
		}
	}
}

const (
	timerPending int32 = iota
	timerStopped
	timerFired
)

type loopTimer struct {
	t     *time.Timer
	state atomic.Int32
}

func (t *loopTimer) Stop() bool {
	if !t.state.CompareAndSwap(timerPending, timerStopped) {
		return false
	}
	t.t.Stop()
	return true
}

// AfterFunc schedules f on the loop. A timer stopped after it fired but before
// the queued callback ran still suppresses the callback.
func (l *Loop) AfterFunc(d time.Duration, f func()) Timer {
	tm := &loopTimer{}
	tm.t = time.AfterFunc(d, func() {
		l.post(func() {
			if tm.state.CompareAndSwap(timerPending, timerFired) {
				f()
			}
		})
	})
	return tm
}

// Go runs work in a new goroutine and posts its continuation to the loop.
func (l *Loop) Go(work func() func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if cont := work(); cont != nil {
			l.post(cont)
		}
	}()
}

func exec(f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("loop: panic in task: %v", r)
		}
	}()
	f()
}
