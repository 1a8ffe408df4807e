// Package looptest provides a deterministic loop.Scheduler for tests.
package looptest

import (
	"sort"
	"sync"
	"time"

	"github.com/chatclient/internal/loop"
)

// Manual is a loop.Scheduler driven by the test: posted closures run on
// Drain, timers fire on Advance against a virtual clock. Go runs the work
// synchronously and queues the continuation.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	queue  []func()
	timers []*manualTimer
	seq    int
}

type manualTimer struct {
	m       *Manual
	due     time.Duration
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func NewManual() *Manual {
	return &Manual{}
}

var _ loop.Scheduler = (*Manual)(nil)

func (m *Manual) Post(f func()) {
	m.mu.Lock()
	m.queue = append(m.queue, f)
	m.mu.Unlock()
}

func (m *Manual) AfterFunc(d time.Duration, f func()) loop.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, due: m.now + d, seq: m.seq, f: f}
	m.timers = append(m.timers, t)
	return t
}

func (m *Manual) Go(work func() func()) {
	if cont := work(); cont != nil {
		m.Post(cont)
	}
}

// Drain runs queued closures, including ones queued while draining.
// It returns how many ran.
func (m *Manual) Drain() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return n
		}
		f := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		f()
		n++
	}
}

// Advance moves the virtual clock forward by d, firing due timers in order
// and draining the queue after each one.
func (m *Manual) Advance(d time.Duration) {
	m.Drain()
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()
	for {
		t := m.nextDue(target)
		if t == nil {
			break
		}
		t.f()
		m.Drain()
	}
	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
}

func (m *Manual) nextDue(target time.Duration) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			active = append(active, t)
		}
	}
	m.timers = active
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].due != m.timers[j].due {
			return m.timers[i].due < m.timers[j].due
		}
		return m.timers[i].seq < m.timers[j].seq
	})
	if len(m.timers) == 0 || m.timers[0].due > target {
		return nil
	}
	t := m.timers[0]
	t.fired = true
	m.timers = m.timers[1:]
	if t.due > m.now {
		m.now = t.due
	}
	return t
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// NextDelay returns the time until the earliest active timer.
func (m *Manual) NextDelay() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *manualTimer
	for _, t := range m.timers {
		if t.stopped || t.fired {
			continue
		}
		if best == nil || t.due < best.due || (t.due == best.due && t.seq < best.seq) {
			best = t
		}
	}
	if best == nil {
		return 0, false
	}
	return best.due - m.now, true
}

// Elapsed returns the virtual time since NewManual.
func (m *Manual) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}
