package looptest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManual_TimersFireInDueOrder(t *testing.T) {
	m := NewManual()
	var got []string
	m.AfterFunc(2*time.Second, func() { got = append(got, "b") })
	m.AfterFunc(time.Second, func() { got = append(got, "a") })
	m.AfterFunc(2*time.Second, func() { got = append(got, "c") })

	m.Advance(1500 * time.Millisecond)
	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, 2, m.Pending())

	m.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 2500*time.Millisecond, m.Elapsed())
}

func TestManual_StopAndNextDelay(t *testing.T) {
	m := NewManual()
	fired := false
	tm := m.AfterFunc(time.Second, func() { fired = true })
	d, ok := m.NextDelay()
	assert.True(t, ok)
	assert.Equal(t, time.Second, d)

	assert.True(t, tm.Stop())
	_, ok = m.NextDelay()
	assert.False(t, ok)

	m.Advance(time.Hour)
	assert.False(t, fired)
}

func TestManual_TimerScheduledFromCallbackUsesFireTime(t *testing.T) {
	m := NewManual()
	var at []time.Duration
	m.AfterFunc(time.Second, func() {
		at = append(at, m.Elapsed())
		m.AfterFunc(time.Second, func() { at = append(at, m.Elapsed()) })
	})
	m.Advance(5 * time.Second)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, at)
}

func TestManual_GoQueuesContinuation(t *testing.T) {
	m := NewManual()
	ran := false
	m.Go(func() func() { return func() { ran = true } })
	assert.False(t, ran)
	assert.Equal(t, 1, m.Drain())
	assert.True(t, ran)
}
