package clock

import (
	"sync"
	"time"
)

// Manual is a controllable clock for deterministic tests. Timers created by
// After only fire when Advance moves time past their deadline, unless
// AutoAdvance is enabled.
type Manual struct {
	mu          sync.Mutex
	now         time.Time
	timers      []*manualTimer
	waits       []time.Duration
	autoAdvance bool
}

type manualTimer struct {
	at time.Time
	ch chan time.Time
}

// NewManual constructs a Manual clock starting at the supplied time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// AutoAdvance makes every After call move the clock forward by the requested
// duration and fire immediately. Retry tests use it to observe backoff
// schedules without coordinating goroutines.
func (m *Manual) AutoAdvance(enabled bool) *Manual {
	m.mu.Lock()
	m.autoAdvance = enabled
	m.mu.Unlock()
	return m
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After returns a channel that fires once the manual clock reaches now+d.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waits = append(m.waits, d)
	if d <= 0 {
		ch <- m.now
		return ch
	}
	if m.autoAdvance {
		m.now = m.now.Add(d)
		m.fireLocked()
		ch <- m.now
		return ch
	}
	m.timers = append(m.timers, &manualTimer{at: m.now.Add(d), ch: ch})
	return ch
}

// Advance moves time forward by d and fires any due timers.
func (m *Manual) Advance(d time.Duration) time.Time {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	m.fireLocked()
	return m.now
}

// Set jumps the clock to t. Moving backwards is allowed and fires nothing.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC()
	m.fireLocked()
}

// Pending returns the number of timers that have not fired yet.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Waits returns every duration passed to After, in call order.
func (m *Manual) Waits() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, len(m.waits))
	copy(out, m.waits)
	return out
}

func (m *Manual) fireLocked() {
	if len(m.timers) == 0 {
		return
	}
	remaining := m.timers[:0]
	for _, timer := range m.timers {
		if timer.at.After(m.now) {
			remaining = append(remaining, timer)
			continue
		}
		timer.ch <- m.now
	}
	m.timers = remaining
}
