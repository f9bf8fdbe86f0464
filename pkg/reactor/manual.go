package reactor

import (
	"context"
	"sync"
	"time"
)

// Manual is a Scheduler driven by a virtual clock. Nothing fires until
// Advance is called; callbacks then run on the calling goroutine in due
// time order.
type Manual struct {
	mu  sync.Mutex
	now time.Duration
	q   queue
}

// NewManual returns a manual scheduler at virtual time zero.
func NewManual() *Manual {
	return &Manual{q: newQueue(false)}
}

func (m *Manual) SchedulePeriodic(interval time.Duration, fn func()) Handle {
	if interval <= 0 {
		panic("reactor: non-positive period")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.add(m.now+interval, interval, fn)
}

func (m *Manual) ScheduleOnce(delay time.Duration, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.add(m.now+delay, 0, fn)
}

func (m *Manual) Cancel(h Handle) {
	m.mu.Lock()
	m.q.cancel(h)
	m.mu.Unlock()
}

// Now returns the virtual time.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d, firing every callback that becomes
// due, including ones scheduled by callbacks during the advance.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	for {
		fn, when, ok := m.q.popDue(target)
		if !ok {
			break
		}
		m.now = when
		m.mu.Unlock()
		fn()
		m.mu.Lock()
	}
	m.now = target
	m.mu.Unlock()
}

// Do runs fn immediately.
func (m *Manual) Do(_ context.Context, fn func()) error {
	fn()
	return nil
}

// Pending returns the number of scheduled callbacks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.len()
}
