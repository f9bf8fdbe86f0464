package reactor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestManualOrdering(t *testing.T) {
	m := NewManual()
	var fired []string
	at := func(name string) func() {
		return func() { fired = append(fired, name+"@"+m.Now().String()) }
	}

	m.SchedulePeriodic(2*time.Second, at("period"))
	m.ScheduleOnce(time.Second, at("once"))
	m.Advance(4 * time.Second)

	want := []string{"once@1s", "period@2s", "period@4s"}
	if len(fired) != len(want) {
		t.Fatalf("fired %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("fired %v, want %v", fired, want)
		}
	}
	if m.Now() != 4*time.Second {
		t.Fatalf("expected clock at 4s, got %v", m.Now())
	}
}

func TestManualCancel(t *testing.T) {
	m := NewManual()
	var n int
	h := m.SchedulePeriodic(time.Second, func() { n++ })
	once := m.ScheduleOnce(500*time.Millisecond, func() { n += 100 })

	m.Cancel(once)
	m.Advance(2 * time.Second)
	m.Cancel(h)
	m.Cancel(h)
	m.Cancel(Handle(12345))
	m.Advance(2 * time.Second)

	if n != 2 {
		t.Fatalf("expected 2 periodic runs, got %d", n)
	}
	if m.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", m.Pending())
	}
}

func TestManualScheduleFromCallback(t *testing.T) {
	m := NewManual()
	var got time.Duration
	m.ScheduleOnce(time.Second, func() {
		m.ScheduleOnce(500*time.Millisecond, func() { got = m.Now() })
	})
	m.Advance(2 * time.Second)
	if got != 1500*time.Millisecond {
		t.Fatalf("nested callback fired at %v", got)
	}
}

func TestLoopRunsTimersAndCalls(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	var ticks int32
	h := l.SchedulePeriodic(10*time.Millisecond, func() { atomic.AddInt32(&ticks, 1) })
	fired := make(chan struct{})
	l.ScheduleOnce(20*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("one-shot timer did not fire")
	}

	var inLoop bool
	if err := l.Do(context.Background(), func() { inLoop = true }); err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if !inLoop {
		t.Fatalf("Do did not run the function")
	}

	l.Cancel(h)
	if atomic.LoadInt32(&ticks) == 0 {
		t.Fatalf("periodic timer never fired")
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
	if err := l.Do(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after exit, got %v", err)
	}
}
