// Package reactor provides the single-threaded timer loop that serializes
// every channel operation of the daemon. Callbacks registered with a
// Scheduler run one at a time on the loop goroutine, so code running there
// needs no locking against other callbacks.
package reactor

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("reactor: loop stopped")

// Handle identifies a scheduled callback. The zero Handle is never issued.
type Handle uint64

// Scheduler registers timed callbacks.
type Scheduler interface {
	// SchedulePeriodic runs fn every interval, first after one interval.
	SchedulePeriodic(interval time.Duration, fn func()) Handle
	// ScheduleOnce runs fn once after delay.
	ScheduleOnce(delay time.Duration, fn func()) Handle
	// Cancel removes a pending callback. Unknown handles are ignored.
	Cancel(h Handle)
}

// Loop is a Scheduler backed by the wall clock.
type Loop struct {
	start time.Time

	mu    sync.Mutex
	q     queue
	wake  chan struct{}
	calls chan func()
	done  chan struct{}
}

// New returns a loop. Timers only fire once Run is called.
func New() *Loop {
	return &Loop{
		start: time.Now(),
		q:     newQueue(true),
		wake:  make(chan struct{}, 1),
		calls: make(chan func()),
		done:  make(chan struct{}),
	}
}

func (l *Loop) now() time.Duration {
	return time.Since(l.start)
}

func (l *Loop) SchedulePeriodic(interval time.Duration, fn func()) Handle {
	if interval <= 0 {
		panic("reactor: non-positive period")
	}
	return l.add(interval, interval, fn)
}

func (l *Loop) ScheduleOnce(delay time.Duration, fn func()) Handle {
	return l.add(delay, 0, fn)
}

func (l *Loop) add(delay, interval time.Duration, fn func()) Handle {
	l.mu.Lock()
	h := l.q.add(l.now()+delay, interval, fn)
	l.mu.Unlock()
	l.notify()
	return h
}

func (l *Loop) Cancel(h Handle) {
	l.mu.Lock()
	l.q.cancel(h)
	l.mu.Unlock()
}

func (l *Loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop goroutine and waits for it to return. It must not
// be called from a callback running on the loop.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	call := func() {
		defer close(finished)
		fn()
	}

	select {
	case l.calls <- call:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Run dispatches timers and calls until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	idle := time.NewTimer(time.Hour)
	defer idle.Stop()

	for {
		l.mu.Lock()
		now := l.now()
		fn, _, due := l.q.popDue(now)
		wait := time.Hour
		if next, ok := l.q.next(); ok && !due {
			wait = next - now
		}
		l.mu.Unlock()

		if due {
			fn()
			// let queued calls in between timer bursts
			select {
			case call := <-l.calls:
				call()
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			continue
		}

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case call := <-l.calls:
			call()
		case <-l.wake:
		case <-idle.C:
		}
	}
}

// Pending returns the number of scheduled callbacks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.q.len()
}
