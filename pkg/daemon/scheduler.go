package daemon

import (
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/npm-group/hvctl/pkg/config"
)

const (
	leadDuration     = 10 * time.Second // OnUpcoming fires this long before a run
	preCheckMaxTimes = 3
	preCheckInterval = 10 * time.Second
	idleWait         = 10000 * time.Hour
)

type NotifyFunc func(data any)

// TaskFunc represents a runnable task.
type TaskFunc func() error

// Scheduler runs Task at the times of a cron schedule. PreCheck gates every
// run and is retried a few times before the run is given up.
type Scheduler struct {
	OnUpcoming NotifyFunc // called with the run time, leadDuration before it
	OnError    NotifyFunc // called with precheck and task errors
	Task       TaskFunc
	PreCheck   TaskFunc

	parser cron.Parser

	lead          time.Duration
	retryInterval time.Duration

	mu       sync.Mutex
	schedule cron.Schedule
	nextRun  time.Time
	running  bool

	wake   chan struct{}
	stopCh chan struct{}
}

func NewScheduler(task, preCheck TaskFunc, onUpcoming, onError NotifyFunc) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}

	return &Scheduler{
		OnUpcoming:    onUpcoming,
		OnError:       onError,
		Task:          task,
		PreCheck:      preCheck,
		parser:        config.CronParser,
		lead:          leadDuration,
		retryInterval: preCheckInterval,
		wake:          make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
}

func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh: // already closed
	default:
		close(s.stopCh)
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.runScheduled()
}

// Schedule replaces the schedule. The next run is computed from now.
func (s *Scheduler) Schedule(cronExpr string) error {
	sh, err := s.parser.Parse(cronExpr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.schedule = sh
	s.nextRun = sh.Next(time.Now())
	s.mu.Unlock()
	s.poke()
	return nil
}

// Clear removes the schedule.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	s.schedule = nil
	s.nextRun = time.Time{}
	s.mu.Unlock()
	s.poke()
}

// Skip skips the next scheduled run.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return pkgerrors.New("no active schedule to skip")
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	s.mu.Unlock()
	s.poke()
	return nil
}

func (s *Scheduler) Status() (nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun, s.running
}

type waitPhase int

const (
	phaseIdle waitPhase = iota
	phaseLead
	phaseDue
)

func (s *Scheduler) runScheduled() {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		logrus.Debug("scheduler stopped")
	}()

	logrus.Debug("scheduler started")

	for {
		schedule, nextRun := s.snapshot()
		phase, wait := phaseIdle, idleWait
		if schedule != nil && !nextRun.IsZero() {
			phase, wait = phaseLead, max(time.Until(nextRun)-s.lead, 0)
		}
		timer := time.NewTimer(wait)

		if !s.await(timer, phase, nextRun) {
			return
		}
	}
}

// await drives one scheduled run. It returns false when the scheduler is
// stopped, true when the schedule must be looked at again.
func (s *Scheduler) await(timer *time.Timer, phase waitPhase, nextRun time.Time) bool {
	defer timer.Stop()

	attempts := 0
	var precheckErr error

	for {
		select {
		case <-s.stopCh:
			return false
		case <-s.wake:
			return true
		case <-timer.C:
		}

		switch phase {
		case phaseIdle:
			return true
		case phaseLead:
			logrus.Debugf("upcoming scheduled task at %s", nextRun.Format(time.DateTime))
			s.notify(s.OnUpcoming, nextRun)
			phase = phaseDue
			timer.Reset(max(time.Until(nextRun), 0))
			continue
		}

		logrus.Debugf("running scheduled task at %s", nextRun.Format(time.DateTime))
		if s.PreCheck != nil {
			if err := s.PreCheck(); err != nil {
				// report each distinct failure once
				if precheckErr == nil || err.Error() != precheckErr.Error() {
					precheckErr = err
					s.notify(s.OnError, pkgerrors.Wrap(err, "precheck failed"))
				}
				attempts++
				if attempts <= preCheckMaxTimes {
					logrus.Debugf("precheck failed (%d/%d): %v; retrying in %s", attempts, preCheckMaxTimes, err, s.retryInterval)
					timer.Reset(s.retryInterval)
					continue
				}
				logrus.Warnf("scheduled run at %s skipped: %v", nextRun.Format(time.DateTime), err)
				s.advance(nextRun)
				return true
			}
		}

		go func() {
			if err := s.Task(); err != nil {
				s.notify(s.OnError, pkgerrors.Wrap(err, "task failed"))
			}
		}()
		s.advance(nextRun)
		return true
	}
}

func (s *Scheduler) snapshot() (cron.Schedule, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule, s.nextRun
}

// advance moves past the run at from, unless the schedule changed
// meanwhile. Runs missed while prechecks were retried are dropped.
func (s *Scheduler) advance(from time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil || !s.nextRun.Equal(from) {
		return
	}
	if now := time.Now(); now.After(from) {
		from = now
	}
	s.nextRun = s.schedule.Next(from)
}

func (s *Scheduler) notify(fn NotifyFunc, data any) {
	if fn == nil {
		return
	}
	go fn(data)
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
