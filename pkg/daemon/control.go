package daemon

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/npm-group/hvctl/pkg/channel"
	"github.com/npm-group/hvctl/pkg/events"
	"github.com/npm-group/hvctl/pkg/generator"
	"github.com/npm-group/hvctl/pkg/types"
)

const (
	ownerAPI      = "api"
	ownerSchedule = "schedule"
)

// manual runs a manual verb. Manual control is refused while a generator
// holds the channel. Reactor only.
func (d *Daemon) manual(fn func() error) error {
	if holder := d.ch.Holder(); holder != "" {
		return pkgerrors.Wrapf(channel.ErrBusy, "generator started by %s", holder)
	}
	if !d.ch.IsOpen() {
		return channel.ErrClosed
	}
	return fn()
}

// startGenerator leases the channel to a new generator run. Reactor only.
func (d *Daemon) startGenerator(owner string) (uint64, error) {
	lease, err := d.ch.Acquire(owner)
	if err != nil {
		return 0, err
	}
	g := generator.New(lease, d.reactor, d.params, generator.Options{
		MinTick: d.conf.MinTick,
		Logger:  d.log.WithField("owner", owner),
		Metrics: d.metrics,
	})
	g.OnAbort(func() { d.onAbort(g) })
	if err := g.Start(); err != nil {
		lease.Release()
		return 0, err
	}

	d.gen, d.lease = g, lease
	d.runID++
	d.hub.Publish(events.GeneratorState, events.GeneratorStateEvent{
		Kind:    string(d.params.Kind),
		Running: true,
		Reason:  "started by " + owner,
	})
	return d.runID, nil
}

// stopGenerator stops the current run, if any. Reactor only.
func (d *Daemon) stopGenerator(reason string) bool {
	if d.gen == nil || !d.gen.Running() {
		return false
	}
	d.gen.Stop()
	d.lease.Release()
	if d.conf.AutoReset {
		d.ch.Reset()
	}
	d.log.WithField("reason", reason).Info("generator stopped")
	d.hub.Publish(events.GeneratorState, events.GeneratorStateEvent{
		Kind:    string(d.gen.Status().Kind),
		Running: false,
		Reason:  reason,
	})
	return true
}

// onAbort runs on a generator tick after the channel was found closed.
func (d *Daemon) onAbort(g *generator.Generator) {
	if g != d.gen {
		return
	}
	d.lease.Release()
	st := g.Status()
	d.hub.Publish(events.GeneratorAbort, events.GeneratorAbortEvent{
		Kind:  string(st.Kind),
		Ticks: int(st.Ticks),
	})
}

func (d *Daemon) generatorStatus() generator.Status {
	if d.gen == nil {
		return generator.Status{Kind: d.params.Kind}
	}
	return d.gen.Status()
}

// SetSchedule enables cron triggered runs of runFor each.
func (d *Daemon) SetSchedule(expr string, runFor time.Duration) error {
	if runFor <= 0 {
		return pkgerrors.Errorf("run duration must be positive, got %v", runFor)
	}
	if err := d.scheduler.Schedule(expr); err != nil {
		return pkgerrors.Wrapf(err, "invalid cron expression %q", expr)
	}
	d.mu.Lock()
	d.cronExpr, d.runFor = expr, runFor
	d.mu.Unlock()
	d.log.WithFields(logrus.Fields{
		"cron":   expr,
		"runFor": runFor,
	}).Info("generator schedule set")
	return nil
}

// ClearSchedule disables scheduled runs. A run in progress is not stopped.
func (d *Daemon) ClearSchedule() {
	d.scheduler.Clear()
	d.mu.Lock()
	d.cronExpr, d.runFor = "", 0
	d.mu.Unlock()
}

func (d *Daemon) schedule() types.Schedule {
	d.mu.Lock()
	s := types.Schedule{Cron: d.cronExpr, Enabled: d.cronExpr != ""}
	if d.runFor > 0 {
		s.RunFor = d.runFor.String()
	}
	d.mu.Unlock()

	if next, _ := d.scheduler.Status(); s.Enabled && !next.IsZero() {
		s.NextRun = next.Format(time.RFC3339)
	}
	return s
}

func (d *Daemon) scheduledPreCheck() error {
	var err error
	derr := d.reactor.Do(context.Background(), func() {
		switch {
		case !d.ch.IsOpen():
			err = channel.ErrClosed
		case d.gen != nil && d.gen.Running():
			err = generator.ErrRunning
		case d.ch.Holder() != "":
			err = channel.ErrBusy
		}
	})
	if derr != nil {
		return derr
	}
	return err
}

// scheduledRun starts the configured generator and stops it after the
// scheduled run duration, unless another run replaced it meanwhile.
func (d *Daemon) scheduledRun() error {
	d.mu.Lock()
	runFor := d.runFor
	d.mu.Unlock()

	var err error
	derr := d.reactor.Do(context.Background(), func() {
		var id uint64
		id, err = d.startGenerator(ownerSchedule)
		if err != nil {
			return
		}
		d.reactor.ScheduleOnce(runFor, func() {
			if d.runID == id {
				d.stopGenerator("scheduled run finished")
			}
		})
	})
	if derr != nil {
		return derr
	}

	ev := events.ScheduleTriggerEvent{Kind: string(d.Parameters().Kind), Started: err == nil}
	if err != nil {
		ev.Message = err.Error()
	}
	d.hub.Publish(events.ScheduleTrigger, ev)
	return err
}

func (d *Daemon) onUpcoming(data any) {
	if at, ok := data.(time.Time); ok {
		d.log.WithField("at", at.Format(time.DateTime)).Info("scheduled generator run upcoming")
	}
}

func (d *Daemon) onScheduleError(data any) {
	err, ok := data.(error)
	if !ok {
		return
	}
	d.log.WithError(err).Warn("scheduled generator run")
	d.hub.Publish(events.ScheduleTrigger, events.ScheduleTriggerEvent{
		Kind:    string(d.Parameters().Kind),
		Message: err.Error(),
	})
}

// Parameters returns the generator parameters used by the next run.
func (d *Daemon) Parameters() generator.Parameters {
	var p generator.Parameters
	_ = d.reactor.Do(context.Background(), func() { p = d.params.Clone() })
	return p
}
