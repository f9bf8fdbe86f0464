// Package generator drives an HV channel through time-varying setpoint
// profiles. A Generator registers its ticks with a reactor.Scheduler and
// calls the channel verbs from there; the variants differ only in their
// start and tick logic:
//
//   - square wave: max voltage for period*duty_cycle, then min voltage
//   - stairs: min to max in voltage_step increments, then a settle wait at min
//   - reversed sawtooth: jump to max, wait for the output, decay to min
//   - custom: an operator supplied expression sampled every tick
//
// Every tick first checks that the channel is open. A closed channel aborts
// the run: pending callbacks are cancelled, OnAbort listeners are notified,
// and nothing reaches the channel until Start is called again.
package generator

import (
	"errors"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/npm-group/hvctl/pkg/channel"
	"github.com/npm-group/hvctl/pkg/metrics"
	"github.com/npm-group/hvctl/pkg/protocol"
	"github.com/npm-group/hvctl/pkg/reactor"
)

// Options configures a Generator.
type Options struct {
	// MinTick is the resolution of the tick based variants, DefaultMinTick
	// when zero.
	MinTick time.Duration
	Logger  logrus.FieldLogger
	Metrics *metrics.Recorder
}

// Status is a snapshot of a generator.
type Status struct {
	Kind      Kind             `json:"kind"`
	Running   bool             `json:"running"`
	Aborted   bool             `json:"aborted"`
	State     string           `json:"state,omitempty"`
	StartedAt time.Time        `json:"startedAt,omitempty"`
	Ticks     uint64           `json:"ticks"`
	Setpoint  channel.Setpoint `json:"setpoint"`
}

// Generator runs one waveform at a time on a channel.
type Generator struct {
	ctl     channel.Controller
	sched   reactor.Scheduler
	minTick time.Duration
	log     logrus.FieldLogger
	metrics *metrics.Recorder

	mu        sync.Mutex
	params    Parameters
	run       *run
	aborted   bool
	listeners []func()
	last      Status
}

// run holds the state of one Start..Stop interval.
type run struct {
	kind      Kind
	handles   map[reactor.Handle]struct{}
	startedAt time.Time
	ticks     uint64
	state     string
	setpoint  channel.Setpoint

	square   *squareState
	stairs   *stairsState
	sawtooth *sawtoothState
	custom   *customState
}

// New returns a stopped generator. params is validated when the generator
// starts, not here.
func New(ctl channel.Controller, sched reactor.Scheduler, params Parameters, opts Options) *Generator {
	if opts.MinTick <= 0 {
		opts.MinTick = DefaultMinTick
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Generator{
		ctl:     ctl,
		sched:   sched,
		minTick: opts.MinTick,
		log:     opts.Logger.WithField("component", "generator"),
		metrics: opts.Metrics,
		params:  params.Clone(),
	}
}

// OnAbort registers fn to be called when a run aborts because the channel
// closed. fn runs outside the generator lock.
func (g *Generator) OnAbort(fn func()) {
	g.mu.Lock()
	g.listeners = append(g.listeners, fn)
	g.mu.Unlock()
}

// Parameters returns a copy of the current parameters.
func (g *Generator) Parameters() Parameters {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.params.Clone()
}

// MinTick returns the tick resolution.
func (g *Generator) MinTick() time.Duration {
	return g.minTick
}

// UpdateParameters replaces the parameters of a stopped generator.
func (g *Generator) UpdateParameters(p Parameters) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.run != nil {
		return ErrRunning
	}
	p = p.Merge(g.params)
	if err := p.Validate(g.ctl.Calibration(), g.minTick); err != nil {
		return err
	}
	g.params = p.Clone()
	g.last.Kind = p.Kind
	g.log.WithField("kind", p.Kind).Info("generator parameters updated")
	return nil
}

// Running reports whether a run is in progress.
func (g *Generator) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.run != nil
}

// Status returns a snapshot of the generator.
func (g *Generator) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.run == nil {
		st := g.last
		st.Kind = g.params.Kind
		st.Running = false
		st.Aborted = g.aborted
		return st
	}
	r := g.run
	return Status{
		Kind:      r.kind,
		Running:   true,
		State:     r.state,
		StartedAt: r.startedAt,
		Ticks:     r.ticks,
		Setpoint:  r.setpoint,
	}
}

// Start begins a run of the configured kind. It fails with ErrRunning when
// a run is in progress and with channel.ErrClosed when the channel is not
// open.
func (g *Generator) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.run != nil {
		return ErrRunning
	}
	if !g.ctl.IsOpen() {
		return channel.ErrClosed
	}
	p := g.params
	if err := p.Validate(g.ctl.Calibration(), g.minTick); err != nil {
		return err
	}

	r := &run{
		kind:      p.Kind,
		handles:   make(map[reactor.Handle]struct{}),
		startedAt: time.Now(),
	}

	var err error
	switch p.Kind {
	case KindSquareWave:
		err = g.startSquare(r, *p.Scanning)
	case KindStairs:
		err = g.startStairs(r, *p.Stairs)
	case KindReversedSawtooth:
		err = g.startSawtooth(r, *p.Scanning)
	case KindCustom:
		err = g.startCustom(r, *p.Custom)
	}
	if err != nil {
		g.cancel(r)
		return err
	}

	g.run = r
	g.aborted = false
	g.metrics.GeneratorRunning(true)
	g.log.WithField("kind", p.Kind).Info("generator started")
	return nil
}

// Stop ends the current run and cancels every pending callback. Stopping a
// stopped generator does nothing.
func (g *Generator) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.run == nil {
		return
	}
	g.finish(g.run)
	g.log.Info("generator stopped")
}

// finish tears a run down. g.mu must be held.
func (g *Generator) finish(r *run) {
	g.cancel(r)
	g.last = Status{
		Kind:      r.kind,
		State:     r.state,
		StartedAt: r.startedAt,
		Ticks:     r.ticks,
		Setpoint:  r.setpoint,
	}
	g.run = nil
	g.metrics.GeneratorRunning(false)
}

func (g *Generator) cancel(r *run) {
	for h := range r.handles {
		g.sched.Cancel(h)
	}
	r.handles = map[reactor.Handle]struct{}{}
}

// every runs step each interval for as long as r is the current run.
func (g *Generator) every(r *run, interval time.Duration, step func(r *run)) {
	h := g.sched.SchedulePeriodic(interval, func() { g.tick(r, step) })
	r.handles[h] = struct{}{}
}

// after runs step once after delay if r is still the current run.
func (g *Generator) after(r *run, delay time.Duration, step func(r *run)) {
	var h reactor.Handle
	h = g.sched.ScheduleOnce(delay, func() {
		g.tick(r, func(r *run) {
			delete(r.handles, h)
			step(r)
		})
	})
	r.handles[h] = struct{}{}
}

func (g *Generator) tick(r *run, step func(r *run)) {
	g.mu.Lock()
	if g.run != r {
		// callback of a previous run
		g.mu.Unlock()
		return
	}
	if !g.ctl.IsOpen() {
		g.finish(r)
		g.aborted = true
		listeners := g.listeners
		g.mu.Unlock()

		g.metrics.GeneratorAbort(string(r.kind))
		g.log.WithField("kind", r.kind).Warn("channel closed, generator aborted")
		for _, fn := range listeners {
			fn()
		}
		return
	}
	r.ticks++
	g.metrics.GeneratorTick(string(r.kind))
	step(r)
	g.mu.Unlock()
}

// setup drives the channel and records the commanded setpoint. An
// out-of-range setpoint is logged and skipped.
func (g *Generator) setup(r *run, voltage, current float64) {
	if err := g.ctl.Setup(voltage, current); err != nil {
		entry := g.log.WithError(err).WithFields(logrus.Fields{
			"kind":    r.kind,
			"voltage": voltage,
			"current": current,
		})
		if errors.Is(err, protocol.ErrOutOfRange) {
			entry.Warn("setpoint out of range, skipped")
		} else {
			entry.Error("failed to drive channel")
		}
		return
	}
	r.setpoint = channel.Setpoint{Voltage: voltage, Current: current}
}

func wrapStart(err error, kind Kind) error {
	return pkgerrors.Wrapf(err, "failed to start %s", kind)
}
