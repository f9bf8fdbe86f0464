// Package channel implements the operational verbs of one HV supply on top
// of a link and a calibration record. Transport failures never leave this
// package as errors: they close the channel, and callers poll IsOpen.
package channel

import (
	"errors"
	"math"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/npm-group/hvctl/pkg/calibration"
	"github.com/npm-group/hvctl/pkg/link"
	"github.com/npm-group/hvctl/pkg/metrics"
	"github.com/npm-group/hvctl/pkg/protocol"
)

var (
	// ErrClosed is returned by operations that need an open channel to
	// start, such as starting a generator.
	ErrClosed = errors.New("channel is closed")

	// ErrBusy is returned by Acquire when another owner holds the channel.
	ErrBusy = errors.New("channel is held by another controller")
)

// Controller is the set of verbs a channel owner drives the supply with.
// Both *Channel and *Lease implement it.
type Controller interface {
	IsOpen() bool
	Set(voltage, current float64) error
	Apply()
	Reset()
	ReadIU() (current, voltage float64)
	Setup(voltage, current float64) error
	Calibration() calibration.Record
}

// Options configures a Channel.
type Options struct {
	// Power selects the current coefficient used by the consistency check.
	Power calibration.PowerRating
	// Coefficient is the measured cross-check table entry, nil if unknown.
	Coefficient *calibration.Coefficient
	Logger      logrus.FieldLogger
	Metrics     *metrics.Recorder
}

// Setpoint is a voltage/current pair in device units.
type Setpoint struct {
	Voltage float64 `json:"voltage"`
	Current float64 `json:"current"`
}

// Status is a snapshot of the channel state.
type Status struct {
	Device   string             `json:"device"`
	Open     bool               `json:"open"`
	Holder   string             `json:"holder,omitempty"`
	Staged   Setpoint           `json:"staged"`
	Output   Setpoint           `json:"output"`
	Warnings []protocol.Warning `json:"warnings,omitempty"`
}

// Channel owns one link and one calibration record.
type Channel struct {
	link     link.Link
	cal      calibration.Record
	opts     Options
	log      logrus.FieldLogger
	metrics  *metrics.Recorder
	warnings []protocol.Warning

	mu        sync.Mutex
	open      bool
	changed   bool
	listeners []func(open bool)
	staged    Setpoint
	output    Setpoint
	holder    string
	leaseID   uint64
	nextLease uint64
}

// New builds a closed channel. It fails when the record is invalid, never
// because of the coefficient check, whose mismatches are only logged.
func New(l link.Link, cal calibration.Record, opts Options) (*Channel, error) {
	if err := cal.Validate(); err != nil {
		return nil, pkgerrors.Wrap(err, "invalid calibration")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	c := &Channel{
		link:    l,
		cal:     cal,
		opts:    opts,
		log:     opts.Logger.WithField("device", cal.Name),
		metrics: opts.Metrics,
	}

	c.warnings = protocol.CheckConsistency(cal, opts.Coefficient, opts.Power)
	for _, w := range c.warnings {
		c.log.WithFields(logrus.Fields{
			"quantity": w.Quantity,
			"record":   w.Record,
			"measured": w.Measured,
		}).Warn("calibration mismatch")
	}
	c.metrics.CalibrationWarnings(len(c.warnings))
	c.metrics.LinkOpen(false)
	return c, nil
}

// OnStateChange registers fn to be called after every open/closed
// transition. fn runs outside the channel lock.
func (c *Channel) OnStateChange(fn func(open bool)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Channel) unlock() {
	changed, open := c.changed, c.open
	listeners := c.listeners
	c.changed = false
	c.mu.Unlock()

	if !changed {
		return
	}
	c.metrics.LinkOpen(open)
	for _, fn := range listeners {
		fn(open)
	}
}

func (c *Channel) setOpen(open bool) {
	if c.open != open {
		c.open = open
		c.changed = true
	}
}

// Open opens the link. Failures are logged and leave the channel closed.
func (c *Channel) Open() {
	c.mu.Lock()
	defer c.unlock()

	if c.open {
		return
	}
	if err := c.link.Open(); err != nil {
		c.log.WithError(err).Warn("failed to open link")
		c.metrics.TransportError("open")
		return
	}
	c.setOpen(true)
	c.log.Info("channel opened")
}

// Close closes the link.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.unlock()

	if err := c.link.Close(); err != nil {
		c.log.WithError(err).Warn("failed to close link")
	}
	if c.open {
		c.log.Info("channel closed")
	}
	c.setOpen(false)
}

// IsOpen reports the link health.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Calibration returns the record the channel encodes with.
func (c *Channel) Calibration() calibration.Record {
	return c.cal
}

// Warnings returns the consistency warnings found at construction.
func (c *Channel) Warnings() []protocol.Warning {
	return c.warnings
}

// fail closes the channel after a transport error. c.mu must be held.
func (c *Channel) fail(op string, err error) {
	c.log.WithError(err).WithField("op", op).Warn("transport failure, closing channel")
	c.metrics.TransportError(op)
	if cerr := c.link.Close(); cerr != nil {
		c.log.WithError(cerr).Debug("failed to close link after transport failure")
	}
	c.setOpen(false)
}

// write sends one command. c.mu must be held.
func (c *Channel) write(cmd protocol.Command, payload []byte) bool {
	start := time.Now()
	if err := c.link.Write(cmd, payload); err != nil {
		c.fail("write", err)
		return false
	}
	c.metrics.Command(cmd.String(), time.Since(start).Seconds())
	return true
}

// Set stages a setpoint. It is a no-op on a closed channel. The only error
// it returns is protocol.ErrOutOfRange, in which case nothing is written.
func (c *Channel) Set(voltage, current float64) error {
	c.mu.Lock()
	defer c.unlock()

	if !c.open {
		return nil
	}
	for _, w := range protocol.CheckConsistency(c.cal, c.opts.Coefficient, c.opts.Power) {
		c.log.Debug(w.String())
	}
	payload, err := protocol.EncodeSet(voltage, current, c.cal)
	if err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"voltage": voltage,
			"current": current,
		}).Warn("setpoint rejected")
		return err
	}
	if c.write(protocol.CommandSet, payload[:]) {
		c.staged = Setpoint{Voltage: voltage, Current: current}
		c.log.WithFields(logrus.Fields{
			"voltage": voltage,
			"current": current,
		}).Debug("setpoint staged")
	}
	return nil
}

// Apply commits the staged setpoint to the output.
func (c *Channel) Apply() {
	c.mu.Lock()
	defer c.unlock()

	if c.open && c.write(protocol.CommandUpdate, nil) {
		c.output = c.staged
	}
}

// Reset forces the output to zero.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.unlock()

	if c.open && c.write(protocol.CommandReset, nil) {
		c.output = Setpoint{}
	}
}

// ReadIU requests a telemetry frame. A closed channel, a short answer or a
// malformed frame all read as (0, 0).
func (c *Channel) ReadIU() (current, voltage float64) {
	c.mu.Lock()
	defer c.unlock()

	if !c.open {
		return 0, 0
	}

	if !c.write(protocol.CommandGet, nil) {
		return 0, 0
	}
	frame, err := c.link.Read(protocol.FrameSize)
	if err != nil {
		c.fail("read", err)
		return 0, 0
	}
	current, voltage, err = protocol.DecodeTelemetry(frame, c.cal)
	if err != nil {
		c.log.WithError(err).Debug("dropping telemetry frame")
		c.metrics.MalformedFrame()
		return 0, 0
	}
	c.metrics.Reading(current, voltage)
	return current, voltage
}

// Setup drives the output to voltage: a voltage within one device step of
// zero resets the output, anything else is staged and applied.
func (c *Channel) Setup(voltage, current float64) error {
	if math.Abs(voltage) <= c.cal.VoltageStep {
		c.Reset()
		return nil
	}
	if err := c.Set(voltage, current); err != nil {
		return err
	}
	c.Apply()
	return nil
}

// Status returns a snapshot of the channel.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Device:   c.cal.Name,
		Open:     c.open,
		Holder:   c.holder,
		Staged:   c.staged,
		Output:   c.output,
		Warnings: c.warnings,
	}
}
