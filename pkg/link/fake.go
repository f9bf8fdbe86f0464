package link

import (
	"errors"
	"math"
	"sync"

	"github.com/npm-group/hvctl/pkg/calibration"
	"github.com/npm-group/hvctl/pkg/protocol"
)

// Exchange is one command received by a FakeDevice.
type Exchange struct {
	Command protocol.Command
	Payload []byte
}

// FakeDevice simulates an HV supply in memory. The output voltage moves
// toward the committed setpoint by at most Slew volts per telemetry read, so
// closed-loop waits can be exercised. A zero Slew makes the output follow
// immediately.
type FakeDevice struct {
	Calibration calibration.Record
	Slew        float64

	mu       sync.Mutex
	open     bool
	staged   [2]int // voltage, current DAC codes
	target   [2]float64
	output   [2]float64
	pending  []byte
	log      []Exchange
	openErr  error
	writeErr error
	readErr  error
	corrupt  bool
	mute     bool
}

// NewFakeDevice returns a closed simulated device.
func NewFakeDevice(cal calibration.Record) *FakeDevice {
	return &FakeDevice{Calibration: cal}
}

// FailOpen makes subsequent Open calls fail with err; nil clears it.
func (d *FakeDevice) FailOpen(err error) {
	d.mu.Lock()
	d.openErr = err
	d.mu.Unlock()
}

// FailWrite makes subsequent writes fail with err; nil clears it.
func (d *FakeDevice) FailWrite(err error) {
	d.mu.Lock()
	d.writeErr = err
	d.mu.Unlock()
}

// FailRead makes subsequent reads fail with err; nil clears it.
func (d *FakeDevice) FailRead(err error) {
	d.mu.Lock()
	d.readErr = err
	d.mu.Unlock()
}

// Corrupt makes telemetry frames carry a bad terminator.
func (d *FakeDevice) Corrupt(on bool) {
	d.mu.Lock()
	d.corrupt = on
	d.mu.Unlock()
}

// Mute makes the device stop answering GET.
func (d *FakeDevice) Mute(on bool) {
	d.mu.Lock()
	d.mute = on
	d.mu.Unlock()
}

// Unplug simulates a lost cable: the device closes and every further
// operation fails until Plug is called.
func (d *FakeDevice) Unplug() {
	err := errors.New("device unplugged")
	d.mu.Lock()
	d.open = false
	d.openErr, d.writeErr, d.readErr = err, err, err
	d.mu.Unlock()
}

// Plug undoes Unplug.
func (d *FakeDevice) Plug() {
	d.mu.Lock()
	d.openErr, d.writeErr, d.readErr = nil, nil, nil
	d.mu.Unlock()
}

// Exchanges returns a copy of the commands received so far.
func (d *FakeDevice) Exchanges() []Exchange {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Exchange(nil), d.log...)
}

// Writes returns the number of commands other than GET received so far.
func (d *FakeDevice) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.log {
		if e.Command != protocol.CommandGet {
			n++
		}
	}
	return n
}

// Output returns the simulated output (voltage, current).
func (d *FakeDevice) Output() (voltage, current float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.output[0], d.output[1]
}

func (d *FakeDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return d.openErr
	}
	d.open = true
	return nil
}

func (d *FakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	d.pending = nil
	return nil
}

func (d *FakeDevice) Write(cmd protocol.Command, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.writeErr != nil {
		return d.writeErr
	}
	if !d.open {
		return ErrNotOpen
	}
	d.log = append(d.log, Exchange{Command: cmd, Payload: append([]byte(nil), payload...)})

	cal := d.Calibration
	switch cmd {
	case protocol.CommandSet:
		if len(payload) != protocol.SetPayloadSize {
			return errors.New("bad SET payload")
		}
		d.staged[0] = int(payload[0]) + int(payload[1])*256
		d.staged[1] = int(payload[2]) + int(payload[3])*256
	case protocol.CommandUpdate:
		d.target[0] = float64(d.staged[0]) * cal.VoltageMax / float64(cal.DACFullScaleCode)
		d.target[1] = float64(d.staged[1]) * cal.CurrentMax / float64(cal.DACFullScaleCode)
		if cal.CurrentUnit == calibration.CurrentMilli {
			d.target[1] /= 1000
		}
		if d.Slew <= 0 {
			d.output = d.target
		}
	case protocol.CommandReset:
		d.target = [2]float64{}
		if d.Slew <= 0 {
			d.output = d.target
		}
	case protocol.CommandGet:
		if d.mute {
			d.pending = nil
			return nil
		}
		d.settle()
		voltage := d.output[0]
		if cal.Polarity == calibration.PolarityInverted {
			voltage = -voltage
		}
		cc, vc := protocol.TelemetryCodes(d.output[1], voltage, cal)
		f := protocol.EncodeTelemetry(cc, vc)
		if d.corrupt {
			f[protocol.FrameSize-1] = 0
		}
		d.pending = f[:]
	}
	return nil
}

func (d *FakeDevice) settle() {
	d.output[1] = d.target[1]
	if d.Slew <= 0 {
		d.output[0] = d.target[0]
		return
	}
	diff := d.target[0] - d.output[0]
	if math.Abs(diff) <= d.Slew {
		d.output[0] = d.target[0]
		return
	}
	d.output[0] += math.Copysign(d.Slew, diff)
}

func (d *FakeDevice) Read(n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.readErr != nil {
		return nil, d.readErr
	}
	if !d.open {
		return nil, ErrNotOpen
	}
	if n > len(d.pending) {
		n = len(d.pending)
	}
	b := d.pending[:n]
	d.pending = d.pending[n:]
	return b, nil
}
