package generator

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/npm-group/hvctl/pkg/calibration"
	"github.com/npm-group/hvctl/pkg/channel"
	"github.com/npm-group/hvctl/pkg/link"
	"github.com/npm-group/hvctl/pkg/protocol"
	"github.com/npm-group/hvctl/pkg/reactor"
)

var testRecord = calibration.Record{
	Name:               "HV-3000",
	ADCFullScaleCode:   4095,
	DACFullScaleCode:   4095,
	VoltageMax:         3000,
	VoltageMin:         0,
	VoltageStep:        1,
	CurrentStep:        1,
	SenseResistance:    1000,
	FeedbackResistance: 1e4,
	CurrentMin:         0,
	CurrentMax:         100,
	CurrentUnit:        calibration.CurrentMicro,
}

type fixture struct {
	dev   *link.FakeDevice
	ch    *channel.Channel
	sched *reactor.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureFor(t, testRecord)
}

func newFixtureFor(t *testing.T, rec calibration.Record) *fixture {
	t.Helper()
	dev := link.NewFakeDevice(rec)
	ch, err := channel.New(dev, rec, channel.Options{})
	if err != nil {
		t.Fatalf("channel.New returned error: %v", err)
	}
	ch.Open()
	if !ch.IsOpen() {
		t.Fatalf("channel did not open")
	}
	return &fixture{dev: dev, ch: ch, sched: reactor.NewManual()}
}

func (f *fixture) generator(p Parameters) *Generator {
	return New(f.ch, f.sched, p, Options{MinTick: 500 * time.Millisecond})
}

func commands(ex []link.Exchange) []protocol.Command {
	cmds := make([]protocol.Command, 0, len(ex))
	for _, e := range ex {
		cmds = append(cmds, e.Command)
	}
	return cmds
}

func expectCommands(t *testing.T, got []link.Exchange, want ...protocol.Command) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("commands %v, want %v", commands(got), want)
	}
	for i := range want {
		if got[i].Command != want[i] {
			t.Fatalf("commands %v, want %v", commands(got), want)
		}
	}
}

func squareParameters() Parameters {
	return Parameters{
		Kind: KindSquareWave,
		Scanning: &ScanningParameters{
			Period:     2.0,
			DutyCycle:  0.5,
			MaxVoltage: 1000,
			MinVoltage: 0,
			Current:    10,
		},
	}
}

func TestSquareWave(t *testing.T) {
	f := newFixture(t)
	g := f.generator(squareParameters())

	if err := g.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	ex := f.dev.Exchanges()
	expectCommands(t, ex, protocol.CommandSet, protocol.CommandUpdate)
	want, _ := protocol.EncodeSet(1000, 10, testRecord)
	if string(ex[0].Payload) != string(want[:]) {
		t.Fatalf("SET payload % x, want % x", ex[0].Payload, want)
	}

	f.sched.Advance(999 * time.Millisecond)
	if n := len(f.dev.Exchanges()); n != 2 {
		t.Fatalf("pulse ended early, %d commands", n)
	}
	f.sched.Advance(time.Millisecond)
	expectCommands(t, f.dev.Exchanges()[2:], protocol.CommandReset)

	f.sched.Advance(time.Second)
	expectCommands(t, f.dev.Exchanges()[3:], protocol.CommandSet, protocol.CommandUpdate)
	f.sched.Advance(time.Second)
	expectCommands(t, f.dev.Exchanges()[5:], protocol.CommandReset)

	if err := g.Start(); !errors.Is(err, ErrRunning) {
		t.Fatalf("expected ErrRunning, got %v", err)
	}

	g.Stop()
	if f.sched.Pending() != 0 {
		t.Fatalf("stop left %d callbacks", f.sched.Pending())
	}
}

func TestSquareWaveLowLevel(t *testing.T) {
	f := newFixture(t)
	p := squareParameters()
	p.Scanning.MinVoltage = 200
	g := f.generator(p)

	if err := g.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	f.sched.Advance(time.Second)
	ex := f.dev.Exchanges()
	expectCommands(t, ex[2:], protocol.CommandSet, protocol.CommandUpdate)
	want, _ := protocol.EncodeSet(200, 10, testRecord)
	if string(ex[2].Payload) != string(want[:]) {
		t.Fatalf("low level payload % x, want % x", ex[2].Payload, want)
	}
	if st := g.Status(); st.State != "low" || st.Setpoint.Voltage != 200 {
		t.Fatalf("expected low at 200V, got %q %gV", st.State, st.Setpoint.Voltage)
	}
	g.Stop()
}

func TestSquareWaveFullDuty(t *testing.T) {
	f := newFixture(t)
	p := squareParameters()
	p.Scanning.DutyCycle = 1
	g := f.generator(p)

	if err := g.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	f.sched.Advance(4 * time.Second)
	for _, e := range f.dev.Exchanges() {
		if e.Command == protocol.CommandReset {
			t.Fatalf("full duty cycle must never pulse off")
		}
	}
}

func TestStairs(t *testing.T) {
	f := newFixture(t)
	g := f.generator(Parameters{
		Kind: KindStairs,
		Stairs: &StairsParameters{
			TimeStep:    0.5,
			VoltageStep: 50,
			MaxVoltage:  200,
			MinVoltage:  0,
			Current:     10,
		},
	})

	if err := g.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	got := []float64{g.Status().Setpoint.Voltage}
	for i := 0; i < 4; i++ {
		f.sched.Advance(500 * time.Millisecond)
		got = append(got, g.Status().Setpoint.Voltage)
	}
	want := []float64{0, 50, 100, 150, 200}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("commanded %v, want %v", got, want)
		}
	}
	if st := g.Status(); st.State != "rising" {
		t.Fatalf("expected rising, got %q", st.State)
	}

	f.sched.Advance(500 * time.Millisecond)
	st := g.Status()
	if st.Setpoint.Voltage != 0 || st.State != "waiting" {
		t.Fatalf("5th tick: setpoint %g state %q, want 0 waiting", st.Setpoint.Voltage, st.State)
	}
	ex := f.dev.Exchanges()
	if ex[len(ex)-1].Command != protocol.CommandReset {
		t.Fatalf("expected a reset to min, got %v", commands(ex))
	}

	// output already at min: the wait ends on the next poll
	f.sched.Advance(500 * time.Millisecond)
	if st := g.Status(); st.State != "rising" {
		t.Fatalf("expected rising after settle, got %q", st.State)
	}
	f.sched.Advance(500 * time.Millisecond)
	if v := g.Status().Setpoint.Voltage; v != 50 {
		t.Fatalf("expected 50V after settle, got %g", v)
	}
	g.Stop()
}

func TestStairsWaitsForOutput(t *testing.T) {
	f := newFixture(t)
	f.dev.Slew = 60
	g := f.generator(Parameters{
		Kind: KindStairs,
		Stairs: &StairsParameters{
			TimeStep:    0.5,
			VoltageStep: 100,
			MaxVoltage:  200,
			Current:     10,
		},
	})

	if err := g.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	// 100, 200
	f.sched.Advance(time.Second)
	// the fake output only moves on telemetry requests: lift it to 180V
	for i := 0; i < 3; i++ {
		f.ch.ReadIU()
	}
	// 300 is above max: back to 0 and wait
	f.sched.Advance(500 * time.Millisecond)
	if st := g.Status(); st.State != "waiting" {
		t.Fatalf("expected waiting, got %q", st.State)
	}

	// 180 -> 120 -> 60 -> 0
	for i := 0; i < 2; i++ {
		f.sched.Advance(500 * time.Millisecond)
		if st := g.Status(); st.State != "waiting" {
			t.Fatalf("poll %d: expected still waiting, got %q", i+1, st.State)
		}
	}
	f.sched.Advance(500 * time.Millisecond)
	if st := g.Status(); st.State != "rising" {
		t.Fatalf("expected rising, got %q", st.State)
	}
	g.Stop()
}

func TestReversedSawtooth(t *testing.T) {
	f := newFixture(t)
	g := f.generator(Parameters{
		Kind: KindReversedSawtooth,
		Scanning: &ScanningParameters{
			Period:     4,
			DutyCycle:  0.5,
			MaxVoltage: 100,
			MinVoltage: 0,
			Current:    10,
		},
	})
	if err := g.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if len(f.dev.Exchanges()) != 0 {
		t.Fatalf("sawtooth must not drive the channel before the first tick")
	}

	type step struct {
		voltage float64
		state   string
	}
	want := []step{
		{100, "rise"},
		{100, "impulse"},
		{75, "impulse"},
		{0, "zero"},
		{0, "zero"}, {0, "zero"}, {0, "zero"}, {0, "zero"},
		{0, "start"},
		{100, "rise"},
	}
	for i, w := range want {
		f.sched.Advance(500 * time.Millisecond)
		st := g.Status()
		if math.Abs(st.Setpoint.Voltage-w.voltage) > 1e-9 || st.State != w.state {
			t.Fatalf("tick %d: %gV %q, want %gV %q", i+1, st.Setpoint.Voltage, st.State, w.voltage, w.state)
		}
	}
	g.Stop()
}

func TestReversedSawtoothWaitsForRise(t *testing.T) {
	inverted := testRecord
	inverted.Polarity = calibration.PolarityInverted

	for _, rec := range []calibration.Record{testRecord, inverted} {
		t.Run(rec.Polarity.String(), func(t *testing.T) {
			f := newFixtureFor(t, rec)
			f.dev.Slew = 30
			g := f.generator(Parameters{
				Kind: KindReversedSawtooth,
				Scanning: &ScanningParameters{
					Period:     10,
					DutyCycle:  0.5,
					MaxVoltage: 100,
					MinVoltage: 0,
					Current:    10,
				},
			})
			if err := g.Start(); err != nil {
				t.Fatalf("Start returned error: %v", err)
			}

			// start, then the output reads 30, 60, 90 and finally reaches 100
			want := []string{"rise", "rise", "rise", "rise", "impulse"}
			got := []string{}
			for range want {
				f.sched.Advance(500 * time.Millisecond)
				got = append(got, g.Status().State)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("states %v, want %v", got, want)
				}
			}

			f.sched.Advance(500 * time.Millisecond)
			st := g.Status()
			if math.Abs(st.Setpoint.Voltage-90) > 1e-9 || st.State != "impulse" {
				t.Fatalf("first decrement: %gV %q, want 90V impulse", st.Setpoint.Voltage, st.State)
			}
			g.Stop()
		})
	}
}

func TestCustomScriptPartialTick(t *testing.T) {
	f := newFixture(t)
	g := f.generator(Parameters{
		Kind: KindCustom,
		Custom: &CustomParameters{
			Source: "period: 1.2\nexpression: \"[100 + t*100, 10]\"\n",
		},
	})
	if err := g.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	// t=0, 0.5 and 1.0 are all below the period
	want := []float64{100, 150, 200, 100, 150}
	got := []float64{}
	for range want {
		f.sched.Advance(500 * time.Millisecond)
		got = append(got, g.Status().Setpoint.Voltage)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("commanded %v, want %v", got, want)
		}
	}
	g.Stop()
}

func TestCustomScript(t *testing.T) {
	f := newFixture(t)
	g := f.generator(Parameters{
		Kind: KindCustom,
		Custom: &CustomParameters{
			Source: "period: 2\nexpression: \"t < 1 ? [500, 10] : [0, 10]\"\n",
		},
	})
	if err := g.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	counts := []int{}
	for i := 0; i < 5; i++ {
		f.sched.Advance(500 * time.Millisecond)
		counts = append(counts, len(f.dev.Exchanges()))
	}
	// t=0 set+apply, t=0.5 unchanged, t=1 reset, t=1.5 unchanged, wrap to t=0
	want := []int{2, 2, 3, 3, 5}
	for i := range want {
		if counts[i] != want[i] {
			t.Fatalf("command counts %v, want %v", counts, want)
		}
	}
	g.Stop()
}

func TestCustomScriptBadSource(t *testing.T) {
	f := newFixture(t)
	g := f.generator(Parameters{
		Kind:   KindCustom,
		Custom: &CustomParameters{Source: "period: 2\nexpression: \"[1,\"\n"},
	})
	if err := g.Start(); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters, got %v", err)
	}
	if g.Running() || f.sched.Pending() != 0 {
		t.Fatalf("failed start left state behind")
	}
}

func TestStopIdempotent(t *testing.T) {
	f := newFixture(t)
	g := f.generator(squareParameters())

	g.Stop()
	g.Stop()
	if len(f.dev.Exchanges()) != 0 || !f.ch.IsOpen() {
		t.Fatalf("stop of a never started generator touched the channel")
	}

	if err := g.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	g.Stop()
	n := len(f.dev.Exchanges())
	g.Stop()
	f.sched.Advance(10 * time.Second)
	if len(f.dev.Exchanges()) != n {
		t.Fatalf("stopped generator kept writing")
	}
	if !f.ch.IsOpen() {
		t.Fatalf("stop changed the channel state")
	}
}

func TestRestartIgnoresStaleCallbacks(t *testing.T) {
	f := newFixture(t)
	g := f.generator(squareParameters())

	_ = g.Start()
	g.Stop()
	_ = g.Start()
	start := len(f.dev.Exchanges())

	// one pulse-off at 1s and one pulse at 2s, from the second run only
	f.sched.Advance(2 * time.Second)
	expectCommands(t, f.dev.Exchanges()[start:], protocol.CommandReset, protocol.CommandSet, protocol.CommandUpdate)
}

func TestAbortPropagation(t *testing.T) {
	for _, kind := range Kinds {
		t.Run(string(kind), func(t *testing.T) {
			f := newFixture(t)
			p := DefaultParameters(kind, testRecord, 500*time.Millisecond)
			p.Scanning.MaxVoltage = 500
			p.Stairs.MaxVoltage = 500
			p.Stairs.VoltageStep = 50
			p.Custom.Source = "period: 1\nexpression: \"[t * 100, 5]\"\n"
			g := f.generator(p)

			aborts := 0
			g.OnAbort(func() { aborts++ })

			if err := g.Start(); err != nil {
				t.Fatalf("Start returned error: %v", err)
			}
			f.sched.Advance(500 * time.Millisecond)

			f.ch.Close()
			n := len(f.dev.Exchanges())

			f.sched.Advance(500 * time.Millisecond)
			if aborts != 1 {
				t.Fatalf("expected abort on the next tick, got %d", aborts)
			}
			if st := g.Status(); st.Running || !st.Aborted {
				t.Fatalf("unexpected status after abort %+v", st)
			}

			// reopening does not resume an aborted run
			f.ch.Open()
			f.sched.Advance(5 * time.Second)
			if len(f.dev.Exchanges()) != n {
				t.Fatalf("aborted generator kept writing")
			}
			if aborts != 1 || f.sched.Pending() != 0 {
				t.Fatalf("aborts %d, pending %d", aborts, f.sched.Pending())
			}

			g.Stop()
			if err := g.Start(); err != nil {
				t.Fatalf("restart returned error: %v", err)
			}
			if g.Status().Aborted {
				t.Fatalf("restart should clear the aborted flag")
			}
			g.Stop()
		})
	}
}

func TestAbortOnReleasedLease(t *testing.T) {
	f := newFixture(t)
	lease, err := f.ch.Acquire("generator")
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	g := New(lease, f.sched, squareParameters(), Options{})
	aborted := make(chan struct{}, 1)
	g.OnAbort(func() { aborted <- struct{}{} })

	if err := g.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	lease.Release()
	n := len(f.dev.Exchanges())
	f.sched.Advance(time.Second)

	select {
	case <-aborted:
	default:
		t.Fatalf("expected abort after the lease was released")
	}
	if len(f.dev.Exchanges()) != n {
		t.Fatalf("generator wrote through a released lease")
	}
}

func TestStartRequiresOpenChannel(t *testing.T) {
	f := newFixture(t)
	f.ch.Close()
	g := f.generator(squareParameters())
	if err := g.Start(); !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("expected channel.ErrClosed, got %v", err)
	}
}

func TestUpdateParameters(t *testing.T) {
	f := newFixture(t)
	g := f.generator(squareParameters())

	bad := squareParameters()
	bad.Scanning.DutyCycle = 1.5
	if err := g.UpdateParameters(bad); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters, got %v", err)
	}

	_ = g.Start()
	if err := g.UpdateParameters(squareParameters()); !errors.Is(err, ErrRunning) {
		t.Fatalf("expected ErrRunning, got %v", err)
	}
	g.Stop()

	// records missing from the update are kept
	if err := g.UpdateParameters(Parameters{Kind: KindReversedSawtooth}); err != nil {
		t.Fatalf("UpdateParameters returned error: %v", err)
	}
	p := g.Parameters()
	if p.Kind != KindReversedSawtooth || p.Scanning.MaxVoltage != 1000 {
		t.Fatalf("unexpected parameters %+v", p)
	}
}
