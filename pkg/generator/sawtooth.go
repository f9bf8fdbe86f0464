package generator

import (
	"math"
	"time"
)

type sawtoothPhase int

const (
	phaseStart sawtoothPhase = iota
	phaseRise
	phaseImpulse
	phaseZero
)

func (p sawtoothPhase) String() string {
	switch p {
	case phaseStart:
		return "start"
	case phaseRise:
		return "rise"
	case phaseImpulse:
		return "impulse"
	case phaseZero:
		return "zero"
	}
	return "unknown"
}

type sawtoothState struct {
	p       ScanningParameters
	phase   sawtoothPhase
	elapsed time.Duration
	impulse time.Duration
	// decrement applied on every impulse tick
	step    float64
	voltage float64
}

func (g *Generator) startSawtooth(r *run, p ScanningParameters) error {
	impulse := seconds(p.Period * p.DutyCycle)
	r.sawtooth = &sawtoothState{
		p:       p,
		phase:   phaseStart,
		impulse: impulse,
		step:    g.minTick.Seconds() * (p.MaxVoltage - p.MinVoltage) / impulse.Seconds(),
		voltage: p.MaxVoltage,
	}
	r.state = phaseStart.String()
	g.every(r, g.minTick, g.sawtoothTick)
	return nil
}

func (g *Generator) sawtoothTick(r *run) {
	s := r.sawtooth
	s.elapsed += g.minTick
	defer func() { r.state = s.phase.String() }()

	switch s.phase {
	case phaseStart:
		g.setup(r, s.voltage, s.p.Current)
		s.phase = phaseRise
		return
	case phaseZero:
		if s.elapsed > seconds(s.p.Period) {
			s.elapsed = 0
			s.voltage = s.p.MaxVoltage
			s.phase = phaseStart
		}
		return
	}

	if s.phase == phaseRise {
		_, u := g.ctl.ReadIU()
		u = math.Abs(u)
		if u >= s.voltage-g.ctl.Calibration().VoltageStep {
			s.phase = phaseImpulse
		}
	}

	if s.phase == phaseImpulse {
		g.setup(r, s.voltage, s.p.Current)
		s.voltage = math.Max(s.voltage-s.step, s.p.MinVoltage)
	}

	if s.elapsed >= s.impulse {
		s.phase = phaseZero
		if s.voltage > s.p.MinVoltage {
			s.voltage = s.p.MinVoltage
			g.setup(r, s.voltage, s.p.Current)
		}
	}
}
