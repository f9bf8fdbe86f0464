package generator

import "math"

type stairsState struct {
	p       StairsParameters
	voltage float64
	rising  bool
}

func (g *Generator) startStairs(r *run, p StairsParameters) error {
	r.stairs = &stairsState{p: p, voltage: p.MinVoltage, rising: true}
	r.state = "rising"
	g.setup(r, p.MinVoltage, p.Current)
	g.every(r, seconds(p.TimeStep), g.stairsTick)
	return nil
}

func (g *Generator) stairsTick(r *run) {
	s := r.stairs
	if s.rising {
		s.voltage += s.p.VoltageStep
		// tolerate accumulated float error on the last step
		if s.voltage > s.p.MaxVoltage+1e-9 {
			s.rising = false
			s.voltage = s.p.MinVoltage
			r.state = "waiting"
			g.setup(r, s.p.MinVoltage, s.p.Current)
			return
		}
		g.setup(r, s.voltage, s.p.Current)
		return
	}

	// the output lags the setpoint: poll until it is back at min
	_, u := g.ctl.ReadIU()
	if math.Abs(math.Abs(u)-s.p.MinVoltage) <= g.ctl.Calibration().VoltageStep {
		s.rising = true
		s.voltage = s.p.MinVoltage
		r.state = "rising"
	}
}
