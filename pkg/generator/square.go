package generator

type squareState struct {
	p ScanningParameters
}

// startSquare fires the first pulse right away and then one pulse per
// period. The pulse-off callback always lands inside the period that
// scheduled it, because the pulse is never longer than the period.
func (g *Generator) startSquare(r *run, p ScanningParameters) error {
	r.square = &squareState{p: p}
	g.pulse(r)
	g.every(r, seconds(p.Period), g.pulse)
	return nil
}

func (g *Generator) pulse(r *run) {
	p := r.square.p
	r.state = "high"
	g.setup(r, p.MaxVoltage, p.Current)
	if p.DutyCycle < 1 {
		g.after(r, seconds(p.Period*p.DutyCycle), g.pulseOff)
	}
}

func (g *Generator) pulseOff(r *run) {
	p := r.square.p
	r.state = "low"
	g.setup(r, p.MinVoltage, p.Current)
}
