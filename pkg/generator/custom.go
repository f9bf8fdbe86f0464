package generator

import (
	"math"

	pkgerrors "github.com/pkg/errors"

	"github.com/npm-group/hvctl/pkg/calibration"
)

type customState struct {
	script  *Script
	samples int
	next    int
	hasLast bool
	last    [2]float64
}

func (g *Generator) startCustom(r *run, p CustomParameters) error {
	var (
		script *Script
		err    error
	)
	if p.Source != "" {
		script, err = ParseScript([]byte(p.Source))
	} else {
		script, err = LoadScript(p.Path)
	}
	if err != nil {
		return wrapStart(pkgerrors.Wrap(ErrInvalidParameters, err.Error()), KindCustom)
	}

	// samples at 0, tick, 2*tick, ... while below the period
	samples := int(math.Ceil(script.Period/g.minTick.Seconds() - 1e-9))
	if samples < 1 {
		return wrapStart(invalid("script period %gs yields no sample at the %v tick", script.Period, g.minTick), KindCustom)
	}

	r.custom = &customState{script: script, samples: samples}
	r.state = "sampling"
	g.every(r, g.minTick, g.customTick)
	return nil
}

func (g *Generator) customTick(r *run) {
	s := r.custom
	t := float64(s.next) * g.minTick.Seconds()
	s.next = (s.next + 1) % s.samples

	voltage, current, err := s.script.Eval(t)
	if err != nil {
		g.log.WithError(err).Warn("script evaluation failed, sample skipped")
		return
	}
	// scripts give the current in µA
	if g.ctl.Calibration().CurrentUnit == calibration.CurrentMilli {
		current /= 1000
	}
	if s.hasLast && s.last[0] == voltage && s.last[1] == current {
		return
	}
	s.hasLast = true
	s.last = [2]float64{voltage, current}
	g.setup(r, voltage, current)
}
