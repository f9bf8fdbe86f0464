package generator

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestScriptEval(t *testing.T) {
	s, err := ParseScript([]byte("period: 4\nexpression: \"[1000 * sin(pi * t / period), 5]\"\n"))
	if err != nil {
		t.Fatalf("ParseScript returned error: %v", err)
	}
	u, i, err := s.Eval(2)
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if math.Abs(u-1000) > 1e-9 || i != 5 {
		t.Fatalf("Eval(2) = %g, %g", u, i)
	}
}

func TestScriptErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{name: "not yaml", source: "period: [1"},
		{name: "no expression", source: "period: 1\n"},
		{name: "zero period", source: "period: 0\nexpression: \"[0, 0]\"\n"},
		{name: "syntax error", source: "period: 1\nexpression: \"[0, \"\n"},
		{name: "unknown name", source: "period: 1\nexpression: \"[volts, 0]\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseScript([]byte(tt.source)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestScriptBadResult(t *testing.T) {
	for _, src := range []string{`"high"`, `[1, 2, 3]`, `[1, "a"]`} {
		s, err := CompileScript(1, src)
		if err != nil {
			t.Fatalf("CompileScript(%s) returned error: %v", src, err)
		}
		if _, _, err := s.Eval(0); err == nil {
			t.Fatalf("Eval of %s should fail", src)
		}
	}
}

func TestLoadScriptTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gen.yaml")
	if err := os.WriteFile(path, []byte(ScriptTemplate), 0o644); err != nil {
		t.Fatalf("failed to write template: %v", err)
	}
	s, err := LoadScript(path)
	if err != nil {
		t.Fatalf("LoadScript returned error: %v", err)
	}
	if s.Period != 1 {
		t.Fatalf("unexpected period %g", s.Period)
	}
	if u, i, err := s.Eval(0.5); err != nil || u != 0 || i != 0 {
		t.Fatalf("template Eval = %g, %g, %v", u, i, err)
	}
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"square wave":       KindSquareWave,
		"Square-Wave":       KindSquareWave,
		"stairs":            KindStairs,
		"reversed_sawtooth": KindReversedSawtooth,
		"reversed rawtooth": KindReversedSawtooth,
		"custom":            KindCustom,
	}
	for in, want := range tests {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseKind("triangle"); err == nil {
		t.Errorf("expected error for unknown kind")
	}
}

func TestValidate(t *testing.T) {
	tick := 500 * time.Millisecond
	defaults := DefaultParameters(KindSquareWave, testRecord, tick)
	if err := defaults.Validate(testRecord, tick); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(p *Parameters)
	}{
		{"period too short", func(p *Parameters) { p.Scanning.Period = 0.5 }},
		{"period too long", func(p *Parameters) { p.Scanning.Period = 2000 }},
		{"zero duty cycle", func(p *Parameters) { p.Scanning.DutyCycle = 0 }},
		{"min above max", func(p *Parameters) { p.Scanning.MinVoltage = 100; p.Scanning.MaxVoltage = 50 }},
		{"above device range", func(p *Parameters) { p.Scanning.MaxVoltage = 5000 }},
		{"current above range", func(p *Parameters) { p.Scanning.Current = 500 }},
		{"short impulse", func(p *Parameters) {
			p.Kind = KindReversedSawtooth
			p.Scanning.Period = 1
			p.Scanning.DutyCycle = 0.2
		}},
		{"stairs time step", func(p *Parameters) { p.Kind = KindStairs; p.Stairs.TimeStep = 0.1 }},
		{"stairs voltage step", func(p *Parameters) { p.Kind = KindStairs; p.Stairs.VoltageStep = 0 }},
		{"custom without script", func(p *Parameters) { p.Kind = KindCustom }},
		{"unknown kind", func(p *Parameters) { p.Kind = "triangle" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := defaults.Clone()
			tt.mutate(&p)
			if err := p.Validate(testRecord, tick); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
