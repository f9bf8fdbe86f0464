package generator

import (
	"math"
	"os"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// ScriptTemplate is written by `hvctl generator template`.
const ScriptTemplate = `# period of the waveform, in seconds
period: 1.0
# t is the time inside the period, in seconds.
# The expression returns [voltage in V, limiting current in µA].
expression: "[0.0, 0.0]"
`

type scriptFile struct {
	Period     float64 `yaml:"period"`
	Expression string  `yaml:"expression"`
}

// Script is a compiled operator supplied waveform t -> (voltage, current).
type Script struct {
	Period     float64
	Expression string
	program    *vm.Program
}

func scriptEnv(t, period float64) map[string]any {
	return map[string]any{
		"t":      t,
		"period": period,
		"pi":     math.Pi,
		"sin":    math.Sin,
		"cos":    math.Cos,
		"tan":    math.Tan,
		"exp":    math.Exp,
		"sqrt":   math.Sqrt,
		"pow":    math.Pow,
	}
}

// ParseScript compiles a YAML script document.
func ParseScript(b []byte) (*Script, error) {
	var f scriptFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to parse script")
	}
	return CompileScript(f.Period, f.Expression)
}

// LoadScript reads and compiles a script file.
func LoadScript(path string) (*Script, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read script %s", path)
	}
	s, err := ParseScript(b)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "script %s", path)
	}
	return s, nil
}

// CompileScript compiles an expression for the given period.
func CompileScript(period float64, expression string) (*Script, error) {
	if !(period > 0) || period > MaxPeriod.Seconds() {
		return nil, pkgerrors.Errorf("script period %gs outside (0, %v]", period, MaxPeriod)
	}
	if expression == "" {
		return nil, pkgerrors.New("script has no expression")
	}
	program, err := expr.Compile(expression, expr.Env(scriptEnv(0, period)))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to compile expression")
	}
	return &Script{Period: period, Expression: expression, program: program}, nil
}

// Eval runs the expression at time t of the period.
func (s *Script) Eval(t float64) (voltage, current float64, err error) {
	out, err := expr.Run(s.program, scriptEnv(t, s.Period))
	if err != nil {
		return 0, 0, pkgerrors.Wrapf(err, "t=%g", t)
	}
	values, ok := out.([]any)
	if !ok || len(values) != 2 {
		return 0, 0, pkgerrors.Errorf("t=%g: expression returned %v, want [voltage, current]", t, out)
	}
	if voltage, ok = number(values[0]); !ok {
		return 0, 0, pkgerrors.Errorf("t=%g: voltage %v is not a number", t, values[0])
	}
	if current, ok = number(values[1]); !ok {
		return 0, 0, pkgerrors.Errorf("t=%g: current %v is not a number", t, values[1])
	}
	return voltage, current, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
