package generator

import (
	"errors"
	"math"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/npm-group/hvctl/pkg/calibration"
)

// Kind selects one of the generator variants.
type Kind string

const (
	KindSquareWave       Kind = "square wave"
	KindStairs           Kind = "stairs"
	KindReversedSawtooth Kind = "reversed sawtooth"
	KindCustom           Kind = "custom"
)

// Kinds lists the supported variants.
var Kinds = []Kind{KindSquareWave, KindStairs, KindReversedSawtooth, KindCustom}

// ParseKind accepts the kind names with spaces, dashes or underscores.
func ParseKind(s string) (Kind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", " ", "_", " ").Replace(norm)
	switch norm {
	case "square wave", "square", "squarewave":
		return KindSquareWave, nil
	case "stairs":
		return KindStairs, nil
	case "reversed sawtooth", "sawtooth", "reversed rawtooth":
		return KindReversedSawtooth, nil
	case "custom", "script":
		return KindCustom, nil
	}
	return "", pkgerrors.Wrapf(ErrInvalidParameters, "unknown generator kind %q", s)
}

const (
	// DefaultMinTick is the scheduler resolution of the tick based variants.
	DefaultMinTick = 500 * time.Millisecond
	// MinTickLower and MinTickUpper bound the configurable resolution.
	MinTickLower = 200 * time.Millisecond
	MinTickUpper = 500 * time.Millisecond

	MinPeriod = time.Second
	MaxPeriod = 1000 * time.Second
)

var (
	// ErrRunning is returned when an operation needs a stopped generator.
	ErrRunning = errors.New("generator is running")

	// ErrInvalidParameters wraps every parameter validation failure.
	ErrInvalidParameters = errors.New("invalid generator parameters")
)

// ScanningParameters drive the square wave and the reversed sawtooth.
// Times are in seconds, voltages in volts, current in device units.
type ScanningParameters struct {
	Period     float64 `json:"period" koanf:"period" yaml:"period"`
	DutyCycle  float64 `json:"duty_cycle" koanf:"duty_cycle" yaml:"duty_cycle"`
	MaxVoltage float64 `json:"max_voltage" koanf:"max_voltage" yaml:"max_voltage"`
	MinVoltage float64 `json:"min_voltage" koanf:"min_voltage" yaml:"min_voltage"`
	Current    float64 `json:"current" koanf:"current" yaml:"current"`
}

// StairsParameters drive the stairs generator.
type StairsParameters struct {
	TimeStep    float64 `json:"time_step" koanf:"time_step" yaml:"time_step"`
	VoltageStep float64 `json:"voltage_step" koanf:"voltage_step" yaml:"voltage_step"`
	MaxVoltage  float64 `json:"max_voltage" koanf:"max_voltage" yaml:"max_voltage"`
	MinVoltage  float64 `json:"min_voltage" koanf:"min_voltage" yaml:"min_voltage"`
	Current     float64 `json:"current" koanf:"current" yaml:"current"`
}

// CustomParameters point to a script, either a file or inline YAML source.
// Source wins when both are set.
type CustomParameters struct {
	Path   string `json:"path,omitempty" koanf:"path" yaml:"path,omitempty"`
	Source string `json:"source,omitempty" koanf:"source" yaml:"source,omitempty"`
}

// Parameters is the configuration of a generator. Kind selects the active
// variant; the records of the other variants are kept so switching kinds
// does not lose them.
type Parameters struct {
	Kind     Kind                `json:"kind" koanf:"kind" yaml:"kind"`
	Scanning *ScanningParameters `json:"scanning,omitempty" koanf:"scanning" yaml:"scanning,omitempty"`
	Stairs   *StairsParameters   `json:"stairs,omitempty" koanf:"stairs" yaml:"stairs,omitempty"`
	Custom   *CustomParameters   `json:"custom,omitempty" koanf:"custom" yaml:"custom,omitempty"`
}

// DefaultParameters derives a safe configuration from the device record.
func DefaultParameters(kind Kind, cal calibration.Record, minTick time.Duration) Parameters {
	return Parameters{
		Kind: kind,
		Scanning: &ScanningParameters{
			Period:     MinPeriod.Seconds(),
			DutyCycle:  0.5,
			MaxVoltage: cal.VoltageMin,
			MinVoltage: 0,
			Current:    cal.CurrentMin,
		},
		Stairs: &StairsParameters{
			TimeStep:    minTick.Seconds(),
			VoltageStep: cal.VoltageStep,
			MaxVoltage:  cal.VoltageMin,
			MinVoltage:  0,
			Current:     cal.CurrentMin,
		},
		Custom: &CustomParameters{},
	}
}

// Merge returns p with every nil variant record taken from defaults.
func (p Parameters) Merge(defaults Parameters) Parameters {
	if p.Kind == "" {
		p.Kind = defaults.Kind
	}
	if p.Scanning == nil {
		p.Scanning = defaults.Scanning
	}
	if p.Stairs == nil {
		p.Stairs = defaults.Stairs
	}
	if p.Custom == nil {
		p.Custom = defaults.Custom
	}
	return p
}

// Clone returns a deep copy.
func (p Parameters) Clone() Parameters {
	if p.Scanning != nil {
		s := *p.Scanning
		p.Scanning = &s
	}
	if p.Stairs != nil {
		s := *p.Stairs
		p.Stairs = &s
	}
	if p.Custom != nil {
		c := *p.Custom
		p.Custom = &c
	}
	return p
}

func invalid(format string, args ...any) error {
	return pkgerrors.Wrapf(ErrInvalidParameters, format, args...)
}

// Validate checks the active variant against the device ranges.
func (p Parameters) Validate(cal calibration.Record, minTick time.Duration) error {
	switch p.Kind {
	case KindSquareWave, KindReversedSawtooth:
		if p.Scanning == nil {
			return invalid("%s needs scanning parameters", p.Kind)
		}
		return p.Scanning.validate(p.Kind, cal, minTick)
	case KindStairs:
		if p.Stairs == nil {
			return invalid("stairs needs stairs parameters")
		}
		return p.Stairs.validate(cal, minTick)
	case KindCustom:
		if p.Custom == nil || (p.Custom.Path == "" && p.Custom.Source == "") {
			return invalid("custom generator needs a script")
		}
		return nil
	}
	return invalid("unknown generator kind %q", p.Kind)
}

func validRange(name string, lo, hi float64, cal calibration.Record) error {
	if math.IsNaN(lo) || math.IsNaN(hi) {
		return invalid("%s is not a number", name)
	}
	if lo < 0 || hi > cal.VoltageMax {
		return invalid("%s [%g, %g] outside [0, %g]", name, lo, hi, cal.VoltageMax)
	}
	if lo > hi {
		return invalid("%s: min %g above max %g", name, lo, hi)
	}
	return nil
}

func validCurrent(current float64, cal calibration.Record) error {
	if math.IsNaN(current) || current < 0 || current > cal.CurrentMax {
		return invalid("current %g outside [0, %g]", current, cal.CurrentMax)
	}
	return nil
}

func (s ScanningParameters) validate(kind Kind, cal calibration.Record, minTick time.Duration) error {
	if !(s.Period >= MinPeriod.Seconds() && s.Period <= MaxPeriod.Seconds()) {
		return invalid("period %gs outside [%v, %v]", s.Period, MinPeriod, MaxPeriod)
	}
	if !(s.DutyCycle > 0 && s.DutyCycle <= 1) {
		return invalid("duty cycle %g outside (0, 1]", s.DutyCycle)
	}
	if kind == KindReversedSawtooth && s.Period*s.DutyCycle < minTick.Seconds()-1e-9 {
		return invalid("impulse of %gs is shorter than the %v tick", s.Period*s.DutyCycle, minTick)
	}
	if err := validRange("voltage", s.MinVoltage, s.MaxVoltage, cal); err != nil {
		return err
	}
	return validCurrent(s.Current, cal)
}

func (s StairsParameters) validate(cal calibration.Record, minTick time.Duration) error {
	if !(s.TimeStep >= minTick.Seconds()-1e-9 && s.TimeStep <= MaxPeriod.Seconds()) {
		return invalid("time step %gs outside [%v, %v]", s.TimeStep, minTick, MaxPeriod)
	}
	if !(s.VoltageStep > 0) {
		return invalid("voltage step %g must be positive", s.VoltageStep)
	}
	if err := validRange("voltage", s.MinVoltage, s.MaxVoltage, cal); err != nil {
		return err
	}
	return validCurrent(s.Current, cal)
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
