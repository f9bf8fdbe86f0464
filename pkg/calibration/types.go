package calibration

import (
	"fmt"
	"math"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Polarity tells whether the measured voltage sign must be inverted.
type Polarity int

const (
	PolarityNormal Polarity = iota
	PolarityInverted
)

func (p Polarity) String() string {
	if p == PolarityInverted {
		return "inverted"
	}
	return "normal"
}

// MarshalText implements encoding.TextMarshaler.
func (p Polarity) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Polarity) UnmarshalText(b []byte) error {
	v, err := ParsePolarity(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePolarity accepts "normal"/"inverted" as well as the numeric
// forms "1"/"-1" found in older device tables.
func ParsePolarity(s string) (Polarity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal", "positive", "1", "+1", "":
		return PolarityNormal, nil
	case "inverted", "negative", "-1":
		return PolarityInverted, nil
	}
	return PolarityNormal, fmt.Errorf("unknown polarity %q", s)
}

// CurrentUnit is the unit the device works with for current setpoints and
// readings.
type CurrentUnit string

const (
	CurrentMicro CurrentUnit = "micro"
	CurrentMilli CurrentUnit = "milli"
)

// ParseCurrentUnit parses the current_units column.
func ParseCurrentUnit(s string) (CurrentUnit, error) {
	switch CurrentUnit(strings.ToLower(strings.TrimSpace(s))) {
	case CurrentMicro:
		return CurrentMicro, nil
	case CurrentMilli:
		return CurrentMilli, nil
	}
	return "", fmt.Errorf("unknown current units %q", s)
}

// PowerRating is the supply power class used to pick a current coefficient.
type PowerRating int

const (
	Power6W  PowerRating = 6
	Power15W PowerRating = 15
	Power60W PowerRating = 60
)

// PowerRatings lists the ratings present in the coefficient table.
var PowerRatings = []PowerRating{Power6W, Power15W, Power60W}

// ParsePowerRating validates a rating given in watts.
func ParsePowerRating(w int) (PowerRating, error) {
	for _, p := range PowerRatings {
		if int(p) == w {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unsupported power rating %dW, expected one of 6, 15, 60", w)
}

// Record holds the calibration constants of one device model.
type Record struct {
	Name               string      `json:"name"`
	ADCFullScaleCode   int         `json:"adcFullScaleCode"`
	DACFullScaleCode   int         `json:"dacFullScaleCode"`
	VoltageMax         float64     `json:"voltageMax"`
	VoltageMin         float64     `json:"voltageMin"`
	VoltageStep        float64     `json:"voltageStep"`
	CurrentStep        float64     `json:"currentStep"`
	Polarity           Polarity    `json:"polarity"`
	SenseResistance    float64     `json:"senseResistance"`    // ohm
	FeedbackResistance float64     `json:"feedbackResistance"` // ohm
	CurrentMin         float64     `json:"currentMin"`
	CurrentMax         float64     `json:"currentMax"`
	CurrentUnit        CurrentUnit `json:"currentUnits"`
}

// Validate checks the invariants every record must satisfy.
func (r Record) Validate() error {
	if r.Name == "" {
		return pkgerrors.New("record has no name")
	}
	if r.ADCFullScaleCode <= 0 || r.DACFullScaleCode <= 0 {
		return pkgerrors.Errorf("%s: full scale codes must be positive, got adc=%d dac=%d", r.Name, r.ADCFullScaleCode, r.DACFullScaleCode)
	}
	if r.ADCFullScaleCode > math.MaxUint16 || r.DACFullScaleCode > math.MaxUint16 {
		return pkgerrors.Errorf("%s: full scale codes must fit in 16 bits", r.Name)
	}
	if r.VoltageMax <= 0 || r.VoltageMin > r.VoltageMax {
		return pkgerrors.Errorf("%s: invalid voltage range [%g, %g]", r.Name, r.VoltageMin, r.VoltageMax)
	}
	if r.CurrentMax <= 0 || r.CurrentMin > r.CurrentMax {
		return pkgerrors.Errorf("%s: invalid current range [%g, %g]", r.Name, r.CurrentMin, r.CurrentMax)
	}
	if r.SenseResistance <= 0 || r.FeedbackResistance <= 0 {
		return pkgerrors.Errorf("%s: resistances must be positive", r.Name)
	}
	if r.CurrentUnit != CurrentMicro && r.CurrentUnit != CurrentMilli {
		return pkgerrors.Errorf("%s: unknown current units %q", r.Name, r.CurrentUnit)
	}
	return nil
}

// NominalVoltage is the rating the coefficient table is keyed by.
func (r Record) NominalVoltage() int {
	return int(math.Round(r.VoltageMax))
}

// CurrentLabel returns the unit label shown next to current values.
func (r Record) CurrentLabel() string {
	if r.CurrentUnit == CurrentMilli {
		return "mA"
	}
	return "µA"
}

// CurrentStepInUnits returns the current step expressed in the device
// current unit. Tables store the step in µA for every model.
func (r Record) CurrentStepInUnits() float64 {
	if r.CurrentUnit == CurrentMilli {
		return r.CurrentStep / 1000
	}
	return r.CurrentStep
}

// Coefficient holds independently measured DAC conversion factors for one
// nominal voltage rating.
type Coefficient struct {
	NominalVoltage      int                     `json:"nominalVoltage"`
	VoltageCoefficient  float64                 `json:"voltageCoefficient"`
	CurrentCoefficients map[PowerRating]float64 `json:"currentCoefficients"`
}

// CurrentCoefficient returns the coefficient matching the power rating.
func (c Coefficient) CurrentCoefficient(p PowerRating) (float64, bool) {
	v, ok := c.CurrentCoefficients[p]
	return v, ok
}
