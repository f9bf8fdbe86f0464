package protocol

import (
	"fmt"
	"math"

	"github.com/npm-group/hvctl/pkg/calibration"
)

// ConsistencyTolerance is the absolute tolerance applied when comparing the
// record conversion factors with the measured coefficients.
const ConsistencyTolerance = 1e-2

// Warning reports a conversion factor of a record that disagrees with the
// independently measured coefficient.
type Warning struct {
	Device   string  `json:"device"`
	Quantity string  `json:"quantity"`
	Record   float64 `json:"record"`
	Measured float64 `json:"measured"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s coefficient %.4f differs from measured %.4f", w.Device, w.Quantity, w.Record, w.Measured)
}

// CheckConsistency compares dac_full_scale_code/voltage_max and
// dac_full_scale_code/current_max with the coefficient table. A nil coeff
// yields no warnings; so does a power rating missing from the table.
func CheckConsistency(cal calibration.Record, coeff *calibration.Coefficient, power calibration.PowerRating) []Warning {
	if coeff == nil {
		return nil
	}

	var warnings []Warning
	voltage := float64(cal.DACFullScaleCode) / cal.VoltageMax
	if math.Abs(voltage-coeff.VoltageCoefficient) > ConsistencyTolerance {
		warnings = append(warnings, Warning{
			Device:   cal.Name,
			Quantity: "voltage",
			Record:   voltage,
			Measured: coeff.VoltageCoefficient,
		})
	}

	if measured, ok := coeff.CurrentCoefficient(power); ok {
		current := float64(cal.DACFullScaleCode) / cal.CurrentMax
		if math.Abs(current-measured) > ConsistencyTolerance {
			warnings = append(warnings, Warning{
				Device:   cal.Name,
				Quantity: fmt.Sprintf("current (%dW)", power),
				Record:   current,
				Measured: measured,
			})
		}
	}
	return warnings
}
