// Package calibration defines the electrical calibration data of the supported
// high-voltage supply models. It contains:
//
//   - Record: per-model ADC/DAC full scale codes, ranges, steps and resistances
//   - Coefficient: independently measured conversion factors, keyed by the
//     nominal voltage rating, used to flag calibration drift
//   - Store: a read-only lookup over the tabular (CSV) sources of both
//
// Records are loaded once and never mutated. An unknown device name is an
// expected outcome and is reported as ErrNotFound.
package calibration
