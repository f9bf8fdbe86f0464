// Package protocol implements the fixed five-command binary protocol of the
// HV supply: setpoint encoding, telemetry decoding and the calibration
// self-consistency check. Everything here is side-effect free.
package protocol

import (
	"errors"
	"fmt"
	"math"

	pkgerrors "github.com/pkg/errors"

	"github.com/npm-group/hvctl/pkg/calibration"
)

// Command is the first byte of every frame sent to the device.
type Command byte

const (
	CommandSet     Command = 0x01
	CommandUpdate  Command = 0x02
	CommandReset   Command = 0x03
	CommandReserve Command = 0x04
	CommandGet     Command = 0x05
)

func (c Command) String() string {
	switch c {
	case CommandSet:
		return "SET"
	case CommandUpdate:
		return "UPDATE"
	case CommandReset:
		return "RESET"
	case CommandReserve:
		return "RESERVE"
	case CommandGet:
		return "GET"
	}
	return fmt.Sprintf("Command(0x%02x)", byte(c))
}

const (
	// FrameTerminator is the constant last byte of a telemetry frame.
	FrameTerminator = 13
	// FrameSize is the length of a telemetry frame.
	FrameSize = 5
	// SetPayloadSize is the length of the SET payload.
	SetPayloadSize = 4
	// ADCMeanCount is the number of ADC samples the firmware sums per reading.
	ADCMeanCount = 16
)

var (
	// ErrOutOfRange is returned when a setpoint does not encode into
	// [0, dac_full_scale_code].
	ErrOutOfRange = errors.New("setpoint out of range")

	// ErrMalformed is returned for a telemetry frame of the wrong size or
	// with a bad terminator.
	ErrMalformed = errors.New("malformed telemetry frame")
)

// EncodeSet converts a voltage/current setpoint into the SET payload
// [u_low, u_high, i_low, i_high].
func EncodeSet(voltage, current float64, cal calibration.Record) ([SetPayloadSize]byte, error) {
	var payload [SetPayloadSize]byte

	u, err := dacCode(voltage, cal.VoltageMax, cal.DACFullScaleCode)
	if err != nil {
		return payload, pkgerrors.Wrapf(err, "voltage %gV", voltage)
	}
	i, err := dacCode(current, cal.CurrentMax, cal.DACFullScaleCode)
	if err != nil {
		return payload, pkgerrors.Wrapf(err, "current %g%s", current, cal.CurrentLabel())
	}

	payload[0] = byte(u % 256)
	payload[1] = byte(u / 256)
	payload[2] = byte(i % 256)
	payload[3] = byte(i / 256)
	return payload, nil
}

func dacCode(value, fullScale float64, fullScaleCode int) (int, error) {
	if fullScale <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, ErrOutOfRange
	}
	code := math.Round(value * float64(fullScaleCode) / fullScale)
	if code < 0 || code > float64(fullScaleCode) || code > math.MaxUint16 {
		return 0, pkgerrors.Wrapf(ErrOutOfRange, "code %.0f not in [0, %d]", code, fullScaleCode)
	}
	return int(code), nil
}

// DecodeTelemetry converts a telemetry frame into (current, voltage) in the
// device units. The caller must not trust any part of a frame for which an
// error is returned.
func DecodeTelemetry(frame []byte, cal calibration.Record) (current, voltage float64, err error) {
	if len(frame) != FrameSize {
		return 0, 0, pkgerrors.Wrapf(ErrMalformed, "got %d bytes, want %d", len(frame), FrameSize)
	}
	if frame[4] != FrameTerminator {
		return 0, 0, pkgerrors.Wrapf(ErrMalformed, "terminator 0x%02x", frame[4])
	}

	voltage = float64(int(frame[2])*256+int(frame[3])) * cal.VoltageMax / float64(cal.ADCFullScaleCode) / ADCMeanCount
	if cal.Polarity == calibration.PolarityInverted {
		voltage = -voltage
	}

	current = float64(int(frame[0])*256+int(frame[1])) * cal.CurrentMax / float64(cal.DACFullScaleCode)
	switch cal.CurrentUnit {
	case calibration.CurrentMicro:
		current -= math.Abs(voltage / cal.FeedbackResistance)
	case calibration.CurrentMilli:
		current /= 1000
	}
	return current, voltage, nil
}

// EncodeTelemetry builds a telemetry frame from raw current and voltage
// codes, in the byte order DecodeTelemetry reads them.
func EncodeTelemetry(currentCode, voltageCode uint16) [FrameSize]byte {
	return [FrameSize]byte{
		byte(currentCode >> 8), byte(currentCode),
		byte(voltageCode >> 8), byte(voltageCode),
		FrameTerminator,
	}
}

// TelemetryCodes is the inverse of DecodeTelemetry: it returns the raw codes
// a device reports for the given physical reading, saturated to 16 bits.
func TelemetryCodes(current, voltage float64, cal calibration.Record) (currentCode, voltageCode uint16) {
	u := math.Abs(voltage) * float64(cal.ADCFullScaleCode) * ADCMeanCount / cal.VoltageMax

	i := current
	switch cal.CurrentUnit {
	case calibration.CurrentMicro:
		i += math.Abs(voltage / cal.FeedbackResistance)
	case calibration.CurrentMilli:
		i *= 1000
	}
	i = i * float64(cal.DACFullScaleCode) / cal.CurrentMax

	return saturate(i), saturate(u)
}

func saturate(v float64) uint16 {
	v = math.Round(v)
	switch {
	case v <= 0 || math.IsNaN(v):
		return 0
	case v >= math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(v)
}
