package calibration

import (
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func loadTestdata(t *testing.T) *Store {
	t.Helper()
	s, err := LoadFiles(filepath.Join("testdata", "devices.csv"), filepath.Join("testdata", "coefficients.csv"), nil)
	if err != nil {
		t.Fatalf("LoadFiles returned error: %v", err)
	}
	return s
}

func TestStoreRecord(t *testing.T) {
	s := loadTestdata(t)

	rec, err := s.Record("HV-3000N")
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if rec.Polarity != PolarityInverted || rec.CurrentUnit != CurrentMicro {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.DACFullScaleCode != 4095 || rec.VoltageMax != 3000 || rec.FeedbackResistance != 1e7 {
		t.Errorf("unexpected constants %+v", rec)
	}

	milli, err := s.Record("HV-500M")
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if milli.CurrentLabel() != "mA" || milli.CurrentStepInUnits() != 0.0305 {
		t.Errorf("unexpected milli record %+v", milli)
	}

	if _, err := s.Record("HV-9000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreSkipsInvalidRows(t *testing.T) {
	s := loadTestdata(t)

	want := []string{"HV-3000", "HV-3000N", "HV-500M"}
	if got := s.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	if _, err := s.Record("broken"); !errors.Is(err, ErrNotFound) {
		t.Errorf("invalid row should not be loaded, got %v", err)
	}
}

func TestStoreCoefficient(t *testing.T) {
	s := loadTestdata(t)

	c, err := s.Coefficient(3000)
	if err != nil {
		t.Fatalf("Coefficient returned error: %v", err)
	}
	if c.VoltageCoefficient != 1.365 {
		t.Errorf("unexpected voltage coefficient %g", c.VoltageCoefficient)
	}
	if v, ok := c.CurrentCoefficient(Power6W); !ok || v != 10.2375 {
		t.Errorf("CurrentCoefficient(6W) = %g, %v", v, ok)
	}
	if _, ok := c.CurrentCoefficient(Power15W); ok {
		t.Errorf("empty cell should not yield a coefficient")
	}

	if _, err := s.Coefficient(1000); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadFilesErrors(t *testing.T) {
	if _, err := LoadFiles(filepath.Join("testdata", "missing.csv"), "", nil); !errors.Is(err, ErrIO) {
		t.Errorf("expected ErrIO for a missing record table, got %v", err)
	}

	// a missing coefficient table only disables the cross-check
	s, err := LoadFiles(filepath.Join("testdata", "devices.csv"), filepath.Join("testdata", "missing.csv"), nil)
	if err != nil {
		t.Fatalf("LoadFiles returned error: %v", err)
	}
	if _, err := s.Coefficient(3000); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected no coefficients, got %v", err)
	}
}

func TestReadRecordsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		table string
	}{
		{name: "empty", table: ""},
		{name: "missing column", table: "name,adc_full_scale_code\nHV,4095\n"},
		{name: "unbalanced quote", table: strings.Join(recordColumns, ",") + "\n\"HV,4095\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(nil)
			if err := s.ReadRecords(strings.NewReader(tt.table)); !errors.Is(err, ErrIO) {
				t.Fatalf("expected ErrIO, got %v", err)
			}
		})
	}
}

func TestReadRecordsColumnOrder(t *testing.T) {
	table := "CURRENT_UNITS, name, adc_full_scale_code, dac_full_scale_code, voltage_max, voltage_min, voltage_step, " +
		"current_step, polarity, sensor_resistance, feedback_resistance, current_min, current_max, comment\n" +
		"milli, HV-1, 1000, 2000, 100, 0, 0.05, 1, -1, 10, 100, 0, 10, spare unit\n"
	s := NewStore(nil)
	if err := s.ReadRecords(strings.NewReader(table)); err != nil {
		t.Fatalf("ReadRecords returned error: %v", err)
	}
	rec, err := s.Record("HV-1")
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	want := Record{
		Name:               "HV-1",
		ADCFullScaleCode:   1000,
		DACFullScaleCode:   2000,
		VoltageMax:         100,
		VoltageStep:        0.05,
		CurrentStep:        1,
		Polarity:           PolarityInverted,
		SenseResistance:    10,
		FeedbackResistance: 100,
		CurrentMax:         10,
		CurrentUnit:        CurrentMilli,
	}
	if !reflect.DeepEqual(rec, want) {
		t.Fatalf("got %+v, want %+v", rec, want)
	}
}

func TestParsePowerRating(t *testing.T) {
	for _, w := range []int{6, 15, 60} {
		if p, err := ParsePowerRating(w); err != nil || int(p) != w {
			t.Errorf("ParsePowerRating(%d) = %v, %v", w, p, err)
		}
	}
	if _, err := ParsePowerRating(30); err == nil {
		t.Errorf("expected error for 30W")
	}
}
