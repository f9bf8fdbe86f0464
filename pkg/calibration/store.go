package calibration

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned when no record exists for a device name or
	// nominal voltage.
	ErrNotFound = errors.New("calibration not found")

	// ErrIO is returned when a calibration source cannot be read or parsed.
	ErrIO = errors.New("calibration source unreadable")
)

var recordColumns = []string{
	"name", "adc_full_scale_code", "dac_full_scale_code", "voltage_max", "voltage_min",
	"voltage_step", "current_step", "polarity", "sensor_resistance", "feedback_resistance",
	"current_min", "current_max", "current_units",
}

var coefficientColumns = []string{
	"voltage", "voltage_coefficient",
	"current_coefficient_6w", "current_coefficient_15w", "current_coefficient_60w",
}

// Store is a read-only lookup over calibration tables.
type Store struct {
	records      map[string]Record
	coefficients map[int]Coefficient
	log          logrus.FieldLogger
}

// NewStore returns an empty store. A nil logger falls back to the standard
// logrus logger.
func NewStore(log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		records:      make(map[string]Record),
		coefficients: make(map[int]Coefficient),
		log:          log.WithField("component", "calibration"),
	}
}

// LoadFiles reads the record table and, if coefficientPath is not empty, the
// coefficient table.
func LoadFiles(recordPath, coefficientPath string, log logrus.FieldLogger) (*Store, error) {
	s := NewStore(log)
	if err := s.readFile(recordPath, s.ReadRecords); err != nil {
		return nil, err
	}
	if coefficientPath == "" {
		return s, nil
	}
	if err := s.readFile(coefficientPath, s.ReadCoefficients); err != nil {
		// Coefficients only flag drift, a missing table is not fatal.
		s.log.WithError(err).Warn("coefficient table not loaded, consistency checks disabled")
	}
	return s, nil
}

func (s *Store) readFile(path string, read func(io.Reader) error) error {
	fp, err := os.Open(path)
	if err != nil {
		return pkgerrors.Wrapf(ErrIO, "failed to open %s: %v", path, err)
	}
	defer func(fp *os.File) {
		if err := fp.Close(); err != nil {
			s.log.Warnf("failed to close file %s", path)
		}
	}(fp)

	if err := read(fp); err != nil {
		return pkgerrors.Wrapf(err, "failed to load %s", path)
	}
	return nil
}

// ReadRecords parses a device table. Rows that fail validation are skipped
// and logged, a malformed table is reported as ErrIO.
func (s *Store) ReadRecords(r io.Reader) error {
	rows, err := readTable(r, recordColumns)
	if err != nil {
		return err
	}
	for i, row := range rows {
		rec, err := parseRecord(row)
		if err == nil {
			err = rec.Validate()
		}
		if err != nil {
			s.log.WithError(err).WithField("row", i+2).Warn("skipping invalid calibration row")
			continue
		}
		if _, dup := s.records[rec.Name]; dup {
			s.log.WithField("name", rec.Name).Warn("duplicate calibration record, keeping the last one")
		}
		s.records[rec.Name] = rec
	}
	s.log.WithField("count", len(s.records)).Debug("calibration records loaded")
	return nil
}

// ReadCoefficients parses a coefficient table.
func (s *Store) ReadCoefficients(r io.Reader) error {
	rows, err := readTable(r, coefficientColumns)
	if err != nil {
		return err
	}
	for i, row := range rows {
		c, err := parseCoefficient(row)
		if err != nil {
			s.log.WithError(err).WithField("row", i+2).Warn("skipping invalid coefficient row")
			continue
		}
		s.coefficients[c.NominalVoltage] = c
	}
	return nil
}

// Record looks up a device model by name.
func (s *Store) Record(name string) (Record, error) {
	rec, ok := s.records[name]
	if !ok {
		return Record{}, pkgerrors.Wrapf(ErrNotFound, "device %q", name)
	}
	return rec, nil
}

// Coefficient looks up the cross-check coefficients by nominal voltage.
func (s *Store) Coefficient(nominalVoltage int) (Coefficient, error) {
	c, ok := s.coefficients[nominalVoltage]
	if !ok {
		return Coefficient{}, pkgerrors.Wrapf(ErrNotFound, "coefficients for %dV", nominalVoltage)
	}
	return c, nil
}

// Names returns the known device names, sorted.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.records))
	for n := range s.records {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type row map[string]string

func readTable(r io.Reader, required []string) ([]row, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, pkgerrors.Wrapf(ErrIO, "failed to read header: %v", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return nil, pkgerrors.Wrapf(ErrIO, "missing column %q", col)
		}
	}

	var rows []row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, pkgerrors.Wrapf(ErrIO, "%v", err)
		}
		rw := make(row, len(index))
		for col, i := range index {
			if i < len(rec) {
				rw[col] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, rw)
	}
	return rows, nil
}

func (r row) float(col string) (float64, error) {
	v, err := strconv.ParseFloat(r[col], 64)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "column %s", col)
	}
	return v, nil
}

func (r row) int(col string) (int, error) {
	v, err := strconv.Atoi(r[col])
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "column %s", col)
	}
	return v, nil
}

func parseRecord(r row) (Record, error) {
	var (
		rec Record
		err error
	)
	rec.Name = r["name"]
	if rec.ADCFullScaleCode, err = r.int("adc_full_scale_code"); err != nil {
		return rec, err
	}
	if rec.DACFullScaleCode, err = r.int("dac_full_scale_code"); err != nil {
		return rec, err
	}
	floats := []struct {
		col string
		dst *float64
	}{
		{"voltage_max", &rec.VoltageMax},
		{"voltage_min", &rec.VoltageMin},
		{"voltage_step", &rec.VoltageStep},
		{"current_step", &rec.CurrentStep},
		{"sensor_resistance", &rec.SenseResistance},
		{"feedback_resistance", &rec.FeedbackResistance},
		{"current_min", &rec.CurrentMin},
		{"current_max", &rec.CurrentMax},
	}
	for _, f := range floats {
		if *f.dst, err = r.float(f.col); err != nil {
			return rec, err
		}
	}
	if rec.Polarity, err = ParsePolarity(r["polarity"]); err != nil {
		return rec, err
	}
	if rec.CurrentUnit, err = ParseCurrentUnit(r["current_units"]); err != nil {
		return rec, err
	}
	return rec, nil
}

func parseCoefficient(r row) (Coefficient, error) {
	var (
		c   Coefficient
		err error
	)
	voltage, err := r.float("voltage")
	if err != nil {
		return c, err
	}
	c.NominalVoltage = int(voltage)
	if c.VoltageCoefficient, err = r.float("voltage_coefficient"); err != nil {
		return c, err
	}
	c.CurrentCoefficients = make(map[PowerRating]float64, len(PowerRatings))
	for _, p := range PowerRatings {
		col := "current_coefficient_" + strconv.Itoa(int(p)) + "w"
		if r[col] == "" {
			continue
		}
		v, err := r.float(col)
		if err != nil {
			return c, err
		}
		c.CurrentCoefficients[p] = v
	}
	return c, nil
}
