// Package config loads the daemon configuration.
//
// Values are layered: built-in defaults, then the YAML file, then HVCTL_
// environment variables. The configuration is read-only at runtime.
package config

import (
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/npm-group/hvctl/pkg/calibration"
	"github.com/npm-group/hvctl/pkg/generator"
)

// Config is the daemon configuration.
type Config struct {
	// Serial port of the supply, e.g. /dev/ttyUSB0.
	Port        string        `koanf:"port" yaml:"port"`
	BaudRate    int           `koanf:"baud_rate" yaml:"baud_rate"`
	ReadTimeout time.Duration `koanf:"read_timeout" yaml:"read_timeout"`
	OpenTimeout time.Duration `koanf:"open_timeout" yaml:"open_timeout"`

	// Device is the calibration record name of the attached supply.
	Device          string `koanf:"device" yaml:"device"`
	CalibrationFile string `koanf:"calibration_file" yaml:"calibration_file"`
	CoefficientFile string `koanf:"coefficient_file" yaml:"coefficient_file"`
	PowerRating     int    `koanf:"power_rating" yaml:"power_rating"`

	MinTick      time.Duration `koanf:"min_tick" yaml:"min_tick"`
	PollInterval time.Duration `koanf:"poll_interval" yaml:"poll_interval"`

	Socket       string `koanf:"socket" yaml:"socket"`
	AllowNonRoot bool   `koanf:"allow_non_root" yaml:"allow_non_root"`
	// AutoReset resets the output on close and after a generator stops.
	AutoReset bool `koanf:"auto_reset" yaml:"auto_reset"`
	Metrics   bool `koanf:"metrics" yaml:"metrics"`

	Generator Generator `koanf:"generator" yaml:"generator"`
	Schedule  Schedule  `koanf:"schedule" yaml:"schedule"`
}

// Generator holds the initial generator parameters. Zero sections are
// filled from the calibration record.
type Generator struct {
	Kind     string                       `koanf:"kind" yaml:"kind"`
	Scanning generator.ScanningParameters `koanf:"scanning" yaml:"scanning"`
	Stairs   generator.StairsParameters   `koanf:"stairs" yaml:"stairs"`
	Script   string                       `koanf:"script" yaml:"script"`
}

// Schedule starts the configured generator on a cron expression and stops
// it after RunFor. An empty Cron disables it.
type Schedule struct {
	Cron   string        `koanf:"cron" yaml:"cron"`
	RunFor time.Duration `koanf:"run_for" yaml:"run_for"`
}

// CronParser accepts an optional seconds field and descriptors like @hourly.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the values that cannot be fixed up with defaults.
func (c *Config) Validate() error {
	if c.Device == "" {
		return pkgerrors.New("device is not set")
	}
	if c.CalibrationFile == "" {
		return pkgerrors.New("calibration_file is not set")
	}
	if c.BaudRate <= 0 {
		return pkgerrors.Errorf("invalid baud_rate %d", c.BaudRate)
	}
	if _, err := calibration.ParsePowerRating(c.PowerRating); err != nil {
		return pkgerrors.Wrap(err, "power_rating")
	}
	if c.MinTick < generator.MinTickLower || c.MinTick > generator.MinTickUpper {
		return pkgerrors.Errorf("min_tick %v outside [%v, %v]", c.MinTick, generator.MinTickLower, generator.MinTickUpper)
	}
	if c.PollInterval <= 0 {
		return pkgerrors.Errorf("invalid poll_interval %v", c.PollInterval)
	}
	if c.Socket == "" {
		return pkgerrors.New("socket is not set")
	}
	if c.Generator.Kind != "" {
		if _, err := generator.ParseKind(c.Generator.Kind); err != nil {
			return pkgerrors.Wrap(err, "generator.kind")
		}
	}
	if c.Schedule.Cron != "" {
		if _, err := CronParser.Parse(c.Schedule.Cron); err != nil {
			return pkgerrors.Wrapf(err, "schedule.cron %q", c.Schedule.Cron)
		}
		if c.Schedule.RunFor <= 0 {
			return pkgerrors.New("schedule.run_for must be positive when schedule.cron is set")
		}
	}
	return nil
}

// Parameters converts the generator section for generator.New. Missing
// sections are merged from defaults.
func (c *Config) Parameters(defaults generator.Parameters) generator.Parameters {
	var p generator.Parameters
	if c.Generator.Kind != "" {
		// validated already
		p.Kind, _ = generator.ParseKind(c.Generator.Kind)
	}
	if c.Generator.Scanning != (generator.ScanningParameters{}) {
		s := c.Generator.Scanning
		p.Scanning = &s
	}
	if c.Generator.Stairs != (generator.StairsParameters{}) {
		s := c.Generator.Stairs
		p.Stairs = &s
	}
	if c.Generator.Script != "" {
		p.Custom = &generator.CustomParameters{Path: c.Generator.Script}
	}
	return p.Merge(defaults)
}

// LogrusFields returns the settings worth printing at startup.
func (c *Config) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"port":         c.Port,
		"baudRate":     c.BaudRate,
		"device":       c.Device,
		"powerRating":  c.PowerRating,
		"minTick":      c.MinTick,
		"pollInterval": c.PollInterval,
		"autoReset":    c.AutoReset,
		"allowNonRoot": c.AllowNonRoot,
		"schedule":     c.Schedule.Cron,
	}
}
