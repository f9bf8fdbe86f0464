package config

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	pkgerrors "github.com/pkg/errors"
	yml "gopkg.in/yaml.v2"

	"github.com/npm-group/hvctl/pkg/generator"
	"github.com/npm-group/hvctl/pkg/link"
)

const (
	DefaultPath   = "/etc/hvctl.yaml"
	DefaultSocket = "/var/run/hvctl.sock"
	EnvPrefix     = "HVCTL_"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BaudRate:        link.DefaultBaudRate,
		ReadTimeout:     200 * time.Millisecond,
		OpenTimeout:     time.Second,
		CalibrationFile: "/etc/hvctl/devices.csv",
		CoefficientFile: "/etc/hvctl/coefficients.csv",
		PowerRating:     15,
		MinTick:         generator.DefaultMinTick,
		PollInterval:    2 * time.Second,
		Socket:          DefaultSocket,
		AutoReset:       true,
		Metrics:         true,
		Generator:       Generator{Kind: string(generator.KindSquareWave)},
	}
}

// Load reads defaults, the YAML file at path if it exists, and the
// environment, in that order. Nested keys are separated by a double
// underscore in variable names: HVCTL_SCHEDULE__RUN_FOR=10m.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to load defaults")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, pkgerrors.Wrapf(err, "failed to load config %s", path)
			}
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to load environment")
	}

	c := &Config{}
	if err := k.Unmarshal("", c); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to decode config")
	}
	if err := c.Validate(); err != nil {
		return nil, pkgerrors.Wrap(err, "invalid config")
	}
	return c, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Write encodes c as YAML, the format Load reads.
func Write(w io.Writer, c Config) error {
	enc := yml.NewEncoder(w)
	if err := enc.Encode(c); err != nil {
		return pkgerrors.Wrap(err, "failed to encode config")
	}
	return enc.Close()
}

// WriteFile writes c to path unless a file already exists there.
func WriteFile(path string, c Config) error {
	fp, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to create %s", path)
	}
	defer fp.Close()
	return Write(fp, c)
}
