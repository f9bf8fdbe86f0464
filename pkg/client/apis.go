package client

import (
	"net/http"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/npm-group/hvctl/pkg/channel"
	"github.com/npm-group/hvctl/pkg/generator"
	"github.com/npm-group/hvctl/pkg/types"
)

func (c *Client) GetStatus() (*types.Status, error) {
	var st types.Status
	if err := c.getJSON("/status", &st); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get status")
	}
	return &st, nil
}

func (c *Client) GetCalibration() (*types.Calibration, error) {
	var cal types.Calibration
	if err := c.getJSON("/calibration", &cal); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get calibration")
	}
	return &cal, nil
}

// GetTelemetry takes a fresh reading from the device.
func (c *Client) GetTelemetry() (*types.Telemetry, error) {
	var t types.Telemetry
	if err := c.getJSON("/telemetry", &t); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to read telemetry")
	}
	return &t, nil
}

func (c *Client) Open() (string, error) {
	return c.Post("/open", "")
}

func (c *Client) Close() (string, error) {
	return c.Post("/close", "")
}

// SetSetpoint stages a setpoint. Apply commits it.
func (c *Client) SetSetpoint(voltage, current float64) error {
	return c.sendJSON(http.MethodPut, "/setpoint", channel.Setpoint{Voltage: voltage, Current: current}, nil)
}

func (c *Client) Apply() (string, error) {
	return c.Post("/apply", "")
}

func (c *Client) Reset() (string, error) {
	return c.Post("/reset", "")
}

func (c *Client) GetGenerator() (*types.Generator, error) {
	var g types.Generator
	if err := c.getJSON("/generator", &g); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get generator")
	}
	return &g, nil
}

// SetGenerator updates the parameters of the next run. Nil sections keep
// their current values.
func (c *Client) SetGenerator(p generator.Parameters) error {
	return c.sendJSON(http.MethodPut, "/generator", p, nil)
}

func (c *Client) StartGenerator() (string, error) {
	return c.Post("/generator/start", "")
}

func (c *Client) StopGenerator() (string, error) {
	return c.Post("/generator/stop", "")
}

func (c *Client) GetSchedule() (*types.Schedule, error) {
	var s types.Schedule
	if err := c.getJSON("/schedule", &s); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get schedule")
	}
	return &s, nil
}

func (c *Client) SetSchedule(cron string, runFor time.Duration) (*types.Schedule, error) {
	var s types.Schedule
	in := types.Schedule{Cron: cron, RunFor: runFor.String()}
	if err := c.sendJSON(http.MethodPut, "/schedule", in, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) ClearSchedule() (string, error) {
	return c.Delete("/schedule")
}

func (c *Client) SkipSchedule() (*types.Schedule, error) {
	ret, err := c.Post("/schedule/skip", "")
	if err != nil {
		return nil, err
	}
	var s types.Schedule
	if err := unmarshal(ret, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	return unquote([]byte(ret)), nil
}
