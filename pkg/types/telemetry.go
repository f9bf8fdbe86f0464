// Package types holds the JSON contract shared by the daemon and its client.
package types

import (
	"time"

	"github.com/npm-group/hvctl/pkg/calibration"
	"github.com/npm-group/hvctl/pkg/channel"
	"github.com/npm-group/hvctl/pkg/generator"
	"github.com/npm-group/hvctl/pkg/protocol"
)

// Telemetry is one reading of the supply output.
type Telemetry struct {
	Voltage float64 `json:"voltage"`
	Current float64 `json:"current"`
	// CurrentUnit is the label of Current, µA or mA.
	CurrentUnit string    `json:"currentUnit"`
	Time        time.Time `json:"time"`
}

// Status is returned by GET /status.
type Status struct {
	Port      string           `json:"port"`
	Channel   channel.Status   `json:"channel"`
	Generator generator.Status `json:"generator"`
	Telemetry Telemetry        `json:"telemetry"`
	Schedule  Schedule         `json:"schedule"`
}

// Calibration is returned by GET /calibration.
type Calibration struct {
	Record      calibration.Record       `json:"record"`
	Coefficient *calibration.Coefficient `json:"coefficient,omitempty"`
	PowerRating int                      `json:"powerRating"`
	Warnings    []protocol.Warning       `json:"warnings,omitempty"`
}
