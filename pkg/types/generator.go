package types

import "github.com/npm-group/hvctl/pkg/generator"

// Generator is returned by GET /generator.
type Generator struct {
	Parameters generator.Parameters `json:"parameters"`
	Status     generator.Status     `json:"status"`
	MinTick    string               `json:"minTick"`
	Kinds      []generator.Kind     `json:"kinds"`
}

// Schedule describes the cron triggered generator runs. RunFor uses the
// time.ParseDuration syntax.
type Schedule struct {
	Cron    string `json:"cron"`
	RunFor  string `json:"runFor"`
	Enabled bool   `json:"enabled"`
	// NextRun is empty when the schedule is disabled.
	NextRun string `json:"nextRun,omitempty"`
}
