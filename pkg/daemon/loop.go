package daemon

import (
	"time"

	"github.com/npm-group/hvctl/pkg/types"
)

// poll runs every poll_interval on the reactor. An open channel is read so
// that a dead link is noticed even when nothing else talks to the device;
// a closed channel the operator did not close is reopened.
func (d *Daemon) poll() {
	if !d.ch.IsOpen() {
		if d.wantOpen {
			d.ch.Open()
		}
		return
	}
	d.readTelemetry()
}

// readTelemetry takes one reading and keeps it for GET /status. Reactor only.
func (d *Daemon) readTelemetry() types.Telemetry {
	current, voltage := d.ch.ReadIU()
	d.telemetry = types.Telemetry{
		Voltage:     voltage,
		Current:     current,
		CurrentUnit: d.cal.CurrentLabel(),
		Time:        time.Now(),
	}
	return d.telemetry
}
