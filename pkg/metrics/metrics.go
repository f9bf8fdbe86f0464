// Package metrics exposes prometheus collectors for link, codec and
// generator activity. A nil *Recorder is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hvctl"

// Recorder groups the collectors of one daemon.
type Recorder struct {
	commands         *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	transportErrors  *prometheus.CounterVec
	malformedFrames  prometheus.Counter
	calibrationDrift prometheus.Counter
	linkOpen         prometheus.Gauge
	voltage          prometheus.Gauge
	current          prometheus.Gauge
	generatorTicks   *prometheus.CounterVec
	generatorAborts  *prometheus.CounterVec
	generatorRunning prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands written to the device",
		}, []string{"command"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Duration of device command writes",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"command"}),
		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Link failures that closed the channel",
		}, []string{"op"}),
		malformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_frames_total",
			Help:      "Telemetry frames dropped for a bad size or terminator",
		}),
		calibrationDrift: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calibration_warnings_total",
			Help:      "Calibration records that disagree with the coefficient table",
		}),
		linkOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_open",
			Help:      "1 when the channel is open",
		}),
		voltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voltage_volts",
			Help:      "Last measured output voltage",
		}),
		current: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current",
			Help:      "Last measured output current in device units",
		}),
		generatorTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_ticks_total",
			Help:      "Generator ticks by kind",
		}, []string{"kind"}),
		generatorAborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_aborts_total",
			Help:      "Generator runs aborted because the channel closed",
		}, []string{"kind"}),
		generatorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generator_running",
			Help:      "1 while a generator drives the channel",
		}),
	}

	collectors := []prometheus.Collector{
		r.commands, r.commandDuration, r.transportErrors, r.malformedFrames, r.calibrationDrift,
		r.linkOpen, r.voltage, r.current, r.generatorTicks, r.generatorAborts, r.generatorRunning,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) Command(command string, seconds float64) {
	if r == nil {
		return
	}
	r.commands.WithLabelValues(command).Inc()
	r.commandDuration.WithLabelValues(command).Observe(seconds)
}

func (r *Recorder) TransportError(op string) {
	if r == nil {
		return
	}
	r.transportErrors.WithLabelValues(op).Inc()
}

func (r *Recorder) MalformedFrame() {
	if r == nil {
		return
	}
	r.malformedFrames.Inc()
}

func (r *Recorder) CalibrationWarnings(n int) {
	if r == nil {
		return
	}
	r.calibrationDrift.Add(float64(n))
}

func (r *Recorder) LinkOpen(open bool) {
	if r == nil {
		return
	}
	r.linkOpen.Set(boolToFloat(open))
}

func (r *Recorder) Reading(current, voltage float64) {
	if r == nil {
		return
	}
	r.current.Set(current)
	r.voltage.Set(voltage)
}

func (r *Recorder) GeneratorTick(kind string) {
	if r == nil {
		return
	}
	r.generatorTicks.WithLabelValues(kind).Inc()
}

func (r *Recorder) GeneratorAbort(kind string) {
	if r == nil {
		return
	}
	r.generatorAborts.WithLabelValues(kind).Inc()
}

func (r *Recorder) GeneratorRunning(running bool) {
	if r == nil {
		return
	}
	r.generatorRunning.Set(boolToFloat(running))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
