package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/npm-group/hvctl/pkg/calibration"
	"github.com/npm-group/hvctl/pkg/channel"
	"github.com/npm-group/hvctl/pkg/config"
	"github.com/npm-group/hvctl/pkg/events"
	"github.com/npm-group/hvctl/pkg/generator"
	"github.com/npm-group/hvctl/pkg/link"
	"github.com/npm-group/hvctl/pkg/metrics"
	"github.com/npm-group/hvctl/pkg/reactor"
	"github.com/npm-group/hvctl/pkg/types"
)

// Reactor serializes every device access of the daemon. HTTP handlers and
// the cron scheduler enter it with Do, generator ticks and the telemetry
// poller are its timers.
type Reactor interface {
	reactor.Scheduler
	Do(ctx context.Context, fn func()) error
}

// Options overrides the components New would otherwise build from the
// configuration.
type Options struct {
	// Link is the serial port named in the config when nil.
	Link link.Link
	// Reactor is a reactor.Loop run by Run when nil.
	Reactor Reactor
	// Store is loaded from calibration_file and coefficient_file when nil.
	Store    *calibration.Store
	Registry *prometheus.Registry
	Logger   logrus.FieldLogger
}

// Daemon owns one HV channel and exposes it over HTTP.
type Daemon struct {
	conf      *config.Config
	log       logrus.FieldLogger
	reactor   Reactor
	loop      *reactor.Loop
	ch        *channel.Channel
	cal       calibration.Record
	coeff     *calibration.Coefficient
	hub       *events.Hub
	metrics   *metrics.Recorder
	registry  *prometheus.Registry
	scheduler *Scheduler

	// fields below are only touched on the reactor
	params     generator.Parameters
	gen        *generator.Generator
	lease      *channel.Lease
	runID      uint64
	wantOpen   bool
	telemetry  types.Telemetry
	pollHandle reactor.Handle

	mu       sync.Mutex
	cronExpr string
	runFor   time.Duration
}

// New wires the daemon. It does not touch the device; Start does.
func New(conf *config.Config, opts Options) (*Daemon, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	store := opts.Store
	if store == nil {
		var err error
		store, err = calibration.LoadFiles(conf.CalibrationFile, conf.CoefficientFile, log)
		if err != nil {
			return nil, err
		}
	}
	cal, err := store.Record(conf.Device)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "known devices: %v", store.Names())
	}
	power, err := calibration.ParsePowerRating(conf.PowerRating)
	if err != nil {
		return nil, err
	}
	var coeff *calibration.Coefficient
	if c, err := store.Coefficient(cal.NominalVoltage()); err == nil {
		coeff = &c
	} else {
		log.WithError(err).Warn("no coefficients for this device, consistency check skipped")
	}

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	rec, err := metrics.New(registry)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to register metrics")
	}

	l := opts.Link
	if l == nil {
		l = link.NewSerial(link.SerialConfig{
			Port:        conf.Port,
			BaudRate:    conf.BaudRate,
			ReadTimeout: conf.ReadTimeout,
			OpenTimeout: conf.OpenTimeout,
		}, log)
	}
	ch, err := channel.New(l, cal, channel.Options{
		Power:       power,
		Coefficient: coeff,
		Logger:      log,
		Metrics:     rec,
	})
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		conf:     conf,
		log:      log,
		reactor:  opts.Reactor,
		ch:       ch,
		cal:      cal,
		coeff:    coeff,
		hub:      events.NewHub(),
		metrics:  rec,
		registry: registry,
	}
	if d.reactor == nil {
		d.loop = reactor.New()
		d.reactor = d.loop
	}
	d.params = d.configParameters(conf)
	if err := d.params.Validate(cal, conf.MinTick); err != nil {
		log.WithError(err).Warn("configured generator parameters are invalid, fix them before starting")
	}
	d.scheduler = NewScheduler(d.scheduledRun, d.scheduledPreCheck, d.onUpcoming, d.onScheduleError)
	ch.OnStateChange(d.onLinkState)
	return d, nil
}

func (d *Daemon) configParameters(conf *config.Config) generator.Parameters {
	return conf.Parameters(generator.DefaultParameters(generator.KindSquareWave, d.cal, conf.MinTick))
}

// Start opens the channel and starts the telemetry poller and the
// schedule. The reactor must be running.
func (d *Daemon) Start(ctx context.Context) error {
	err := d.reactor.Do(ctx, func() {
		d.wantOpen = true
		d.ch.Open()
		d.pollHandle = d.reactor.SchedulePeriodic(d.conf.PollInterval, d.poll)
	})
	if err != nil {
		return err
	}

	if d.conf.Schedule.Cron != "" {
		if err := d.SetSchedule(d.conf.Schedule.Cron, d.conf.Schedule.RunFor); err != nil {
			return err
		}
	}
	d.scheduler.Start()
	return nil
}

// Shutdown stops every activity and leaves the output at zero when
// auto_reset is set.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.scheduler.Stop()
	return d.reactor.Do(ctx, func() {
		d.reactor.Cancel(d.pollHandle)
		d.stopGenerator("daemon shutdown")
		d.wantOpen = false
		d.closeChannel()
	})
}

// Reload applies the parts of conf that can change at runtime: the
// generator parameters, if no generator is running, and the schedule.
func (d *Daemon) Reload(ctx context.Context, conf *config.Config) error {
	if conf.Device != d.conf.Device || conf.Port != d.conf.Port {
		d.log.Warn("device and port changes take effect after a restart")
	}
	params := d.configParameters(conf)
	err := d.reactor.Do(ctx, func() {
		if d.gen != nil && d.gen.Running() {
			d.log.Warn("generator is running, keeping its parameters")
			return
		}
		d.params = params
	})
	if err != nil {
		return err
	}
	if conf.Schedule.Cron == "" {
		d.ClearSchedule()
		return nil
	}
	return d.SetSchedule(conf.Schedule.Cron, conf.Schedule.RunFor)
}

func (d *Daemon) onLinkState(open bool) {
	d.log.WithField("open", open).Info("link state changed")
	d.hub.Publish(events.LinkState, events.LinkStateEvent{
		Device: d.cal.Name,
		Port:   d.conf.Port,
		Open:   open,
	})
}

// closeChannel resets the output first when auto_reset is set. Reactor only.
func (d *Daemon) closeChannel() {
	if d.conf.AutoReset {
		d.ch.Reset()
	}
	d.ch.Close()
}

// Run starts the daemon and serves the HTTP API on a unix socket until
// SIGINT or SIGTERM. SIGHUP reloads the config file.
func Run(configPath string, socketOverride string, allowNonRoot bool, opts Options) error {
	conf, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if socketOverride != "" {
		conf.Socket = socketOverride
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	d, err := New(conf, opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loopDone := make(chan struct{})
	if d.loop != nil {
		go func() {
			defer close(loopDone)
			if err := d.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logrus.Errorf("reactor exited: %v", err)
			}
		}()
	} else {
		close(loopDone)
	}

	// a socket left behind by a crashed daemon blocks Listen
	if err := os.Remove(conf.Socket); err != nil && !os.IsNotExist(err) {
		return pkgerrors.Wrapf(err, "failed to remove stale socket %s", conf.Socket)
	}
	l, err := net.Listen("unix", conf.Socket)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to listen on %s", conf.Socket)
	}
	if conf.AllowNonRoot || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", conf.Socket)
		if err := os.Chmod(conf.Socket, 0777); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Handler:           d.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	if err := d.Start(ctx); err != nil {
		return pkgerrors.Wrap(err, "failed to start daemon")
	}

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			next, err := config.Load(configPath)
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			if err := d.Reload(ctx, next); err != nil {
				logrus.Errorf("failed to apply reloaded config: %v", err)
				continue
			}
			logrus.Infof("config reloaded")
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("shutting down http server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}

	logrus.Info("stopping generator and closing the channel")
	if err := d.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("failed to shut the channel down: %v", err)
	}

	cancel()
	<-loopDone
	logrus.Info("exiting")
	return nil
}
