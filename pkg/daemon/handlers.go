package daemon

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/npm-group/hvctl/pkg/channel"
	"github.com/npm-group/hvctl/pkg/generator"
	"github.com/npm-group/hvctl/pkg/protocol"
	"github.com/npm-group/hvctl/pkg/reactor"
	"github.com/npm-group/hvctl/pkg/types"
	"github.com/npm-group/hvctl/pkg/version"
)

// Router returns the HTTP API.
func (d *Daemon) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))

	router.GET("/status", d.getStatus)
	router.GET("/calibration", d.getCalibration)
	router.GET("/telemetry", d.getTelemetry)
	router.POST("/open", d.postOpen)
	router.POST("/close", d.postClose)
	router.PUT("/setpoint", d.putSetpoint)
	router.POST("/apply", d.postApply)
	router.POST("/reset", d.postReset)

	router.GET("/generator", d.getGenerator)
	router.PUT("/generator", d.putGenerator)
	router.POST("/generator/start", d.postGeneratorStart)
	router.POST("/generator/stop", d.postGeneratorStop)

	router.GET("/schedule", d.getSchedule)
	router.PUT("/schedule", d.putSchedule)
	router.DELETE("/schedule", d.deleteSchedule)
	router.POST("/schedule/skip", d.postScheduleSkip)

	router.GET("/events", d.getEvents)
	if d.conf.Metrics {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})))
	}
	router.GET("/version", getVersion)

	return router
}

func abort(c *gin.Context, err error) {
	code := statusCode(err)
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, channel.ErrBusy), errors.Is(err, generator.ErrRunning):
		return http.StatusConflict
	case errors.Is(err, channel.ErrClosed), errors.Is(err, reactor.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, protocol.ErrOutOfRange), errors.Is(err, generator.ErrInvalidParameters), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("bad request")

func badRequest(err error) error {
	return pkgerrors.Wrap(errBadRequest, err.Error())
}

// do runs fn on the reactor. It returns false once an error response has
// been written.
func (d *Daemon) do(c *gin.Context, fn func() error) bool {
	var err error
	if derr := d.reactor.Do(c.Request.Context(), func() { err = fn() }); derr != nil {
		err = derr
	}
	if err != nil {
		abort(c, err)
		return false
	}
	return true
}

func (d *Daemon) getStatus(c *gin.Context) {
	var st types.Status
	ok := d.do(c, func() error {
		st = types.Status{
			Port:      d.conf.Port,
			Channel:   d.ch.Status(),
			Generator: d.generatorStatus(),
			Telemetry: d.telemetry,
		}
		return nil
	})
	if !ok {
		return
	}
	st.Schedule = d.schedule()
	c.IndentedJSON(http.StatusOK, st)
}

func (d *Daemon) getCalibration(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, types.Calibration{
		Record:      d.cal,
		Coefficient: d.coeff,
		PowerRating: d.conf.PowerRating,
		Warnings:    d.ch.Warnings(),
	})
}

func (d *Daemon) getTelemetry(c *gin.Context) {
	var t types.Telemetry
	ok := d.do(c, func() error {
		if !d.ch.IsOpen() {
			return channel.ErrClosed
		}
		t = d.readTelemetry()
		return nil
	})
	if ok {
		c.IndentedJSON(http.StatusOK, t)
	}
}

func (d *Daemon) postOpen(c *gin.Context) {
	ok := d.do(c, func() error {
		d.wantOpen = true
		d.ch.Open()
		if !d.ch.IsOpen() {
			return pkgerrors.Wrapf(channel.ErrClosed, "failed to open %s", d.conf.Port)
		}
		return nil
	})
	if ok {
		logrus.Infof("channel opened on %s", d.conf.Port)
		c.IndentedJSON(http.StatusCreated, "ok")
	}
}

func (d *Daemon) postClose(c *gin.Context) {
	ok := d.do(c, func() error {
		if holder := d.ch.Holder(); holder != "" {
			return pkgerrors.Wrapf(channel.ErrBusy, "generator started by %s", holder)
		}
		d.wantOpen = false
		d.closeChannel()
		return nil
	})
	if ok {
		c.IndentedJSON(http.StatusCreated, "ok")
	}
}

func (d *Daemon) putSetpoint(c *gin.Context) {
	var sp channel.Setpoint
	if err := c.ShouldBindJSON(&sp); err != nil {
		abort(c, badRequest(err))
		return
	}
	ok := d.do(c, func() error {
		return d.manual(func() error { return d.ch.Set(sp.Voltage, sp.Current) })
	})
	if ok {
		logrus.Infof("staged %gV %g%s", sp.Voltage, sp.Current, d.cal.CurrentLabel())
		c.IndentedJSON(http.StatusCreated, "ok")
	}
}

func (d *Daemon) postApply(c *gin.Context) {
	ok := d.do(c, func() error {
		return d.manual(func() error {
			d.ch.Apply()
			return nil
		})
	})
	if ok {
		c.IndentedJSON(http.StatusCreated, "ok")
	}
}

func (d *Daemon) postReset(c *gin.Context) {
	ok := d.do(c, func() error {
		return d.manual(func() error {
			d.ch.Reset()
			return nil
		})
	})
	if ok {
		c.IndentedJSON(http.StatusCreated, "ok")
	}
}

func (d *Daemon) getGenerator(c *gin.Context) {
	var g types.Generator
	ok := d.do(c, func() error {
		g = types.Generator{
			Parameters: d.params.Clone(),
			Status:     d.generatorStatus(),
			MinTick:    d.conf.MinTick.String(),
			Kinds:      generator.Kinds,
		}
		return nil
	})
	if ok {
		c.IndentedJSON(http.StatusOK, g)
	}
}

func (d *Daemon) putGenerator(c *gin.Context) {
	var p generator.Parameters
	if err := c.ShouldBindJSON(&p); err != nil {
		abort(c, badRequest(err))
		return
	}
	if p.Kind != "" {
		kind, err := generator.ParseKind(string(p.Kind))
		if err != nil {
			abort(c, err)
			return
		}
		p.Kind = kind
	}
	ok := d.do(c, func() error {
		if d.gen != nil && d.gen.Running() {
			return generator.ErrRunning
		}
		next := p.Merge(d.params)
		if err := next.Validate(d.cal, d.conf.MinTick); err != nil {
			return err
		}
		d.params = next.Clone()
		return nil
	})
	if ok {
		logrus.WithField("kind", p.Kind).Info("generator parameters updated")
		c.IndentedJSON(http.StatusCreated, "ok")
	}
}

func (d *Daemon) postGeneratorStart(c *gin.Context) {
	ok := d.do(c, func() error {
		_, err := d.startGenerator(ownerAPI)
		return err
	})
	if ok {
		c.IndentedJSON(http.StatusCreated, "ok")
	}
}

func (d *Daemon) postGeneratorStop(c *gin.Context) {
	var stopped bool
	ok := d.do(c, func() error {
		stopped = d.stopGenerator("stopped by api")
		return nil
	})
	if !ok {
		return
	}
	if !stopped {
		c.IndentedJSON(http.StatusOK, "generator is not running")
		return
	}
	c.IndentedJSON(http.StatusCreated, "ok")
}

func (d *Daemon) getSchedule(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.schedule())
}

func (d *Daemon) putSchedule(c *gin.Context) {
	var s types.Schedule
	if err := c.ShouldBindJSON(&s); err != nil {
		abort(c, badRequest(err))
		return
	}
	runFor, err := time.ParseDuration(s.RunFor)
	if err != nil {
		abort(c, badRequest(err))
		return
	}
	if err := d.SetSchedule(s.Cron, runFor); err != nil {
		abort(c, badRequest(err))
		return
	}
	c.IndentedJSON(http.StatusCreated, d.schedule())
}

func (d *Daemon) deleteSchedule(c *gin.Context) {
	d.ClearSchedule()
	logrus.Info("generator schedule cleared")
	c.IndentedJSON(http.StatusOK, "ok")
}

func (d *Daemon) postScheduleSkip(c *gin.Context) {
	if err := d.scheduler.Skip(); err != nil {
		abort(c, badRequest(err))
		return
	}
	c.IndentedJSON(http.StatusCreated, d.schedule())
}

func (d *Daemon) getEvents(c *gin.Context) {
	events, cancel := d.hub.Subscribe()
	defer cancel()

	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev.Data)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
