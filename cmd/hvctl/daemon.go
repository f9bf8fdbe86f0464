package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/npm-group/hvctl/pkg/calibration"
	"github.com/npm-group/hvctl/pkg/config"
	"github.com/npm-group/hvctl/pkg/daemon"
	"github.com/npm-group/hvctl/pkg/link"
	"github.com/npm-group/hvctl/pkg/version"
)

var (
	// alwaysAllowNonRootAccess indicates whether to always allow non-root users to access the hvctl daemon.
	alwaysAllowNonRootAccess = false
	// fakeDevice replaces the serial port with a simulated supply.
	fakeDevice = false
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "daemon",
		Short:       "Run hvctl daemon in the foreground",
		GroupID:     gAdvanced,
		Annotations: map[string]string{annotationLocal: "true"},
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("hvctl daemon starting")

			var opts daemon.Options
			if fakeDevice {
				var err error
				opts, err = fakeOptions()
				if err != nil {
					return err
				}
			}
			return daemon.Run(configPath, unixSocketPath, alwaysAllowNonRootAccess, opts)
		},
	}

	f := cmd.Flags()

	f.BoolVar(&alwaysAllowNonRootAccess, "always-allow-non-root-access", false,
		"Always allow non-root users to access the daemon.")
	f.BoolVar(&fakeDevice, "fake-device", false,
		"Simulate the configured device instead of opening the serial port.")

	return cmd
}

func fakeOptions() (daemon.Options, error) {
	conf, err := config.Load(configPath)
	if err != nil {
		return daemon.Options{}, err
	}
	store, err := calibration.LoadFiles(conf.CalibrationFile, conf.CoefficientFile, logrus.StandardLogger())
	if err != nil {
		return daemon.Options{}, err
	}
	rec, err := store.Record(conf.Device)
	if err != nil {
		return daemon.Options{}, err
	}
	dev := link.NewFakeDevice(rec)
	// ramp like a real supply so the closed loop variants have to wait
	dev.Slew = rec.VoltageMax / 20
	logrus.Warnf("using a simulated %s, the serial port is not opened", rec.Name)
	return daemon.Options{Link: dev, Store: store}, nil
}
