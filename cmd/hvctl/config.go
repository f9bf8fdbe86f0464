package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/npm-group/hvctl/pkg/config"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "Inspect or create the daemon config file",
		GroupID:     gAdvanced,
		Annotations: map[string]string{annotationLocal: "true"},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective config: defaults, file and HVCTL_ environment",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				conf, err := config.Load(configPath)
				if err != nil {
					return err
				}
				return config.Write(os.Stdout, *conf)
			},
		},
		&cobra.Command{
			Use:   "init [device]",
			Short: "Write a default config file for a device",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				conf := config.Default()
				conf.Device = args[0]
				if err := config.WriteFile(configPath, conf); err != nil {
					return err
				}
				logrus.Infof("config written to %s", configPath)
				return nil
			},
		},
	)

	return cmd
}
