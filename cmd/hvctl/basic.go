package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/npm-group/hvctl/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version",
		Annotations: map[string]string{annotationLocal: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewOpenCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "open",
		Short:   "Open the serial channel",
		GroupID: gBasic,
		Long: `Open the serial channel.

The daemon opens the channel on start and reopens it after a lost link. Use this after 'hvctl close'.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runVerb("open", apiClient.Open)
		},
	}
}

func NewCloseCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "close",
		Short:   "Reset the output and close the serial channel",
		GroupID: gBasic,
		Long: `Reset the output and close the serial channel.

The daemon does not reopen a channel closed this way until 'hvctl open'.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runVerb("close", apiClient.Close)
		},
	}
}

func NewSetCommand() *cobra.Command {
	apply := false

	cmd := &cobra.Command{
		Use:     "set [voltage] [current]",
		Short:   "Stage a setpoint",
		GroupID: gBasic,
		Long: `Stage a setpoint. Voltage is in V, current in the unit of the device (µA or mA).

The output changes only after 'hvctl apply', or immediately with --apply.`,
		Example: `  hvctl set 1500 20
  hvctl set 1500 20 --apply`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			voltage, err := parseFloatArg(args[0], "voltage")
			if err != nil {
				return err
			}
			current, err := parseFloatArg(args[1], "current")
			if err != nil {
				return err
			}

			if err := apiClient.SetSetpoint(voltage, current); err != nil {
				return fmt.Errorf("failed to set setpoint: %w", err)
			}
			logrus.Infof("staged %gV %g", voltage, current)

			if apply {
				return runVerb("apply", apiClient.Apply)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "Apply the setpoint right away.")

	return cmd
}

func NewApplyCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "apply",
		Short:   "Commit the staged setpoint to the output",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runVerb("apply", apiClient.Apply)
		},
	}
}

func NewResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "reset",
		Short:   "Drive the output to zero",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runVerb("reset", apiClient.Reset)
		},
	}
}

func NewReadCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "read",
		Short:   "Read output voltage and current",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := apiClient.GetTelemetry()
			if err != nil {
				return err
			}
			cmd.Printf("%s %s\n", bold("%.1f V", t.Voltage), bold("%.2f %s", t.Current, t.CurrentUnit))
			return nil
		},
	}
}
