package main

import (
	"encoding/json"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/npm-group/hvctl/pkg/calibration"
	"github.com/npm-group/hvctl/pkg/types"
)

func NewStatusCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of the channel and the generator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetStatus()
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, st)
			}
			printStatus(cmd, st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status as JSON.")

	return cmd
}

func printStatus(cmd *cobra.Command, st *types.Status) {
	ch := st.Channel

	cmd.Println(bold("Channel:"))
	cmd.Printf("  Device: %s on %s\n", bold("%s", ch.Device), st.Port)
	cmd.Printf("  Open: %s\n", bool2Text(ch.Open))
	if ch.Holder != "" {
		cmd.Printf("  Held by: %s (manual control is locked)\n", color.YellowString(ch.Holder))
	}
	cmd.Printf("  Staged: %s\n", bold("%g V / %g", ch.Staged.Voltage, ch.Staged.Current))
	cmd.Printf("  Output: %s\n", bold("%g V / %g", ch.Output.Voltage, ch.Output.Current))
	for _, w := range ch.Warnings {
		cmd.Printf("  %s %s\n", color.YellowString("warning:"), w.String())
	}

	if !st.Telemetry.Time.IsZero() {
		cmd.Println()
		cmd.Println(bold("Last reading:"))
		cmd.Printf("  Voltage: %s\n", bold("%.1f V", st.Telemetry.Voltage))
		cmd.Printf("  Current: %s\n", bold("%.2f %s", st.Telemetry.Current, st.Telemetry.CurrentUnit))
		cmd.Printf("  Taken: %s ago\n", time.Since(st.Telemetry.Time).Round(time.Second))
	}

	cmd.Println()
	cmd.Println(bold("Generator:"))
	g := st.Generator
	state := "stopped"
	switch {
	case g.Running:
		state = color.GreenString("running")
	case g.Aborted:
		state = color.RedString("aborted (channel closed)")
	}
	cmd.Printf("  Kind: %s\n", bold("%s", g.Kind))
	cmd.Printf("  State: %s\n", bold("%s", state))
	if g.Running {
		if g.State != "" {
			cmd.Printf("  Phase: %s\n", g.State)
		}
		cmd.Printf("  Running for: %s (%d ticks)\n", time.Since(g.StartedAt).Round(time.Second), g.Ticks)
		cmd.Printf("  Setpoint: %s\n", bold("%g V / %g", g.Setpoint.Voltage, g.Setpoint.Current))
	}

	cmd.Println()
	printSchedule(cmd, &st.Schedule)
}

func NewCalibrationCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "calibration",
		Aliases: []string{"cal"},
		GroupID: gAdvanced,
		Short:   "Show the calibration record of the device",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cal, err := apiClient.GetCalibration()
			if err != nil {
				return err
			}

			r := cal.Record
			cmd.Println(bold("Record %s:", r.Name))
			cmd.Printf("  Voltage: %s\n", bold("%g..%g V, step %g V", r.VoltageMin, r.VoltageMax, r.VoltageStep))
			cmd.Printf("  Current: %s\n", bold("%g..%g %s, step %g µA", r.CurrentMin, r.CurrentMax, r.CurrentLabel(), r.CurrentStep))
			cmd.Printf("  Polarity: %s\n", r.Polarity)
			cmd.Printf("  Full scale codes: ADC %d, DAC %d\n", r.ADCFullScaleCode, r.DACFullScaleCode)
			cmd.Printf("  Resistors: sense %g Ω, feedback %g Ω\n", r.SenseResistance, r.FeedbackResistance)

			cmd.Println()
			cmd.Println(bold("Coefficients (%d W):", cal.PowerRating))
			if cal.Coefficient == nil {
				cmd.Println("  none for this nominal voltage, consistency is not checked")
				return nil
			}
			cmd.Printf("  Voltage: %g\n", cal.Coefficient.VoltageCoefficient)
			if c, ok := cal.Coefficient.CurrentCoefficient(calibration.PowerRating(cal.PowerRating)); ok {
				cmd.Printf("  Current: %g\n", c)
			} else {
				cmd.Println("  Current: not measured at this power rating")
			}
			cmd.Printf("  Consistent: %s\n", bool2Text(len(cal.Warnings) == 0))
			for _, w := range cal.Warnings {
				cmd.Printf("    %s\n", w.String())
			}
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(b))
	return nil
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
