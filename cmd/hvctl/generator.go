package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/npm-group/hvctl/pkg/generator"
	"github.com/npm-group/hvctl/pkg/types"
)

func NewGeneratorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "generator",
		Aliases: []string{"gen"},
		Short:   "Configure and run waveform generators",
		GroupID: gGenerator,
		Long: `Configure and run waveform generators.

A running generator holds the channel: manual set, apply, reset and close are refused until it stops.
The generator also stops on its own when the channel closes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGeneratorShow(cmd)
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show generator parameters and state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runGeneratorShow(cmd)
			},
		},
		newGeneratorSetCommand(),
		&cobra.Command{
			Use:   "start",
			Short: "Start the configured generator",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return runVerb("generator start", apiClient.StartGenerator)
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the running generator",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return runVerb("generator stop", apiClient.StopGenerator)
			},
		},
		&cobra.Command{
			Use:         "template",
			Short:       "Print a custom waveform script template",
			Args:        cobra.NoArgs,
			Annotations: map[string]string{annotationLocal: "true"},
			Run: func(cmd *cobra.Command, _ []string) {
				cmd.Print(generator.ScriptTemplate)
			},
		},
	)

	return cmd
}

func newGeneratorSetCommand() *cobra.Command {
	var (
		scanning   generator.ScanningParameters
		stairs     generator.StairsParameters
		scriptPath string
	)

	cmd := &cobra.Command{
		Use:   "set [kind]",
		Short: "Set the parameters of the next run",
		Long: fmt.Sprintf(`Set the parameters of the next run.

Kind is one of %q. Flags not given keep their current value.
Square wave and reversed sawtooth use the scanning flags, stairs uses the stairs flags.`, generator.Kinds),
		Example: `  hvctl generator set square --period 4 --duty-cycle 0.25 --max-voltage 1500 --current 20
  hvctl generator set stairs --time-step 1 --voltage-step 100 --max-voltage 2000
  hvctl generator set custom --script ramp.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := apiClient.GetGenerator()
			if err != nil {
				return err
			}
			p := g.Parameters
			if len(args) > 0 {
				kind, err := generator.ParseKind(args[0])
				if err != nil {
					return err
				}
				p.Kind = kind
			}

			flags := cmd.Flags()
			switch p.Kind {
			case generator.KindSquareWave, generator.KindReversedSawtooth:
				if p.Scanning == nil {
					p.Scanning = &generator.ScanningParameters{}
				}
				mergeFloat(flags, "period", &p.Scanning.Period, scanning.Period)
				mergeFloat(flags, "duty-cycle", &p.Scanning.DutyCycle, scanning.DutyCycle)
				mergeFloat(flags, "max-voltage", &p.Scanning.MaxVoltage, scanning.MaxVoltage)
				mergeFloat(flags, "min-voltage", &p.Scanning.MinVoltage, scanning.MinVoltage)
				mergeFloat(flags, "current", &p.Scanning.Current, scanning.Current)
			case generator.KindStairs:
				if p.Stairs == nil {
					p.Stairs = &generator.StairsParameters{}
				}
				mergeFloat(flags, "time-step", &p.Stairs.TimeStep, stairs.TimeStep)
				mergeFloat(flags, "voltage-step", &p.Stairs.VoltageStep, stairs.VoltageStep)
				mergeFloat(flags, "max-voltage", &p.Stairs.MaxVoltage, scanning.MaxVoltage)
				mergeFloat(flags, "min-voltage", &p.Stairs.MinVoltage, scanning.MinVoltage)
				mergeFloat(flags, "current", &p.Stairs.Current, scanning.Current)
			case generator.KindCustom:
				if scriptPath != "" {
					// the daemon may not see the client's files
					src, err := os.ReadFile(scriptPath)
					if err != nil {
						return fmt.Errorf("failed to read script: %w", err)
					}
					p.Custom = &generator.CustomParameters{Source: string(src)}
				}
			}

			if err := apiClient.SetGenerator(p); err != nil {
				return fmt.Errorf("failed to set generator: %w", err)
			}
			logrus.Infof("successfully set %s parameters", p.Kind)
			return nil
		},
	}

	f := cmd.Flags()
	f.Float64Var(&scanning.Period, "period", 0, "Waveform period in seconds.")
	f.Float64Var(&scanning.DutyCycle, "duty-cycle", 0, "Fraction of the period at max voltage, in (0, 1].")
	f.Float64Var(&scanning.MaxVoltage, "max-voltage", 0, "Upper voltage in V.")
	f.Float64Var(&scanning.MinVoltage, "min-voltage", 0, "Lower voltage in V.")
	f.Float64Var(&scanning.Current, "current", 0, "Current limit in the device unit.")
	f.Float64Var(&stairs.TimeStep, "time-step", 0, "Seconds between stairs steps.")
	f.Float64Var(&stairs.VoltageStep, "voltage-step", 0, "Voltage increment of one stairs step in V.")
	f.StringVar(&scriptPath, "script", "", "Custom waveform script, see 'hvctl generator template'.")

	return cmd
}

func mergeFloat(flags *pflag.FlagSet, name string, dst *float64, v float64) {
	if flags.Changed(name) {
		*dst = v
	}
}

func runGeneratorShow(cmd *cobra.Command) error {
	g, err := apiClient.GetGenerator()
	if err != nil {
		return err
	}
	printGenerator(cmd, g)
	return nil
}

func printGenerator(cmd *cobra.Command, g *types.Generator) {
	p := g.Parameters
	cmd.Println(bold("Generator %s:", p.Kind))
	cmd.Printf("  Running: %s\n", bool2Text(g.Status.Running))
	cmd.Printf("  Tick: %s\n", g.MinTick)

	switch p.Kind {
	case generator.KindSquareWave, generator.KindReversedSawtooth:
		if s := p.Scanning; s != nil {
			cmd.Printf("  Period: %s\n", bold("%g s, duty cycle %g", s.Period, s.DutyCycle))
			cmd.Printf("  Voltage: %s\n", bold("%g..%g V", s.MinVoltage, s.MaxVoltage))
			cmd.Printf("  Current: %s\n", bold("%g", s.Current))
		}
	case generator.KindStairs:
		if s := p.Stairs; s != nil {
			cmd.Printf("  Steps: %s\n", bold("%g V every %g s", s.VoltageStep, s.TimeStep))
			cmd.Printf("  Voltage: %s\n", bold("%g..%g V", s.MinVoltage, s.MaxVoltage))
			cmd.Printf("  Current: %s\n", bold("%g", s.Current))
		}
	case generator.KindCustom:
		if c := p.Custom; c != nil {
			if c.Path != "" {
				cmd.Printf("  Script: %s\n", c.Path)
			} else {
				cmd.Printf("  Script:\n%s\n", c.Source)
			}
		}
	}
}
