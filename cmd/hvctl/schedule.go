package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/npm-group/hvctl/pkg/types"
)

func NewScheduleCommand() *cobra.Command {
	runFor := 10 * time.Minute

	cmd := &cobra.Command{
		Use:     "schedule [cron-expression]",
		Aliases: []string{"sch", "sched"},
		Short:   "Manage scheduled generator runs",
		Long: `Manage scheduled generator runs.

Each trigger starts the configured generator and stops it after --run-for.
A trigger is skipped when the channel is closed or a generator already runs.

The schedule command can be used in multiple ways:
  hvctl schedule '[second] minute hour day month weekday' Set schedule with cron expression
  hvctl schedule disable                                  Disable the schedule
  hvctl schedule skip                                     Skip next run
  hvctl schedule show                                     Show current schedule`,
		Example: `  hvctl schedule '0 8 * * 1-5' --run-for 30m (At 08:00 on weekdays, for 30 minutes)
  hvctl schedule '@every 2h' --run-for 5m`,
		GroupID: gGenerator,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runScheduleShow(cmd)
			}
			return runScheduleSet(cmd, args[0], runFor)
		},
	}

	cmd.Flags().DurationVar(&runFor, "run-for", runFor, "How long each scheduled run lasts.")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "disable",
			Short: "Disable the schedule",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := apiClient.ClearSchedule(); err != nil {
					return err
				}
				cmd.Println("Generator schedule disabled.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "skip",
			Short: "Skip the next scheduled run",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := apiClient.SkipSchedule()
				if err != nil {
					return err
				}
				cmd.Println("Next scheduled run skipped.")
				printSchedule(cmd, s)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show the current schedule",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScheduleShow(cmd)
			},
		},
	)

	return cmd
}

func runScheduleSet(cmd *cobra.Command, cronExpr string, runFor time.Duration) error {
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	s, err := apiClient.SetSchedule(cronExpr, runFor)
	if err != nil {
		return err
	}
	cmd.Println("Generator scheduled.")
	printSchedule(cmd, s)
	return nil
}

func runScheduleShow(cmd *cobra.Command) error {
	s, err := apiClient.GetSchedule()
	if err != nil {
		return err
	}
	printSchedule(cmd, s)
	return nil
}

func printSchedule(cmd *cobra.Command, s *types.Schedule) {
	cmd.Println(bold("Schedule:"))
	if !s.Enabled {
		cmd.Println("  not set")
		return
	}
	cmd.Printf("  Cron: %s\n", bold("%s", s.Cron))
	cmd.Printf("  Run for: %s\n", bold("%s", s.RunFor))
	if s.NextRun == "" {
		return
	}
	if next, err := time.Parse(time.RFC3339, s.NextRun); err == nil {
		cmd.Printf("  Next run: %s\n", bold("%s", next.Local().Format(time.DateTime)))
	}
}
