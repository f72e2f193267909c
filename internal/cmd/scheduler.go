package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gcpal/pkg/output"
	"github.com/3leaps/gcpal/pkg/scheduler"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Cloud Scheduler jobs",
	Long: `List, trigger, pause and resume Cloud Scheduler jobs.

Examples:
  gcpal scheduler ls
  gcpal scheduler status nightly-export
  gcpal scheduler run nightly-export --force`,
}

var (
	schedulerFullName bool
	schedulerForce    bool
)

var schedulerLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs in the location",
	Args:  cobra.NoArgs,
	RunE:  runSchedulerLs,
}

var schedulerStatusCmd = &cobra.Command{
	Use:   "status <job>",
	Short: "Show a job's state and last attempt status",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchedulerStatus,
}

var schedulerRunCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "Trigger a job now; --force resumes a paused job first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSchedulerAction(cmd, args[0], "run")
	},
}

var schedulerPauseCmd = &cobra.Command{
	Use:   "pause <job>",
	Short: "Pause a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSchedulerAction(cmd, args[0], "pause")
	},
}

var schedulerResumeCmd = &cobra.Command{
	Use:   "resume <job>",
	Short: "Resume a paused job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSchedulerAction(cmd, args[0], "resume")
	},
}

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerLsCmd, schedulerStatusCmd, schedulerRunCmd, schedulerPauseCmd, schedulerResumeCmd)

	schedulerLsCmd.Flags().BoolVar(&schedulerFullName, "full-name", false, "Emit full resource names")
	schedulerRunCmd.Flags().BoolVar(&schedulerForce, "force", false, "Resume a paused job before running it")
}

func runSchedulerLs(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	w := newWriter(cmd, scheduler.Service)
	s, err := scheduler.New(ctx, "", serviceOptions()...)
	if err != nil {
		return fail(w, "Failed to open Cloud Scheduler", "", err)
	}
	defer func() { _ = s.Close() }()

	names, err := s.Ls(ctx, schedulerFullName)
	if err != nil {
		return fail(w, "Failed to list jobs", s.Parent(), err)
	}
	if err := writeNames(ctx, w, "job", names); err != nil {
		return err
	}
	return finish(ctx, w)
}

func runSchedulerStatus(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	w := newWriter(cmd, scheduler.Service)
	s, err := scheduler.New(ctx, args[0], serviceOptions()...)
	if err != nil {
		return fail(w, "Failed to open job", args[0], err)
	}
	defer func() { _ = s.Close() }()

	state, err := s.State(ctx)
	if err != nil {
		return fail(w, "Failed to read job state", s.FullName(), err)
	}
	status, err := s.Status(ctx)
	if err != nil {
		return fail(w, "Failed to read job status", s.FullName(), err)
	}
	rec := &output.ResourceRecord{
		Name:    s.Name(),
		Path:    s.FullName(),
		Kind:    "job",
		State:   state,
		Details: map[string]any{"last_attempt": status},
	}
	if err := w.WriteResource(ctx, rec); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return finish(ctx, w)
}

func runSchedulerAction(cmd *cobra.Command, name, action string) error {
	if err := requireWritable("scheduler " + action); err != nil {
		return err
	}
	ctx := commandContext(cmd)
	w := newWriter(cmd, scheduler.Service)
	s, err := scheduler.New(ctx, name, serviceOptions()...)
	if err != nil {
		return fail(w, "Failed to open job", name, err)
	}
	defer func() { _ = s.Close() }()

	switch action {
	case "run":
		_, err = s.Run(ctx, schedulerForce)
	case "pause":
		_, err = s.Pause(ctx)
	case "resume":
		_, err = s.Resume(ctx)
	}
	if err != nil {
		return fail(w, "Scheduler "+action+" failed", s.FullName(), err)
	}
	state, err := s.State(ctx)
	if err != nil {
		return fail(w, "Failed to read job state", s.FullName(), err)
	}
	if err := w.WriteResource(ctx, &output.ResourceRecord{Name: s.Name(), Path: s.FullName(), Kind: "job", State: state}); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return finish(ctx, w)
}
