package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"postflow/internal/project"
	"postflow/internal/stages"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs <project-id>",
		Short: "Show a project's processing jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service()
			if err != nil {
				return err
			}
			history, err := svc.Jobs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(history) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs recorded.")
				return nil
			}

			rows := make([][]string, 0, len(history))
			for _, job := range history {
				duration := "-"
				if job.DurationMS > 0 {
					duration = strconv.FormatInt(job.DurationMS, 10) + "ms"
				}
				rows = append(rows, []string{
					shortID(job.ID),
					string(job.Type),
					string(job.Status),
					strconv.Itoa(job.Progress) + "%",
					strconv.Itoa(job.RetryCount),
					duration,
					formatTime(job.CreatedAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "TYPE", "STATUS", "PROGRESS", "RETRIES", "DURATION", "CREATED"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}

	jobsCmd.AddCommand(newJobsClearCommand(ctx))
	return jobsCmd
}

func newJobsClearCommand(ctx *commandContext) *cobra.Command {
	var clearFailed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove completed (or failed) job records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			var (
				removed int64
				label   string
			)
			if clearFailed {
				removed, err = st.ClearFailedJobs(cmd.Context())
				label = "failed"
			} else {
				removed, err = st.ClearCompletedJobs(cmd.Context())
				label = "completed"
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d %s jobs\n", removed, label)
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Clear failed jobs instead of completed ones")
	return cmd
}

func newDispatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run one dispatch cycle over due scheduled posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := ctx.dispatcher()
			if err != nil {
				return err
			}
			claimed, err := d.DispatchOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dispatched %d scheduled posts\n", claimed)
			return nil
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Requeue failed scheduled posts eligible for another attempt",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := ctx.dispatcher()
			if err != nil {
				return err
			}
			requeued, err := d.RetrySweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d failed posts\n", requeued)
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize projects and job queue health",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service()
			if err != nil {
				return err
			}
			projects, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := svc.JobCounts(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			byStage := make(map[stages.Stage]int)
			for _, p := range projects {
				byStage[p.Stage]++
			}
			fmt.Fprintf(out, "Projects: %d\n", len(projects))
			for _, stage := range stages.All() {
				if n := byStage[stage]; n > 0 {
					fmt.Fprintf(out, "  %-20s %d\n", stageLabel(stage), n)
				}
			}

			fmt.Fprintln(out, "Jobs:")
			for _, status := range []project.JobStatus{
				project.JobQueued, project.JobProcessing, project.JobCompleted,
				project.JobFailed, project.JobCancelled,
			} {
				fmt.Fprintf(out, "  %-20s %d\n", status, counts[status])
			}
			return nil
		},
	}
}
