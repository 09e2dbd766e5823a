package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "process <project-id>",
		Short: "Start automated transcript processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service()
			if err != nil {
				return err
			}
			agg, err := svc.StartProcessing(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Processing started, stage is now %s\n", agg.Project.Stage)
			return nil
		},
	}
}

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <project-id>",
		Short: "Queue post generation from approved insights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service()
			if err != nil {
				return err
			}
			job, err := svc.GeneratePosts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s job %s\n", job.Type, shortID(job.ID))
			return nil
		},
	}
}

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <project-id>",
		Short: "Queue scheduling of approved posts into publish slots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service()
			if err != nil {
				return err
			}
			job, err := svc.SchedulePosts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s job %s\n", job.Type, shortID(job.ID))
			return nil
		},
	}
}

func newPublishNowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "publish-now <project-id>",
		Short: "Schedule approved posts for immediate dispatch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service()
			if err != nil {
				return err
			}
			agg, err := svc.PublishNow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %d posts for immediate publishing\n", len(agg.Scheduled))
			return nil
		},
	}
}
