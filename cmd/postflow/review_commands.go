package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newApproveCommand(ctx *commandContext) *cobra.Command {
	approveCmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve insights or posts",
	}

	approveCmd.AddCommand(&cobra.Command{
		Use:   "insight <project-id> <insight-id>",
		Short: "Approve one insight",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service()
			if err != nil {
				return err
			}
			agg, err := svc.ApproveInsight(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Approved insight, stage is %s\n", agg.Project.Stage)
			return nil
		},
	})
	approveCmd.AddCommand(&cobra.Command{
		Use:   "post <project-id> <post-id>",
		Short: "Approve one post",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service()
			if err != nil {
				return err
			}
			agg, err := svc.ApprovePost(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Approved post, stage is %s\n", agg.Project.Stage)
			return nil
		},
	})

	return approveCmd
}

func newRejectCommand(ctx *commandContext) *cobra.Command {
	var reason string

	rejectCmd := &cobra.Command{
		Use:   "reject",
		Short: "Reject insights or posts",
	}
	rejectCmd.PersistentFlags().StringVar(&reason, "reason", "", "Rejection reason")

	rejectCmd.AddCommand(&cobra.Command{
		Use:   "insight <project-id> <insight-id>",
		Short: "Reject one insight",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service()
			if err != nil {
				return err
			}
			agg, err := svc.RejectInsight(cmd.Context(), args[0], args[1], reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rejected insight, stage is %s\n", agg.Project.Stage)
			return nil
		},
	})
	rejectCmd.AddCommand(&cobra.Command{
		Use:   "post <project-id> <post-id>",
		Short: "Reject one post",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service()
			if err != nil {
				return err
			}
			agg, err := svc.RejectPost(cmd.Context(), args[0], args[1], reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rejected post, stage is %s\n", agg.Project.Stage)
			return nil
		},
	})

	return rejectCmd
}
