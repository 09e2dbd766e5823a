package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"postflow/internal/daemon"
	"postflow/internal/project"
	"postflow/internal/stages"
)

func newProjectCommand(ctx *commandContext) *cobra.Command {
	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "Manage content projects",
	}

	projectCmd.AddCommand(newProjectListCommand(ctx))
	projectCmd.AddCommand(newProjectShowCommand(ctx))
	projectCmd.AddCommand(newProjectCreateCommand(ctx))
	projectCmd.AddCommand(newProjectArchiveCommand(ctx))
	projectCmd.AddCommand(newProjectRestoreCommand(ctx))

	return projectCmd
}

func newProjectListCommand(ctx *commandContext) *cobra.Command {
	var stageFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service()
			if err != nil {
				return err
			}
			var filter []stages.Stage
			if trimmed := strings.TrimSpace(stageFlag); trimmed != "" {
				for _, part := range strings.Split(trimmed, ",") {
					stage := stages.Stage(strings.TrimSpace(part))
					if !stages.IsValid(stage) {
						return fmt.Errorf("unknown stage %q", stage)
					}
					filter = append(filter, stage)
				}
			}
			projects, err := svc.List(cmd.Context(), filter...)
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No projects found.")
				return nil
			}

			rows := make([][]string, 0, len(projects))
			for _, p := range projects {
				rows = append(rows, []string{
					shortID(p.ID),
					p.Title,
					string(p.Stage),
					strconv.Itoa(p.Progress) + "%",
					strconv.Itoa(p.Metrics.InsightTotal),
					strconv.Itoa(p.Metrics.PostTotal),
					formatTime(p.UpdatedAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "TITLE", "STAGE", "PROGRESS", "INSIGHTS", "POSTS", "UPDATED"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&stageFlag, "stage", "", "Filter by stage (comma separated)")
	return cmd
}

func newProjectShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show full project state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service()
			if err != nil {
				return err
			}
			agg, err := svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			p := agg.Project
			fmt.Fprintf(out, "Project:  %s\n", p.Title)
			fmt.Fprintf(out, "ID:       %s\n", p.ID)
			fmt.Fprintf(out, "Stage:    %s (%d%%)\n", stageLabel(p.Stage), p.Progress)
			fmt.Fprintf(out, "Created:  %s\n", formatTime(p.CreatedAt))
			fmt.Fprintf(out, "Updated:  %s\n", formatTime(p.UpdatedAt))
			fmt.Fprintf(out, "Words:    %d\n", p.Metrics.TranscriptWords)

			if len(agg.Insights) > 0 {
				rows := make([][]string, 0, len(agg.Insights))
				for _, insight := range agg.Insights {
					rows = append(rows, []string{
						shortID(insight.ID),
						truncate(insight.Content, 60),
						strconv.Itoa(insight.TotalScore),
						string(insight.Status),
					})
				}
				fmt.Fprintln(out, "\nInsights:")
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "CONTENT", "SCORE", "STATUS"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
				))
			}

			if len(agg.Posts) > 0 {
				rows := make([][]string, 0, len(agg.Posts))
				for _, post := range agg.Posts {
					rows = append(rows, []string{
						shortID(post.ID),
						string(post.Platform),
						truncate(post.Content, 60),
						string(post.Status),
					})
				}
				fmt.Fprintln(out, "\nPosts:")
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "PLATFORM", "CONTENT", "STATUS"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
				))
			}

			if len(agg.Scheduled) > 0 {
				rows := make([][]string, 0, len(agg.Scheduled))
				for _, sp := range agg.Scheduled {
					rows = append(rows, []string{
						shortID(sp.ID),
						string(sp.Platform),
						formatTime(sp.ScheduledTime),
						string(sp.Status),
						strconv.Itoa(sp.RetryCount),
					})
				}
				fmt.Fprintln(out, "\nScheduled:")
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "PLATFORM", "SCHEDULED", "STATUS", "RETRIES"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				))
			}
			return nil
		},
	}
}

func newProjectCreateCommand(ctx *commandContext) *cobra.Command {
	var (
		title          string
		transcript     string
		transcriptFile string
		autoApprove    bool
		autoGenerate   bool
		autoSchedule   bool
		minScore       int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project from a transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service()
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			raw := transcript
			if file := strings.TrimSpace(transcriptFile); file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read transcript file: %w", err)
				}
				raw = string(data)
			}

			workflow := project.WorkflowConfig{
				AutoApproveInsights: autoApprove,
				MinInsightScore:     minScore,
				AutoGeneratePosts:   autoGenerate,
				AutoSchedulePosts:   autoSchedule,
				TargetPlatforms:     daemon.EnabledPlatforms(cfg),
				Schedule: project.PublishingSchedule{
					PreferredDays:        []time.Weekday{time.Tuesday, time.Thursday},
					PreferredTime:        "09:00",
					TimeZone:             "UTC",
					MinimumIntervalHours: 24,
				},
			}
			p, err := svc.CreateProject(cmd.Context(), title, raw, workflow)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created project %s (%s)\n", p.ID, p.Title)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Project title")
	cmd.Flags().StringVar(&transcript, "transcript", "", "Raw transcript text")
	cmd.Flags().StringVar(&transcriptFile, "transcript-file", "", "File containing the raw transcript")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve-insights", false, "Auto-approve insights above the score threshold")
	cmd.Flags().BoolVar(&autoGenerate, "auto-generate-posts", false, "Generate posts as soon as insights are approved")
	cmd.Flags().BoolVar(&autoSchedule, "auto-schedule-posts", false, "Schedule posts as soon as they are approved")
	cmd.Flags().IntVar(&minScore, "min-insight-score", 25, "Auto-approval score threshold")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newProjectArchiveCommand(ctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "archive <project-id>",
		Short: "Archive a project and cancel its pending work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service()
			if err != nil {
				return err
			}
			if _, err := svc.Archive(cmd.Context(), args[0], reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archived project %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the event log")
	return cmd
}

func newProjectRestoreCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <project-id>",
		Short: "Restore an archived project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service()
			if err != nil {
				return err
			}
			if _, err := svc.Restore(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored project %s\n", args[0])
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func stageLabel(stage stages.Stage) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(stage), "_", " "))
}
