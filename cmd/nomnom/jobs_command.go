package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/nomnom/receiver/internal/storage"
	"github.com/spf13/cobra"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List enrichment jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobStatus := storage.JobStatus(strings.ToLower(strings.TrimSpace(status)))
			switch jobStatus {
			case "", storage.JobPending, storage.JobComplete, storage.JobFailed:
			default:
				return fmt.Errorf("invalid --status %q (want pending, complete or failed)", status)
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := storage.New(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer store.Close()

			jobs, err := store.ListEnrichmentJobs(cmd.Context(), jobStatus, limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No enrichment jobs")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJobs(jobs))
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, complete, failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of jobs to show (0 for all)")
	return cmd
}

func renderJobs(jobs []*storage.EnrichmentJob) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "URL", "Status", "Created", "Completed", "Reason"})

	for _, job := range jobs {
		completed := ""
		if job.CompletedAt != nil {
			completed = job.CompletedAt.Local().Format(time.DateTime)
		}
		tw.AppendRow(table.Row{
			shortID(job.ID),
			job.SubmissionURL,
			string(job.Status),
			job.CreatedAt.Local().Format(time.DateTime),
			completed,
			job.FailureReason,
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: 60},
		{Number: 6, WidthMax: 40},
		{Number: 3, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
