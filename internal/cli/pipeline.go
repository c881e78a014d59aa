package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sitemirror/sitemirror/internal/pipeline"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run and inspect website-cloning pipelines",
}

var pipelineStartCmd = &cobra.Command{
	Use:   "start <website-id> <source-url>",
	Short: "Run a new pipeline up to the approval gate",
	Long: `Capture the source website, discover its components, and generate the
component library. The pipeline pauses at the approval gate; review the
generated output, then run "sitemirror pipeline resume <job-id>" to approve
and finish.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rend := a.newRenderer()
		if err := rend.Start(cmd.Context()); err != nil {
			return fmt.Errorf("start renderer: %w", err)
		}
		defer rend.Close()

		orch := a.orchestrator(rend)
		job, err := orch.CreateJob(args[0], args[1])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Job %s created for %s\n", job.ID, job.SourceURL)

		res, err := orch.Start(cmd.Context(), job.ID, printProgress(cmd))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\n%s: %s\n", res.Status, res.Message)
		if res.Status == "awaiting_approval" {
			fmt.Fprintf(w, "Approve with: sitemirror pipeline resume %s\n", res.JobID)
		}
		return nil
	},
}

var pipelineResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Approve a paused pipeline and run it to completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		// The remaining phases never touch the browser.
		res, err := a.orchestrator(nil).Resume(cmd.Context(), args[0], printProgress(cmd))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s: %s\n", res.Status, res.Message)
		return nil
	},
}

var pipelineStatusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show pipeline status, or list all jobs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		w := cmd.OutOrStdout()
		if len(args) == 1 {
			job, err := a.jobs.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "Job %s (%s)\n", job.ID, job.WebsiteID)
			fmt.Fprintf(w, "  Source:   %s\n", job.SourceURL)
			fmt.Fprintf(w, "  Status:   %s\n", job.Status)
			fmt.Fprintf(w, "  Phase:    %s (%d%%)\n", job.Phase, job.Percent)
			if job.Message != "" {
				fmt.Fprintf(w, "  Message:  %s\n", job.Message)
			}
			if job.VersionID != "" {
				fmt.Fprintf(w, "  Version:  %s\n", job.VersionID)
			}
			fmt.Fprintf(w, "  Created:  %s\n", job.CreatedAt)
			fmt.Fprintf(w, "  Updated:  %s\n", job.UpdatedAt)
			return nil
		}

		statusFilter, _ := cmd.Flags().GetString("status")
		jobs, err := a.jobs.List(statusFilter)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Fprintln(w, "No jobs found.")
			return nil
		}
		fmt.Fprintf(w, "%-38s %-16s %-12s %-18s %s\n", "JOB", "WEBSITE", "STATUS", "PHASE", "PERCENT")
		fmt.Fprintf(w, "%-38s %-16s %-12s %-18s %s\n",
			strings.Repeat("-", 38),
			strings.Repeat("-", 16),
			strings.Repeat("-", 12),
			strings.Repeat("-", 18),
			strings.Repeat("-", 7))
		for _, j := range jobs {
			fmt.Fprintf(w, "%-38s %-16s %-12s %-18s %d%%\n", j.ID, j.WebsiteID, j.Status, j.Phase, j.Percent)
		}
		return nil
	},
}

var pipelineCheckpointCmd = &cobra.Command{
	Use:   "checkpoint <job-id>",
	Short: "Inspect a job's approval checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		info, err := a.checkpoints.Describe(args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if !info.Exists {
			fmt.Fprintln(w, "No checkpoint.")
			return nil
		}
		fmt.Fprintf(w, "Checkpoint at phase %s\n", info.Phase)
		fmt.Fprintf(w, "  Saved:      %s\n", info.SavedAt)
		fmt.Fprintf(w, "  Components: %d\n", info.ComponentCount)
		return nil
	},
}

var pipelineLogCmd = &cobra.Command{
	Use:   "log <job-id>",
	Short: "Show the event log for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		events, err := a.db.ListPipelineEvents(args[0], limit)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(events) == 0 {
			fmt.Fprintln(w, "No events.")
			return nil
		}
		for _, ev := range events {
			line := fmt.Sprintf("%s  %-18s %s", ev.Timestamp, ev.Event, ev.Phase)
			if ev.Detail != "" {
				line += "  " + ev.Detail
			}
			fmt.Fprintln(w, line)
		}
		return nil
	},
}

func printProgress(cmd *cobra.Command) pipeline.ProgressFunc {
	return func(p pipeline.Progress) {
		fmt.Fprintf(cmd.OutOrStdout(), "[%3d%%] %-20s %s\n", p.Percent, p.Phase, p.Message)
	}
}

func init() {
	pipelineStatusCmd.Flags().String("status", "", "Filter by status (pending, in_progress, completed, failed)")
	pipelineLogCmd.Flags().Int("limit", 50, "Maximum events to show")

	pipelineCmd.AddCommand(pipelineStartCmd)
	pipelineCmd.AddCommand(pipelineResumeCmd)
	pipelineCmd.AddCommand(pipelineStatusCmd)
	pipelineCmd.AddCommand(pipelineCheckpointCmd)
	pipelineCmd.AddCommand(pipelineLogCmd)
}
