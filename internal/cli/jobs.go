package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/echoes/internal/models"
)

var (
	jobsFollow bool
	jobsText   string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect ingestion jobs",
	Long: `List ingestion jobs or inspect a specific job by ID.

Examples:
  echoes jobs                  # List all jobs
  echoes jobs --text 3f0c...   # Jobs of one text
  echoes jobs abc123           # Show details for job abc123
  echoes jobs abc123 --follow  # Follow the job until it finishes`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().BoolVarP(&jobsFollow, "follow", "f", false, "follow the job until it finishes")
	jobsCmd.Flags().StringVar(&jobsText, "text", "", "only jobs of this text")
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		if jobsFollow {
			return fmt.Errorf("--follow needs a job ID")
		}
		return listJobs(ctx, out)
	}

	job, err := apiClient.GetJob(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if jobsFollow && !job.Status.Terminal() {
		return waitJob(ctx, apiClient, job, out)
	}
	showJob(out, job)
	return nil
}

func listJobs(ctx context.Context, out io.Writer) error {
	jobs, err := apiClient.ListJobs(ctx, jobsText)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	fmt.Fprintf(out, "%-36s  %-36s  %-10s  %-12s  %s\n", "ID", "TEXT", "STATUS", "PROGRESS", "CREATED")
	fmt.Fprintln(out, "--------------------------------------------------------------------------------------------------------------")
	for _, job := range jobs {
		progress := fmt.Sprintf("%d/%d", job.SentenceCount, job.TotalSentences)
		fmt.Fprintf(out, "%-36s  %-36s  %-10s  %-12s  %s\n",
			job.ID, job.TextID, job.Status, progress, job.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func showJob(out io.Writer, job *models.Job) {
	fmt.Fprintf(out, "Job: %s\n", job.ID)
	fmt.Fprintf(out, "  Text: %s\n", job.TextID)
	fmt.Fprintf(out, "  Status: %s\n", job.Status)
	fmt.Fprintf(out, "  Progress: %d/%d sentences\n", job.SentenceCount, job.TotalSentences)
	fmt.Fprintf(out, "  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		fmt.Fprintf(out, "  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.CompletedAt != nil {
		fmt.Fprintf(out, "  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		if job.StartedAt != nil {
			fmt.Fprintf(out, "  Duration: %s\n", job.CompletedAt.Sub(*job.StartedAt).Round(time.Second))
		}
	}
	if job.Error != nil && *job.Error != "" {
		fmt.Fprintf(out, "  Error: %s\n", *job.Error)
	}
}
