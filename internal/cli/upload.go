package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/echoes/internal/client"
	"github.com/raphaelgruber/echoes/internal/service"
)

var (
	uploadWriter string
	uploadTitle  string
	uploadIngest bool
	uploadWait   bool

	ingestWait bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a text for a writer",
	Long: `Upload a plain-text file as a work of the given writer. The writer is
created on first use. The title defaults to the file name.

Examples:
  echoes upload walden.txt --writer "Henry David Thoreau"
  echoes upload walden.txt --writer thoreau --title Walden --ingest --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <textID>",
	Short: "Start ingestion of an uploaded text",
	Long: `Start an ingestion job for a text. Re-ingesting a completed text only
embeds sentences that are missing.

Examples:
  echoes ingest 3f0c...
  echoes ingest 3f0c... --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var ingestWritersCmd = &cobra.Command{
	Use:   "ingest-writers <writerID>...",
	Short: "Start ingestion for every text of the writers",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngestWriters,
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadWriter, "writer", "w", "", "writer name (required)")
	uploadCmd.Flags().StringVarP(&uploadTitle, "title", "t", "", "title (default: file name)")
	uploadCmd.Flags().BoolVar(&uploadIngest, "ingest", false, "start ingestion after upload")
	uploadCmd.Flags().BoolVar(&uploadWait, "wait", false, "wait for ingestion to finish (implies --ingest)")
	_ = uploadCmd.MarkFlagRequired("writer")

	ingestCmd.Flags().BoolVar(&ingestWait, "wait", false, "wait for the job to finish")
}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]
	ctx := context.Background()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	title := strings.TrimSpace(uploadTitle)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	logf(cmd, "uploading %s to %s", path, cfg.ServerURL)
	result, err := apiClient.Upload(ctx, uploadWriter, title, filepath.Base(path), f, uploadIngest || uploadWait)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Uploaded %q (text %s, writer %s)\n", result.Text.Title, result.Text.ID, result.Text.WriterID)
	if result.Job == nil {
		return nil
	}

	fmt.Fprintf(out, "Ingestion job %s started\n", result.Job.ID)
	if !uploadWait {
		fmt.Fprintf(out, "Use 'echoes jobs %s' to check status.\n", result.Job.ID)
		return nil
	}
	return waitJob(ctx, apiClient, result.Job, out)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	job, err := apiClient.StartIngestion(ctx, args[0])
	if err != nil {
		if client.IsCode(err, service.KindActiveJob) {
			return fmt.Errorf("text %s already has an active job; see 'echoes jobs'", args[0])
		}
		return fmt.Errorf("start ingestion: %w", err)
	}

	fmt.Fprintf(out, "Ingestion job %s started\n", job.ID)
	if !ingestWait {
		fmt.Fprintf(out, "Use 'echoes jobs %s' to check status.\n", job.ID)
		return nil
	}
	return waitJob(ctx, apiClient, job, out)
}

func runIngestWriters(cmd *cobra.Command, args []string) error {
	jobs, err := apiClient.StartWriters(context.Background(), args)
	if err != nil {
		return fmt.Errorf("start ingestion: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No texts to ingest (all texts already have an active job).")
		return nil
	}
	fmt.Fprintf(out, "Started %d job(s):\n", len(jobs))
	for _, j := range jobs {
		fmt.Fprintf(out, "  %s  text %s\n", j.ID, j.TextID)
	}
	return nil
}
