package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	writersProcessing bool
	textsWriter       string
	deleteForce       bool
)

var writersCmd = &cobra.Command{
	Use:   "writers",
	Short: "List writers",
	Long: `List all writers, or with --processing only those with a text that has
an active ingestion job.`,
	Args: cobra.NoArgs,
	RunE: runWriters,
}

var textsCmd = &cobra.Command{
	Use:   "texts",
	Short: "List uploaded texts",
	Args:  cobra.NoArgs,
	RunE:  runTexts,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <textID>",
	Short: "Delete a text",
	Long: `Delete a text together with its sentences, jobs and stored content.
A writer left without texts is deleted too. Requires confirmation unless
--force is used.

Examples:
  echoes delete 3f0c...
  echoes delete 3f0c... --force`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	writersCmd.Flags().BoolVar(&writersProcessing, "processing", false, "only writers with an active job")
	textsCmd.Flags().StringVarP(&textsWriter, "writer", "w", "", "only texts of this writer ID")
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "skip confirmation")
}

func runWriters(cmd *cobra.Command, args []string) error {
	writers, err := apiClient.ListWriters(context.Background(), writersProcessing)
	if err != nil {
		return fmt.Errorf("list writers: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(writers) == 0 {
		fmt.Fprintln(out, "No writers found")
		return nil
	}
	fmt.Fprintf(out, "%-36s  %s\n", "ID", "NAME")
	for _, w := range writers {
		fmt.Fprintf(out, "%-36s  %s\n", w.ID, w.Name)
	}
	return nil
}

func runTexts(cmd *cobra.Command, args []string) error {
	texts, err := apiClient.ListTexts(context.Background(), textsWriter)
	if err != nil {
		return fmt.Errorf("list texts: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(texts) == 0 {
		fmt.Fprintln(out, "No texts found")
		return nil
	}
	fmt.Fprintf(out, "%-36s  %-36s  %-16s  %s\n", "ID", "WRITER", "UPLOADED", "TITLE")
	for _, t := range texts {
		fmt.Fprintf(out, "%-36s  %-36s  %-16s  %s\n",
			t.ID, t.WriterID, t.CreatedAt.Local().Format("2006-01-02 15:04"), t.Title)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	textID := args[0]
	out := cmd.OutOrStdout()

	if !deleteForce {
		ok, err := confirm(cmd, fmt.Sprintf("About to delete text %s and all its sentences.", textID))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	deletion, err := apiClient.DeleteText(context.Background(), textID)
	if err != nil {
		return fmt.Errorf("delete text: %w", err)
	}

	fmt.Fprintf(out, "Deleted text %s (%d sentences)\n", deletion.TextID, deletion.Sentences)
	if deletion.WriterDeleted {
		fmt.Fprintln(out, "The writer had no other texts and was deleted too.")
	}
	return nil
}
