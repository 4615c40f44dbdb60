package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/echoes/internal/metrics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server runtime statistics",
	Long: `Show in-memory server statistics since the last restart: embedding
calls, rate-limit waits, vector searches and job counters.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	snap, err := apiClient.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("get server stats: %w", err)
	}
	printStats(cmd.OutOrStdout(), snap)
	return nil
}

func printStats(out io.Writer, snap *metrics.Snapshot) {
	fmt.Fprintf(out, "Server Statistics (in-memory, since restart)\n")
	fmt.Fprintf(out, "═══════════════════════════════════════════════\n")
	fmt.Fprintf(out, "Uptime: %.1f seconds\n", snap.UptimeSeconds)

	if len(snap.Operations) > 0 {
		fmt.Fprintf(out, "\nOperations:\n")
		for _, name := range sortedKeys(snap.Operations) {
			op := snap.Operations[name]
			fmt.Fprintf(out, "  %s\n", name)
			fmt.Fprintf(out, "    Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
			fmt.Fprintf(out, "    Time: avg %.1fms, min %dms, max %dms\n", op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
			if op.TotalItems > 0 {
				fmt.Fprintf(out, "    Items: %d\n", op.TotalItems)
			}
		}
	}

	if len(snap.Counters) > 0 {
		fmt.Fprintf(out, "\nCounters:\n")
		for _, name := range sortedKeys(snap.Counters) {
			fmt.Fprintf(out, "  %-22s %d\n", name, snap.Counters[name])
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
