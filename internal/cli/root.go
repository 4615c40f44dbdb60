// Package cli provides the command-line interface for Echoes.
package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/echoes/internal/client"
	"github.com/raphaelgruber/echoes/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	cfg       config.Config
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "echoes",
	Short: "Talk to the writers you uploaded",
	Long: `Echoes splits uploaded texts into sentences, embeds them and answers
every prompt with the nearest sentence not yet used in the conversation.

All commands talk to a running echoes-server (ECHOES_SERVER_URL).`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if serverURL != "" {
			cfg.ServerURL = serverURL
		}
		apiClient = client.New(cfg.ServerURL, cfg.ClientTimeout)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (overrides ECHOES_SERVER_URL)")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(ingestWritersCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(writersCmd)
	rootCmd.AddCommand(textsCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
}

// interactive reports whether stdout is a terminal, which decides between
// the progress UI and plain line output.
func interactive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// logf prints only with --verbose.
func logf(cmd *cobra.Command, format string, args ...any) {
	if verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
	}
}

// confirm asks a yes/no question on the command's input.
func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n\nContinue? [y/N]: ", prompt)

	response, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && response == "" {
		return false, fmt.Errorf("read input: %w", err)
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes", nil
}
