package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/echoes/internal/client"
	"github.com/raphaelgruber/echoes/internal/models"
	"github.com/raphaelgruber/echoes/internal/service"
)

var chatConversation string

var chatCmd = &cobra.Command{
	Use:   "chat [writerID...]",
	Short: "Converse with up to three writers",
	Long: `Start a conversation with one to three writers, or resume one with
--conversation. Every prompt is answered with the closest sentence the
writers have not said yet in this conversation. An empty line lets the
writers continue from the last reply. Type /quit or press Ctrl+D to leave.

Examples:
  echoes chat 9b1e... 4c2d...
  echoes chat --conversation 71aa...`,
	RunE: runChat,
}

var historyCmd = &cobra.Command{
	Use:   "history <conversationID>",
	Short: "Show the messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var (
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFD7")).Bold(true)
	writerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00D787")).Bold(true)
	noteStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C")).Italic(true)
)

func init() {
	chatCmd.Flags().StringVarP(&chatConversation, "conversation", "c", "", "resume an existing conversation")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	var conv *models.Conversation
	var err error
	switch {
	case chatConversation != "" && len(args) > 0:
		return fmt.Errorf("pass either writer IDs or --conversation, not both")
	case chatConversation != "":
		conv, err = apiClient.GetConversation(ctx, chatConversation)
		if err != nil {
			return fmt.Errorf("get conversation: %w", err)
		}
	case len(args) == 0:
		return fmt.Errorf("at least one writer ID is required")
	default:
		conv, err = apiClient.StartConversation(ctx, args)
		if err != nil {
			return fmt.Errorf("start conversation: %w", err)
		}
	}

	names, err := writerNames(ctx, conv.ID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, noteStyle.Render(fmt.Sprintf("Conversation %s with %s", conv.ID, strings.Join(sortedValues(names, conv.WriterIDs), ", "))))
	fmt.Fprintln(out, noteStyle.Render("Empty line continues, /quit leaves."))

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, userStyle.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "/quit" {
			return nil
		}

		turn, err := apiClient.NextTurn(ctx, conv.ID, line)
		switch {
		case client.IsCode(err, service.KindNoPriorContext):
			fmt.Fprintln(out, noteStyle.Render("Say something first; there is nothing to continue from."))
			continue
		case client.IsCode(err, service.KindNoCandidates):
			fmt.Fprintln(out, noteStyle.Render("The writers have nothing left to say."))
			continue
		case err != nil:
			return fmt.Errorf("next turn: %w", err)
		}
		printTurn(out, names, turn)
	}
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	msgs, err := apiClient.History(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get history: %w", err)
	}
	if len(msgs) == 0 {
		fmt.Fprintln(out, "No messages yet")
		return nil
	}

	names, err := writerNames(ctx, args[0])
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if m.Sender == models.SenderUser {
			fmt.Fprintf(out, "%s %s\n", userStyle.Render("you:"), m.Content)
			continue
		}
		name := "(deleted)"
		if m.WriterID != nil {
			if n, ok := names[*m.WriterID]; ok {
				name = n
			}
		}
		fmt.Fprintf(out, "%s %s\n", writerStyle.Render(name+":"), m.Content)
	}
	return nil
}

func printTurn(out io.Writer, names map[string]string, turn *models.Turn) {
	name, ok := names[turn.WriterID]
	if !ok {
		name = turn.WriterID
	}
	fmt.Fprintf(out, "%s %s\n", writerStyle.Render(name+":"), turn.Text)
	if verbose && turn.Distance != nil {
		fmt.Fprintln(out, noteStyle.Render(fmt.Sprintf("  sentence %d, distance %.4f", turn.SentenceIndex, *turn.Distance)))
	}
}

// writerNames maps participant writer IDs to names.
func writerNames(ctx context.Context, conversationID string) (map[string]string, error) {
	writers, err := apiClient.ConversationWriters(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation writers: %w", err)
	}
	names := make(map[string]string, len(writers))
	for _, w := range writers {
		names[w.ID] = w.Name
	}
	return names, nil
}

// sortedValues returns the names of ids in order, skipping unknown ones.
func sortedValues(names map[string]string, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if n, ok := names[id]; ok {
			out = append(out, n)
		}
	}
	return out
}
