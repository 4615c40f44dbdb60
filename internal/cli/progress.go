package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/echoes/internal/client"
	"github.com/raphaelgruber/echoes/internal/models"
)

const pollInterval = time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Paused  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Paused:  lipgloss.Color("#D7AF5F"), // amber
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle(s models.JobStatus) lipgloss.Style {
	if s == models.JobPaused {
		return lipgloss.NewStyle().Foreground(t.Paused)
	}
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

type tickMsg time.Time

type jobUpdateMsg struct {
	job *models.Job
	err error
}

// progressModel is the bubbletea model for job progress.
type progressModel struct {
	client   *client.Client
	jobID    string
	job      *models.Job
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(c *client.Client, job *models.Job) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		client:   c,
		jobID:    job.ID,
		job:      job,
		progress: prog,
		theme:    defaultTheme,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchJob()

	case jobUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("fetch job status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.job = msg.job
		if m.job.Status.Terminal() {
			m.done = true
			m.err = jobError(m.job)
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}
	if m.job == nil {
		return "Loading job status...\n"
	}

	status := m.theme.statusStyle(m.job.Status).Render(fmt.Sprintf("[%s]", m.job.Status))
	bar := m.progress.ViewAs(fraction(m.job))
	counts := fmt.Sprintf("%d/%d sentences", m.job.SentenceCount, m.job.TotalSentences)

	line := fmt.Sprintf("%s %s %s\n", status, bar, counts)
	if m.job.Status == models.JobPaused && m.job.Error != nil {
		line += m.theme.hintStyle().Render("Rate limited, resuming automatically: "+*m.job.Error) + "\n"
	}
	return line + m.theme.hintStyle().Render("Press Ctrl+C to continue in background") + "\n"
}

func (m progressModel) finalView() string {
	if m.quitting {
		return m.theme.hintStyle().Render(backgroundHint(m.jobID))
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}
	out := m.theme.completedStyle().Render("✓ Completed") + "\n"
	if m.job != nil {
		out += fmt.Sprintf("  Sentences embedded: %d\n", m.job.SentenceCount)
	}
	return out
}

func (m progressModel) fetchJob() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		job, err := m.client.GetJob(ctx, m.jobID)
		return jobUpdateMsg{job: job, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunJobProgress runs the interactive progress UI for a job.
// Returns nil on completion or Ctrl+C (the job keeps running), and the
// job's error if it failed.
func RunJobProgress(c *client.Client, job *models.Job) error {
	p := tea.NewProgram(newProgressModel(c, job))

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := finalModel.(progressModel); ok {
		if m.quitting {
			return nil
		}
		return m.err
	}
	return nil
}

// followJob prints one line per job change until the job is terminal.
// It is used when stdout is not a terminal.
func followJob(ctx context.Context, c *client.Client, job *models.Job, w io.Writer) error {
	var last *models.Job
	err := c.WatchJob(ctx, job.ID, func(j models.Job) error {
		last = &j
		fmt.Fprintln(w, jobLine(&j))
		return nil
	})
	if err != nil {
		return err
	}
	if last == nil {
		// The stream closed before the first snapshot; ask once more.
		if last, err = c.GetJob(ctx, job.ID); err != nil {
			return err
		}
	}
	return jobError(last)
}

// waitJob shows job progress, as a TUI on a terminal and as plain lines otherwise.
func waitJob(ctx context.Context, c *client.Client, job *models.Job, w io.Writer) error {
	if interactive() {
		return RunJobProgress(c, job)
	}
	return followJob(ctx, c, job, w)
}

func jobError(job *models.Job) error {
	if job.Status != models.JobFailed {
		return nil
	}
	if job.Error != nil {
		return errors.New(*job.Error)
	}
	return errors.New("job failed with unknown error")
}

func fraction(job *models.Job) float64 {
	if job.TotalSentences <= 0 {
		return 0
	}
	return float64(job.SentenceCount) / float64(job.TotalSentences)
}

func jobLine(job *models.Job) string {
	line := fmt.Sprintf("[%s] %d/%d sentences", job.Status, job.SentenceCount, job.TotalSentences)
	if job.Error != nil {
		line += " (" + *job.Error + ")"
	}
	return line
}

func backgroundHint(jobID string) string {
	return fmt.Sprintf("\nJob %s continues in background.\nUse 'echoes jobs %s' to check status.\n", jobID, jobID)
}
