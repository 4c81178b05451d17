package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/mdelorme/roomsched/internal/client"
)

const watchPollInterval = time.Second

// watchLogLines is how much of the rolling log the live view shows.
const watchLogLines = 10

// Theme holds the color scheme for the live status display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
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

// tickMsg triggers polling the status endpoint.
type tickMsg time.Time

// statusUpdateMsg carries a fresh status snapshot.
type statusUpdateMsg struct {
	status *client.Status
	err    error
}

// watchModel is the bubbletea model for the live status view.
type watchModel struct {
	client   *client.Client
	status   *client.Status
	spinner  spinner.Model
	theme    Theme
	sawRun   bool
	done     bool
	quitting bool
	err      error
}

func newWatchModel(c *client.Client) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return watchModel{
		client:  c,
		spinner: sp,
		theme:   defaultTheme,
	}
}

// Init starts the poll loop and the spinner.
func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.fetchStatus(), m.spinner.Tick)
}

// Update handles messages and returns the updated model.
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchStatus()

	case statusUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("fetch status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}
		m.status = msg.status

		if m.status.Running {
			m.sawRun = true
			return m, tickCmd()
		}
		// Idle: done once we've watched a pass finish, or immediately
		// when nothing was running to begin with.
		m.done = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the live status display.
func (m watchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m watchModel) renderContent() string {
	if m.done {
		return m.finalView()
	}
	if m.status == nil {
		return "Connecting...\n"
	}

	var b strings.Builder
	header := m.theme.statusStyle().Render(fmt.Sprintf("[run %s]", m.status.RunID))
	fmt.Fprintf(&b, "%s %s extracting\n", m.spinner.View(), header)
	if m.status.CurrentItem != "" {
		fmt.Fprintf(&b, "  source: %s\n", m.status.CurrentItem)
	}
	if m.status.ProgressMessage != "" {
		fmt.Fprintf(&b, "  %s\n", m.status.ProgressMessage)
	}
	fmt.Fprintf(&b, "  items: %d\n", m.status.ItemsExtracted)

	if n := len(m.status.Log); n > 0 {
		start := max(0, n-watchLogLines)
		b.WriteString("\n")
		for _, line := range m.status.Log[start:] {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}

	b.WriteString("\n" + m.theme.hintStyle().Render("Press q to stop watching (the pass continues)") + "\n")
	return b.String()
}

func (m watchModel) finalView() string {
	if m.quitting {
		return m.theme.hintStyle().Render("\nPass continues in background; run 'roomsched status' to check again.\n")
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}
	if m.status != nil && m.sawRun {
		return m.theme.completedStyle().Render("✓ Pass finished") +
			fmt.Sprintf(" (%d items extracted)\n", m.status.ItemsExtracted)
	}
	return "Extraction is idle.\n"
}

// fetchStatus polls the server off the Update loop.
func (m watchModel) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		status, err := m.client.Status(ctx, watchLogLines)
		return statusUpdateMsg{status: status, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(watchPollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runStatusWatch runs the interactive live view until the pass finishes
// or the user quits.
func runStatusWatch(c *client.Client) error {
	p := tea.NewProgram(newWatchModel(c))

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("status UI error: %w", err)
	}
	if m, ok := finalModel.(watchModel); ok && m.err != nil && !m.quitting {
		return m.err
	}
	return nil
}
