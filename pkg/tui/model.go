// Package tui renders a compact live dashboard for the current run: state
// file contents, child aliveness and resource usage, plus a scrolling
// event log.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/go-go-golems/otelrun/pkg/events"
	"github.com/go-go-golems/otelrun/pkg/tui/styles"
)

const maxEventLines = 200

type Model struct {
	width  int
	height int

	theme    styles.Theme
	last     *events.RunSnapshot
	eventLog []EventLogEntry
	vp       viewport.Model
	vpReady  bool
}

func NewModel() Model {
	return Model{theme: styles.DefaultTheme()}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch v := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = v.Width, v.Height
		logHeight := m.height - 12
		if logHeight < 3 {
			logHeight = 3
		}
		if !m.vpReady {
			m.vp = viewport.New(m.width-4, logHeight)
			m.vpReady = true
		} else {
			m.vp.Width = m.width - 4
			m.vp.Height = logHeight
		}
		m.refreshLog()
		return m, nil
	case tea.KeyMsg:
		switch v.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd
	case SnapshotMsg:
		m.last = &v.Snapshot
		return m, nil
	case EventAppendMsg:
		m.eventLog = append(m.eventLog, v.Entry)
		if len(m.eventLog) > maxEventLines {
			m.eventLog = m.eventLog[len(m.eventLog)-maxEventLines:]
		}
		m.refreshLog()
		return m, nil
	}
	return m, nil
}

func (m *Model) refreshLog() {
	if !m.vpReady {
		return
	}
	lines := make([]string, 0, len(m.eventLog))
	for _, e := range m.eventLog {
		lines = append(lines, fmt.Sprintf("%s  %s", e.At.Format("15:04:05"), e.Text))
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	m.vp.GotoBottom()
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.theme.Title.Render("otelrun"))
	b.WriteString("\n\n")
	b.WriteString(m.renderRun())
	b.WriteString("\n")

	if m.vpReady {
		b.WriteString(m.theme.Label.Render("Events"))
		b.WriteString("\n")
		b.WriteString(m.theme.Border.Render(m.vp.View()))
		b.WriteString("\n")
	}

	b.WriteString(m.theme.Keybind.Render("q") + m.theme.Label.Render(" quit"))
	return b.String()
}

func (m Model) renderRun() string {
	if m.last == nil {
		return m.theme.StatusPending.Render("Loading state...") + "\n"
	}

	s := m.last
	if !s.Exists {
		return m.theme.StatusDead.Render("Stopped") + m.theme.Label.Render(" (no state file)") + "\n"
	}
	if s.Error != "" {
		return m.theme.StatusDead.Render("Error") + "\n" + s.Error + "\n"
	}
	if s.Run == nil {
		return m.theme.StatusPending.Render("Unknown") + "\n"
	}

	run := s.Run
	status := m.theme.StatusDead.Render("dead")
	if s.Alive {
		status = m.theme.StatusRunning.Render("running")
	}

	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, m.theme.Label.Render(fmt.Sprintf("%-11s", label)), value)
	}

	lines := []string{
		row("Service", fmt.Sprintf("%s %s (pid %d)", run.Service.Name, status, run.Service.PID)),
		row("Endpoint", run.Endpoint),
		row("Uptime", formatUptime(run.Service.StartedAt, s.Alive)),
	}

	if s.ProcessStats != nil {
		lines = append(lines, row("CPU / Mem", fmt.Sprintf("%.1f%% / %d MB", s.ProcessStats.CPUPercent, s.ProcessStats.MemoryMB)))
	}

	stack := "externally managed"
	if run.Stack.StartedByUs {
		stack = "started by this run"
	}
	if run.Stack.DashboardURL != "" {
		stack += "  " + m.theme.Label.Render(run.Stack.DashboardURL)
	}
	lines = append(lines, row("Stack", stack))

	return strings.Join(lines, "\n") + "\n"
}

func formatUptime(startedAt time.Time, alive bool) string {
	if startedAt.IsZero() || !alive {
		return "-"
	}
	return time.Since(startedAt).Round(time.Second).String()
}
