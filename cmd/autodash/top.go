package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/orangebricks/autodash/internal/driver"
	"github.com/orangebricks/autodash/internal/health"
	"github.com/orangebricks/autodash/internal/registry"
)

const topRefresh = 2 * time.Second

type topKeys struct {
	Up      key.Binding
	Down    key.Binding
	Refresh key.Binding
	Stop    key.Binding
	Restart key.Binding
	Quit    key.Binding
}

var keys = topKeys{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Stop:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop")),
	Restart: key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "restart")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#666", Dark: "#999"}
	highlight = lipgloss.AdaptiveColor{Light: "#7D56F4", Dark: "#AD8EE6"}

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(highlight)
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(subtle)
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.AdaptiveColor{Light: "#E0E0E0", Dark: "#333333"})
	helpStyle     = lipgloss.NewStyle().Foreground(subtle)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#AA0000", Dark: "#FF5555"})

	stateStyles = map[driver.State]lipgloss.Style{
		driver.StateRunning:  lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00AA00", Dark: "#00FF00"}),
		driver.StateStarting: lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#AAAA00", Dark: "#FFFF00"}),
		driver.StateStopping: lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#AAAA00", Dark: "#FFFF00"}),
		driver.StateFailed:   lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#AA0000", Dark: "#FF0000"}),
		driver.StateStopped:  lipgloss.NewStyle().Foreground(subtle),
	}
)

type entriesMsg struct {
	entries []registry.Entry
	err     error
}

type actionMsg struct {
	status string
	err    error
}

type tickMsg time.Time

type topModel struct {
	entries []registry.Entry
	cursor  int
	status  string
	err     error
	width   int
}

func fetchCmd() tea.Msg {
	entries, err := fetchEntries()
	return entriesMsg{entries: entries, err: err}
}

func tick() tea.Cmd {
	return tea.Tick(topRefresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func actionCmd(method, path, file, done string) tea.Cmd {
	return func() tea.Msg {
		_, err := apiSend(method, path, map[string]string{"file": file}, 2*time.Minute)
		return actionMsg{status: fmt.Sprintf("%s %s", done, file), err: err}
	}
}

func (m topModel) Init() tea.Cmd {
	return tea.Batch(fetchCmd, tick())
}

func (m topModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, tea.Batch(fetchCmd, tick())
	case entriesMsg:
		m.err = msg.err
		if msg.err == nil {
			m.entries = msg.entries
			if m.cursor >= len(m.entries) {
				m.cursor = max(len(m.entries)-1, 0)
			}
		}
	case actionMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.status
		}
		return m, fetchCmd
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.entries)-1 {
				m.cursor++
			}
		case key.Matches(msg, keys.Refresh):
			return m, fetchCmd
		case key.Matches(msg, keys.Stop):
			if e, ok := m.selected(); ok {
				m.status = "stopping " + e.Path
				return m, actionCmd(http.MethodDelete, "/dashboards", e.Path, "stopped")
			}
		case key.Matches(msg, keys.Restart):
			if e, ok := m.selected(); ok {
				m.status = "restarting " + e.Path
				return m, actionCmd(http.MethodPost, "/dashboards/restart", e.Path, "restarted")
			}
		}
	}
	return m, nil
}

func (m topModel) selected() (registry.Entry, bool) {
	if m.cursor < 0 || m.cursor >= len(m.entries) {
		return registry.Entry{}, false
	}
	return m.entries[m.cursor], true
}

func (m topModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("autodash") + "  " + helpStyle.Render(baseURL()) + "\n\n")

	row := "%-40s %-10s %-9s %-10s %-6s %s"
	b.WriteString(headerStyle.Render(fmt.Sprintf(row, "FILE", "KIND", "STATE", "HEALTH", "PORT", "UPTIME")) + "\n")

	if len(m.entries) == 0 {
		b.WriteString(helpStyle.Render("No dashboards") + "\n")
	}
	for i, e := range m.entries {
		style, ok := stateStyles[e.State]
		if !ok {
			style = lipgloss.NewStyle()
		}
		hs := string(e.Health)
		if e.Health == health.StatusUnknown || hs == "" {
			hs = "-"
		}
		line := fmt.Sprintf("%-40s %-10s %s %-10s %-6d %s",
			truncate(e.Path, 40), e.Kind, style.Render(fmt.Sprintf("%-9s", e.State)), hs, e.Port, e.Uptime)
		if i == m.cursor {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()) + "\n")
	} else if m.status != "" {
		b.WriteString(helpStyle.Render(m.status) + "\n")
	}

	help := []key.Binding{keys.Up, keys.Down, keys.Refresh, keys.Stop, keys.Restart, keys.Quit}
	parts := make([]string, 0, len(help))
	for _, k := range help {
		h := k.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	b.WriteString(helpStyle.Render(strings.Join(parts, " • ")))
	return b.String()
}

// truncate shortens s to n runes, keeping the tail since file names are
// the interesting part of a path.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return "…" + string(r[len(r)-n+1:])
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Live view of running dashboards",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := tea.NewProgram(topModel{}, tea.WithAltScreen()).Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(topCmd)
}
