package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattsolo1/grove-kb/pkg/orchestration"
)

const progressHistory = 8

type progressMsg string

type indexDoneMsg struct {
	summary *orchestration.RunSummary
	err     error
}

// indexModel shows a spinner with the latest progress lines while a run is
// in flight. The run itself happens in a separate goroutine that feeds the
// program through Send.
type indexModel struct {
	spinner spinner.Model
	lines   []string
	groups  string
	done    bool
	summary *orchestration.RunSummary
	err     error
}

var (
	dimStyle    = lipgloss.NewStyle().Faint(true)
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
)

func newIndexModel() indexModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = activeStyle
	return indexModel{spinner: s}
}

func (m indexModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m indexModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.err = fmt.Errorf("interrupted")
			return m, tea.Quit
		}
	case progressMsg:
		line := string(msg)
		if strings.HasPrefix(line, "group ") {
			m.groups = line
		}
		m.lines = append(m.lines, line)
		if len(m.lines) > progressHistory {
			m.lines = m.lines[len(m.lines)-progressHistory:]
		}
	case indexDoneMsg:
		m.done = true
		m.summary = msg.summary
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m indexModel) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	status := "indexing"
	if m.groups != "" {
		status = m.groups
	}
	fmt.Fprintf(&b, "%s %s\n\n", m.spinner.View(), activeStyle.Render(status))
	for _, line := range m.lines {
		b.WriteString(dimStyle.Render("  "+line) + "\n")
	}
	return b.String()
}
