// Package status implements the "meshhost status" TUI: a refreshing
// table of every known peer's health and session rollup, in the
// teacher's bubbletea/bubbles/lipgloss idiom (see internal/tui/feed and
// internal/tui/crew for the model/update/view shape this follows).
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aimaestro/meshhost/internal/peermesh"
)

const refreshInterval = 5 * time.Second

var (
	healthyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	unhealthyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	footerStyle    = lipgloss.NewStyle().Faint(true)
)

type tickMsg time.Time

type statusMsg struct {
	rows []peermesh.PeerStatus
	err  error
}

// Model is the status view's bubbletea model.
type Model struct {
	mesh    *peermesh.Driver
	table   table.Model
	err     error
	lastRun time.Time
}

// New builds a status Model driven by mesh.
func New(mesh *peermesh.Driver) Model {
	columns := []table.Column{
		{Title: "Host", Width: 20},
		{Title: "Healthy", Width: 10},
		{Title: "Sessions", Width: 10},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	return Model{mesh: mesh, table: t}
}

// Init kicks off the first fetch and the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetch() tea.Cmd {
	mesh := m.mesh
	return func() tea.Msg {
		rows, err := mesh.Status(context.Background())
		return statusMsg{rows: rows, err: err}
	}
}

// Update handles bubbletea messages: refresh ticks, fetch results, and
// quit keys.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		return m, m.fetch()
	case statusMsg:
		m.err = msg.err
		m.lastRun = time.Now()
		if msg.err == nil {
			m.table.SetRows(rowsFor(msg.rows))
		}
		return m, tick()
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func rowsFor(statuses []peermesh.PeerStatus) []table.Row {
	rows := make([]table.Row, 0, len(statuses))
	for _, s := range statuses {
		health := unhealthyStyle.Render("down")
		if s.Healthy {
			health = healthyStyle.Render("up")
		}
		rows = append(rows, table.Row{s.HostID, health, fmt.Sprintf("%d", s.Sessions)})
	}
	return rows
}

// View renders the table plus a status footer.
func (m Model) View() string {
	if m.err != nil {
		return fmt.Sprintf("mesh status error: %v\n\npress q to quit", m.err)
	}
	footer := footerStyle.Render(fmt.Sprintf("last refreshed %s — q to quit", m.lastRun.Format(time.Kitchen)))
	return m.table.View() + "\n" + footer
}
