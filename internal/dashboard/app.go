// Package dashboard implements the terminal dashboard for observing a
// running engine node: queue depth, watermark, active queries, and a
// trailing log panel, fed live from a metrics.Collector the way
// pgmigrator's tui package feeds from its own Collector.
package dashboard

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nebula-stream/nebula/internal/dashboard/components"
	"github.com/nebula-stream/nebula/internal/metrics"
)

// snapshotMsg carries a new metrics snapshot into the Bubble Tea update loop.
type snapshotMsg metrics.Snapshot

// Model is the Bubble Tea model for the engine dashboard.
type Model struct {
	collector *metrics.Collector
	sub       chan metrics.Snapshot
	snapshot  metrics.Snapshot

	width  int
	height int
	ready  bool
}

// NewModel creates a dashboard model subscribed to collector. Subscribing
// here rather than in Init matters: Init has a value receiver, so any
// field it sets on m is discarded once it returns — the live model
// Bubble Tea keeps updating is the one NewModel built, not Init's copy.
func NewModel(collector *metrics.Collector) Model {
	return Model{collector: collector, sub: collector.Subscribe()}
}

// Init kicks off the first wait on the subscription already opened by
// NewModel.
func (m Model) Init() tea.Cmd {
	return waitForSnapshot(m.sub)
}

func waitForSnapshot(sub chan metrics.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-sub
		if !ok {
			return nil
		}
		return snapshotMsg(snap)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.sub != nil {
				m.collector.Unsubscribe(m.sub)
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

	case snapshotMsg:
		m.snapshot = metrics.Snapshot(msg)
		return m, waitForSnapshot(m.sub)
	}

	return m, nil
}

// View renders the full dashboard.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	w := m.width
	snap := m.snapshot

	var sections []string

	title := titleStyle.Width(w).Render(" nebula")
	sections = append(sections, title)

	statsBox := boxStyle.Width(w - 2).Render(components.RenderStats(snap, w-4))
	sections = append(sections, statsBox)

	throughputBox := boxStyle.Width(w - 2).Render(components.RenderThroughput(snap))
	sections = append(sections, throughputBox)

	logHeight := m.height - 12
	if logHeight < 5 {
		logHeight = 5
	}
	logEntries := m.collector.Logs()
	logBox := boxStyle.Width(w - 2).Render(components.RenderLogs(logEntries, logHeight))
	sections = append(sections, logBox)

	help := helpStyle.Render("  q: quit")
	sections = append(sections, help)

	return strings.Join(sections, "\n")
}

// Run starts the dashboard in fullscreen mode, blocking until the user quits.
func Run(collector *metrics.Collector) error {
	model := NewModel(collector)
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
