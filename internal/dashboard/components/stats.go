// Package components renders the individual boxes of the engine
// dashboard from a metrics.Snapshot, the way pgmigrator's tui/components
// package renders migration-progress boxes from its own Snapshot type.
package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nebula-stream/nebula/internal/metrics"
)

var (
	statLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	statValueStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))
	statWarnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F59E0B"))
)

// RenderStats renders the queue depth, watermark, active-query, and
// failure-counter row.
func RenderStats(snap metrics.Snapshot, width int) string {
	stat := func(label string, value string, warn bool) string {
		v := statValueStyle
		if warn {
			v = statWarnStyle
		}
		return statLabelStyle.Render(label+": ") + v.Render(value)
	}

	left := strings.Join([]string{
		stat("Queue depth", fmt.Sprintf("%d", snap.QueueDepth), false),
		stat("Watermark", fmt.Sprintf("%d", snap.GlobalWatermark), false),
		stat("Active queries", fmt.Sprintf("%d", snap.ActiveQueries), false),
	}, "    ")

	right := strings.Join([]string{
		stat("Placement failures", fmt.Sprintf("%d", snap.PlacementFailures), snap.PlacementFailures > 0),
		stat("Amendment failures", fmt.Sprintf("%d", snap.AmendmentFailures), snap.AmendmentFailures > 0),
	}, "    ")

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

// RenderThroughput renders cumulative processed-tuple/buffer counters.
func RenderThroughput(snap metrics.Snapshot) string {
	return fmt.Sprintf("%s %s    %s %s",
		statLabelStyle.Render("Tuples processed:"),
		statValueStyle.Render(fmt.Sprintf("%d", snap.ProcessedTuplesTotal)),
		statLabelStyle.Render("Buffers processed:"),
		statValueStyle.Render(fmt.Sprintf("%d", snap.ProcessedBuffersTotal)),
	)
}
