package components

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nebula-stream/nebula/internal/metrics"
)

var (
	logTimeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	logINF        = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6"))
	logWRN        = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	logERR        = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	logDBG        = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	logCompStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A78BFA"))
	logFieldStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

// RenderLogs renders the last maxLines log entries. A running node has many
// concurrent components (query-manager, placement, ws-hub, ...) logging to
// the same panel, so each line is tagged with its source component, and
// any attached identifiers (queryId, nodeId, pipelineId, ...) are rendered
// after the message so an operator can trace a line back to the query or
// node it concerns without leaving the terminal.
func RenderLogs(entries []metrics.LogEntry, maxLines int) string {
	if len(entries) == 0 {
		return "  No log entries yet"
	}

	start := 0
	if len(entries) > maxLines {
		start = len(entries) - maxLines
	}

	var b strings.Builder
	for i := start; i < len(entries); i++ {
		e := entries[i]
		ts := logTimeStyle.Render(e.Time.Format("15:04:05"))

		var lvl string
		switch e.Level {
		case "info":
			lvl = logINF.Render("INF")
		case "warn":
			lvl = logWRN.Render("WRN")
		case "error":
			lvl = logERR.Render("ERR")
		default:
			lvl = logDBG.Render("DBG")
		}

		comp := ""
		if e.Component != "" {
			comp = " " + logCompStyle.Render("["+e.Component+"]")
		}

		line := fmt.Sprintf("  %s %s%s %s", ts, lvl, comp, e.Message)
		if fields := renderFields(e.Fields); fields != "" {
			line += " " + fields
		}
		b.WriteString(line)
		if i < len(entries)-1 {
			b.WriteByte('\n')
		}
	}

	return b.String()
}

// renderFields formats a log entry's attached identifiers as "key=value"
// pairs, sorted by key so a given component's output lines up column-wise.
func renderFields(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, fields[k])
	}
	return logFieldStyle.Render(strings.Join(parts, " "))
}
