package metrics

import (
	"encoding/json"
	"io"
	"strconv"
	"time"
)

// LogWriter implements io.Writer for zerolog, routing log entries into the
// Collector so they reach the dashboard's log panel instead of leaking to
// stderr behind the alt screen. Unlike a generic log forwarder, it pulls
// the "component" field every sub-logger in this tree attaches via
// logger.With().Str("component", ...) into its own LogEntry.Component, and
// keeps the node/query/pipeline/operator identifiers (queryId, nodeId,
// pipelineId, subPlanId, ...) that zerolog encodes as JSON numbers rather
// than strings — those are the fields an operator actually needs to
// correlate a log line with a query or placement decision.
type LogWriter struct {
	collector *Collector
}

// NewLogWriter creates a LogWriter that feeds into the given Collector.
func NewLogWriter(c *Collector) *LogWriter {
	return &LogWriter{collector: c}
}

func (w *LogWriter) Write(p []byte) (int, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(p, &raw); err != nil {
		w.collector.AddLog(LogEntry{
			Time:    time.Now(),
			Level:   "info",
			Message: string(p),
		})
		return len(p), nil
	}

	entry := LogEntry{
		Time:   time.Now(),
		Fields: make(map[string]string),
	}

	if lvl, ok := raw["level"].(string); ok {
		entry.Level = lvl
	}
	if msg, ok := raw["message"].(string); ok {
		entry.Message = msg
	}
	if comp, ok := raw["component"].(string); ok {
		entry.Component = comp
	}
	if t, ok := raw["time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			entry.Time = parsed
		}
	}

	for k, v := range raw {
		switch k {
		case "level", "message", "time", "component":
			continue
		default:
			if s := stringifyField(v); s != "" {
				entry.Fields[k] = s
			}
		}
	}

	w.collector.AddLog(entry)
	return len(p), nil
}

// stringifyField renders a decoded JSON value as the dashboard wants to
// display it. Identifiers such as queryId or nodeId arrive as float64
// (encoding/json has no integer type); those are formatted without a
// trailing ".0" rather than dropped the way a plain string-only filter
// would drop them.
func stringifyField(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

var _ io.Writer = (*LogWriter)(nil)
