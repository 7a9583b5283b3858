package metrics

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestLogWriter_CapturesComponentAndNumericFields(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	logger := zerolog.New(NewLogWriter(c)).With().Str("component", "query-manager").Logger()
	logger.Info().Uint64("queryId", 7).Msg("query deployed")

	logs := c.Logs()
	if len(logs) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(logs))
	}
	entry := logs[0]
	if entry.Component != "query-manager" {
		t.Errorf("Component = %q, want %q", entry.Component, "query-manager")
	}
	if entry.Message != "query deployed" {
		t.Errorf("Message = %q, want %q", entry.Message, "query deployed")
	}
	if got := entry.Fields["queryId"]; got != "7" {
		t.Errorf("Fields[queryId] = %q, want %q", got, "7")
	}
	if _, ok := entry.Fields["component"]; ok {
		t.Errorf("component should not also be duplicated into Fields")
	}
}

func TestLogWriter_NonJSONFallsBackToRawMessage(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	w := NewLogWriter(c)
	if _, err := w.Write([]byte("not json\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	logs := c.Logs()
	if len(logs) != 1 || logs[0].Message != "not json\n" {
		t.Fatalf("expected raw line preserved as Message, got %+v", logs)
	}
}
