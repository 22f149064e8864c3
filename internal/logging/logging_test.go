package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug")

	logger.Info().Str("document_id", "doc-1").Msg("created")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if line["document_id"] != "doc-1" || line["message"] != "created" || line["level"] != "info" {
		t.Errorf("unexpected line %v", line)
	}
	if _, ok := line["time"]; !ok {
		t.Error("expected timestamp")
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "WARN")

	logger.Info().Msg("quiet")
	logger.Warn().Msg("loud")

	if strings.Contains(buf.String(), "quiet") || !strings.Contains(buf.String(), "loud") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestNewUnknownLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "chatty")

	logger.Debug().Msg("debug")
	logger.Info().Msg("info")

	if strings.Contains(buf.String(), `"debug"`) || !strings.Contains(buf.String(), `"info"`) {
		t.Errorf("unexpected output %q", buf.String())
	}
}
