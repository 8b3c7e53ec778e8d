package observability

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestComponentWithoutLoggerDiscards(t *testing.T) {
	logger := Component(nil, "sandbox")
	if logger == nil {
		t.Fatal("Component(nil) = nil")
	}
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("discarding logger should not be enabled")
	}
}

func TestComponentTagsRecords(t *testing.T) {
	var buf bytes.Buffer
	Component(slog.New(slog.NewTextHandler(&buf, nil)), "dataset").Info("loaded")
	if !strings.Contains(buf.String(), "component=dataset") {
		t.Fatalf("log line = %q", buf.String())
	}
}
