package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewWritesServiceAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "worker", "warn")
	logger.Info("skipped")
	logger.Warn("analysis_failed", "analysis_id", "a-1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a single json entry, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "worker" || entry["msg"] != "analysis_failed" || entry["analysis_id"] != "a-1" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestSecretsAreRedacted(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "api", "info").Info("config", "api_key", "sk-live", "model", "gpt-4.1")
	if bytes.Contains(buf.Bytes(), []byte("sk-live")) {
		t.Fatalf("secret leaked: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":    slog.LevelDebug,
		" WARNING": slog.LevelWarn,
		"error":    slog.LevelError,
		"":         slog.LevelInfo,
		"verbose":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
