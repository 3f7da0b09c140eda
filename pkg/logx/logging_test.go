package logx

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestServiceFileSinkWritesStructuredEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})

	log.With(String("comp", "planner")).Info("day planned",
		Int("commits", 3),
		Duration("took", 250*time.Millisecond),
		Err(nil),
	)
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(raw, &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, raw)
	}
	if entry["message"] != "day planned" {
		t.Fatalf("message = %v, want %q", entry["message"], "day planned")
	}
	if entry["comp"] != "planner" {
		t.Fatalf("comp = %v, want planner", entry["comp"])
	}
	if entry["commits"] != float64(3) {
		t.Fatalf("commits = %v, want 3", entry["commits"])
	}
	if entry["level"] != "info" {
		t.Fatalf("level = %v, want info", entry["level"])
	}
}

func TestServiceApplyRaisesLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})

	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	log.Info("suppressed")
	log.Error("kept")
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(raw, &entry); err != nil {
		t.Fatalf("expected exactly one JSON line, got: %s", raw)
	}
	if entry["message"] != "kept" {
		t.Fatalf("message = %v, want %q", entry["message"], "kept")
	}
}

func TestNopAndZeroLoggersAreSafe(t *testing.T) {
	t.Parallel()
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	zero.Info("ignored")
	Nop().With(String("k", "v")).Error("ignored", Err(nil))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in); got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
