package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fourcat/internal/config"
	"fourcat/internal/logging"
	"fourcat/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("scheduler started")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "fourcat.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "scheduler started") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestConsoleLoggerRendersJobSubject(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithJobID(context.Background(), 7)
	ctx = services.WithJobType(ctx, "count-tokens")
	ctx = services.WithDatasetKey(ctx, "0123456789abcdef")
	logging.WithContext(ctx, logging.NewComponentLogger(logger, "worker")).Info("job finished",
		logging.String(logging.FieldEventType, "job_finished"),
		logging.Int("rows", 12),
		logging.String("staging_dir", "/tmp/x"),
	)

	out := buf.String()
	for _, fragment := range []string{"[worker]", "count-tokens · Job #7 (01234567)", "job finished", "Event: job_finished", "Rows: 12", "1 more field hidden"} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %q in output %q", fragment, out)
		}
	}
	if strings.Contains(out, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", out)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("claim attempt", logging.String("staging_dir", "/tmp/x"))

	out := buf.String()
	if !strings.Contains(out, ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", out)
	}
	if !strings.Contains(out, "/tmp/x") {
		t.Fatalf("expected debug lines to show every field, got %q", out)
	}
}

func TestJSONLoggerIncludesContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithJobID(context.Background(), 3)
	ctx = services.WithRequestID(ctx, "req-1")
	failure := services.Wrap(services.ErrTransient, "count-tokens", "read", "", errors.New("io"))
	logging.WithContext(ctx, logger).Warn("job failed", logging.Args(logging.Failure(failure)...)...)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, buf.String())
	}
	if entry["level"] != "warn" {
		t.Fatalf("unexpected level: %v", entry["level"])
	}
	if entry[logging.FieldJobID] != float64(3) {
		t.Fatalf("unexpected job id: %v", entry[logging.FieldJobID])
	}
	if entry[logging.FieldCorrelationID] != "req-1" {
		t.Fatalf("unexpected correlation id: %v", entry[logging.FieldCorrelationID])
	}
	if entry[logging.FieldErrorKind] != "transient" {
		t.Fatalf("unexpected error kind: %v", entry[logging.FieldErrorKind])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatal("expected ts key")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "staging cleanup failed", "staging_cleanup_failed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	for _, key := range []string{logging.FieldEventType, logging.FieldErrorHint, logging.FieldImpact} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected %q to be injected, got %v", key, entry)
		}
	}
}

func TestWarnWithContextKeepsCallerFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "staging area not removed", "staging_cleanup_failed",
		logging.String(logging.FieldErrorHint, "check staging_dir permissions"),
		logging.String(logging.FieldImpact, "disk space not reclaimed"),
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if entry[logging.FieldErrorHint] != "check staging_dir permissions" {
		t.Fatalf("caller hint replaced: %v", entry)
	}
	if entry[logging.FieldImpact] != "disk space not reclaimed" {
		t.Fatalf("caller impact replaced: %v", entry)
	}
	if entry[logging.FieldEventType] != "staging_cleanup_failed" {
		t.Fatalf("expected event type default, got %v", entry)
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), 100) {
		t.Fatal("nop logger should never be enabled")
	}
}
