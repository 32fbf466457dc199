package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFileLoggerWritesToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")

	log, err := NewFileLogger(path, "info")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	log.Info("startup complete")
	_ = log.Sync() // stderr sync may fail on some platforms, file still flushes

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(data), "startup complete") {
		t.Fatalf("log file missing entry: %q", data)
	}
}

func TestNewLoggerFallsBackOnBadLevel(t *testing.T) {
	log, err := NewLogger("nonsense")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if log == nil {
		t.Fatal("expected usable logger")
	}
	if !log.Core().Enabled(0) { // 0 is InfoLevel
		t.Fatal("expected info level fallback")
	}
}

func TestParseLevel(t *testing.T) {
	if got := parseLevel("debug"); got.String() != "debug" {
		t.Errorf("parseLevel(debug) = %s", got)
	}
	if got := parseLevel(""); got.String() != "info" {
		t.Errorf("parseLevel(empty) = %s, want info", got)
	}
}
