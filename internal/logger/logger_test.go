package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"none", LevelNone},
		{" info ", LevelInfo},
		{"invalid", LevelInfo}, // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LevelNone, "NONE"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.expected)
		}
	}
}

func TestNewLoggerFiltersByLevel(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	l, err := New(LevelInfo, logPath)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	l.Info("visible message")
	l.Debug("hidden message")
	l.Close()

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	if !strings.Contains(string(content), "visible message") {
		t.Errorf("Log file missing info message")
	}
	if strings.Contains(string(content), "hidden message") {
		t.Errorf("Log file contains debug message when level is INFO")
	}
	if !strings.Contains(string(content), "[INFO]") {
		t.Errorf("Log line missing level tag: %q", string(content))
	}
}

func TestNewLoggerDiscardsWithoutPath(t *testing.T) {
	l, err := New(LevelDebug, "")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer l.Close()

	// Must not panic or open any file.
	l.Debug("dropped")
	l.Error("dropped too")
}

func TestSetLevel(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	l, err := New(LevelError, logPath)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	l.Info("before")
	l.SetLevel(LevelDebug)
	l.Debug("after")
	l.Close()

	content, _ := os.ReadFile(logPath)
	if strings.Contains(string(content), "before") {
		t.Errorf("info message logged at error level")
	}
	if !strings.Contains(string(content), "after") {
		t.Errorf("debug message missing after SetLevel")
	}
}
