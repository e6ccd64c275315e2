package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSetup_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Config{Level: LevelInfo, Output: &buf})

	logger.Info().Str("endpoint", "/orders/v0/orders").Msg("request complete")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["endpoint"] != "/orders/v0/orders" {
		t.Errorf("endpoint field = %v", entry["endpoint"])
	}
	if entry["message"] != "request complete" {
		t.Errorf("message field = %v", entry["message"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected timestamp field")
	}
}

func TestSetup_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Config{Level: LevelWarn, Output: &buf})

	logger.Debug().Msg("debug message")
	logger.Info().Msg("info message")
	logger.Warn().Msg("warn message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("lower levels were not filtered: %q", out)
	}
	if !strings.Contains(out, "warn message") {
		t.Errorf("warn message missing: %q", out)
	}
}

func TestNewLogger_ComponentField(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{Level: LevelDebug, Output: &buf})

	logger := NewLogger("auth")
	logger.Info().Msg("token refreshed")

	if !strings.Contains(buf.String(), `"component":"auth"`) {
		t.Errorf("component field missing: %q", buf.String())
	}
}
