package applog

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelsAndPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn, false).With("heating")

	l.Debugf("hidden %d", 1)
	l.Infof("hidden %d", 2)
	l.Warnf("stale %s", "prices")
	l.Errorf("publish failed")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected debug/info filtered, got %q", out)
	}
	if !strings.Contains(out, "[WARN] heating: stale prices") {
		t.Fatalf("missing warn line: %q", out)
	}
	if !strings.Contains(out, "[ERROR] heating: publish failed") {
		t.Fatalf("missing error line: %q", out)
	}
}

func TestWithNests(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, LevelDebug, false).With("controllers").With("mqtt").Debugf("x")
	if !strings.Contains(buf.String(), "[DEBUG] controllers: mqtt: x") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestNilAndDiscard(t *testing.T) {
	var l *Logger
	l.Infof("no panic")
	l.With("child").Errorf("no panic either")
	Discard().Errorf("dropped")
}

func TestPrintfIsInfo(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, LevelInfo, false).Printf("cron %s", "tick")
	if !strings.Contains(buf.String(), "[INFO] cron tick") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"", LevelInfo},
		{" INFO ", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"off", LevelOff},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected error")
	}
}
