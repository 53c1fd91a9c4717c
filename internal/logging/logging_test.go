// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import "testing"

func TestDefaultSyslogConfig(t *testing.T) {
	cfg := DefaultSyslogConfig()

	if cfg.Enabled {
		t.Error("default should be disabled")
	}
	if cfg.Port != 514 {
		t.Errorf("expected port 514, got %d", cfg.Port)
	}
	if cfg.Protocol != "udp" {
		t.Errorf("expected protocol udp, got %s", cfg.Protocol)
	}
	if cfg.Tag != "nyx" {
		t.Errorf("expected tag nyx, got %s", cfg.Tag)
	}
}

func TestNewSyslogWriter_MissingHost(t *testing.T) {
	cfg := SyslogConfig{Enabled: true}

	if _, err := NewSyslogWriter(cfg); err == nil {
		t.Error("expected error for missing host")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"DEBUG":   LevelDebug,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf stringWriter
	l := NewLogger(&buf, "[TEST]")
	l.SetLevel(LevelWarn)

	l.Debug("should not appear")
	l.Info("should not appear either")
	l.Warn("this one shows", "k", "v")

	if got := buf.String(); got == "" {
		t.Fatal("expected warn line to be written")
	}
}

type stringWriter struct {
	data []byte
}

func (w *stringWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *stringWriter) String() string { return string(w.data) }
