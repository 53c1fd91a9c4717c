// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build windows
// +build windows

package logging

import (
	"errors"
	"io"
)

// SyslogConfig configures the optional syslog sink. Syslog is unsupported
// on Windows; Enabled is kept for config-struct symmetry.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string
	Tag      string
	Facility int
}

// DefaultSyslogConfig returns a disabled syslog config.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{Enabled: false, Port: 514, Protocol: "udp", Tag: "nyx"}
}

// NewSyslogWriter always fails on Windows; there is no local syslog transport.
func NewSyslogWriter(cfg SyslogConfig) (io.Writer, error) {
	return nil, errors.New("logging: syslog is not supported on windows")
}
