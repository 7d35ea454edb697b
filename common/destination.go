// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package common

import (
	"fmt"
	"io"
	"log"
	"log/syslog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger mirrors syslog.NewLogger but tags the logger with the
// program's own name, matching the teacher's configd.NewLogger.
func NewLogger(p syslog.Priority, logFlag int) (*log.Logger, error) {
	tag := "ncconfd"
	s, err := syslog.New(p, tag)
	if err != nil {
		return nil, err
	}
	return log.New(s, "", logFlag), nil
}

// Destination resolves the `log-destination` CLI option (spec.md §6):
// s = syslog, e = stderr, o = stdout, f<path> = rotating file.
func Destination(spec string) (io.Writer, error) {
	switch {
	case spec == "" || spec == "s":
		return io.Discard, nil // syslog handled by NewLogger callers directly
	case spec == "e":
		return os.Stderr, nil
	case spec == "o":
		return os.Stdout, nil
	case strings.HasPrefix(spec, "f"):
		path := strings.TrimPrefix(spec, "f")
		if path == "" {
			return nil, fmt.Errorf("log-destination f requires a path")
		}
		return &lumberjack.Logger{
			Filename:   path,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}, nil
	default:
		return nil, fmt.Errorf("unrecognised log-destination %q", spec)
	}
}
