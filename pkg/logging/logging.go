// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging builds the slog loggers used across billbridge. It adds a
// PROTO level, between WARN and INFO, for raw frame traces.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// LevelProto sits between INFO and WARN, so frame traces can be enabled
// without the rest of the info chatter
const LevelProto = slog.Level(2)

// ParseLevel accepts error, warn, proto, info or debug
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return slog.LevelError, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "proto":
		return LevelProto, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// LevelName returns the name ParseLevel accepts for l
func LevelName(l slog.Level) string {
	if l == LevelProto {
		return "PROTO"
	}
	return l.String()
}

// New returns a text logger writing to w at the given level
func New(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && len(groups) == 0 {
				if l, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(LevelName(l))
				}
			}
			return a
		},
	}))
}

// Discard returns a logger that drops everything
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Ring is an io.Writer that keeps the last lines written to it. The
// dashboard renders it in place of a scrolling terminal.
type Ring struct {
	mu    sync.Mutex
	lines []string
	max   int
}

// NewRing creates a ring holding up to max lines
func NewRing(max int) *Ring {
	return &Ring{max: max}
}

// Write implements io.Writer
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		r.lines = append(r.lines, line)
	}
	if len(r.lines) > r.max {
		r.lines = r.lines[len(r.lines)-r.max:]
	}
	return len(p), nil
}

// Lines returns a copy of the buffered lines, oldest first
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}
