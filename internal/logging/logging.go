// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures the process-wide log/slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Config selects the level, format and destination.
type Config struct {
	// Level is debug, info, warn or error (default info).
	Level string
	// Format is text or json (default text).
	Format string
	// File receives logs when set; otherwise Fallback is used.
	File string
	// Fallback is the writer used without a File (default os.Stderr).
	Fallback io.Writer
}

// Init installs the default slog logger and returns a close function for
// the log file, if one was opened. A file that cannot be opened falls back
// to the fallback writer.
func Init(cfg Config) (closeFn func() error) {
	closeFn = func() error { return nil }

	var w io.Writer = os.Stderr
	if cfg.Fallback != nil {
		w = cfg.Fallback
	}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0700); err != nil {
			slog.Error("failed to create log directory, using fallback", "file", cfg.File, "error", err)
		} else {
			f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
			if err != nil {
				slog.Error("failed to open log file, using fallback", "file", cfg.File, "error", err)
			} else {
				w = f
				closeFn = f.Close
			}
		}
	}

	slog.SetDefault(New(w, cfg.Level, cfg.Format))
	return closeFn
}

// New builds a logger writing to w.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewRequestID returns a time-ordered id for tagging a request.
func NewRequestID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewRequestLogger returns the default logger tagged with a fresh request id.
func NewRequestLogger() (*slog.Logger, string) {
	id := NewRequestID()
	return slog.With("request_id", id), id
}
