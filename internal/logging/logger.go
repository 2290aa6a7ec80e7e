// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package logging builds the structured logger shared by the proxy's
// listener, connector, cache and reactor components.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a slog.Logger for the given level/format/output,
// scoped to one side of a paired proxy deployment: role is attached to
// every record ("role", role) so a client log and a server log can be
// told apart once they land in the same aggregator, the way a paired
// proxy's two halves otherwise produce identically-shaped records.
// Formats: "json" (default) and "text". Levels: "debug", "info"
// (default), "warn", "error". When filePath is non-empty, logs are
// written to stdout and the file (io.MultiWriter); the returned
// io.Closer must be called on shutdown to close the file handle. When
// filePath is empty the Closer is a no-op.
func NewLogger(level, format, filePath, role string) (*slog.Logger, io.Closer) {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var w io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(strings.NewReader(""))

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			// Can't open the log file: fall back to stdout only.
			fmt.Fprintf(os.Stderr, "WARNING: could not open log file %q: %v (logging to stdout only)\n", filePath, err)
		} else {
			w = io.MultiWriter(os.Stdout, f)
			closer = f
		}
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	if role != "" {
		logger = logger.With("role", role)
	}
	return logger, closer
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
