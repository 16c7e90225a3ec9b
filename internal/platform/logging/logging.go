// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging builds the structured slog loggers used across the CRO
// Analysis Core. Adapted from pkg/logging's layered design, trimmed to the
// single destination this backend needs: JSON to stdout, one "service"
// attribute per binary, one "correlation_id" attribute on a child built
// with WithCorrelationID.
package logging

import (
	"log/slog"
	"os"
)

// Config controls logger construction.
type Config struct {
	Service string
	Level   slog.Level
}

// New builds a JSON slog.Logger tagged with the service name. Falls back to
// slog.LevelInfo when Level is the zero value and Service is empty when
// unset, so callers never need a nil check.
func New(cfg Config) *slog.Logger {
	level := cfg.Level
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger
}

// WithCorrelationID returns a child logger carrying a correlation id, for
// tying together log lines for one pull, one feedback call, or one agent
// run, per the error-handling design's "logged with correlation id"
// requirement for Internal failures.
func WithCorrelationID(logger *slog.Logger, id string) *slog.Logger {
	return logger.With("correlation_id", id)
}
