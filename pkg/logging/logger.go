// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for AleutianRCM services.
//
// Thin configuration layer over log/slog. Services call Init once at
// startup; everything else uses the default slog logger, or slog.With for
// request-scoped attributes. Output is JSON for machine ingestion unless
// LOG_FORMAT=text is set.
//
// Thread Safety:
//
//	slog loggers are safe for concurrent use. Init should be called once
//	before any goroutines start logging.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Config controls logger construction.
type Config struct {
	// Service is attached to every record as the "service" attribute.
	Service string

	// Level is the minimum level: "debug", "info", "warn", "error".
	// Defaults to "info".
	Level string

	// Format is "json" (default) or "text".
	Format string
}

// FromEnv builds a Config from LOG_LEVEL and LOG_FORMAT.
//
// Inputs:
//
//	service - Service name attached to every record
//
// Outputs:
//
//	Config - Populated config with env overrides applied
func FromEnv(service string) Config {
	return Config{
		Service: service,
		Level:   os.Getenv("LOG_LEVEL"),
		Format:  os.Getenv("LOG_FORMAT"),
	}
}

// New constructs a logger from the config without installing it.
func New(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger
}

// Init constructs a logger from the config and installs it as the slog
// default. Returns the installed logger.
func Init(cfg Config) *slog.Logger {
	logger := New(cfg)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
