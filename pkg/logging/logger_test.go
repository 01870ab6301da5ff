// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"  warn  ", slog.LevelWarn},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.input), "parseLevel(%q)", tt.input)
	}
}

func TestNewLevelGating(t *testing.T) {
	ctx := context.Background()

	logger := New(Config{Service: "rcm_agent", Level: "warn"})
	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Enabled(ctx, slog.LevelWarn))
	assert.True(t, logger.Enabled(ctx, slog.LevelError))

	logger = New(Config{Service: "rcm_agent"})
	assert.False(t, logger.Enabled(ctx, slog.LevelDebug), "default level is info")
	assert.True(t, logger.Enabled(ctx, slog.LevelInfo))
}

func TestNewFormatSelection(t *testing.T) {
	logger := New(Config{Service: "rcm_agent"})
	_, ok := logger.Handler().(*slog.JSONHandler)
	assert.True(t, ok, "JSON is the default format")

	logger = New(Config{Service: "rcm_agent", Format: "text"})
	_, ok = logger.Handler().(*slog.TextHandler)
	assert.True(t, ok)

	logger = New(Config{Service: "rcm_agent", Format: "TEXT"})
	_, ok = logger.Handler().(*slog.TextHandler)
	assert.True(t, ok, "format comparison is case insensitive")
}

func TestFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")

	cfg := FromEnv("rcm_agent")
	assert.Equal(t, "rcm_agent", cfg.Service)
	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "text", cfg.Format)
}

func TestFromEnvUnsetFallsBackToDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")

	logger := New(FromEnv("rcm_agent"))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
	_, ok := logger.Handler().(*slog.JSONHandler)
	assert.True(t, ok)
}

func TestInitInstallsDefault(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	logger := Init(Config{Service: "rcm_agent", Level: "error"})
	assert.Same(t, logger, slog.Default())
	assert.False(t, slog.Default().Enabled(context.Background(), slog.LevelWarn))
}
