// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package redact removes protected health identifiers from free text.
//
// A Scrubber runs an optional external analyzer first and always finishes
// with the deterministic pattern pass, so text is never returned
// unscrubbed just because the analyzer was down.
package redact

import (
	"context"
	"log/slog"
	"regexp"
)

// Analyzer is an optional external PII detection backend (e.g. a Presidio
// sidecar). Implementations return the scrubbed text.
type Analyzer interface {
	Scrub(ctx context.Context, text string) (string, error)
}

// pattern pairs a compiled regexp with its typed placeholder.
type pattern struct {
	re          *regexp.Regexp
	placeholder string
}

// Deterministic fallback patterns. Order matters: MRN before the generic
// phone pattern so "MRN-5551234567" is not half-eaten as a phone number.
var patterns = []pattern{
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED-SSN]"},
	{regexp.MustCompile(`\b[Mm][Rr][Nn][-:]?\s*\d+\b`), "[REDACTED-MRN]"},
	{regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`), "[REDACTED-DOB]"},
	{regexp.MustCompile(`(?:\(\d{3}\)|\b\d{3})[-.\s]\d{3}[-.\s]?\d{4}\b`), "[REDACTED-PHONE]"},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[REDACTED-EMAIL]"},
}

// Scrubber removes PII from text before it is stored or shown.
//
// Thread Safety:
//
//	Scrubber is safe for concurrent use.
type Scrubber struct {
	analyzer Analyzer
}

// NewScrubber creates a scrubber. The analyzer may be nil, in which case
// only the pattern pass runs.
func NewScrubber(analyzer Analyzer) *Scrubber {
	return &Scrubber{analyzer: analyzer}
}

// Scrub removes PII from the text.
//
// Description:
//
//	Runs the external analyzer when configured, then the deterministic
//	pattern pass over whatever the analyzer produced. Analyzer failures
//	are logged and swallowed; the pattern pass is the floor.
//
// Inputs:
//
//	ctx - Context for the analyzer call
//	text - Text to scrub
//
// Outputs:
//
//	string - Scrubbed text with typed placeholders
func (s *Scrubber) Scrub(ctx context.Context, text string) string {
	if text == "" {
		return text
	}

	if s.analyzer != nil {
		scrubbed, err := s.analyzer.Scrub(ctx, text)
		if err != nil {
			slog.Warn("PII analyzer failed, falling back to patterns", "error", err)
		} else {
			text = scrubbed
		}
	}

	return ScrubPatterns(text)
}

// ScrubPatterns applies only the deterministic pattern pass.
func ScrubPatterns(text string) string {
	for _, p := range patterns {
		text = p.re.ReplaceAllString(text, p.placeholder)
	}
	return text
}
