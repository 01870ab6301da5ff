// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// markerPattern extracts one clinical marker kind from document text.
// Extraction is deterministic so the same document always stages the
// same markers.
type markerPattern struct {
	re   *regexp.Regexp
	name string
	unit string
}

var markerPatterns = []markerPattern{
	{regexp.MustCompile(`(?i)\b(?:hemoglobin a1c|hba1c|hgb a1c|a1c)\b[^0-9]{0,20}(\d+(?:\.\d+)?)\s*%`),
		"Hemoglobin A1c", "%"},
	{regexp.MustCompile(`(?i)\bldl\b[^0-9]{0,20}(\d+(?:\.\d+)?)`), "LDL Cholesterol", "mg/dL"},
	{regexp.MustCompile(`(?i)\bhdl\b[^0-9]{0,20}(\d+(?:\.\d+)?)`), "HDL Cholesterol", "mg/dL"},
	{regexp.MustCompile(`(?i)\btriglycerides?\b[^0-9]{0,20}(\d+(?:\.\d+)?)`), "Triglycerides", "mg/dL"},
	{regexp.MustCompile(`(?i)\b(?:fasting )?glucose\b[^0-9]{0,20}(\d+(?:\.\d+)?)`), "Glucose", "mg/dL"},
	{regexp.MustCompile(`(?i)\bcreatinine\b[^0-9]{0,20}(\d+(?:\.\d+)?)`), "Creatinine", "mg/dL"},
	{regexp.MustCompile(`(?i)\begfr\b[^0-9]{0,20}(\d+(?:\.\d+)?)`), "eGFR", "mL/min"},
	{regexp.MustCompile(`(?i)\btsh\b[^0-9]{0,20}(\d+(?:\.\d+)?)`), "TSH", "mIU/L"},
}

// bpPattern is handled separately: one reading stages two markers.
var bpPattern = regexp.MustCompile(`(?i)\b(?:blood pressure|bp)\b[^0-9]{0,20}(\d{2,3})\s*/\s*(\d{2,3})`)

// Comparator extracts clinical markers from document evidence, stages
// the new ones and arms the sync confirmation gate.
type Comparator struct {
	markers MarkerStore
}

// NewComparator creates a comparator over the staging ledger.
func NewComparator(markers MarkerStore) *Comparator {
	return &Comparator{markers: markers}
}

// Compare stages markers found in this turn's document evidence.
//
// Description:
//
//	Extracts markers from document-kind evidence, deduplicates them
//	within the turn (longest raw text wins), splits them into new and
//	already-synced against the subject's synced record, and stages the
//	new ones PENDING. When anything new was staged the turn suspends on
//	the sync confirmation gate. If the synced record cannot be read the
//	comparator fails open and treats every marker as new; staging a
//	duplicate is recoverable, silently dropping a finding is not.
//
// Inputs:
//
//	ctx - Context for ledger access
//	state - The turn state; mutated in place
//
// Outputs:
//
//	error - Non-nil only on staging write failure
func (c *Comparator) Compare(ctx context.Context, state *WorkflowState) error {
	subjectID := ""
	if state.CachedSubject != nil {
		subjectID = state.CachedSubject.ID
	}
	if subjectID == "" {
		return nil
	}

	candidates := c.extract(state, subjectID)
	if len(candidates) == 0 {
		return nil
	}
	totalRaw := len(candidates)

	champions := championsByKey(candidates)

	synced := c.syncedKeys(ctx, subjectID)
	staged := c.pendingKeys(ctx, state.SessionID)

	summary := &SyncSummary{TotalRaw: totalRaw}
	for _, m := range champions {
		ref := MarkerRef{MarkerName: m.MarkerName, MarkerValue: m.MarkerValue}
		key := m.DedupeKey()

		if synced[key] {
			summary.Existing = append(summary.Existing, ref)
			continue
		}
		summary.New = append(summary.New, ref)

		// Re-running the same turn must not stage the same marker twice.
		if staged[key] {
			continue
		}
		if err := c.markers.InsertMarker(ctx, m); err != nil {
			return fmt.Errorf("stage marker %s: %w", m.MarkerName, err)
		}
	}

	// The summary is always recorded so the composer can report that
	// every extracted marker already exists. Only genuinely new markers
	// open the confirmation gate.
	state.SyncSummary = summary
	if len(summary.New) > 0 {
		state.PendingConfirmation = true
		state.StagedSubjectID = subjectID
	}
	return nil
}

// extract pulls marker candidates out of the document evidence. The
// citation text is used as raw text because it is the verbatim line.
func (c *Comparator) extract(state *WorkflowState, subjectID string) []*StagedMarker {
	var out []*StagedMarker
	for _, ev := range state.Evidence {
		if ev.Kind != KindDocument || ev.CitationText == "" {
			continue
		}
		out = append(out, extractMarkers(ev.CitationText, state, subjectID)...)
	}
	return out
}

func extractMarkers(line string, state *WorkflowState, subjectID string) []*StagedMarker {
	var out []*StagedMarker

	base := func(name, value string) *StagedMarker {
		return &StagedMarker{
			SessionID:      state.SessionID,
			SubjectID:      subjectID,
			MarkerName:     name,
			MarkerValue:    value,
			RawText:        line,
			SourceDocument: documentName(state),
			Confidence:     0.9,
		}
	}

	for _, p := range markerPatterns {
		for _, m := range p.re.FindAllStringSubmatch(line, -1) {
			out = append(out, base(p.name, m[1]+" "+p.unit))
		}
	}
	for _, m := range bpPattern.FindAllStringSubmatch(line, -1) {
		out = append(out, base("BP Systolic", m[1]+" mmHg"))
		out = append(out, base("BP Diastolic", m[2]+" mmHg"))
	}
	return out
}

// championsByKey keeps one marker per dedupe key, preferring the longest
// raw text, in first-seen key order.
func championsByKey(candidates []*StagedMarker) []*StagedMarker {
	byKey := make(map[string]*StagedMarker)
	var order []string
	for _, m := range candidates {
		key := m.DedupeKey()
		best, seen := byKey[key]
		if !seen {
			order = append(order, key)
		}
		if !seen || len(m.RawText) > len(best.RawText) {
			byKey[key] = m
		}
	}
	out := make([]*StagedMarker, len(order))
	for i, key := range order {
		out[i] = byKey[key]
	}
	return out
}

// syncedKeys reads the subject's synced record; fail open on error.
func (c *Comparator) syncedKeys(ctx context.Context, subjectID string) map[string]bool {
	keys := make(map[string]bool)
	synced, err := c.markers.SyncedMarkers(ctx, subjectID)
	if err != nil {
		slog.Warn("synced record unavailable, treating all markers as new",
			"subject", subjectID, "error", err)
		return keys
	}
	for _, m := range synced {
		keys[m.DedupeKey()] = true
	}
	return keys
}

// pendingKeys reads this session's already-staged markers so a repeated
// pass is idempotent.
func (c *Comparator) pendingKeys(ctx context.Context, sessionID string) map[string]bool {
	keys := make(map[string]bool)
	pending, err := c.markers.PendingMarkers(ctx, sessionID)
	if err != nil {
		slog.Warn("pending markers unavailable", "session", sessionID, "error", err)
		return keys
	}
	for _, m := range pending {
		keys[m.DedupeKey()] = true
	}
	return keys
}

// FormatSyncPrompt renders the confirmation prompt shown to the user.
func FormatSyncPrompt(summary *SyncSummary) string {
	var b strings.Builder
	b.WriteString("\n\nI found the following clinical markers in the document:\n")
	for _, ref := range summary.New {
		fmt.Fprintf(&b, "  - %s: %s (new)\n", ref.MarkerName, ref.MarkerValue)
	}
	for _, ref := range summary.Existing {
		fmt.Fprintf(&b, "  - %s: %s (already in the record)\n", ref.MarkerName, ref.MarkerValue)
	}
	b.WriteString("Reply \"yes\" to sync the new markers to the record, or anything else to skip.")
	return b.String()
}
