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
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/grounding"
)

// Auditor verifies the evidence set and is the sole routing authority
// after execution: every path out of the audit step is a decision it
// made.
type Auditor struct{}

// NewAuditor creates an auditor.
func NewAuditor() *Auditor {
	return &Auditor{}
}

// Audit verifies the evidence and records the routing decision.
//
// Description:
//
//	Applies the decision table in order: iteration cap first, then
//	ambiguous evidence, then citation verification. Only synthetic
//	evidence is exempt from citation; everything else must be verbatim,
//	with trusted sources (attached documents, virtual tool outputs)
//	taken at face value. A single failed citation sends the whole turn
//	back through extraction; confidence decays with every loop consumed.
//
// Inputs:
//
//	state - The turn state; mutated in place
func (a *Auditor) Audit(state *WorkflowState) {
	if state.IterationCount >= MaxAuditIterations {
		state.Decision = DecisionPartial
		state.Confidence = grounding.PartialConfidence
		return
	}

	for _, ev := range state.Evidence {
		if ev.Ambiguous {
			state.Decision = DecisionAmbiguous
			return
		}
	}

	state.AuditResults = state.AuditResults[:0]
	failed := 0
	for i, ev := range state.Evidence {
		verified, reason := a.verify(ev, state.SourceContents)
		state.AuditResults = append(state.AuditResults, AuditResult{
			EvidenceIndex: i,
			Verified:      verified,
			Reason:        reason,
		})
		if verified {
			continue
		}
		failed++
		state.MissingFlags = append(state.MissingFlags, fmt.Sprintf(
			"Insufficient Documentation: citation could not be verified for claim '%s'", ev.Claim))
	}

	if failed > 0 {
		state.IterationCount++
		state.Decision = DecisionMissing
		slog.Info("audit found unverified citations, re-extracting",
			"session", state.SessionID,
			"failed", failed,
			"iteration", state.IterationCount)
		return
	}

	state.Decision = DecisionPass
	state.Confidence = grounding.Confidence(state.IterationCount, a.unmatchedSubject(state))
}

// verify checks one evidence entry against its source content.
func (a *Auditor) verify(ev Evidence, sources map[string]string) (bool, string) {
	// Tool-computed evidence carries no verbatim citation to check.
	if ev.Synthetic {
		return true, ""
	}
	// Anything else must be a verbatim quote of its source.
	if !ev.Verbatim {
		return false, "citation is not marked verbatim"
	}
	if trustedSource(ev.SourceID) {
		return true, ""
	}

	source, ok := sources[ev.SourceID]
	if !ok {
		return false, fmt.Sprintf("source %s has no content to verify against", ev.SourceID)
	}
	verified, missing := grounding.VerifyCitation(ev.CitationText, source)
	if !verified {
		return false, fmt.Sprintf("token %q not found in %s", missing, ev.SourceID)
	}
	return true, ""
}

// trustedSource reports whether citations from this source skip the
// verbatim check: attached documents are the ground truth themselves and
// virtual sources are deterministic tool outputs.
func trustedSource(sourceID string) bool {
	return strings.HasPrefix(sourceID, "document:") || strings.HasPrefix(sourceID, "virtual:")
}

// unmatchedSubject reports whether document evidence exists without a
// verified subject record to attribute it to.
func (a *Auditor) unmatchedSubject(state *WorkflowState) bool {
	if state.CachedSubject != nil {
		return false
	}
	for _, ev := range state.Evidence {
		if ev.Kind == KindDocument {
			return true
		}
	}
	return false
}
