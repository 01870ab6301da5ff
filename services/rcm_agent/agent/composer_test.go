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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/tools"
)

func mixedEvidenceState() *WorkflowState {
	return &WorkflowState{
		SessionID:     "s1",
		RawQuery:      "what is John Smith taking",
		Intent:        IntentMedications,
		Decision:      DecisionPass,
		Confidence:    0.95,
		CachedSubject: &tools.Subject{ID: "P001", Name: "John Smith"},
		Evidence: []Evidence{
			{Claim: "Lisinopril 10mg daily", Kind: KindMedication},
			{Claim: "Recorded allergies for John Smith: penicillin", Kind: KindAllergy},
		},
	}
}

func TestComposeFiltersEvidenceByIntent(t *testing.T) {
	composer := NewComposer(nil)

	state := mixedEvidenceState()
	composer.Compose(context.Background(), state)

	assert.Contains(t, state.FinalResponse, "Lisinopril")
	assert.NotContains(t, state.FinalResponse, "penicillin",
		"allergy evidence must not leak into a medications answer")
}

func TestComposeSafetyCheckSeesAllKinds(t *testing.T) {
	composer := NewComposer(nil)

	state := mixedEvidenceState()
	state.Intent = IntentSafetyCheck
	composer.Compose(context.Background(), state)

	assert.Contains(t, state.FinalResponse, "Lisinopril")
	assert.Contains(t, state.FinalResponse, "penicillin")
}

func TestComposeAppendsDisclaimer(t *testing.T) {
	composer := NewComposer(nil)

	state := mixedEvidenceState()
	composer.Compose(context.Background(), state)

	assert.Contains(t, state.FinalResponse, "not medical advice")
	assert.NotContains(t, state.FinalResponse, "escalate", "0.95 needs no escalation")
}

func TestComposeEscalatesLowConfidence(t *testing.T) {
	composer := NewComposer(nil)

	state := mixedEvidenceState()
	state.Confidence = 0.85
	composer.Compose(context.Background(), state)

	assert.Contains(t, state.FinalResponse, "escalate to a human reviewer")
}

func TestComposePartialListsGaps(t *testing.T) {
	composer := NewComposer(nil)

	state := mixedEvidenceState()
	state.Decision = DecisionPartial
	state.Confidence = 0.5
	state.MissingFlags = []string{
		"Insufficient Documentation: citation could not be verified for claim 'Apixaban 5mg'",
		"Insufficient Documentation: citation could not be verified for claim 'Apixaban 5mg'",
	}
	composer.Compose(context.Background(), state)

	assert.Contains(t, state.FinalResponse, "Partial results returned after maximum review attempts")
	assert.Contains(t, state.FinalResponse, "Apixaban 5mg")
	assert.Equal(t, 1, countOccurrences(state.FinalResponse, "Apixaban 5mg"), "flags are deduplicated")
	assert.Contains(t, state.FinalResponse, "escalate to a human reviewer")
}

func TestComposeRefusalPassesThrough(t *testing.T) {
	composer := NewComposer(nil)

	state := &WorkflowState{Decision: DecisionOutOfScope}
	composer.Compose(context.Background(), state)

	assert.Equal(t, OutOfScopeRefusal, state.FinalResponse)
}

func TestComposeSyncReportPassesThrough(t *testing.T) {
	composer := NewComposer(nil)

	state := &WorkflowState{
		Decision:      DecisionSyncComplete,
		DraftResponse: "Sync complete. 2 marker(s) recorded in the local ledger.",
	}
	composer.Compose(context.Background(), state)

	assert.Equal(t, "Sync complete. 2 marker(s) recorded in the local ledger.", state.FinalResponse)
	assert.Empty(t, state.DraftResponse)
}

func TestComposeSyncGateProducesDraftOnly(t *testing.T) {
	composer := NewComposer(nil)

	state := mixedEvidenceState()
	state.PendingConfirmation = true
	state.SyncSummary = &SyncSummary{
		New:      []MarkerRef{{MarkerName: "Hemoglobin A1c", MarkerValue: "7.2 %"}},
		TotalRaw: 1,
	}
	composer.Compose(context.Background(), state)

	assert.Empty(t, state.FinalResponse, "suspended turn must not set the final response")
	assert.Contains(t, state.DraftResponse, "Hemoglobin A1c")
	assert.Contains(t, state.DraftResponse, `Reply "yes" to sync`)
	require.NoError(t, state.CheckExclusive())
}

func TestComposeSkipsUnverifiedEvidence(t *testing.T) {
	composer := NewComposer(nil)

	state := mixedEvidenceState()
	state.AuditResults = []AuditResult{
		{EvidenceIndex: 0, Verified: false, Reason: "token missing"},
	}
	composer.Compose(context.Background(), state)

	assert.NotContains(t, state.FinalResponse, "Lisinopril")
}

func countOccurrences(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			count++
		}
	}
	return count
}
