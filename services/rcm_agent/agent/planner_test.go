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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/llm"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/tools"
)

// fallbackPlanner always fails the LLM call so the regex path runs.
func fallbackPlanner() *Planner {
	return NewPlanner(llm.NewMockClient().WithError(errors.New("llm down")))
}

func TestFallbackAnalysisSubjectDetection(t *testing.T) {
	cases := []struct {
		query   string
		subject string
	}{
		{"Look up P003 please", "P003"},
		{"What was staged for patient Mary Johnson", "Mary Johnson"},
		{"What medications is John Smith taking?", "John Smith"},
		{"Review MRN-12345 records", "MRN-12345"},
	}
	for _, tc := range cases {
		analysis := fallbackAnalysis(tc.query, IntentGeneral)
		assert.Equal(t, tc.subject, analysis.SubjectQuery, tc.query)
		assert.True(t, analysis.NeedsSubject, tc.query)
	}
}

func TestFallbackAnalysisFlags(t *testing.T) {
	analysis := fallbackAnalysis("Does the attached note support prior authorization, and what is the denial risk?", IntentGeneral)
	assert.True(t, analysis.NeedsDocEvidence)
	assert.True(t, analysis.NeedsPolicyCheck)
	assert.True(t, analysis.NeedsDenialAnalysis)
}

func TestPlanUsesLLMAnalysisWhenValid(t *testing.T) {
	client := llm.NewMockClient().
		QueueContent(`{"needs_subject": true, "subject_query": "P002"}`)
	planner := NewPlanner(client)

	state := &WorkflowState{SessionID: "s1", RawQuery: "meds?", Intent: IntentMedications}
	planner.Plan(context.Background(), state)

	require.NotNil(t, state.Analysis)
	assert.Equal(t, "P002", state.Analysis.SubjectQuery)
	assert.Equal(t, []string{tools.ToolLookupSubject, tools.ToolLookupMedications}, state.ToolPlan)
}

func TestPlanIntentToolPlans(t *testing.T) {
	cases := []struct {
		intent Intent
		plan   []string
	}{
		{IntentMedications, []string{tools.ToolLookupSubject, tools.ToolLookupMedications}},
		{IntentAllergies, []string{tools.ToolLookupSubject}},
		{IntentInteractions, []string{tools.ToolLookupSubject, tools.ToolLookupMedications, tools.ToolCheckInteractions}},
		{IntentSafetyCheck, []string{tools.ToolLookupSubject, tools.ToolLookupMedications, tools.ToolCheckInteractions, tools.ToolCheckAllergyConflict}},
	}
	for _, tc := range cases {
		planner := fallbackPlanner()
		state := &WorkflowState{RawQuery: "for John Smith", Intent: tc.intent}
		planner.Plan(context.Background(), state)
		assert.Equal(t, tc.plan, state.ToolPlan, string(tc.intent))
	}
}

func TestPlanPronounResolvesToCachedSubject(t *testing.T) {
	planner := fallbackPlanner()
	state := &WorkflowState{
		RawQuery:      "What is she taking?",
		Intent:        IntentMedications,
		CachedSubject: &tools.Subject{ID: "P002", Name: "Mary Johnson"},
	}
	planner.Plan(context.Background(), state)

	assert.Equal(t, "P002", state.Analysis.SubjectQuery)
	assert.NotNil(t, state.CachedSubject, "same subject keeps the cache")
}

func TestPlanSubjectSwitchInvalidatesSession(t *testing.T) {
	planner := fallbackPlanner()
	state := &WorkflowState{
		RawQuery:            "What about patient Robert Chen?",
		Intent:              IntentMedications,
		CachedSubject:       &tools.Subject{ID: "P002", Name: "Mary Johnson"},
		PolicyCache:         map[string]string{"x": "y"},
		DenialRiskCache:     map[string]string{"x": "y"},
		PendingConfirmation: true,
		SyncSummary:         &SyncSummary{TotalRaw: 1},
	}
	planner.Plan(context.Background(), state)

	assert.Nil(t, state.CachedSubject)
	assert.Nil(t, state.PolicyCache)
	assert.Nil(t, state.DenialRiskCache)
	assert.False(t, state.PendingConfirmation, "stale sync gate must not capture the new subject")
	assert.Nil(t, state.SyncSummary)
}

func TestPlanSameSubjectKeepsCaches(t *testing.T) {
	planner := fallbackPlanner()
	state := &WorkflowState{
		RawQuery:      "More about patient Mary Johnson",
		Intent:        IntentMedications,
		CachedSubject: &tools.Subject{ID: "P002", Name: "Mary Johnson"},
		PolicyCache:   map[string]string{"x": "y"},
	}
	planner.Plan(context.Background(), state)

	assert.NotNil(t, state.CachedSubject)
	assert.NotNil(t, state.PolicyCache)
}

func TestPlanExplicitIDOverridesCache(t *testing.T) {
	planner := fallbackPlanner()
	state := &WorkflowState{
		RawQuery:      "Now check P003",
		Intent:        IntentMedications,
		CachedSubject: &tools.Subject{ID: "P002", Name: "Mary Johnson"},
	}
	planner.Plan(context.Background(), state)

	assert.Equal(t, "P003", state.Analysis.SubjectQuery)
	assert.Nil(t, state.CachedSubject, "different explicit ID invalidates the cache")
}

func TestPlanDocumentRequiredButMissing(t *testing.T) {
	planner := fallbackPlanner()
	state := &WorkflowState{
		RawQuery: "Summarize the attached document for John Smith",
		Intent:   IntentGeneral,
	}
	planner.Plan(context.Background(), state)

	assert.Empty(t, state.ToolPlan)
	assert.Contains(t, state.DraftResponse, "no document is attached")
	assert.Equal(t, DecisionPass, state.Decision)
}

func TestPlanDocumentPipelineSkipsCachedSteps(t *testing.T) {
	planner := fallbackPlanner()
	state := &WorkflowState{
		RawQuery:       "Check the attached document for John Smith",
		Intent:         IntentGeneral,
		DocContentHash: "abc",
		DocPages:       []string{"cached page"},
		CachedSubject:  &tools.Subject{ID: "P001", Name: "John Smith"},
	}
	planner.Plan(context.Background(), state)

	assert.NotContains(t, state.ToolPlan, tools.ToolLookupSubject, "subject already cached")
	assert.NotContains(t, state.ToolPlan, tools.ToolExtractDocument, "pages already cached")
	assert.Contains(t, state.ToolPlan, tools.ToolLookupMedications)
}

func TestPlanClarificationAnswerNamesSubject(t *testing.T) {
	planner := fallbackPlanner()
	state := &WorkflowState{
		RawQuery:              "What is he taking? (John Smith)",
		Intent:                IntentMedications,
		ClarificationResponse: "John Smith",
	}
	planner.Plan(context.Background(), state)

	assert.Equal(t, "John Smith", state.Analysis.SubjectQuery)
}
