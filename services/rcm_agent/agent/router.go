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
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/llm"
)

// OutOfScopeRefusal is the fixed response for out-of-scope queries.
const OutOfScopeRefusal = "I am a specialized Healthcare RCM agent. I can only assist " +
	"with clinical documentation, patient medications, drug interactions, allergy " +
	"checks, and insurance verification."

// routerSystemPrompt constrains the classifier to a single-token answer.
const routerSystemPrompt = `You classify healthcare revenue-cycle queries.
Respond with exactly one of: MEDICATIONS, ALLERGIES, INTERACTIONS,
SAFETY_CHECK, GENERAL, OUT_OF_SCOPE.

MEDICATIONS: what a patient is taking.
ALLERGIES: a patient's recorded allergies.
INTERACTIONS: drug-drug interactions.
SAFETY_CHECK: whether a medication is safe for a specific patient.
GENERAL: any other clinical documentation, coding, billing, denial or
insurance verification question.
OUT_OF_SCOPE: anything else (sports, recipes, politics, general chat).`

// Router classifies the query intent and short-circuits refusals.
//
// Classification failures fail open to GENERAL so an LLM outage degrades
// to a cautious answer instead of a refusal.
type Router struct {
	client llm.Client
}

// NewRouter creates a router over the given LLM client.
func NewRouter(client llm.Client) *Router {
	return &Router{client: client}
}

// Route classifies the query and updates the state.
//
// Description:
//
//	Sets state.Intent. For OUT_OF_SCOPE it also clears evidence and the
//	tool trace, pins confidence to 1.0 and records the refusal decision;
//	the composer then emits the fixed refusal without running any tools.
//
// Inputs:
//
//	ctx - Context for the classification call
//	state - The turn state; mutated in place
func (r *Router) Route(ctx context.Context, state *WorkflowState) {
	intent := r.classify(ctx, state)
	state.Intent = intent

	if intent == IntentOutOfScope {
		state.Decision = DecisionOutOfScope
		state.Confidence = 1.0
		state.Evidence = nil
		state.ToolTrace = nil
		state.ToolPlan = nil
	}
}

func (r *Router) classify(ctx context.Context, state *WorkflowState) Intent {
	prompt := state.RawQuery
	if state.PriorQueryContext != "" {
		prompt = "Previous topic: " + state.PriorQueryContext + "\nQuery: " + state.RawQuery
	}

	resp, err := r.client.Complete(ctx, &llm.Request{
		SystemPrompt: routerSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens:    16,
		Temperature:  0,
	})
	if err != nil {
		slog.Warn("intent classification failed, defaulting to GENERAL", "error", err)
		return IntentGeneral
	}

	intent := ParseIntent(resp.Content)
	if !intent.Valid() {
		slog.Warn("unparseable intent, defaulting to GENERAL", "raw", resp.Content)
		return IntentGeneral
	}
	return intent
}

// ParseIntent extracts an Intent from classifier output. Unknown output
// yields an invalid intent; callers decide the fallback.
func ParseIntent(raw string) Intent {
	token := strings.ToUpper(strings.TrimSpace(raw))
	// Models occasionally wrap the label in prose; scan for a known one.
	for _, intent := range []Intent{
		IntentMedications, IntentAllergies, IntentInteractions,
		IntentSafetyCheck, IntentOutOfScope, IntentGeneral,
	} {
		if strings.Contains(token, string(intent)) {
			return intent
		}
	}
	return Intent("")
}
