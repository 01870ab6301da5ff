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

// clinicalDisclaimer is appended to every evidence-backed answer.
const clinicalDisclaimer = "\n\nThis information supports revenue cycle review and is not medical advice."

// escalationNote is appended when confidence is too low to act on alone.
const escalationNote = "\n\nConfidence in this answer is limited. Please escalate to a human reviewer before acting on it."

// escalationThreshold is the confidence below which the escalation note
// is appended.
const escalationThreshold = 0.90

// composerSystemPrompt constrains synthesis to the verified evidence.
const composerSystemPrompt = `You write answers for healthcare revenue-cycle staff.
Use ONLY the evidence provided. Do not add facts, do not speculate. Cite
each evidence line you use. Be concise.`

// intentKinds maps an intent to the evidence kinds it may surface.
// An answer about medications must not leak allergy evidence gathered
// along the way, and vice versa. A nil entry means every kind passes.
var intentKinds = map[Intent]map[EvidenceKind]bool{
	IntentMedications: {KindMedication: true, KindDocument: true},
	IntentAllergies:   {KindAllergy: true, KindDocument: true},
	IntentInteractions: {
		KindInteraction: true, KindMedication: true, KindDocument: true,
	},
	IntentSafetyCheck: nil,
	IntentGeneral:     nil,
}

// Composer produces the user-facing response from the audited evidence.
type Composer struct {
	client llm.Client
}

// NewComposer creates a composer over the given LLM client.
func NewComposer(client llm.Client) *Composer {
	return &Composer{client: client}
}

// Compose builds the final or draft response for the turn.
//
// Description:
//
//	Refusals and sync reports pass straight through. Partial answers
//	list the accumulated documentation gaps. Otherwise the verified
//	evidence is filtered by intent and synthesized via LLM with a
//	deterministic fallback, then the disclaimer and, under the
//	escalation threshold, the escalation note are appended. When the
//	turn is suspended on the sync gate the answer lands in
//	DraftResponse with the confirmation prompt appended, so exactly one
//	terminal outcome is set.
//
// Inputs:
//
//	ctx - Context for the synthesis call
//	state - The turn state; mutated in place
func (c *Composer) Compose(ctx context.Context, state *WorkflowState) {
	switch state.Decision {
	case DecisionOutOfScope:
		state.FinalResponse = OutOfScopeRefusal
		return
	case DecisionSyncComplete:
		state.FinalResponse = state.DraftResponse
		state.DraftResponse = ""
		return
	}

	// The planner answers directly when a required source is missing.
	if state.DraftResponse != "" && len(state.Evidence) == 0 {
		state.FinalResponse = state.DraftResponse
		state.DraftResponse = ""
		return
	}

	var body string
	if state.Decision == DecisionPartial {
		body = c.partialBody(state)
	} else {
		body = c.synthesize(ctx, state)
	}

	body += clinicalDisclaimer
	if state.Confidence < escalationThreshold || state.Decision == DecisionPartial {
		body += escalationNote
	}

	if state.PendingConfirmation && state.SyncSummary != nil {
		state.DraftResponse = body + FormatSyncPrompt(state.SyncSummary)
		return
	}
	state.FinalResponse = body
}

// partialBody lists what the capped audit loop could not resolve.
func (c *Composer) partialBody(state *WorkflowState) string {
	var b strings.Builder
	b.WriteString("Partial results returned after maximum review attempts. " +
		"The following gaps were identified:\n")
	for _, flag := range dedupeFlags(state.MissingFlags) {
		b.WriteString("  - " + flag + "\n")
	}

	verified := c.verifiedEvidence(state)
	if len(verified) > 0 {
		b.WriteString("\nWhat could be verified:\n")
		for _, ev := range verified {
			b.WriteString("  - " + ev.Claim + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// synthesize produces the answer from the verified, intent-filtered
// evidence, falling back to a deterministic rendering on LLM failure.
func (c *Composer) synthesize(ctx context.Context, state *WorkflowState) string {
	evidence := c.verifiedEvidence(state)

	if len(evidence) == 0 {
		if state.Analysis != nil && state.Analysis.IsGeneralKnowledge {
			return c.generalAnswer(ctx, state)
		}
		return "No verifiable evidence was found to answer this question."
	}

	fallback := c.renderEvidence(state, evidence)
	if c.client == nil {
		return fallback
	}

	var sb strings.Builder
	sb.WriteString("Question: " + state.RawQuery + "\n\nVerified evidence:\n")
	for _, ev := range evidence {
		sb.WriteString("- " + ev.Claim)
		if ev.SourceID != "" {
			sb.WriteString(" [" + ev.SourceID + "]")
		}
		sb.WriteString("\n")
	}

	resp, err := c.client.Complete(ctx, &llm.Request{
		SystemPrompt: composerSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: sb.String()}},
		MaxTokens:    1024,
		Temperature:  0.2,
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		slog.Warn("answer synthesis failed, using deterministic rendering", "error", err)
		return fallback
	}
	return strings.TrimSpace(resp.Content)
}

// generalAnswer handles questions answerable without tools.
func (c *Composer) generalAnswer(ctx context.Context, state *WorkflowState) string {
	if c.client == nil {
		return "I could not produce an answer for this question."
	}
	resp, err := c.client.Complete(ctx, &llm.Request{
		SystemPrompt: "You answer general healthcare revenue-cycle and clinical documentation questions concisely. Do not discuss specific patients.",
		Messages:     []llm.Message{{Role: "user", Content: state.RawQuery}},
		MaxTokens:    1024,
		Temperature:  0.2,
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		return "I could not produce an answer for this question."
	}
	return strings.TrimSpace(resp.Content)
}

// verifiedEvidence returns the evidence that passed audit, filtered by
// the intent's allowed kinds.
func (c *Composer) verifiedEvidence(state *WorkflowState) []Evidence {
	allowed := intentKinds[state.Intent]

	failedIdx := make(map[int]bool)
	for _, res := range state.AuditResults {
		if !res.Verified {
			failedIdx[res.EvidenceIndex] = true
		}
	}

	var out []Evidence
	for i, ev := range state.Evidence {
		if ev.Ambiguous || failedIdx[i] {
			continue
		}
		if allowed != nil && !allowed[ev.Kind] {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// renderEvidence is the deterministic fallback rendering.
func (c *Composer) renderEvidence(state *WorkflowState, evidence []Evidence) string {
	var b strings.Builder
	if state.CachedSubject != nil {
		b.WriteString("For " + state.CachedSubject.Name + " (" + state.CachedSubject.ID + "):\n")
	}
	for _, ev := range evidence {
		b.WriteString("  - " + ev.Claim + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func dedupeFlags(flags []string) []string {
	seen := make(map[string]bool, len(flags))
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}
