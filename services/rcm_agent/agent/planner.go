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
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/llm"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/tools"
)

// plannerSystemPrompt asks for a strict JSON analysis of the query.
const plannerSystemPrompt = `You analyze healthcare RCM queries. Respond with
only a JSON object, no prose:
{"needs_subject": bool, "needs_document_evidence": bool,
 "needs_policy_check": bool, "needs_denial_analysis": bool,
 "is_general_knowledge": bool, "subject_query": "name or ID or empty",
 "payer_name": "", "procedure_id": "", "medications": []}`

// explicitIDPattern matches identifiers that always override the cached
// subject (P### or MRN-###).
var explicitIDPattern = regexp.MustCompile(`\b([Pp]\d+|MRN-?\d+)\b`)

// pronounPattern detects references to the prior subject.
var pronounPattern = regexp.MustCompile(`(?i)\b(he|she|they|him|her|them|his|hers|their|the patient)\b`)

// namePattern is the regex fallback for "for <Name>" style mentions.
var namePattern = regexp.MustCompile(`\b(?:for|of|patient)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`)

// fullNamePattern catches a bare "First Last" mention anywhere in the
// query when no other subject reference matched.
var fullNamePattern = regexp.MustCompile(`\b([A-Z][a-z]+\s+[A-Z][a-z]+)\b`)

// Planner resolves the subject and builds the tool plan.
type Planner struct {
	client llm.Client
}

// NewPlanner creates a planner over the given LLM client.
func NewPlanner(client llm.Client) *Planner {
	return &Planner{client: client}
}

// Plan analyzes the query and writes the tool plan into the state.
//
// Description:
//
//	Classifies the query via LLM with a regex fallback, resolves
//	pronouns against the cached subject, invalidates per-session caches
//	on a subject switch, and assembles the ordered tool plan. When the
//	query demands document evidence and no document is attached, the
//	plan is skipped and a source-unavailable response is set directly.
//
// Inputs:
//
//	ctx - Context for the analysis call
//	state - The turn state; mutated in place
func (p *Planner) Plan(ctx context.Context, state *WorkflowState) {
	analysis := p.analyze(ctx, state)

	// A clarification answer names what the original query lacked and
	// outranks whatever re-analysis made of the combined text.
	if analysis.SubjectQuery == "" && state.ClarificationResponse != "" {
		analysis.SubjectQuery = state.ClarificationResponse
		analysis.NeedsSubject = true
	}

	p.resolveSubject(state, analysis)
	state.Analysis = analysis

	// A query that demands document evidence cannot be answered without
	// a document. Say so instead of guessing.
	if analysis.NeedsDocEvidence && state.DocContentHash == "" {
		state.DraftResponse = "The requested answer must come from clinical " +
			"documentation, but no document is attached to this session. " +
			"Please attach the relevant document and ask again."
		state.Decision = DecisionPass
		state.Confidence = 1.0
		state.ToolPlan = nil
		return
	}

	state.ToolPlan = p.buildPlan(state, analysis)

	// General knowledge needs no tools; the composer answers directly.
	if len(state.ToolPlan) == 0 {
		state.Decision = DecisionPass
		if state.Confidence == 0 {
			state.Confidence = 0.9
		}
	}
}

// analyze runs the LLM classification with a deterministic fallback.
func (p *Planner) analyze(ctx context.Context, state *WorkflowState) *QueryAnalysis {
	resp, err := p.client.Complete(ctx, &llm.Request{
		SystemPrompt: plannerSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: state.RawQuery}},
		MaxTokens:    256,
		Temperature:  0,
	})
	if err == nil {
		var analysis QueryAnalysis
		raw := extractJSON(resp.Content)
		if jsonErr := json.Unmarshal([]byte(raw), &analysis); jsonErr == nil {
			return &analysis
		}
		slog.Warn("planner returned malformed analysis, using regex fallback",
			"raw", resp.Content)
	} else {
		slog.Warn("query analysis failed, using regex fallback", "error", err)
	}

	return fallbackAnalysis(state.RawQuery, state.Intent)
}

// fallbackAnalysis derives the analysis from patterns alone.
func fallbackAnalysis(query string, intent Intent) *QueryAnalysis {
	analysis := &QueryAnalysis{}

	if m := explicitIDPattern.FindString(query); m != "" {
		analysis.SubjectQuery = m
		analysis.NeedsSubject = true
	} else if m := namePattern.FindStringSubmatch(query); m != nil {
		analysis.SubjectQuery = m[1]
		analysis.NeedsSubject = true
	} else if m := fullNamePattern.FindStringSubmatch(query); m != nil {
		analysis.SubjectQuery = m[1]
		analysis.NeedsSubject = true
	} else if pronounPattern.MatchString(query) {
		analysis.NeedsSubject = true
	}

	lower := strings.ToLower(query)
	analysis.NeedsDocEvidence = strings.Contains(lower, "document") ||
		strings.Contains(lower, "note") || strings.Contains(lower, "attached")
	analysis.NeedsPolicyCheck = strings.Contains(lower, "policy") ||
		strings.Contains(lower, "coverage") || strings.Contains(lower, "authorization")
	analysis.NeedsDenialAnalysis = strings.Contains(lower, "denial") ||
		strings.Contains(lower, "denied") || strings.Contains(lower, "risk")

	switch intent {
	case IntentMedications, IntentAllergies, IntentInteractions, IntentSafetyCheck:
		analysis.NeedsSubject = true
	case IntentGeneral:
		analysis.IsGeneralKnowledge = !analysis.NeedsSubject && !analysis.NeedsDocEvidence
	}
	return analysis
}

// resolveSubject applies pronoun resolution and subject-switch hygiene.
func (p *Planner) resolveSubject(state *WorkflowState, analysis *QueryAnalysis) {
	// Explicit identifiers always win over the cache.
	if m := explicitIDPattern.FindString(state.RawQuery); m != "" {
		analysis.SubjectQuery = m
	}

	if analysis.SubjectQuery == "" && analysis.NeedsSubject && state.CachedSubject != nil {
		if pronounPattern.MatchString(state.RawQuery) {
			analysis.SubjectQuery = state.CachedSubject.ID
			return
		}
	}

	// A different subject invalidates everything the session cached,
	// including suspended gates that belong to the previous patient.
	if analysis.SubjectQuery != "" && state.CachedSubject != nil {
		if !namesMatch(analysis.SubjectQuery, state.CachedSubject.Name) &&
			!strings.EqualFold(analysis.SubjectQuery, state.CachedSubject.ID) {
			state.CachedSubject = nil
			state.PolicyCache = nil
			state.DenialRiskCache = nil
			state.ClearPendingFlags()
		}
	}
}

// namesMatch reports whether two names share at least two tokens longer
// than one character.
func namesMatch(a, b string) bool {
	tokensA := nameTokens(a)
	tokensB := nameTokens(b)

	shared := 0
	for token := range tokensA {
		if tokensB[token] {
			shared++
		}
	}
	return shared >= 2
}

func nameTokens(name string) map[string]bool {
	out := make(map[string]bool)
	for _, token := range strings.Fields(strings.ToLower(name)) {
		if len(token) > 1 {
			out[token] = true
		}
	}
	return out
}

// buildPlan assembles the ordered tool plan.
func (p *Planner) buildPlan(state *WorkflowState, analysis *QueryAnalysis) []string {
	// An attached document forces the full review pipeline; cached
	// results are skipped tool by tool.
	if state.DocContentHash != "" && (analysis.NeedsDocEvidence ||
		analysis.NeedsPolicyCheck || analysis.NeedsDenialAnalysis) {
		plan := []string{}
		if state.CachedSubject == nil {
			plan = append(plan, tools.ToolLookupSubject)
		}
		plan = append(plan, tools.ToolLookupMedications)
		if len(state.DocPages) == 0 {
			plan = append(plan, tools.ToolExtractDocument)
		}
		if analysis.NeedsPolicyCheck && state.PolicyCache[analysis.ProcedureID] == "" {
			plan = append(plan, tools.ToolSearchPolicy)
		}
		if analysis.NeedsDenialAnalysis && state.DenialRiskCache[analysis.ProcedureID] == "" {
			plan = append(plan, tools.ToolScoreDenialRisk)
		}
		return plan
	}

	switch state.Intent {
	case IntentMedications:
		return []string{tools.ToolLookupSubject, tools.ToolLookupMedications}
	case IntentAllergies:
		return []string{tools.ToolLookupSubject}
	case IntentInteractions:
		return []string{tools.ToolLookupSubject, tools.ToolLookupMedications,
			tools.ToolCheckInteractions}
	case IntentSafetyCheck:
		return []string{tools.ToolLookupSubject, tools.ToolLookupMedications,
			tools.ToolCheckInteractions, tools.ToolCheckAllergyConflict}
	default:
		if analysis.NeedsSubject {
			return []string{tools.ToolLookupSubject, tools.ToolLookupMedications}
		}
		return nil
	}
}

// extractJSON pulls the outermost JSON object out of model output that
// may be wrapped in code fences or prose.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
