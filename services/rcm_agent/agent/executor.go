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
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/redact"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/tools"
)

// Executor runs the tool plan and converts tool output into cited
// evidence.
//
// Evidence and source contents are rebuilt from scratch on every pass so
// a re-extraction ordered by the auditor starts clean; only the tool
// trace accumulates across iterations.
type Executor struct {
	registry    *tools.Registry
	scrubber    *redact.Scrubber
	toolTimeout time.Duration
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *tools.Registry, scrubber *redact.Scrubber, toolTimeout time.Duration) *Executor {
	return &Executor{registry: registry, scrubber: scrubber, toolTimeout: toolTimeout}
}

// Execute runs the state's tool plan and populates the evidence set.
//
// Description:
//
//	Executes each planned tool with a per-tool timeout. Domain failures
//	(unknown subject, missing document) become evidence gaps rather than
//	errors; only infrastructure failures abort the turn. Claims are
//	PII-scrubbed before they enter the evidence set.
//
// Inputs:
//
//	ctx - Context for tool execution
//	state - The turn state; mutated in place
//
// Outputs:
//
//	error - Non-nil only on infrastructure failure
func (e *Executor) Execute(ctx context.Context, state *WorkflowState) error {
	state.Evidence = nil
	state.AuditResults = nil
	state.SourceContents = make(map[string]string)

	for _, name := range state.ToolPlan {
		tool, ok := e.registry.Get(name)
		if !ok {
			return fmt.Errorf("tool plan references %q: %w", name, tools.ErrToolNotFound)
		}

		result, err := e.run(ctx, tool, e.buildParams(name, state))
		state.ToolTrace = append(state.ToolTrace, name)
		if err != nil {
			return fmt.Errorf("execute %s: %w", name, err)
		}

		e.fold(ctx, name, result, state)
	}

	// A subject-scoped plan with no resolved subject cannot be answered;
	// leave an ambiguous placeholder for the auditor to route on.
	if e.subjectRequired(state) && state.CachedSubject == nil {
		state.Evidence = append(state.Evidence, Evidence{
			Claim:     "The query refers to a patient that could not be identified.",
			Ambiguous: true,
			Kind:      KindDocument,
		})
	}

	return nil
}

// run executes one tool under the per-tool timeout.
func (e *Executor) run(ctx context.Context, tool tools.Tool, params map[string]any) (*tools.Result, error) {
	toolCtx := ctx
	if e.toolTimeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, e.toolTimeout)
		defer cancel()
	}
	return tool.Execute(toolCtx, params)
}

// buildParams assembles the parameter map for a planned tool from the
// turn state.
func (e *Executor) buildParams(name string, state *WorkflowState) map[string]any {
	analysis := state.Analysis
	if analysis == nil {
		analysis = &QueryAnalysis{}
	}

	switch name {
	case tools.ToolLookupSubject:
		query := analysis.SubjectQuery
		if query == "" && state.CachedSubject != nil {
			query = state.CachedSubject.ID
		}
		return map[string]any{"query": query}

	case tools.ToolLookupMedications:
		return map[string]any{"subject_id": e.subjectID(state)}

	case tools.ToolCheckInteractions:
		drugs := analysis.Medications
		if state.CachedSubject != nil {
			drugs = append(drugs, e.cachedMedicationNames(state)...)
		}
		return map[string]any{"drugs": drugs}

	case tools.ToolCheckAllergyConflict:
		medication := ""
		if len(analysis.Medications) > 0 {
			medication = analysis.Medications[0]
		}
		return map[string]any{
			"subject_id": e.subjectID(state),
			"medication": medication,
		}

	case tools.ToolExtractDocument:
		return map[string]any{"content_hash": state.DocContentHash}

	case tools.ToolSearchPolicy:
		return map[string]any{
			"payer":       analysis.PayerName,
			"procedure":   e.procedureID(analysis),
			"claims_text": e.claimsText(state),
		}

	case tools.ToolScoreDenialRisk:
		return map[string]any{"documentation": e.claimsText(state)}
	}

	return map[string]any{}
}

// fold converts one tool result into evidence, source content and cache
// updates.
func (e *Executor) fold(ctx context.Context, name string, result *tools.Result, state *WorkflowState) {
	if !result.Success {
		slog.Info("tool reported no result", "tool", name, "reason", result.Error)
		return
	}

	switch name {
	case tools.ToolLookupSubject:
		subject, ok := result.Output.(*tools.Subject)
		if !ok || subject == nil {
			return
		}
		state.CachedSubject = subject
		sourceID := "subject:" + subject.ID
		state.SourceContents[sourceID] = result.OutputText
		state.Evidence = append(state.Evidence, Evidence{
			Claim: e.scrub(ctx, fmt.Sprintf("Recorded allergies for %s: %s",
				subject.Name, allergyList(subject.Allergies))),
			CitationText: "allergies: " + allergyList(subject.Allergies),
			SourceID:     sourceID,
			Verbatim:     true,
			Kind:         KindAllergy,
		})

	case tools.ToolLookupMedications:
		meds, ok := result.Output.([]tools.Medication)
		if !ok {
			return
		}
		sourceID := "medications:" + e.subjectID(state)
		state.SourceContents[sourceID] = result.OutputText
		for _, m := range meds {
			state.Evidence = append(state.Evidence, Evidence{
				Claim:        e.scrub(ctx, m.Display()),
				CitationText: m.Display(),
				SourceID:     sourceID,
				Verbatim:     true,
				Kind:         KindMedication,
			})
		}

	case tools.ToolCheckInteractions:
		interactions, ok := result.Output.([]tools.Interaction)
		if !ok {
			return
		}
		sourceID := "interactions:" + e.subjectID(state)
		state.SourceContents[sourceID] = result.OutputText
		if len(interactions) == 0 {
			state.Evidence = append(state.Evidence, Evidence{
				Claim:        result.OutputText,
				CitationText: result.OutputText,
				SourceID:     sourceID,
				Verbatim:     true,
				Kind:         KindInteraction,
			})
			return
		}
		for _, inter := range interactions {
			line := fmt.Sprintf("%s and %s: %s", inter.DrugA, inter.DrugB, inter.Recommendation)
			state.Evidence = append(state.Evidence, Evidence{
				Claim:        e.scrub(ctx, line),
				CitationText: line,
				SourceID:     sourceID,
				Verbatim:     true,
				Kind:         KindInteraction,
			})
		}

	case tools.ToolCheckAllergyConflict:
		sourceID := "allergy_check:" + e.subjectID(state)
		state.SourceContents[sourceID] = result.OutputText
		state.Evidence = append(state.Evidence, Evidence{
			Claim:        e.scrub(ctx, result.OutputText),
			CitationText: result.OutputText,
			SourceID:     sourceID,
			Verbatim:     true,
			Kind:         KindAllergy,
		})

	case tools.ToolExtractDocument:
		pages, ok := result.Output.([]string)
		if !ok {
			return
		}
		state.DocPages = pages
		e.foldDocument(ctx, state)

	case tools.ToolSearchPolicy:
		state.Evidence = append(state.Evidence, Evidence{
			Claim:     e.scrub(ctx, result.OutputText),
			SourceID:  "virtual:policy",
			Synthetic: true,
			Kind:      KindPolicy,
		})
		if state.PolicyCache == nil {
			state.PolicyCache = make(map[string]string)
		}
		state.PolicyCache[e.procedureID(state.Analysis)] = result.OutputText

	case tools.ToolScoreDenialRisk:
		state.Evidence = append(state.Evidence, Evidence{
			Claim:     e.scrub(ctx, result.OutputText),
			SourceID:  "virtual:denial_risk",
			Synthetic: true,
			Kind:      KindDenial,
		})
		if state.DenialRiskCache == nil {
			state.DenialRiskCache = make(map[string]string)
		}
		state.DenialRiskCache[e.procedureID(state.Analysis)] = result.OutputText
	}
}

// foldDocument turns cached document pages into per-line evidence. Also
// used when pages survive from a previous turn and extraction is skipped.
func (e *Executor) foldDocument(ctx context.Context, state *WorkflowState) {
	sourceID := "document:" + documentName(state)
	state.SourceContents[sourceID] = strings.Join(state.DocPages, "\n")

	for _, page := range state.DocPages {
		for _, line := range strings.Split(page, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || !strings.ContainsAny(line, "0123456789") {
				continue
			}
			state.Evidence = append(state.Evidence, Evidence{
				Claim:        e.scrub(ctx, line),
				CitationText: line,
				SourceID:     sourceID,
				Verbatim:     true,
				Kind:         KindDocument,
			})
		}
	}
}

// RegisterCachedSources republishes sources for evidence that came from
// the session cache instead of a fresh tool run this pass.
func (e *Executor) RegisterCachedSources(ctx context.Context, state *WorkflowState) {
	if len(state.DocPages) > 0 && !hasToolInPlan(state.ToolPlan, tools.ToolExtractDocument) &&
		state.Analysis != nil && state.Analysis.NeedsDocEvidence {
		e.foldDocument(ctx, state)
	}
}

func hasToolInPlan(plan []string, name string) bool {
	for _, p := range plan {
		if p == name {
			return true
		}
	}
	return false
}

// subjectRequired reports whether the current plan depends on a resolved
// subject.
func (e *Executor) subjectRequired(state *WorkflowState) bool {
	for _, name := range state.ToolPlan {
		switch name {
		case tools.ToolLookupSubject, tools.ToolLookupMedications,
			tools.ToolCheckInteractions, tools.ToolCheckAllergyConflict:
			return true
		}
	}
	return false
}

func (e *Executor) subjectID(state *WorkflowState) string {
	if state.CachedSubject != nil {
		return state.CachedSubject.ID
	}
	return ""
}

func (e *Executor) cachedMedicationNames(state *WorkflowState) []string {
	var names []string
	for _, ev := range state.Evidence {
		if ev.Kind == KindMedication {
			fields := strings.Fields(ev.CitationText)
			if len(fields) > 0 {
				names = append(names, fields[0])
			}
		}
	}
	return names
}

func (e *Executor) procedureID(analysis *QueryAnalysis) string {
	if analysis != nil && analysis.ProcedureID != "" {
		return analysis.ProcedureID
	}
	return "general"
}

// claimsText joins document pages and accumulated claims for the policy
// and denial tools.
func (e *Executor) claimsText(state *WorkflowState) string {
	var parts []string
	parts = append(parts, state.DocPages...)
	for _, ev := range state.Evidence {
		parts = append(parts, ev.Claim)
	}
	return strings.Join(parts, "\n")
}

func (e *Executor) scrub(ctx context.Context, text string) string {
	if e.scrubber == nil {
		return redact.ScrubPatterns(text)
	}
	return e.scrubber.Scrub(ctx, text)
}

func allergyList(allergies []string) string {
	if len(allergies) == 0 {
		return "none recorded"
	}
	return strings.Join(allergies, ", ")
}

func documentName(state *WorkflowState) string {
	if state.DocSourceFile != "" {
		return state.DocSourceFile
	}
	return state.DocContentHash
}
