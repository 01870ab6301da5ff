// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ToolScoreDenialRisk is the score_denial_risk tool name.
const ToolScoreDenialRisk = "score_denial_risk"

// RiskLevel orders denial risk from none to critical.
type RiskLevel string

const (
	RiskNone     RiskLevel = "NONE"
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// riskOrder ranks levels so the worst matching pattern wins.
var riskOrder = map[RiskLevel]int{
	RiskNone:     0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// riskScores maps levels to numeric scores surfaced to the user.
var riskScores = map[RiskLevel]float64{
	RiskNone:     0.0,
	RiskLow:      0.1,
	RiskMedium:   0.35,
	RiskHigh:     0.65,
	RiskCritical: 0.90,
}

// denialPattern is one deterministic denial signal.
type denialPattern struct {
	// keywords must ALL appear in the documentation text to trigger.
	keywords []string

	// absent inverts a keyword: the pattern triggers when it is missing.
	absent string

	level  RiskLevel
	reason string
}

// defaultDenialPatterns covers the denial signals seen most often in
// claim audits. Matching is keyword-based on purpose: scores must be
// reproducible across runs for the same documentation.
var defaultDenialPatterns = []denialPattern{
	{keywords: []string{"experimental"}, level: RiskCritical,
		reason: "procedure described as experimental or investigational"},
	{keywords: []string{"investigational"}, level: RiskCritical,
		reason: "procedure described as experimental or investigational"},
	{keywords: []string{"cosmetic"}, level: RiskHigh,
		reason: "cosmetic procedures are routinely denied"},
	{absent: "prior authorization", level: RiskHigh,
		reason: "no prior authorization documented"},
	{keywords: []string{"out-of-network"}, level: RiskMedium,
		reason: "out-of-network provider"},
	{keywords: []string{"upcod"}, level: RiskHigh,
		reason: "possible upcoding flagged in documentation"},
	{absent: "medical necessity", level: RiskMedium,
		reason: "medical necessity not documented"},
}

// DenialRisk is the structured output of denial risk scoring.
type DenialRisk struct {
	Level   RiskLevel `json:"level"`
	Score   float64   `json:"score"`
	Reasons []string  `json:"reasons,omitempty"`
}

// DenialRiskTool scores the denial risk of a claim from its supporting
// documentation. The scoring is fully deterministic.
type DenialRiskTool struct {
	patterns []denialPattern
}

// NewDenialRiskTool creates the score_denial_risk tool with the default
// pattern set.
func NewDenialRiskTool() *DenialRiskTool {
	return &DenialRiskTool{patterns: defaultDenialPatterns}
}

// Name implements Tool.
func (t *DenialRiskTool) Name() string { return ToolScoreDenialRisk }

// Category implements Tool.
func (t *DenialRiskTool) Category() ToolCategory { return CategoryRisk }

// Definition implements Tool.
func (t *DenialRiskTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolScoreDenialRisk,
		Description: "Score the denial risk of a claim from its supporting documentation.",
		Category:    CategoryRisk,
		Parameters: map[string]ParamDef{
			"documentation": {Type: "string", Description: "Combined documentation text", Required: true},
		},
	}
}

// Execute implements Tool.
func (t *DenialRiskTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	documentation, ok := stringParam(params, "documentation")
	if !ok {
		return failure("documentation parameter is required", time.Since(start)), nil
	}

	risk := t.score(documentation)

	return &Result{
		Success: true,
		Output:  risk,
		OutputText: fmt.Sprintf("denial risk %s (%.2f): %s",
			risk.Level, risk.Score, summarizeReasons(risk.Reasons)),
		Duration: time.Since(start),
	}, nil
}

func (t *DenialRiskTool) score(documentation string) DenialRisk {
	text := strings.ToLower(documentation)

	level := RiskNone
	var reasons []string
	for _, p := range t.patterns {
		matched := false
		switch {
		case p.absent != "":
			matched = !strings.Contains(text, p.absent)
		default:
			matched = true
			for _, kw := range p.keywords {
				if !strings.Contains(text, kw) {
					matched = false
					break
				}
			}
		}
		if !matched {
			continue
		}
		reasons = append(reasons, p.reason)
		if riskOrder[p.level] > riskOrder[level] {
			level = p.level
		}
	}

	return DenialRisk{Level: level, Score: riskScores[level], Reasons: dedupeStrings(reasons)}
}

func summarizeReasons(reasons []string) string {
	if len(reasons) == 0 {
		return "no denial signals found"
	}
	return strings.Join(reasons, "; ")
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
