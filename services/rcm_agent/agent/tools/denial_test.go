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
	"testing"
)

func TestDenialRiskLevels(t *testing.T) {
	tool := NewDenialRiskTool()

	tests := []struct {
		name          string
		documentation string
		want          RiskLevel
	}{
		{
			name: "clean documentation",
			documentation: "prior authorization on file, medical necessity documented, " +
				"in-network provider",
			want: RiskNone,
		},
		{
			name: "experimental is critical",
			documentation: "experimental gene therapy, prior authorization on file, " +
				"medical necessity documented",
			want: RiskCritical,
		},
		{
			name:          "missing prior auth is high",
			documentation: "medical necessity documented for knee arthroscopy",
			want:          RiskHigh,
		},
		{
			name: "out of network is medium",
			documentation: "out-of-network provider, prior authorization on file, " +
				"medical necessity documented",
			want: RiskMedium,
		},
		{
			name:          "worst pattern wins",
			documentation: "investigational protocol, out-of-network provider",
			want:          RiskCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tool.Execute(context.Background(), map[string]any{
				"documentation": tt.documentation,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			risk := result.Output.(DenialRisk)
			if risk.Level != tt.want {
				t.Errorf("level = %s (reasons %v), want %s", risk.Level, risk.Reasons, tt.want)
			}
			if risk.Score != riskScores[tt.want] {
				t.Errorf("score = %v, want %v", risk.Score, riskScores[tt.want])
			}
		})
	}
}

func TestDenialRiskDeterministic(t *testing.T) {
	tool := NewDenialRiskTool()
	doc := "cosmetic rhinoplasty, no authorization"

	first, _ := tool.Execute(context.Background(), map[string]any{"documentation": doc})
	for i := 0; i < 5; i++ {
		again, _ := tool.Execute(context.Background(), map[string]any{"documentation": doc})
		if again.Output.(DenialRisk).Score != first.Output.(DenialRisk).Score {
			t.Fatal("denial scoring must be deterministic")
		}
	}
}
