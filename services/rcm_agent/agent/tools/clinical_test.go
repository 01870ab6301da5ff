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
	"strings"
	"testing"
)

func TestSubjectLookupByID(t *testing.T) {
	tool := NewSubjectLookupTool(SeedDirectory())

	result, err := tool.Execute(context.Background(), map[string]any{"query": "P001"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}

	subject, ok := result.Output.(*Subject)
	if !ok {
		t.Fatalf("output is %T, want *Subject", result.Output)
	}
	if subject.Name != "John Smith" {
		t.Errorf("got %q, want John Smith", subject.Name)
	}
}

func TestSubjectLookupByNameFragment(t *testing.T) {
	tool := NewSubjectLookupTool(SeedDirectory())

	tests := []struct {
		query  string
		wantID string
	}{
		{"mary", "P002"},
		{"Johnson", "P002"},
		{"chen", "P003"},
		{"p003", "P003"},
	}

	for _, tt := range tests {
		result, err := tool.Execute(context.Background(), map[string]any{"query": tt.query})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.query, err)
		}
		if !result.Success {
			t.Fatalf("%s: expected success, got %q", tt.query, result.Error)
		}
		if got := result.Output.(*Subject).ID; got != tt.wantID {
			t.Errorf("FindSubject(%q) = %s, want %s", tt.query, got, tt.wantID)
		}
	}
}

func TestSubjectLookupNoMatch(t *testing.T) {
	tool := NewSubjectLookupTool(SeedDirectory())

	result, err := tool.Execute(context.Background(), map[string]any{"query": "Zebulon Pike"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Error("expected domain failure for unknown subject")
	}
	if result.Error == "" {
		t.Error("failure must carry an error message")
	}
}

func TestSubjectLookupMissingParam(t *testing.T) {
	tool := NewSubjectLookupTool(SeedDirectory())

	result, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("missing param must not be an infrastructure error: %v", err)
	}
	if result.Success {
		t.Error("expected failure for missing param")
	}
}

func TestMedicationsLookup(t *testing.T) {
	tool := NewMedicationsTool(SeedDirectory())

	result, err := tool.Execute(context.Background(), map[string]any{"subject_id": "P001"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	if !strings.Contains(result.OutputText, "Lisinopril 10mg daily") {
		t.Errorf("output text %q missing medication display form", result.OutputText)
	}
}

func TestInteractionsPairwise(t *testing.T) {
	tool := NewInteractionsTool(SeedDirectory())

	result, err := tool.Execute(context.Background(), map[string]any{
		"drugs": []string{"Warfarin", "Amiodarone", "Metformin"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	interactions := result.Output.([]Interaction)
	if len(interactions) != 1 {
		t.Fatalf("got %d interactions, want 1", len(interactions))
	}
	if !strings.Contains(result.OutputText, "Warfarin and Amiodarone") {
		t.Errorf("output text %q missing interaction claim form", result.OutputText)
	}
}

func TestInteractionsOrderIndependent(t *testing.T) {
	d := SeedDirectory()
	if _, ok := d.FindInteraction("amiodarone", "warfarin"); !ok {
		t.Error("interaction lookup must be order independent")
	}
}

func TestInteractionsNoFindings(t *testing.T) {
	tool := NewInteractionsTool(SeedDirectory())

	result, _ := tool.Execute(context.Background(), map[string]any{
		"drugs": []any{"Metformin", "Levothyroxine"},
	})
	if !result.Success {
		t.Fatal("no findings is still a successful check")
	}
	if !strings.Contains(result.OutputText, "no known interactions") {
		t.Errorf("got %q", result.OutputText)
	}
}

func TestAllergyConflict(t *testing.T) {
	tool := NewAllergyConflictTool(SeedDirectory())

	tests := []struct {
		subject    string
		medication string
		conflict   bool
	}{
		{"P001", "Amoxicillin", true},
		{"P001", "amoxicillin 500mg", true},
		{"P001", "Metformin", false},
		{"P002", "Sulfamethoxazole", true},
		{"P003", "Amoxicillin", false},
	}

	for _, tt := range tests {
		result, err := tool.Execute(context.Background(), map[string]any{
			"subject_id": tt.subject,
			"medication": tt.medication,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		conflict := result.Output.(AllergyConflict)
		if conflict.Conflict != tt.conflict {
			t.Errorf("%s + %s: conflict = %v, want %v",
				tt.subject, tt.medication, conflict.Conflict, tt.conflict)
		}
	}
}
