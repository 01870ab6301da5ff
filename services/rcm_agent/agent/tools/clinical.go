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

// Tool names used in tool plans.
const (
	ToolLookupSubject        = "lookup_subject"
	ToolLookupMedications    = "lookup_medications"
	ToolCheckInteractions    = "check_interactions"
	ToolCheckAllergyConflict = "check_allergy_conflict"
)

// SubjectLookupTool resolves a subject ID or name to a directory record.
type SubjectLookupTool struct {
	directory *Directory
}

// NewSubjectLookupTool creates the lookup_subject tool.
func NewSubjectLookupTool(directory *Directory) *SubjectLookupTool {
	return &SubjectLookupTool{directory: directory}
}

// Name implements Tool.
func (t *SubjectLookupTool) Name() string { return ToolLookupSubject }

// Category implements Tool.
func (t *SubjectLookupTool) Category() ToolCategory { return CategoryClinical }

// Definition implements Tool.
func (t *SubjectLookupTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolLookupSubject,
		Description: "Resolve a patient identifier or name to demographics and allergies.",
		Category:    CategoryClinical,
		Parameters: map[string]ParamDef{
			"query": {Type: "string", Description: "Subject ID (P###) or name fragment", Required: true},
		},
	}
}

// Execute implements Tool.
func (t *SubjectLookupTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	query, ok := stringParam(params, "query")
	if !ok {
		return failure("query parameter is required", time.Since(start)), nil
	}

	subject, found := t.directory.FindSubject(query)
	if !found {
		return failure(fmt.Sprintf("no subject matched %q", query), time.Since(start)), nil
	}

	return &Result{
		Success:    true,
		Output:     subject,
		OutputText: fmt.Sprintf("%s (%s), allergies: %s", subject.Name, subject.ID, formatAllergies(subject.Allergies)),
		Duration:   time.Since(start),
	}, nil
}

// MedicationsTool returns the active medication list for a subject.
type MedicationsTool struct {
	directory *Directory
}

// NewMedicationsTool creates the lookup_medications tool.
func NewMedicationsTool(directory *Directory) *MedicationsTool {
	return &MedicationsTool{directory: directory}
}

// Name implements Tool.
func (t *MedicationsTool) Name() string { return ToolLookupMedications }

// Category implements Tool.
func (t *MedicationsTool) Category() ToolCategory { return CategoryClinical }

// Definition implements Tool.
func (t *MedicationsTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolLookupMedications,
		Description: "List active medications for a resolved subject.",
		Category:    CategoryClinical,
		Parameters: map[string]ParamDef{
			"subject_id": {Type: "string", Description: "Resolved subject ID", Required: true},
		},
	}
}

// Execute implements Tool.
func (t *MedicationsTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	subjectID, ok := stringParam(params, "subject_id")
	if !ok {
		return failure("subject_id parameter is required", time.Since(start)), nil
	}

	meds, found := t.directory.MedicationsFor(subjectID)
	if !found {
		return failure(fmt.Sprintf("no medication record for %s", subjectID), time.Since(start)), nil
	}

	lines := make([]string, len(meds))
	for i, m := range meds {
		lines[i] = m.Display()
	}

	return &Result{
		Success:    true,
		Output:     meds,
		OutputText: strings.Join(lines, "; "),
		Duration:   time.Since(start),
	}, nil
}

// InteractionsTool checks every pair of the given drugs against the
// interaction table.
type InteractionsTool struct {
	directory *Directory
}

// NewInteractionsTool creates the check_interactions tool.
func NewInteractionsTool(directory *Directory) *InteractionsTool {
	return &InteractionsTool{directory: directory}
}

// Name implements Tool.
func (t *InteractionsTool) Name() string { return ToolCheckInteractions }

// Category implements Tool.
func (t *InteractionsTool) Category() ToolCategory { return CategoryClinical }

// Definition implements Tool.
func (t *InteractionsTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolCheckInteractions,
		Description: "Check all pairs of the given drugs for known interactions.",
		Category:    CategoryClinical,
		Parameters: map[string]ParamDef{
			"drugs": {Type: "array", Description: "Drug names to cross-check", Required: true},
		},
	}
}

// Execute implements Tool.
func (t *InteractionsTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	drugs := stringSliceParam(params, "drugs")
	if len(drugs) < 2 {
		return failure("at least two drugs are required", time.Since(start)), nil
	}

	var found []Interaction
	for i := 0; i < len(drugs); i++ {
		for j := i + 1; j < len(drugs); j++ {
			if inter, ok := t.directory.FindInteraction(drugs[i], drugs[j]); ok {
				found = append(found, inter)
			}
		}
	}

	if len(found) == 0 {
		return &Result{
			Success:    true,
			Output:     []Interaction{},
			OutputText: "no known interactions among: " + strings.Join(drugs, ", "),
			Duration:   time.Since(start),
		}, nil
	}

	lines := make([]string, len(found))
	for i, inter := range found {
		lines[i] = fmt.Sprintf("%s and %s: %s", inter.DrugA, inter.DrugB, inter.Recommendation)
	}

	return &Result{
		Success:    true,
		Output:     found,
		OutputText: strings.Join(lines, "; "),
		Duration:   time.Since(start),
	}, nil
}

// AllergyConflictTool checks a proposed medication against a subject's
// recorded allergies.
type AllergyConflictTool struct {
	directory *Directory
}

// NewAllergyConflictTool creates the check_allergy_conflict tool.
func NewAllergyConflictTool(directory *Directory) *AllergyConflictTool {
	return &AllergyConflictTool{directory: directory}
}

// Name implements Tool.
func (t *AllergyConflictTool) Name() string { return ToolCheckAllergyConflict }

// Category implements Tool.
func (t *AllergyConflictTool) Category() ToolCategory { return CategoryClinical }

// Definition implements Tool.
func (t *AllergyConflictTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolCheckAllergyConflict,
		Description: "Check a proposed medication against the subject's recorded allergies.",
		Category:    CategoryClinical,
		Parameters: map[string]ParamDef{
			"subject_id": {Type: "string", Description: "Resolved subject ID", Required: true},
			"medication": {Type: "string", Description: "Proposed medication name", Required: true},
		},
	}
}

// AllergyConflict is the structured output of the conflict check.
type AllergyConflict struct {
	Conflict   bool   `json:"conflict"`
	Allergy    string `json:"allergy,omitempty"`
	Medication string `json:"medication"`
}

// Execute implements Tool.
func (t *AllergyConflictTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	subjectID, ok := stringParam(params, "subject_id")
	if !ok {
		return failure("subject_id parameter is required", time.Since(start)), nil
	}
	medication, ok := stringParam(params, "medication")
	if !ok {
		return failure("medication parameter is required", time.Since(start)), nil
	}

	subject, found := t.directory.FindSubject(subjectID)
	if !found {
		return failure(fmt.Sprintf("no subject matched %q", subjectID), time.Since(start)), nil
	}

	medLower := strings.ToLower(medication)
	for _, allergy := range subject.Allergies {
		for _, drug := range t.directory.ConflictingDrugs(allergy) {
			if strings.Contains(medLower, strings.ToLower(drug)) {
				return &Result{
					Success: true,
					Output:  AllergyConflict{Conflict: true, Allergy: allergy, Medication: medication},
					OutputText: fmt.Sprintf("CONFLICT: %s is contraindicated by recorded %s allergy",
						medication, allergy),
					Duration: time.Since(start),
				}, nil
			}
		}
	}

	return &Result{
		Success:    true,
		Output:     AllergyConflict{Conflict: false, Medication: medication},
		OutputText: fmt.Sprintf("no allergy conflict found for %s", medication),
		Duration:   time.Since(start),
	}, nil
}

// stringSliceParam extracts a string slice parameter, accepting both
// []string and []any (JSON decoding produces the latter).
func stringSliceParam(params map[string]any, key string) []string {
	v, ok := params[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func formatAllergies(allergies []string) string {
	if len(allergies) == 0 {
		return "none recorded"
	}
	return strings.Join(allergies, ", ")
}
