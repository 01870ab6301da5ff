// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools provides the tool registry and the clinical tools the
// workflow executes.
//
// Every tool returns a structured Result and never panics; failures are
// reported through Result.Success and Result.Error so the executor can
// fold them into evidence instead of aborting the turn.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package tools

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the tools package.
var (
	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrMissingParam indicates a required parameter was not provided.
	ErrMissingParam = errors.New("required parameter missing")

	// ErrSubjectNotFound indicates no subject matched the identifier.
	ErrSubjectNotFound = errors.New("subject not found")

	// ErrDocumentNotFound indicates no document matched the content hash.
	ErrDocumentNotFound = errors.New("document not found")
)

// ToolCategory represents the category a tool belongs to.
type ToolCategory string

const (
	// CategoryClinical includes subject, medication and allergy lookups.
	CategoryClinical ToolCategory = "clinical"

	// CategoryDocument includes document extraction.
	CategoryDocument ToolCategory = "document"

	// CategoryPolicy includes payer policy search.
	CategoryPolicy ToolCategory = "policy"

	// CategoryRisk includes denial risk scoring.
	CategoryRisk ToolCategory = "risk"

	// CategoryPrivacy includes PII scrubbing.
	CategoryPrivacy ToolCategory = "privacy"
)

// String returns the string representation of the category.
func (c ToolCategory) String() string {
	return string(c)
}

// ParamDef defines a single parameter for a tool.
type ParamDef struct {
	// Type is the JSON Schema type ("string", "integer", ...).
	Type string `json:"type"`

	// Description explains what the parameter is for.
	Description string `json:"description"`

	// Required indicates if the parameter must be provided.
	Required bool `json:"required"`
}

// ToolDefinition describes a tool's interface.
type ToolDefinition struct {
	// Name is the unique identifier for the tool.
	Name string `json:"name"`

	// Description explains what the tool does.
	Description string `json:"description"`

	// Parameters defines the input parameters.
	Parameters map[string]ParamDef `json:"parameters"`

	// Category is the tool category.
	Category ToolCategory `json:"category"`

	// SideEffects indicates if the tool modifies state.
	SideEffects bool `json:"side_effects"`
}

// Tool defines the interface for executable tools.
//
// Implementations must be safe for concurrent use.
type Tool interface {
	// Name returns the unique tool name.
	Name() string

	// Category returns the tool category.
	Category() ToolCategory

	// Definition returns the tool's parameter schema.
	Definition() ToolDefinition

	// Execute runs the tool with the given parameters.
	//
	// Inputs:
	//   ctx - Context for cancellation and timeout
	//   params - Input parameters
	//
	// Outputs:
	//   *Result - Execution result; Success false on domain failures
	//   error - Non-nil only for infrastructure failures
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result contains the outcome of a tool execution.
type Result struct {
	// Success indicates if the tool succeeded.
	Success bool `json:"success"`

	// Output is the tool's output data.
	Output any `json:"output"`

	// OutputText is a text representation of the output.
	OutputText string `json:"output_text"`

	// Error contains any error message.
	Error string `json:"error,omitempty"`

	// Duration is how long execution took.
	Duration time.Duration `json:"duration"`

	// Cached indicates if the result came from cache.
	Cached bool `json:"cached"`
}

// Subject is a patient record from the clinical directory.
type Subject struct {
	// ID is the subject identifier (e.g. "P001").
	ID string `json:"id"`

	// Name is the subject's full name.
	Name string `json:"name"`

	// BirthYear is the year of birth; full DOB never leaves the directory.
	BirthYear int `json:"birth_year,omitempty"`

	// Allergies lists recorded allergies.
	Allergies []string `json:"allergies"`
}

// Medication is one active medication entry.
type Medication struct {
	Name      string `json:"name"`
	Dose      string `json:"dose"`
	Frequency string `json:"frequency"`
}

// Display returns the "name dose frequency" form used in citations.
func (m Medication) Display() string {
	return m.Name + " " + m.Dose + " " + m.Frequency
}

// Interaction is a known drug-drug interaction.
type Interaction struct {
	DrugA          string `json:"drug_a"`
	DrugB          string `json:"drug_b"`
	Severity       string `json:"severity"`
	Recommendation string `json:"recommendation"`
}

// stringParam extracts a required string parameter.
func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// failure builds a failed Result with the given message.
func failure(msg string, elapsed time.Duration) *Result {
	return &Result{
		Success:    false,
		Error:      msg,
		OutputText: msg,
		Duration:   elapsed,
	}
}
