// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request and response types for the RCM agent
// service.
//
// This file contains the query turn types: the main query endpoint plus the
// clarification and sync-confirmation resume endpoints.
package datatypes

import (
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxQueryBytes is the maximum size of a query string.
	// Byte length, not rune count, to bound memory under attack.
	MaxQueryBytes = 16 * 1024 // 16KB

	// MaxDocumentPages is the maximum number of pages in an attached
	// document payload.
	MaxDocumentPages = 200

	// MaxPageBytes is the maximum size of a single document page.
	MaxPageBytes = 64 * 1024 // 64KB
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// queryValidate is the validator instance for agent datatypes.
// Initialized in init() with custom validators.
var queryValidate *validator.Validate

func init() {
	queryValidate = validator.New()
	_ = queryValidate.RegisterValidation("querybytes", validateQueryBytes)
	_ = queryValidate.RegisterValidation("pagebytes", validatePageBytes)
}

// validateQueryBytes enforces MaxQueryBytes on a string field.
func validateQueryBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

// validatePageBytes enforces MaxPageBytes on a string field.
func validatePageBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxPageBytes
}

// =============================================================================
// Request Types
// =============================================================================

// DocumentPayload is a document attached to a query turn.
//
// # Fields
//
//   - SourceName: Display name for citations (e.g. "labs_2026_03.pdf").
//   - Pages: Extracted page text, one string per page.
type DocumentPayload struct {
	SourceName string   `json:"source_name" validate:"required,max=256"`
	Pages      []string `json:"pages" validate:"required,min=1,max=200,dive,pagebytes"`
}

// QueryRequest is the body for POST /v1/agent/query.
//
// # Description
//
// A query turn on a session. When SessionID is empty a new session is
// created and its ID returned in the response. An attached document is
// registered with the document source before the turn runs, so the
// extract_document tool can fetch it by content hash.
//
// # Validation
//
// Uses go-playground/validator:
//   - Query: required, max 16KB (querybytes)
//   - SessionID: optional, UUID v4 when present
//   - Document: optional, validated recursively when present
type QueryRequest struct {
	SessionID string           `json:"session_id" validate:"omitempty,uuid4"`
	Query     string           `json:"query" validate:"required,querybytes"`
	Document  *DocumentPayload `json:"document,omitempty"`
}

// Validate checks the request against its constraints.
func (r *QueryRequest) Validate() error {
	if err := queryValidate.Struct(r); err != nil {
		return err
	}
	if r.Document != nil {
		return queryValidate.Struct(r.Document)
	}
	return nil
}

// ClarifyRequest is the body for POST /v1/agent/clarify.
//
// The answer resumes a session suspended on a clarification question.
type ClarifyRequest struct {
	SessionID string `json:"session_id" validate:"required,uuid4"`
	Answer    string `json:"answer" validate:"required,querybytes"`
}

// Validate checks the request against its constraints.
func (r *ClarifyRequest) Validate() error {
	return queryValidate.Struct(r)
}

// ConfirmRequest is the body for POST /v1/agent/confirm.
//
// The reply resolves a pending sync-confirmation gate. Affirmative replies
// sync staged markers; anything else declines and is processed as a new
// query.
type ConfirmRequest struct {
	SessionID string `json:"session_id" validate:"required,uuid4"`
	Reply     string `json:"reply" validate:"required,querybytes"`
}

// Validate checks the request against its constraints.
func (r *ConfirmRequest) Validate() error {
	return queryValidate.Struct(r)
}

// =============================================================================
// Response Types
// =============================================================================

// QueryResponse is the body returned by the query, clarify, and confirm
// endpoints.
//
// Exactly one of Response or Question is populated, mirroring the
// workflow's terminal-outcome rule: a turn ends with an answer, a
// clarification question, or a sync prompt (Response plus SyncSummary with
// status AWAITING_CONFIRMATION).
type QueryResponse struct {
	SessionID   string             `json:"session_id"`
	Status      agent.RunStatus    `json:"status"`
	Response    string             `json:"response,omitempty"`
	Question    string             `json:"question,omitempty"`
	SyncSummary *agent.SyncSummary `json:"sync_summary,omitempty"`
	Intent      agent.Intent       `json:"intent,omitempty"`
	Decision    agent.Decision     `json:"decision,omitempty"`
	Confidence  float64            `json:"confidence"`
	Iterations  int                `json:"iterations"`
	ToolsUsed   []string           `json:"tools_used,omitempty"`
}

// NewQueryResponse maps an engine result onto the wire type.
func NewQueryResponse(sessionID string, result *agent.RunResult) *QueryResponse {
	return &QueryResponse{
		SessionID:   sessionID,
		Status:      result.Status,
		Response:    result.Response,
		Question:    result.Question,
		SyncSummary: result.SyncSummary,
		Intent:      result.Intent,
		Decision:    result.Decision,
		Confidence:  result.Confidence,
		Iterations:  result.Iterations,
		ToolsUsed:   result.ToolsUsed,
	}
}

// SessionResponse is returned by POST /v1/sessions.
type SessionResponse struct {
	SessionID string `json:"session_id"`
}

// ErrorResponse is the uniform error body for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}
