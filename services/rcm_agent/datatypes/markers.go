// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Audit trail types for the staging ledger endpoint.
package datatypes

import (
	"time"

	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent"
)

// MarkerRecord is one staging ledger entry in the audit view.
//
// RawText is redacted upstream before staging, so exposing it here does
// not leak identifiers beyond what the ledger already holds.
type MarkerRecord struct {
	ID             string             `json:"id"`
	SubjectID      string             `json:"subject_identifier"`
	MarkerName     string             `json:"marker_name"`
	MarkerValue    string             `json:"marker_value"`
	RawText        string             `json:"raw_text"`
	SourceDocument string             `json:"source_document"`
	Confidence     float64            `json:"confidence"`
	Status         agent.MarkerStatus `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// AuditResponse is the body for GET /v1/audit/:sessionId.
//
// State is the last persisted workflow state, nil when the session has
// no stored turn yet.
type AuditResponse struct {
	SessionID string               `json:"session_id"`
	State     *agent.WorkflowState `json:"state,omitempty"`
	Markers   []MarkerRecord       `json:"markers"`
}

// NewAuditResponse maps the stored state and ledger entries onto the
// wire type.
func NewAuditResponse(sessionID string, state *agent.WorkflowState, markers []*agent.StagedMarker) *AuditResponse {
	resp := &AuditResponse{
		SessionID: sessionID,
		State:     state,
		Markers:   make([]MarkerRecord, 0, len(markers)),
	}
	for _, m := range markers {
		resp.Markers = append(resp.Markers, MarkerRecord{
			ID:             m.ID,
			SubjectID:      m.SubjectID,
			MarkerName:     m.MarkerName,
			MarkerValue:    m.MarkerValue,
			RawText:        m.RawText,
			SourceDocument: m.SourceDocument,
			Confidence:     m.Confidence,
			Status:         m.Status,
			CreatedAt:      m.CreatedAt,
			UpdatedAt:      m.UpdatedAt,
		})
	}
	return resp
}
