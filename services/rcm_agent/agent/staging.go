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
	"strings"
	"time"
)

// MarkerStatus is the lifecycle state of a staged clinical marker.
type MarkerStatus string

const (
	// MarkerPending awaits user confirmation before any write.
	MarkerPending MarkerStatus = "PENDING"

	// MarkerSynced was written to the EHR, or promoted locally when the
	// external write is unsupported.
	MarkerSynced MarkerStatus = "SYNCED"

	// MarkerFailed could not be written externally.
	MarkerFailed MarkerStatus = "FAILED"

	// MarkerSuperseded lost champion selection to a duplicate.
	MarkerSuperseded MarkerStatus = "SUPERSEDED"
)

// ValidMarkerStatus reports whether s is a defined status.
func ValidMarkerStatus(s MarkerStatus) bool {
	switch s {
	case MarkerPending, MarkerSynced, MarkerFailed, MarkerSuperseded:
		return true
	}
	return false
}

// MaxMarkerRawText caps stored raw text so a pathological document cannot
// bloat the ledger.
const MaxMarkerRawText = 500

// StagedMarker is one clinical marker extracted from a document and held
// in the staging ledger until the user confirms a sync.
type StagedMarker struct {
	// ID is the unique marker identifier.
	ID string `json:"id"`

	// SessionID is the conversation that extracted the marker.
	SessionID string `json:"session_id"`

	// SubjectID is the patient the marker belongs to.
	SubjectID string `json:"subject_identifier"`

	// MarkerName is the marker or LOINC display name (e.g. "Hemoglobin A1c").
	MarkerName string `json:"marker_name"`

	// MarkerValue is the normalized value with units (e.g. "7.2 %").
	MarkerValue string `json:"marker_value"`

	// RawText is the verbatim source text, capped at MaxMarkerRawText.
	RawText string `json:"raw_text"`

	// SourceDocument names the document the marker came from.
	SourceDocument string `json:"source_document"`

	// Confidence is the extraction confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Status is the lifecycle state.
	Status MarkerStatus `json:"status"`

	// CreatedAt is when the marker was staged.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the status last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// DedupeKey groups duplicate observations of the same marker. Two markers
// with the same key describe the same fact; the champion survives.
func (m *StagedMarker) DedupeKey() string {
	return normalizeToken(m.MarkerName) + "|" + normalizeToken(m.MarkerValue)
}

// normalizeToken lowercases and collapses whitespace for dedupe keys.
func normalizeToken(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// StateStore persists workflow state across turns and suspensions.
type StateStore interface {
	// SaveState persists the state under its session ID.
	SaveState(ctx context.Context, state *WorkflowState) error

	// LoadState returns the state for a session, or ErrSessionNotFound.
	LoadState(ctx context.Context, sessionID string) (*WorkflowState, error)
}

// MarkerStore is the staging ledger for extracted clinical markers.
type MarkerStore interface {
	// InsertMarker stages a marker with status PENDING.
	InsertMarker(ctx context.Context, marker *StagedMarker) error

	// PendingMarkers returns PENDING markers for a session.
	PendingMarkers(ctx context.Context, sessionID string) ([]*StagedMarker, error)

	// SyncedMarkers returns SYNCED markers for a subject across sessions.
	SyncedMarkers(ctx context.Context, subjectID string) ([]*StagedMarker, error)

	// MarkersBySession returns every marker staged by a session.
	MarkersBySession(ctx context.Context, sessionID string) ([]*StagedMarker, error)

	// UpdateStatus moves one marker to a new status.
	UpdateStatus(ctx context.Context, sessionID, markerID string, status MarkerStatus) error

	// BulkUpdateStatus moves several markers to a new status.
	BulkUpdateStatus(ctx context.Context, sessionID string, markerIDs []string, status MarkerStatus) error

	// PromoteSession promotes the session's unsynced champions to SYNCED
	// and marks their duplicates SUPERSEDED. Used when the external EHR
	// write is unsupported; the local ledger is then authoritative.
	//
	// Outputs:
	//   int - Number of markers promoted to SYNCED
	//   int - Number of markers marked SUPERSEDED
	PromoteSession(ctx context.Context, sessionID string) (int, int, error)
}

// EHRClient writes confirmed markers to the external EHR.
type EHRClient interface {
	// WriteMarker writes one marker. Implementations return
	// ErrSyncUnsupported when the backend cannot accept observation
	// writes, which triggers local promotion instead.
	WriteMarker(ctx context.Context, marker *StagedMarker) error
}
