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
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// syncAffirmations are the replies that confirm a pending sync. Anything
// else declines it.
var syncAffirmations = map[string]bool{
	"yes":      true,
	"sync":     true,
	"proceed":  true,
	"do it":    true,
	"confirm":  true,
	"go ahead": true,
	"push":     true,
}

// IsSyncAffirmation reports whether a reply confirms the pending sync.
func IsSyncAffirmation(reply string) bool {
	return syncAffirmations[strings.ToLower(strings.TrimSpace(reply))]
}

// SyncExecutor writes confirmed markers to the EHR, with local promotion
// as the fallback when the external write is unsupported or fails.
type SyncExecutor struct {
	markers MarkerStore
	ehr     EHRClient
}

// NewSyncExecutor creates a sync executor. The EHR client may be nil,
// in which case every sync promotes locally.
func NewSyncExecutor(markers MarkerStore, ehr EHRClient) *SyncExecutor {
	return &SyncExecutor{markers: markers, ehr: ehr}
}

// Sync executes a confirmed sync for the session's pending markers.
//
// Description:
//
//	Attempts the external EHR write per marker, marking failures FAILED,
//	then promotes the session's champions locally so no marker is ever
//	left PENDING or FAILED after a confirmed sync. The local ledger is
//	authoritative when the external backend cannot accept writes.
//
// Inputs:
//
//	ctx - Context for ledger and EHR access
//	state - The turn state; mutated in place
//
// Outputs:
//
//	error - Non-nil only on ledger failure
func (s *SyncExecutor) Sync(ctx context.Context, state *WorkflowState) error {
	pending, err := s.markers.PendingMarkers(ctx, state.SessionID)
	if err != nil {
		return fmt.Errorf("read pending markers: %w", err)
	}

	external := 0
	unsupported := s.ehr == nil
	for _, m := range pending {
		if unsupported {
			break
		}
		writeErr := s.ehr.WriteMarker(ctx, m)
		switch {
		case writeErr == nil:
			external++
		case errors.Is(writeErr, ErrSyncUnsupported):
			unsupported = true
			slog.Info("EHR does not accept observation writes, promoting locally",
				"session", state.SessionID)
		default:
			slog.Warn("EHR write failed, marker will be promoted locally",
				"marker", m.MarkerName, "error", writeErr)
			if statusErr := s.markers.UpdateStatus(ctx, state.SessionID, m.ID, MarkerFailed); statusErr != nil {
				return fmt.Errorf("mark failed marker: %w", statusErr)
			}
		}
	}

	// Promotion sweeps up everything the external write did not cover,
	// including FAILED markers. After this no marker is left behind.
	promoted, superseded, err := s.markers.PromoteSession(ctx, state.SessionID)
	if err != nil {
		return fmt.Errorf("promote session markers: %w", err)
	}

	state.Decision = DecisionSyncComplete
	state.Confidence = 1.0
	state.DraftResponse = syncReport(state.SyncSummary, external, promoted, superseded)
	state.PendingConfirmation = false
	state.SyncSummary = nil
	return nil
}

// Decline resolves a declined sync: markers stay PENDING and the reply
// is treated as a new query.
func (s *SyncExecutor) Decline(state *WorkflowState) {
	state.ClearPendingFlags()
}

func syncReport(summary *SyncSummary, external, promoted, superseded int) string {
	var b strings.Builder
	b.WriteString("Sync complete.")
	if external > 0 {
		fmt.Fprintf(&b, " %d marker(s) written to the EHR.", external)
	}
	if promoted > 0 {
		fmt.Fprintf(&b, " %d marker(s) recorded in the local ledger.", promoted)
	}
	if superseded > 0 {
		fmt.Fprintf(&b, " %d duplicate(s) superseded.", superseded)
	}
	if summary != nil && len(summary.Existing) > 0 {
		fmt.Fprintf(&b, " %d marker(s) were already in the record and were not rewritten.",
			len(summary.Existing))
	}
	return b.String()
}
