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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedEHR fails or rejects writes per configuration.
type scriptedEHR struct {
	err    error
	writes int
}

func (c *scriptedEHR) WriteMarker(ctx context.Context, marker *StagedMarker) error {
	if c.err != nil {
		return c.err
	}
	c.writes++
	return nil
}

func stagePending(t *testing.T, store *memMarkerStore, session string, names ...string) {
	t.Helper()
	for _, name := range names {
		m := &StagedMarker{
			SessionID: session, SubjectID: "P001",
			MarkerName: name, MarkerValue: "1 unit", RawText: name,
		}
		require.NoError(t, store.InsertMarker(context.Background(), m))
	}
}

func TestSyncWritesExternallyWhenSupported(t *testing.T) {
	store := newMemMarkerStore()
	ehr := &scriptedEHR{}
	syncer := NewSyncExecutor(store, ehr)

	stagePending(t, store, "s1", "A1c", "LDL")
	state := &WorkflowState{SessionID: "s1", PendingConfirmation: true}
	require.NoError(t, syncer.Sync(context.Background(), state))

	assert.Equal(t, 2, ehr.writes)
	assert.Equal(t, DecisionSyncComplete, state.Decision)
	assert.False(t, state.PendingConfirmation)
	assert.Contains(t, state.DraftResponse, "written to the EHR")
}

func TestSyncFallsBackToLocalPromotion(t *testing.T) {
	store := newMemMarkerStore()
	syncer := NewSyncExecutor(store, &scriptedEHR{err: ErrSyncUnsupported})

	stagePending(t, store, "s1", "A1c", "LDL")
	state := &WorkflowState{SessionID: "s1", PendingConfirmation: true}
	require.NoError(t, syncer.Sync(context.Background(), state))

	all, err := store.MarkersBySession(context.Background(), "s1")
	require.NoError(t, err)
	for _, m := range all {
		assert.Equal(t, MarkerSynced, m.Status, m.MarkerName)
	}
	assert.Contains(t, state.DraftResponse, "local ledger")
}

func TestSyncNilEHRPromotesLocally(t *testing.T) {
	store := newMemMarkerStore()
	syncer := NewSyncExecutor(store, nil)

	stagePending(t, store, "s1", "A1c")
	state := &WorkflowState{SessionID: "s1", PendingConfirmation: true}
	require.NoError(t, syncer.Sync(context.Background(), state))

	all, err := store.MarkersBySession(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, MarkerSynced, all[0].Status)
}

func TestSyncFailedWritesAreStillResolved(t *testing.T) {
	// A flaky EHR must never leave markers stranded: failures go FAILED,
	// then promotion sweeps them into the local ledger.
	store := newMemMarkerStore()
	syncer := NewSyncExecutor(store, &scriptedEHR{err: fmt.Errorf("gateway timeout")})

	stagePending(t, store, "s1", "A1c", "LDL", "TSH")
	state := &WorkflowState{SessionID: "s1", PendingConfirmation: true}
	require.NoError(t, syncer.Sync(context.Background(), state))

	all, err := store.MarkersBySession(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, m := range all {
		if m.Status == MarkerPending || m.Status == MarkerFailed {
			t.Errorf("marker %s left %s after sync", m.MarkerName, m.Status)
		}
	}
}

func TestSyncIsAffirmationBoundary(t *testing.T) {
	assert.True(t, IsSyncAffirmation("  Yes "))
	assert.False(t, IsSyncAffirmation("yes!"))
	assert.False(t, IsSyncAffirmation("nope"))
}

func TestDeclineClearsFlags(t *testing.T) {
	syncer := NewSyncExecutor(newMemMarkerStore(), nil)

	state := &WorkflowState{
		SessionID:           "s1",
		PendingConfirmation: true,
		SyncSummary:         &SyncSummary{TotalRaw: 1},
	}
	syncer.Decline(state)

	assert.False(t, state.PendingConfirmation)
	assert.Nil(t, state.SyncSummary)
}

func TestSyncErrorPropagatesFromLedger(t *testing.T) {
	store := newMemMarkerStore()
	store.syncedErr = errors.New("unused")
	syncer := NewSyncExecutor(store, nil)

	// PendingMarkers works, PromoteSession works; no error expected even
	// with the synced-read failing, since sync never reads it.
	state := &WorkflowState{SessionID: "s1", PendingConfirmation: true}
	assert.NoError(t, syncer.Sync(context.Background(), state))
}
