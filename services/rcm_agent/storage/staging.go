// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent"
)

// Key prefixes for the staging ledger.
const (
	markerPrefix  = "marker/"  // marker/<sessionID>/<markerID> -> marker JSON
	subjectPrefix = "subjidx/" // subjidx/<subjectID>/<markerID> -> primary key
)

// ErrMarkerNotFound indicates the marker does not exist.
var ErrMarkerNotFound = errors.New("staged marker not found")

// StagingStore is the BadgerDB-backed evidence staging ledger.
//
// Every marker is stored under its session and indexed by subject so the
// comparator can ask "what is already synced for this patient" across
// sessions.
//
// Thread Safety:
//
//	StagingStore is safe for concurrent use.
type StagingStore struct {
	db *badger.DB
}

// NewStagingStore creates a staging store over an open database.
func NewStagingStore(db *badger.DB) *StagingStore {
	return &StagingStore{db: db}
}

// InsertMarker implements agent.MarkerStore.
//
// Description:
//
//	Stages a marker with status PENDING. Assigns an ID when missing,
//	stamps timestamps, and caps raw text at agent.MaxMarkerRawText.
func (s *StagingStore) InsertMarker(ctx context.Context, marker *agent.StagedMarker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if marker == nil || marker.SessionID == "" {
		return errors.New("marker must have a session ID")
	}

	if marker.ID == "" {
		marker.ID = uuid.NewString()
	}
	if marker.Status == "" {
		marker.Status = agent.MarkerPending
	}
	if len(marker.RawText) > agent.MaxMarkerRawText {
		marker.RawText = marker.RawText[:agent.MaxMarkerRawText]
	}
	now := time.Now().UTC()
	if marker.CreatedAt.IsZero() {
		marker.CreatedAt = now
	}
	marker.UpdatedAt = now

	data, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("encode marker: %w", err)
	}

	primary := markerKey(marker.SessionID, marker.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(primary, data); err != nil {
			return err
		}
		if marker.SubjectID != "" {
			idx := subjectKey(marker.SubjectID, marker.ID)
			return txn.Set(idx, primary)
		}
		return nil
	})
}

// PendingMarkers implements agent.MarkerStore.
func (s *StagingStore) PendingMarkers(ctx context.Context, sessionID string) ([]*agent.StagedMarker, error) {
	markers, err := s.MarkersBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := markers[:0]
	for _, m := range markers {
		if m.Status == agent.MarkerPending {
			out = append(out, m)
		}
	}
	return out, nil
}

// MarkersBySession implements agent.MarkerStore.
func (s *StagingStore) MarkersBySession(ctx context.Context, sessionID string) ([]*agent.StagedMarker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var markers []*agent.StagedMarker
	prefix := []byte(markerPrefix + sessionID + "/")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var m agent.StagedMarker
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return err
			}
			markers = append(markers, &m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return markers, nil
}

// SyncedMarkers implements agent.MarkerStore.
func (s *StagingStore) SyncedMarkers(ctx context.Context, subjectID string) ([]*agent.StagedMarker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var markers []*agent.StagedMarker
	prefix := []byte(subjectPrefix + subjectID + "/")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var primary []byte
			if err := it.Item().Value(func(val []byte) error {
				primary = append([]byte(nil), val...)
				return nil
			}); err != nil {
				return err
			}

			item, err := txn.Get(primary)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			var m agent.StagedMarker
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return err
			}
			if m.Status == agent.MarkerSynced {
				markers = append(markers, &m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return markers, nil
}

// UpdateStatus implements agent.MarkerStore.
func (s *StagingStore) UpdateStatus(ctx context.Context, sessionID, markerID string, status agent.MarkerStatus) error {
	if !agent.ValidMarkerStatus(status) {
		return fmt.Errorf("invalid marker status %q", status)
	}
	return s.BulkUpdateStatus(ctx, sessionID, []string{markerID}, status)
}

// BulkUpdateStatus implements agent.MarkerStore.
func (s *StagingStore) BulkUpdateStatus(ctx context.Context, sessionID string, markerIDs []string, status agent.MarkerStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !agent.ValidMarkerStatus(status) {
		return fmt.Errorf("invalid marker status %q", status)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, id := range markerIDs {
			key := markerKey(sessionID, id)
			item, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrMarkerNotFound, id)
			}
			if err != nil {
				return err
			}

			var m agent.StagedMarker
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return err
			}

			m.Status = status
			m.UpdatedAt = time.Now().UTC()

			data, err := json.Marshal(&m)
			if err != nil {
				return err
			}
			if err := txn.Set(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// PromoteSession implements agent.MarkerStore.
//
// Description:
//
//	Groups the session's PENDING and FAILED markers by dedupe key,
//	promotes each group's champion (longest raw text) to SYNCED, and
//	marks the rest SUPERSEDED. Already-synced markers are untouched.
func (s *StagingStore) PromoteSession(ctx context.Context, sessionID string) (int, int, error) {
	markers, err := s.MarkersBySession(ctx, sessionID)
	if err != nil {
		return 0, 0, err
	}

	groups := make(map[string][]*agent.StagedMarker)
	for _, m := range markers {
		if m.Status != agent.MarkerPending && m.Status != agent.MarkerFailed {
			continue
		}
		key := m.DedupeKey()
		groups[key] = append(groups[key], m)
	}

	var promote, supersede []string
	for _, group := range groups {
		champion := group[0]
		for _, m := range group[1:] {
			if len(m.RawText) > len(champion.RawText) {
				champion = m
			}
		}
		for _, m := range group {
			if m.ID == champion.ID {
				promote = append(promote, m.ID)
			} else {
				supersede = append(supersede, m.ID)
			}
		}
	}

	if err := s.BulkUpdateStatus(ctx, sessionID, promote, agent.MarkerSynced); err != nil {
		return 0, 0, err
	}
	if err := s.BulkUpdateStatus(ctx, sessionID, supersede, agent.MarkerSuperseded); err != nil {
		return len(promote), 0, err
	}
	return len(promote), len(supersede), nil
}

func markerKey(sessionID, markerID string) []byte {
	return []byte(markerPrefix + sessionID + "/" + markerID)
}

func subjectKey(subjectID, markerID string) []byte {
	return []byte(subjectPrefix + subjectID + "/" + markerID)
}
