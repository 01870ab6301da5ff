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

	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent"
)

// statePrefix namespaces workflow state keys.
const statePrefix = "state/"

// SessionStore persists workflow state snapshots, one per session.
//
// Thread Safety:
//
//	SessionStore is safe for concurrent use.
type SessionStore struct {
	db *badger.DB

	// ttl bounds how long an idle session survives. 0 disables expiry.
	ttl time.Duration
}

// NewSessionStore creates a session store over an open database.
//
// Inputs:
//
//	db - Open BadgerDB handle
//	ttl - Idle session retention; 0 keeps sessions forever
func NewSessionStore(db *badger.DB, ttl time.Duration) *SessionStore {
	return &SessionStore{db: db, ttl: ttl}
}

// SaveState implements agent.StateStore.
//
// The full state is written as one JSON value, so a crash between turns
// can lose at most the in-flight turn, never a committed suspension.
func (s *SessionStore) SaveState(ctx context.Context, state *agent.WorkflowState) error {
	if state == nil || state.SessionID == "" {
		return errors.New("state must have a session ID")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode workflow state: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(statePrefix+state.SessionID), data)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
}

// LoadState implements agent.StateStore.
func (s *SessionStore) LoadState(ctx context.Context, sessionID string) (*agent.WorkflowState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var state agent.WorkflowState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(statePrefix + sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &state); err != nil {
				return fmt.Errorf("%w: %v", agent.ErrStateCorrupt, err)
			}
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", agent.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// DeleteState removes a session's persisted state.
func (s *SessionStore) DeleteState(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(statePrefix + sessionID))
	})
}
