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
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionConfig bounds a session's resource usage.
type SessionConfig struct {
	// MaxTurns caps the number of turns per session. 0 means unlimited.
	MaxTurns int

	// TurnTimeout bounds a single workflow turn end to end.
	TurnTimeout time.Duration

	// ToolTimeout bounds a single tool execution.
	ToolTimeout time.Duration
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxTurns:    200,
		TurnTimeout: 2 * time.Minute,
		ToolTimeout: 30 * time.Second,
	}
}

// Validate checks the config for invalid values.
func (c *SessionConfig) Validate() error {
	if c.MaxTurns < 0 {
		return fmt.Errorf("max turns must be >= 0, got %d", c.MaxTurns)
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("turn timeout must be positive, got %s", c.TurnTimeout)
	}
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("tool timeout must be positive, got %s", c.ToolTimeout)
	}
	return nil
}

// Session tracks one conversation through the workflow.
//
// A session admits at most one active turn at a time; callers must hold
// the turn slot via TryAcquire before running the engine.
//
// Thread Safety:
//
//	Session is safe for concurrent use.
type Session struct {
	mu sync.RWMutex

	// ID is the unique session identifier.
	ID string

	// Config bounds the session.
	Config SessionConfig

	// node is the current workflow node.
	node Node

	// state is the current workflow state.
	state *WorkflowState

	// turns counts completed turns.
	turns int

	// active is true while a turn is running.
	active bool

	// CreatedAt is when the session was created.
	CreatedAt time.Time

	// LastActivityAt is updated at the end of each turn.
	LastActivityAt time.Time
}

// NewSession creates a session with the given config.
//
// Inputs:
//
//	config - Session bounds; zero values are replaced with defaults
//
// Outputs:
//
//	*Session - Session in the IDLE node
//	error - Non-nil if the config is invalid
func NewSession(config SessionConfig) (*Session, error) {
	if config.TurnTimeout == 0 && config.ToolTimeout == 0 && config.MaxTurns == 0 {
		config = DefaultSessionConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Session{
		ID:             uuid.NewString(),
		Config:         config,
		node:           NodeIdle,
		CreatedAt:      now,
		LastActivityAt: now,
	}, nil
}

// RestoreSession rebuilds a session around a persisted workflow state.
// The node is set from the state's suspension flags.
func RestoreSession(id string, config SessionConfig, state *WorkflowState) (*Session, error) {
	s, err := NewSession(config)
	if err != nil {
		return nil, err
	}
	s.ID = id
	s.state = state
	if state != nil && state.PendingInput {
		s.node = NodeClarify
	}
	return s, nil
}

// GetNode returns the current workflow node.
func (s *Session) GetNode() Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.node
}

// SetNode updates the current workflow node. Use StateMachine.Transition
// for validated moves.
func (s *Session) SetNode(node Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.node = node
}

// State returns the current workflow state.
func (s *Session) State() *WorkflowState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState replaces the workflow state.
func (s *Session) SetState(state *WorkflowState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Turns returns the number of completed turns.
func (s *Session) Turns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turns
}

// TryAcquire claims the session's single turn slot.
//
// Outputs:
//
//	error - ErrSessionBusy if another turn is running, or an error when
//	        the turn budget is exhausted
func (s *Session) TryAcquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return ErrSessionBusy
	}
	if s.Config.MaxTurns > 0 && s.turns >= s.Config.MaxTurns {
		return fmt.Errorf("session turn budget exhausted (%d)", s.Config.MaxTurns)
	}
	s.active = true
	return nil
}

// Release frees the turn slot and records the completed turn.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = false
	s.turns++
	s.LastActivityAt = time.Now().UTC()
}
