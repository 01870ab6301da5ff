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
	"sync"

	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/llm"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/redact"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/tools"
)

// DocumentRef attaches a pre-extracted document to a turn.
type DocumentRef struct {
	// ContentHash is the SHA-256 over the document's page texts.
	ContentHash string `json:"content_hash"`

	// SourceName is the display name of the document.
	SourceName string `json:"source_name"`
}

// EngineConfig wires the engine's dependencies.
type EngineConfig struct {
	// LLM is the completion client used by router, planner and composer.
	LLM llm.Client

	// Registry holds the executable tools.
	Registry *tools.Registry

	// States persists workflow state across turns and suspensions.
	States StateStore

	// Markers is the staging ledger for extracted clinical markers.
	Markers MarkerStore

	// EHR writes confirmed markers externally. May be nil.
	EHR EHRClient

	// Scrubber removes PII from user-facing text. May be nil, in which
	// case the deterministic pattern pass still runs.
	Scrubber *redact.Scrubber

	// Session bounds every session the engine creates.
	Session SessionConfig
}

// Validate checks that the required dependencies are present.
func (c *EngineConfig) Validate() error {
	if c.LLM == nil {
		return errors.New("engine config: LLM client is required")
	}
	if c.Registry == nil {
		return errors.New("engine config: tool registry is required")
	}
	if c.States == nil {
		return errors.New("engine config: state store is required")
	}
	if c.Markers == nil {
		return errors.New("engine config: marker store is required")
	}
	return nil
}

// Engine drives the workflow state machine for all sessions.
//
// Thread Safety:
//
//	Engine is safe for concurrent use. Each session admits one active
//	turn at a time.
type Engine struct {
	machine  *StateMachine
	states   StateStore
	markers  MarkerStore
	scrubber *redact.Scrubber
	config   SessionConfig

	router     *Router
	planner    *Planner
	executor   *Executor
	comparator *Comparator
	auditor    *Auditor
	clarifier  *Clarifier
	syncer     *SyncExecutor
	composer   *Composer

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewEngine creates an engine from the given config.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	session := cfg.Session
	if session.TurnTimeout == 0 {
		session = DefaultSessionConfig()
	}
	if err := session.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		machine:    DefaultStateMachine,
		states:     cfg.States,
		markers:    cfg.Markers,
		scrubber:   cfg.Scrubber,
		config:     session,
		router:     NewRouter(cfg.LLM),
		planner:    NewPlanner(cfg.LLM),
		executor:   NewExecutor(cfg.Registry, cfg.Scrubber, session.ToolTimeout),
		comparator: NewComparator(cfg.Markers),
		auditor:    NewAuditor(),
		clarifier:  NewClarifier(cfg.Scrubber),
		syncer:     NewSyncExecutor(cfg.Markers, cfg.EHR),
		composer:   NewComposer(cfg.LLM),
		sessions:   make(map[string]*Session),
	}, nil
}

// NewSession creates a fresh session and returns its ID.
func (e *Engine) NewSession() (string, error) {
	sess, err := NewSession(e.config)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	e.sessions[sess.ID] = sess
	e.mu.Unlock()
	return sess.ID, nil
}

// Run executes one workflow turn.
//
// Description:
//
//	Dispatches on the session's suspension flags: a turn suspended on
//	the sync gate treats the query as the confirmation reply, a turn
//	suspended on a clarification treats it as the answer, and anything
//	else starts a fresh ROUTE → ... → COMPOSE pass. Exactly one of
//	response, question or confirmation prompt is produced.
//
// Inputs:
//
//	ctx - Context for the turn
//	sessionID - Session to run in; empty creates a new session
//	query - The user's query or reply
//	doc - Optional attached document reference
//
// Outputs:
//
//	*RunResult - The turn outcome
//	error - Non-nil on infrastructure failure or exhausted budget
func (e *Engine) Run(ctx context.Context, sessionID, query string, doc *DocumentRef) (*RunResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	sess, err := e.session(ctx, sessionID, true)
	if err != nil {
		return nil, err
	}

	prior := sess.State()
	switch {
	case prior != nil && prior.PendingConfirmation:
		return e.resumeConfirmation(ctx, sess, query, doc)
	case prior != nil && prior.PendingInput:
		return e.resumeClarification(ctx, sess, query)
	}

	if err := sess.TryAcquire(); err != nil {
		return nil, err
	}
	defer sess.Release()

	ctx, cancel := context.WithTimeout(ctx, sess.Config.TurnTimeout)
	defer cancel()

	state := e.newTurnState(sess, query, prior, doc)
	sess.SetNode(NodeIdle)
	sess.SetState(state)

	return e.runFromRoute(ctx, sess, state, "")
}

// ResumeClarification resumes a turn suspended on a clarification
// question.
func (e *Engine) ResumeClarification(ctx context.Context, sessionID, answer string) (*RunResult, error) {
	sess, err := e.session(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}
	return e.resumeClarification(ctx, sess, answer)
}

func (e *Engine) resumeClarification(ctx context.Context, sess *Session, answer string) (*RunResult, error) {
	state := sess.State()
	if state == nil || !state.PendingInput {
		return nil, ErrNotAwaitingClarification
	}

	if err := sess.TryAcquire(); err != nil {
		return nil, err
	}
	defer sess.Release()

	ctx, cancel := context.WithTimeout(ctx, sess.Config.TurnTimeout)
	defer cancel()

	e.clarifier.Resolve(state, answer)
	sess.SetNode(NodeClarify)

	if err := e.advance(ctx, sess, state, NodePlan); err != nil {
		return e.failTurn(ctx, sess, state, err)
	}
	return e.runFromPlan(ctx, sess, state, "")
}

// ResumeConfirmation resumes a turn suspended on the sync gate.
func (e *Engine) ResumeConfirmation(ctx context.Context, sessionID, reply string) (*RunResult, error) {
	sess, err := e.session(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}
	return e.resumeConfirmation(ctx, sess, reply, nil)
}

func (e *Engine) resumeConfirmation(ctx context.Context, sess *Session, reply string, doc *DocumentRef) (*RunResult, error) {
	prior := sess.State()
	if prior == nil || !prior.PendingConfirmation {
		return nil, ErrNotAwaitingConfirmation
	}

	if err := sess.TryAcquire(); err != nil {
		return nil, err
	}
	defer sess.Release()

	ctx, cancel := context.WithTimeout(ctx, sess.Config.TurnTimeout)
	defer cancel()

	if IsSyncAffirmation(reply) {
		state := e.newTurnState(sess, reply, prior, nil)
		sess.SetNode(NodeIdle)
		sess.SetState(state)

		if err := e.advance(ctx, sess, state, NodeSync); err != nil {
			return e.failTurn(ctx, sess, state, err)
		}
		if err := e.syncer.Sync(ctx, state); err != nil {
			return e.failTurn(ctx, sess, state, err)
		}
		if err := e.advance(ctx, sess, state, NodeCompose); err != nil {
			return e.failTurn(ctx, sess, state, err)
		}
		return e.compose(ctx, sess, state, "")
	}

	// Anything but an affirmation declines the sync. Staged markers stay
	// PENDING and the reply is processed as a new query.
	e.syncer.Decline(prior)
	state := e.newTurnState(sess, reply, prior, doc)
	sess.SetNode(NodeIdle)
	sess.SetState(state)

	note := "The staged markers were not synced and remain pending.\n\n"
	return e.runFromRoute(ctx, sess, state, note)
}

// advance moves the session to the next node and checkpoints the state,
// so a crash between nodes resumes from the last completed boundary
// instead of the start of the turn. Checkpoint write failures are logged
// and do not abort the turn; the terminal persistence in compose and
// suspend is the authoritative one.
func (e *Engine) advance(ctx context.Context, sess *Session, state *WorkflowState, node Node) error {
	if err := e.machine.Transition(sess, node); err != nil {
		return err
	}
	if err := e.states.SaveState(ctx, state); err != nil {
		slog.Warn("checkpoint persistence failed",
			"session", state.SessionID, "node", node, "error", err)
	}
	return nil
}

// runFromRoute drives a turn from routing to completion.
func (e *Engine) runFromRoute(ctx context.Context, sess *Session, state *WorkflowState, note string) (*RunResult, error) {
	if err := e.advance(ctx, sess, state, NodeRoute); err != nil {
		return e.failTurn(ctx, sess, state, err)
	}
	e.router.Route(ctx, state)

	if state.Decision == DecisionOutOfScope {
		if err := e.advance(ctx, sess, state, NodeCompose); err != nil {
			return e.failTurn(ctx, sess, state, err)
		}
		return e.compose(ctx, sess, state, note)
	}

	if err := e.advance(ctx, sess, state, NodePlan); err != nil {
		return e.failTurn(ctx, sess, state, err)
	}
	return e.runFromPlan(ctx, sess, state, note)
}

// runFromPlan drives a turn from planning to completion. Also the
// re-entry point after a clarification is resolved.
func (e *Engine) runFromPlan(ctx context.Context, sess *Session, state *WorkflowState, note string) (*RunResult, error) {
	e.planner.Plan(ctx, state)

	if len(state.ToolPlan) == 0 {
		if err := e.advance(ctx, sess, state, NodeCompose); err != nil {
			return e.failTurn(ctx, sess, state, err)
		}
		return e.compose(ctx, sess, state, note)
	}

	for {
		if err := e.advance(ctx, sess, state, NodeExecute); err != nil {
			return e.failTurn(ctx, sess, state, err)
		}
		if err := e.executor.Execute(ctx, state); err != nil {
			return e.failTurn(ctx, sess, state, err)
		}
		e.executor.RegisterCachedSources(ctx, state)

		if e.hasDocumentEvidence(state) {
			if err := e.advance(ctx, sess, state, NodeCompare); err != nil {
				return e.failTurn(ctx, sess, state, err)
			}
			if err := e.comparator.Compare(ctx, state); err != nil {
				return e.failTurn(ctx, sess, state, err)
			}
		}

		if err := e.advance(ctx, sess, state, NodeAudit); err != nil {
			return e.failTurn(ctx, sess, state, err)
		}
		e.auditor.Audit(state)

		switch state.Decision {
		case DecisionMissing:
			continue

		case DecisionAmbiguous:
			if err := e.advance(ctx, sess, state, NodeClarify); err != nil {
				return e.failTurn(ctx, sess, state, err)
			}
			e.clarifier.Suspend(ctx, state)
			return e.suspend(ctx, sess, state)

		default:
			if err := e.advance(ctx, sess, state, NodeCompose); err != nil {
				return e.failTurn(ctx, sess, state, err)
			}
			return e.compose(ctx, sess, state, note)
		}
	}
}

// compose finishes the turn: builds the response, enforces the single
// terminal outcome, persists state and assembles the run result.
func (e *Engine) compose(ctx context.Context, sess *Session, state *WorkflowState, note string) (*RunResult, error) {
	e.composer.Compose(ctx, state)

	if note != "" {
		if state.FinalResponse != "" {
			state.FinalResponse = note + state.FinalResponse
		} else if state.DraftResponse != "" {
			state.DraftResponse = note + state.DraftResponse
		}
	}

	if err := state.CheckExclusive(); err != nil {
		return e.failTurn(ctx, sess, state, err)
	}
	if err := e.machine.Transition(sess, NodeComplete); err != nil {
		return e.failTurn(ctx, sess, state, err)
	}

	state.AppendMessage("user", state.RawQuery)
	result := e.result(state)
	switch result.Status {
	case RunDone:
		state.AppendMessage("assistant", result.Response)
	case RunAwaitingConfirmation:
		state.AppendMessage("assistant", result.Response)
	case RunAwaitingClarification:
		state.AppendMessage("assistant", result.Question)
	}
	state.PriorQueryContext = truncate(state.RawQuery, 200)

	if err := e.states.SaveState(ctx, state); err != nil {
		slog.Error("state persistence failed", "session", state.SessionID, "error", err)
		return nil, fmt.Errorf("save state: %w", err)
	}
	return result, nil
}

// suspend persists a turn paused on a clarification question.
func (e *Engine) suspend(ctx context.Context, sess *Session, state *WorkflowState) (*RunResult, error) {
	if err := state.CheckExclusive(); err != nil {
		return e.failTurn(ctx, sess, state, err)
	}

	state.AppendMessage("user", state.RawQuery)
	state.AppendMessage("assistant", state.ClarificationQuestion)

	if err := e.states.SaveState(ctx, state); err != nil {
		slog.Error("state persistence failed", "session", state.SessionID, "error", err)
		return nil, fmt.Errorf("save state: %w", err)
	}
	return e.result(state), nil
}

// failTurn moves the session to ERROR with a user-facing response so the
// terminal outcome invariant holds even on failure.
func (e *Engine) failTurn(ctx context.Context, sess *Session, state *WorkflowState, cause error) (*RunResult, error) {
	slog.Error("workflow turn failed",
		"session", state.SessionID,
		"node", sess.GetNode().String(),
		"error", cause)

	sess.SetNode(NodeError)
	state.Error = cause.Error()
	state.ClearPendingFlags()
	state.DraftResponse = ""
	state.FinalResponse = "An internal error occurred while processing this query. Please try again."

	if err := e.states.SaveState(ctx, state); err != nil {
		slog.Error("state persistence failed after turn error",
			"session", state.SessionID, "error", err)
	}
	return nil, cause
}

// session returns the in-memory session, restoring it from persisted
// state when the process has restarted since the last turn.
func (e *Engine) session(ctx context.Context, sessionID string, createMissing bool) (*Session, error) {
	if sessionID == "" {
		if !createMissing {
			return nil, ErrSessionNotFound
		}
		id, err := e.NewSession()
		if err != nil {
			return nil, err
		}
		sessionID = id
	}

	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if ok {
		return sess, nil
	}

	state, err := e.states.LoadState(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) && createMissing {
			restored, restoreErr := RestoreSession(sessionID, e.config, nil)
			if restoreErr != nil {
				return nil, restoreErr
			}
			e.mu.Lock()
			e.sessions[sessionID] = restored
			e.mu.Unlock()
			return restored, nil
		}
		return nil, err
	}

	restored, err := RestoreSession(sessionID, e.config, state)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.sessions[sessionID] = restored
	e.mu.Unlock()
	return restored, nil
}

// newTurnState builds the turn state, carrying session caches forward
// and attaching the document reference.
func (e *Engine) newTurnState(sess *Session, query string, prior *WorkflowState, doc *DocumentRef) *WorkflowState {
	state := NewWorkflowState(sess.ID, query, prior)
	if doc != nil && doc.ContentHash != "" {
		if doc.ContentHash != state.DocContentHash {
			state.DocPages = nil
		}
		state.DocContentHash = doc.ContentHash
		state.DocSourceFile = doc.SourceName
	}
	return state
}

// hasDocumentEvidence reports whether this pass produced document-kind
// evidence worth staging.
func (e *Engine) hasDocumentEvidence(state *WorkflowState) bool {
	for _, ev := range state.Evidence {
		if ev.Kind == KindDocument && !ev.Ambiguous {
			return true
		}
	}
	return false
}

// result assembles the run result from the finished or suspended state.
func (e *Engine) result(state *WorkflowState) *RunResult {
	result := &RunResult{
		Intent:     state.Intent,
		Decision:   state.Decision,
		Confidence: state.Confidence,
		Iterations: state.IterationCount,
		ToolsUsed:  state.ToolTrace,
	}
	switch {
	case state.PendingInput:
		result.Status = RunAwaitingClarification
		result.Question = state.ClarificationQuestion
	case state.PendingConfirmation:
		result.Status = RunAwaitingConfirmation
		result.Response = state.DraftResponse
		result.SyncSummary = state.SyncSummary
	default:
		result.Status = RunDone
		result.Response = state.FinalResponse
	}
	return result
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
