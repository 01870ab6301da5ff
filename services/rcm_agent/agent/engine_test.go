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
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/llm"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/redact"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/tools"
)

// memStateStore persists state through a JSON round trip so the tests
// catch anything that does not survive serialization.
type memStateStore struct {
	mu     sync.Mutex
	states map[string][]byte
	saves  int
}

func newMemStateStore() *memStateStore {
	return &memStateStore{states: make(map[string][]byte)}
}

func (s *memStateStore) SaveState(ctx context.Context, state *WorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.SessionID] = data
	s.saves++
	return nil
}

func (s *memStateStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *memStateStore) LoadState(ctx context.Context, sessionID string) (*WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.states[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	var state WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// memMarkerStore is an in-memory staging ledger.
type memMarkerStore struct {
	mu        sync.Mutex
	markers   []*StagedMarker
	nextID    int
	syncedErr error
}

func newMemMarkerStore() *memMarkerStore {
	return &memMarkerStore{}
}

func (s *memMarkerStore) InsertMarker(ctx context.Context, m *StagedMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m.ID = fmt.Sprintf("m%d", s.nextID)
	if m.Status == "" {
		m.Status = MarkerPending
	}
	if len(m.RawText) > MaxMarkerRawText {
		m.RawText = m.RawText[:MaxMarkerRawText]
	}
	s.markers = append(s.markers, m)
	return nil
}

func (s *memMarkerStore) PendingMarkers(ctx context.Context, sessionID string) ([]*StagedMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*StagedMarker
	for _, m := range s.markers {
		if m.SessionID == sessionID && m.Status == MarkerPending {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarkerStore) SyncedMarkers(ctx context.Context, subjectID string) ([]*StagedMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncedErr != nil {
		return nil, s.syncedErr
	}
	var out []*StagedMarker
	for _, m := range s.markers {
		if m.SubjectID == subjectID && m.Status == MarkerSynced {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarkerStore) MarkersBySession(ctx context.Context, sessionID string) ([]*StagedMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*StagedMarker
	for _, m := range s.markers {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarkerStore) UpdateStatus(ctx context.Context, sessionID, markerID string, status MarkerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.markers {
		if m.SessionID == sessionID && m.ID == markerID {
			m.Status = status
			return nil
		}
	}
	return fmt.Errorf("marker %s not found", markerID)
}

func (s *memMarkerStore) BulkUpdateStatus(ctx context.Context, sessionID string, markerIDs []string, status MarkerStatus) error {
	for _, id := range markerIDs {
		if err := s.UpdateStatus(ctx, sessionID, id, status); err != nil {
			return err
		}
	}
	return nil
}

func (s *memMarkerStore) PromoteSession(ctx context.Context, sessionID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	champions := make(map[string]*StagedMarker)
	for _, m := range s.markers {
		if m.SessionID != sessionID {
			continue
		}
		if m.Status != MarkerPending && m.Status != MarkerFailed {
			continue
		}
		key := m.DedupeKey()
		if best, ok := champions[key]; !ok || len(m.RawText) > len(best.RawText) {
			champions[key] = m
		}
	}

	promoted, superseded := 0, 0
	for _, m := range s.markers {
		if m.SessionID != sessionID {
			continue
		}
		if m.Status != MarkerPending && m.Status != MarkerFailed {
			continue
		}
		if champions[m.DedupeKey()] == m {
			m.Status = MarkerSynced
			promoted++
		} else {
			m.Status = MarkerSuperseded
			superseded++
		}
	}
	return promoted, superseded, nil
}

// scriptedLLM answers the router with a keyword classification, refuses
// to produce planner JSON (forcing the regex fallback) and returns empty
// synthesis (forcing the deterministic rendering).
func scriptedLLM() *llm.MockClient {
	return llm.NewMockClient().WithResponseFunc(func(req *llm.Request) (*llm.Response, error) {
		query := strings.ToLower(req.Messages[len(req.Messages)-1].Content)
		switch {
		case strings.Contains(req.SystemPrompt, "classify"):
			return &llm.Response{Content: classifyForTest(query), StopReason: "end"}, nil
		case strings.Contains(req.SystemPrompt, "JSON object"):
			return &llm.Response{Content: "no analysis available", StopReason: "end"}, nil
		default:
			return &llm.Response{Content: "", StopReason: "end"}, nil
		}
	})
}

func classifyForTest(query string) string {
	switch {
	case strings.Contains(query, "capital") || strings.Contains(query, "recipe"):
		return "OUT_OF_SCOPE"
	case strings.Contains(query, "interact"):
		return "INTERACTIONS"
	case strings.Contains(query, "allerg"):
		return "ALLERGIES"
	case strings.Contains(query, "safe"):
		return "SAFETY_CHECK"
	case strings.Contains(query, "taking") || strings.Contains(query, "medication"):
		return "MEDICATIONS"
	default:
		return "GENERAL"
	}
}

type testEnv struct {
	engine  *Engine
	client  *llm.MockClient
	states  *memStateStore
	markers *memMarkerStore
	docs    *tools.MemoryDocumentSource
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := tools.SeedDirectory()
	docs := tools.NewMemoryDocumentSource()

	reg := tools.NewRegistry()
	reg.Register(tools.NewSubjectLookupTool(dir))
	reg.Register(tools.NewMedicationsTool(dir))
	reg.Register(tools.NewInteractionsTool(dir))
	reg.Register(tools.NewAllergyConflictTool(dir))
	reg.Register(tools.NewExtractDocumentTool(docs))
	reg.Register(tools.NewDenialRiskTool())
	reg.Register(tools.NewPolicySearchTool(nil, tools.NewCriteriaStore(nil)))

	client := scriptedLLM()
	states := newMemStateStore()
	markers := newMemMarkerStore()

	engine, err := NewEngine(EngineConfig{
		LLM:      client,
		Registry: reg,
		States:   states,
		Markers:  markers,
		Scrubber: redact.NewScrubber(nil),
	})
	require.NoError(t, err)

	return &testEnv{engine: engine, client: client, states: states, markers: markers, docs: docs}
}

func (e *testEnv) attach(t *testing.T, pages []string, name string) *DocumentRef {
	t.Helper()
	hash := e.docs.Put(pages)
	return &DocumentRef{ContentHash: hash, SourceName: name}
}

func TestMedicationsQueryEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.engine.Run(ctx, "", "What medications is John Smith taking?", nil)
	require.NoError(t, err)

	assert.Equal(t, RunDone, result.Status)
	assert.Equal(t, DecisionPass, result.Decision)
	assert.InDelta(t, 0.95, result.Confidence, 1e-9)
	assert.Zero(t, result.Iterations)
	assert.Contains(t, result.Response, "Lisinopril 10mg daily")
	assert.Contains(t, result.Response, "Metformin 500mg twice daily")
	assert.Contains(t, result.Response, "not medical advice")
	assert.Contains(t, result.ToolsUsed, "lookup_subject")
	assert.Contains(t, result.ToolsUsed, "lookup_medications")
}

func TestMedicationsAnswerExcludesAllergyEvidence(t *testing.T) {
	// The subject lookup also gathers allergy evidence; a MEDICATIONS
	// answer must not surface it.
	env := newTestEnv(t)

	result, err := env.engine.Run(context.Background(), "", "What medications is John Smith taking?", nil)
	require.NoError(t, err)
	assert.NotContains(t, result.Response, "penicillin")
}

func TestOutOfScopeShortCircuits(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.engine.Run(context.Background(), "", "What is the capital of France?", nil)
	require.NoError(t, err)

	assert.Equal(t, RunDone, result.Status)
	assert.Equal(t, DecisionOutOfScope, result.Decision)
	assert.Equal(t, OutOfScopeRefusal, result.Response)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Empty(t, result.ToolsUsed, "refusal must not run tools")
}

func TestAmbiguousSubjectSuspendsAndResumes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sessionID, err := env.engine.NewSession()
	require.NoError(t, err)

	result, err := env.engine.Run(ctx, sessionID, "What is he taking?", nil)
	require.NoError(t, err)

	assert.Equal(t, RunAwaitingClarification, result.Status)
	assert.Equal(t, DecisionAmbiguous, result.Decision)
	assert.NotEmpty(t, result.Question)
	assert.Empty(t, result.Response)

	resumed, err := env.engine.ResumeClarification(ctx, sessionID, "John Smith")
	require.NoError(t, err)

	assert.Equal(t, RunDone, resumed.Status)
	assert.Equal(t, DecisionPass, resumed.Decision)
	assert.Contains(t, resumed.Response, "Lisinopril 10mg daily")
}

func TestClarificationSuspensionLosesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sessionID, err := env.engine.NewSession()
	require.NoError(t, err)

	_, err = env.engine.Run(ctx, sessionID, "What is he taking?", nil)
	require.NoError(t, err)

	// The suspended state must survive persistence with its trace intact.
	state, err := env.states.LoadState(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, state.PendingInput)
	assert.NotEmpty(t, state.ToolTrace)
	assert.NotEmpty(t, state.ClarificationQuestion)
}

func TestPronounResolvesToCachedSubject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sessionID, err := env.engine.NewSession()
	require.NoError(t, err)

	_, err = env.engine.Run(ctx, sessionID, "What medications is Robert Chen taking?", nil)
	require.NoError(t, err)

	result, err := env.engine.Run(ctx, sessionID, "Is he taking Warfarin with anything that interacts?", nil)
	require.NoError(t, err)

	assert.Equal(t, RunDone, result.Status)
	assert.Contains(t, result.Response, "monitor INR", "interaction for the cached subject's drugs")
}

func TestDocumentStagesMarkersAndSuspendsOnSyncGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sessionID, err := env.engine.NewSession()
	require.NoError(t, err)

	doc := env.attach(t, []string{"Progress note for visit.\nHgb A1c 7.2%\nBP 142/88"}, "progress_note.pdf")
	result, err := env.engine.Run(ctx, sessionID, "Summarize the labs in the attached note for John Smith", doc)
	require.NoError(t, err)

	require.Equal(t, RunAwaitingConfirmation, result.Status)
	require.NotNil(t, result.SyncSummary)
	assert.Len(t, result.SyncSummary.New, 3, "A1c plus systolic and diastolic BP")
	assert.Contains(t, result.Response, "Hemoglobin A1c")

	pending, err := env.markers.PendingMarkers(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
	for _, m := range pending {
		assert.Equal(t, "P001", m.SubjectID)
		assert.Equal(t, "progress_note.pdf", m.SourceDocument)
	}
}

func TestSyncConfirmationPromotesAllMarkers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sessionID, err := env.engine.NewSession()
	require.NoError(t, err)

	doc := env.attach(t, []string{"Hgb A1c 7.2%\nLDL 130 mg/dL"}, "labs.pdf")
	_, err = env.engine.Run(ctx, sessionID, "Review the attached document for John Smith", doc)
	require.NoError(t, err)

	result, err := env.engine.Run(ctx, sessionID, "yes", nil)
	require.NoError(t, err)

	assert.Equal(t, RunDone, result.Status)
	assert.Equal(t, DecisionSyncComplete, result.Decision)
	assert.Contains(t, result.Response, "Sync complete")

	all, err := env.markers.MarkersBySession(ctx, sessionID)
	require.NoError(t, err)
	require.NotEmpty(t, all)
	for _, m := range all {
		if m.Status == MarkerPending || m.Status == MarkerFailed {
			t.Errorf("marker %s left %s after confirmed sync", m.MarkerName, m.Status)
		}
	}
}

func TestSyncDeclineKeepsMarkersPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sessionID, err := env.engine.NewSession()
	require.NoError(t, err)

	doc := env.attach(t, []string{"Hgb A1c 7.2%"}, "labs.pdf")
	_, err = env.engine.Run(ctx, sessionID, "Review the attached document for John Smith", doc)
	require.NoError(t, err)

	result, err := env.engine.Run(ctx, sessionID, "no, what medications is John Smith taking?", nil)
	require.NoError(t, err)

	assert.Equal(t, RunDone, result.Status)
	assert.Contains(t, result.Response, "were not synced")
	assert.Contains(t, result.Response, "Lisinopril 10mg daily", "decline reply is processed as a new query")

	pending, err := env.markers.PendingMarkers(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "declined markers stay pending")
}

func TestSyncAffirmationWords(t *testing.T) {
	for _, word := range []string{"yes", "YES", " sync ", "proceed", "do it", "confirm", "go ahead", "push"} {
		assert.True(t, IsSyncAffirmation(word), word)
	}
	for _, word := range []string{"no", "maybe", "yes please", "what?", ""} {
		assert.False(t, IsSyncAffirmation(word), word)
	}
}

func TestRepeatedDocumentTurnDoesNotRestage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sessionID, err := env.engine.NewSession()
	require.NoError(t, err)

	doc := env.attach(t, []string{"Hgb A1c 7.2%"}, "labs.pdf")
	_, err = env.engine.Run(ctx, sessionID, "Review the attached document for John Smith", doc)
	require.NoError(t, err)

	// Decline, then ask about the same document again.
	_, err = env.engine.Run(ctx, sessionID, "not now", nil)
	require.NoError(t, err)
	_, err = env.engine.Run(ctx, sessionID, "Review the attached document for John Smith", doc)
	require.NoError(t, err)

	pending, err := env.markers.PendingMarkers(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "same marker must not be staged twice for a session")
}

func TestStateCheckpointedAtEachTransition(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.engine.Run(context.Background(), "", "What medications is John Smith taking?", nil)
	require.NoError(t, err)
	require.Equal(t, RunDone, result.Status)

	// ROUTE, PLAN, EXECUTE and AUDIT each checkpoint, then COMPOSE and
	// the terminal write. A crash mid-turn loses one node at most.
	assert.GreaterOrEqual(t, env.states.saveCount(), 5)
}

// flakyStateStore fails the first n writes, then delegates.
type flakyStateStore struct {
	inner    *memStateStore
	mu       sync.Mutex
	failures int
}

func (s *flakyStateStore) SaveState(ctx context.Context, state *WorkflowState) error {
	s.mu.Lock()
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return assert.AnError
	}
	return s.inner.SaveState(ctx, state)
}

func (s *flakyStateStore) LoadState(ctx context.Context, sessionID string) (*WorkflowState, error) {
	return s.inner.LoadState(ctx, sessionID)
}

func TestTurnSurvivesCheckpointWriteFailures(t *testing.T) {
	// Checkpoint writes are best effort; only the terminal write may
	// fail the turn.
	dir := tools.SeedDirectory()
	reg := tools.NewRegistry()
	reg.Register(tools.NewSubjectLookupTool(dir))
	reg.Register(tools.NewMedicationsTool(dir))

	states := &flakyStateStore{inner: newMemStateStore(), failures: 5}
	engine, err := NewEngine(EngineConfig{
		LLM:      scriptedLLM(),
		Registry: reg,
		States:   states,
		Markers:  newMemMarkerStore(),
	})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), "", "What medications is John Smith taking?", nil)
	require.NoError(t, err)
	assert.Equal(t, RunDone, result.Status)
	assert.Contains(t, result.Response, "Lisinopril")
}

func TestGeneralKnowledgeNeedsNoTools(t *testing.T) {
	env := newTestEnv(t)
	env.client.WithResponseFunc(func(req *llm.Request) (*llm.Response, error) {
		if strings.Contains(req.SystemPrompt, "classify") {
			return &llm.Response{Content: "GENERAL"}, nil
		}
		if strings.Contains(req.SystemPrompt, "JSON object") {
			return &llm.Response{Content: `{"is_general_knowledge": true}`}, nil
		}
		return &llm.Response{Content: "A CPT modifier refines a procedure code."}, nil
	})

	result, err := env.engine.Run(context.Background(), "", "What is a CPT modifier?", nil)
	require.NoError(t, err)

	assert.Equal(t, RunDone, result.Status)
	assert.Empty(t, result.ToolsUsed)
	assert.Contains(t, result.Response, "CPT modifier")
}

func TestDocumentQueryWithoutDocument(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.engine.Run(context.Background(), "", "Summarize the attached document for John Smith", nil)
	require.NoError(t, err)

	assert.Equal(t, RunDone, result.Status)
	assert.Contains(t, result.Response, "no document is attached")
	assert.Empty(t, result.ToolsUsed)
}

func TestEmptyQueryRejected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Run(context.Background(), "", "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestExactlyOneTerminalOutcomePerTurn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	queries := []struct {
		query string
		doc   []string
	}{
		{query: "What medications is John Smith taking?"},
		{query: "What is he taking?"},
		{query: "Review the attached document for John Smith", doc: []string{"Hgb A1c 7.2%"}},
		{query: "What is the capital of France?"},
	}

	for _, q := range queries {
		sessionID, err := env.engine.NewSession()
		require.NoError(t, err)

		var doc *DocumentRef
		if q.doc != nil {
			doc = env.attach(t, q.doc, "doc.pdf")
		}
		result, err := env.engine.Run(ctx, sessionID, q.query, doc)
		require.NoError(t, err, q.query)

		outcomes := 0
		if result.Response != "" {
			outcomes++
		}
		if result.Question != "" {
			outcomes++
		}
		assert.Equal(t, 1, outcomes, "query %q must yield exactly one outcome", q.query)

		state, err := env.states.LoadState(ctx, sessionID)
		require.NoError(t, err)
		if result.Status == RunDone {
			require.NoError(t, state.CheckExclusive())
		}
	}
}

func TestFailOpenWhenSyncedRecordUnreadable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.markers.syncedErr = fmt.Errorf("ledger offline")

	sessionID, err := env.engine.NewSession()
	require.NoError(t, err)

	doc := env.attach(t, []string{"Hgb A1c 7.2%"}, "labs.pdf")
	result, err := env.engine.Run(ctx, sessionID, "Review the attached document for John Smith", doc)
	require.NoError(t, err)

	require.Equal(t, RunAwaitingConfirmation, result.Status)
	assert.Len(t, result.SyncSummary.New, 1, "unreadable record treats markers as new")
}
