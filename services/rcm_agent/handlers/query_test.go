// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/tools"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/datatypes"
)

// scriptedEngine returns canned results and records the calls it saw.
type scriptedEngine struct {
	result *agent.RunResult
	err    error

	ranQuery  string
	ranDoc    *agent.DocumentRef
	sessionID string
	created   int
}

func (e *scriptedEngine) NewSession() (string, error) {
	e.created++
	return "11111111-2222-4333-8444-555555555555", nil
}

func (e *scriptedEngine) Run(ctx context.Context, sessionID, query string, doc *agent.DocumentRef) (*agent.RunResult, error) {
	e.sessionID, e.ranQuery, e.ranDoc = sessionID, query, doc
	return e.result, e.err
}

func (e *scriptedEngine) ResumeClarification(ctx context.Context, sessionID, answer string) (*agent.RunResult, error) {
	e.sessionID, e.ranQuery = sessionID, answer
	return e.result, e.err
}

func (e *scriptedEngine) ResumeConfirmation(ctx context.Context, sessionID, reply string) (*agent.RunResult, error) {
	e.sessionID, e.ranQuery = sessionID, reply
	return e.result, e.err
}

func postJSON(t *testing.T, handler gin.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.POST(path, handler)

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	return rec
}

func doneResult(response string) *agent.RunResult {
	return &agent.RunResult{
		Status:     agent.RunDone,
		Response:   response,
		Intent:     agent.IntentMedications,
		Decision:   agent.DecisionPass,
		Confidence: 0.95,
	}
}

func TestHandleQueryCreatesSessionWhenMissing(t *testing.T) {
	engine := &scriptedEngine{result: doneResult("two medications on file")}
	handler := HandleQuery(engine, tools.NewMemoryDocumentSource(), nil)

	rec := postJSON(t, handler, "/query", datatypes.QueryRequest{Query: "what is John Smith taking?"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp datatypes.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, engine.created)
	assert.Equal(t, "11111111-2222-4333-8444-555555555555", resp.SessionID)
	assert.Equal(t, agent.RunDone, resp.Status)
	assert.Equal(t, "two medications on file", resp.Response)
}

func TestHandleQueryReusesGivenSession(t *testing.T) {
	engine := &scriptedEngine{result: doneResult("ok")}
	handler := HandleQuery(engine, tools.NewMemoryDocumentSource(), nil)

	rec := postJSON(t, handler, "/query", datatypes.QueryRequest{
		SessionID: "aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee",
		Query:     "and allergies?",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, engine.created)
	assert.Equal(t, "aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee", engine.sessionID)
}

func TestHandleQueryRegistersDocument(t *testing.T) {
	engine := &scriptedEngine{result: doneResult("ok")}
	docs := tools.NewMemoryDocumentSource()
	handler := HandleQuery(engine, docs, nil)

	pages := []string{"Hemoglobin A1c: 7.2%"}
	rec := postJSON(t, handler, "/query", datatypes.QueryRequest{
		Query: "summarize the labs",
		Document: &datatypes.DocumentPayload{
			SourceName: "labs_2026_03.pdf",
			Pages:      pages,
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, engine.ranDoc)
	assert.Equal(t, "labs_2026_03.pdf", engine.ranDoc.SourceName)
	assert.Equal(t, tools.HashPages(pages), engine.ranDoc.ContentHash)

	stored, err := docs.Pages(context.Background(), engine.ranDoc.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, pages, stored)
}

func TestHandleQueryRejectsMissingQuery(t *testing.T) {
	engine := &scriptedEngine{result: doneResult("ok")}
	handler := HandleQuery(engine, tools.NewMemoryDocumentSource(), nil)

	rec := postJSON(t, handler, "/query", datatypes.QueryRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, engine.ranQuery)
}

func TestHandleQueryMapsSentinelErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"busy session", agent.ErrSessionBusy, http.StatusConflict},
		{"missing session", agent.ErrSessionNotFound, http.StatusNotFound},
		{"empty query", agent.ErrEmptyQuery, http.StatusBadRequest},
		{"llm down", agent.ErrLLMUnavailable, http.StatusServiceUnavailable},
		{"internal", assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := &scriptedEngine{err: tc.err}
			handler := HandleQuery(engine, tools.NewMemoryDocumentSource(), nil)

			rec := postJSON(t, handler, "/query", datatypes.QueryRequest{Query: "q"})
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestHandleQueryInternalErrorBodyIsGeneric(t *testing.T) {
	engine := &scriptedEngine{err: assert.AnError}
	handler := HandleQuery(engine, tools.NewMemoryDocumentSource(), nil)

	rec := postJSON(t, handler, "/query", datatypes.QueryRequest{Query: "q"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func TestHandleClarifyResumesSuspendedSession(t *testing.T) {
	engine := &scriptedEngine{result: doneResult("resolved")}
	handler := HandleClarify(engine, nil)

	rec := postJSON(t, handler, "/clarify", datatypes.ClarifyRequest{
		SessionID: "aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee",
		Answer:    "I meant Robert Chen",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "I meant Robert Chen", engine.ranQuery)
}

func TestHandleClarifyWrongPhaseConflicts(t *testing.T) {
	engine := &scriptedEngine{err: agent.ErrNotAwaitingClarification}
	handler := HandleClarify(engine, nil)

	rec := postJSON(t, handler, "/clarify", datatypes.ClarifyRequest{
		SessionID: "aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee",
		Answer:    "yes",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleConfirmReturnsSyncReport(t *testing.T) {
	engine := &scriptedEngine{result: &agent.RunResult{
		Status:     agent.RunDone,
		Response:   "Sync complete. 2 marker(s) recorded in the local ledger.",
		Decision:   agent.DecisionSyncComplete,
		Confidence: 1.0,
	}}
	handler := HandleConfirm(engine, nil)

	rec := postJSON(t, handler, "/confirm", datatypes.ConfirmRequest{
		SessionID: "aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee",
		Reply:     "yes",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp datatypes.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, agent.DecisionSyncComplete, resp.Decision)
	assert.Contains(t, resp.Response, "Sync complete")
}

func TestHandleQuerySurfacesSyncGate(t *testing.T) {
	engine := &scriptedEngine{result: &agent.RunResult{
		Status:   agent.RunAwaitingConfirmation,
		Response: "I found the following clinical markers in the document:",
		SyncSummary: &agent.SyncSummary{
			New:      []agent.MarkerRef{{MarkerName: "Hemoglobin A1c", MarkerValue: "7.2 %"}},
			TotalRaw: 1,
		},
	}}
	handler := HandleQuery(engine, tools.NewMemoryDocumentSource(), nil)

	rec := postJSON(t, handler, "/query", datatypes.QueryRequest{Query: "attach labs"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp datatypes.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, agent.RunAwaitingConfirmation, resp.Status)
	require.NotNil(t, resp.SyncSummary)
	assert.Equal(t, "Hemoglobin A1c", resp.SyncSummary.New[0].MarkerName)
}
