// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides HTTP request handlers for the RCM agent service.
//
// This file implements the query turn endpoints: the main query entry
// point plus the clarification and sync-confirmation resume endpoints.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/tools"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/datatypes"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/observability"
)

// AgentEngine is the workflow surface the handlers drive.
//
// Satisfied by *agent.Engine; narrowed to an interface so handler tests
// can substitute a scripted engine.
type AgentEngine interface {
	NewSession() (string, error)
	Run(ctx context.Context, sessionID, query string, doc *agent.DocumentRef) (*agent.RunResult, error)
	ResumeClarification(ctx context.Context, sessionID, answer string) (*agent.RunResult, error)
	ResumeConfirmation(ctx context.Context, sessionID, reply string) (*agent.RunResult, error)
}

// statusForError maps agent sentinel errors onto HTTP status codes and
// metric error codes.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, agent.ErrEmptyQuery):
		return http.StatusBadRequest, "empty_query"
	case errors.Is(err, agent.ErrNotAwaitingClarification),
		errors.Is(err, agent.ErrNotAwaitingConfirmation):
		return http.StatusConflict, "wrong_session_phase"
	case errors.Is(err, agent.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, agent.ErrSessionBusy):
		return http.StatusConflict, "session_busy"
	case errors.Is(err, agent.ErrLLMUnavailable):
		return http.StatusServiceUnavailable, "llm_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func abortWithError(c *gin.Context, metrics *observability.AgentMetrics, endpoint string, err error) {
	status, code := statusForError(err)
	metrics.ObserveError(endpoint, code)
	if status == http.StatusInternalServerError {
		slog.Error("turn failed", "endpoint", endpoint, "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// HandleQuery runs one query turn.
//
// # Description
//
// POST /v1/agent/query. Creates a session when none is given, registers
// an attached document with the document source, and runs the workflow.
// A session suspended on a clarification question or a sync gate is
// resumed transparently; the engine treats the query as the reply.
//
// # Outputs
//
//   - 200 with datatypes.QueryResponse on any terminal outcome
//   - 400 on malformed or oversized input
//   - 404 / 409 / 503 per statusForError
func HandleQuery(engine AgentEngine, docs *tools.MemoryDocumentSource,
	metrics *observability.AgentMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			metrics.ObserveError("query", "bad_json")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			metrics.ObserveError("query", "validation")
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sessionID := req.SessionID
		if sessionID == "" {
			id, err := engine.NewSession()
			if err != nil {
				abortWithError(c, metrics, "query", err)
				return
			}
			sessionID = id
		}

		var doc *agent.DocumentRef
		if req.Document != nil {
			doc = &agent.DocumentRef{
				ContentHash: docs.Put(req.Document.Pages),
				SourceName:  req.Document.SourceName,
			}
		}

		start := time.Now()
		result, err := engine.Run(c.Request.Context(), sessionID, req.Query, doc)
		if err != nil {
			abortWithError(c, metrics, "query", err)
			return
		}
		observeTurn(metrics, result, time.Since(start))

		c.JSON(http.StatusOK, datatypes.NewQueryResponse(sessionID, result))
	}
}

// HandleClarify resumes a session suspended on a clarification question.
//
// POST /v1/agent/clarify. Returns 409 when the session is not awaiting
// clarification.
func HandleClarify(engine AgentEngine, metrics *observability.AgentMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ClarifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			metrics.ObserveError("clarify", "bad_json")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			metrics.ObserveError("clarify", "validation")
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		start := time.Now()
		result, err := engine.ResumeClarification(c.Request.Context(), req.SessionID, req.Answer)
		if err != nil {
			abortWithError(c, metrics, "clarify", err)
			return
		}
		observeTurn(metrics, result, time.Since(start))

		c.JSON(http.StatusOK, datatypes.NewQueryResponse(req.SessionID, result))
	}
}

// HandleConfirm resolves a pending sync-confirmation gate.
//
// POST /v1/agent/confirm. An affirmative reply syncs the staged markers;
// anything else declines the gate and is processed as a new query.
// Returns 409 when the session has no pending gate.
func HandleConfirm(engine AgentEngine, metrics *observability.AgentMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ConfirmRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			metrics.ObserveError("confirm", "bad_json")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			metrics.ObserveError("confirm", "validation")
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		start := time.Now()
		result, err := engine.ResumeConfirmation(c.Request.Context(), req.SessionID, req.Reply)
		if err != nil {
			abortWithError(c, metrics, "confirm", err)
			return
		}
		observeTurn(metrics, result, time.Since(start))

		if result.Decision == agent.DecisionSyncComplete {
			metrics.ObserveSync("confirmed")
		} else {
			metrics.ObserveSync("declined")
		}

		c.JSON(http.StatusOK, datatypes.NewQueryResponse(req.SessionID, result))
	}
}

func observeTurn(metrics *observability.AgentMetrics, result *agent.RunResult, elapsed time.Duration) {
	metrics.ObserveQuery(string(result.Intent), string(result.Decision), string(result.Status),
		elapsed.Seconds(), result.Iterations)
	if result.Status == agent.RunAwaitingConfirmation && result.SyncSummary != nil {
		metrics.ObserveStaged(len(result.SyncSummary.New))
	}
}
