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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/datatypes"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/observability"
)

// CreateSession allocates a new workflow session.
//
// POST /v1/sessions. The returned session ID is passed on subsequent
// query turns; callers that skip this endpoint get an implicit session on
// their first query instead.
func CreateSession(engine AgentEngine, metrics *observability.AgentMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := engine.NewSession()
		if err != nil {
			slog.Error("failed to create session", "error", err)
			metrics.ObserveError("sessions", "internal")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
			return
		}
		slog.Info("created session", "sessionId", id)
		c.JSON(http.StatusCreated, datatypes.SessionResponse{SessionID: id})
	}
}

// GetAuditTrail returns the stored workflow state and the full staging
// ledger for a session.
//
// GET /v1/audit/:sessionId. Every marker is returned regardless of
// status, so reviewers can see what was staged, what synced, and what was
// superseded or failed. A session with no persisted turn and no markers
// is a 404. The route sits behind the bearer guard.
func GetAuditTrail(states agent.StateStore, markers agent.MarkerStore,
	metrics *observability.AgentMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		if sessionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session id required"})
			return
		}

		state, err := states.LoadState(c.Request.Context(), sessionID)
		if err != nil && !errors.Is(err, agent.ErrSessionNotFound) {
			slog.Error("failed to load workflow state", "sessionId", sessionID, "error", err)
			metrics.ObserveError("audit", "internal")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load workflow state"})
			return
		}

		records, err := markers.MarkersBySession(c.Request.Context(), sessionID)
		if err != nil {
			slog.Error("failed to read staging ledger", "sessionId", sessionID, "error", err)
			metrics.ObserveError("audit", "internal")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read staging ledger"})
			return
		}

		if state == nil && len(records) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, datatypes.NewAuditResponse(sessionID, state, records))
	}
}
