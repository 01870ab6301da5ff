// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/tools"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/handlers"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/middleware"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/observability"
)

// SetupRoutes wires all RCM agent endpoints onto the router.
//
// The audit trail group sits behind the bearer guard; everything else is
// open. Metrics may be nil in tests.
func SetupRoutes(router *gin.Engine, engine handlers.AgentEngine,
	docs *tools.MemoryDocumentSource, states agent.StateStore,
	markers agent.MarkerStore, guard *middleware.BearerGuard,
	metrics *observability.AgentMetrics) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/sessions", handlers.CreateSession(engine, metrics))

		agentGroup := v1.Group("/agent")
		{
			agentGroup.POST("/query", handlers.HandleQuery(engine, docs, metrics))
			agentGroup.POST("/clarify", handlers.HandleClarify(engine, metrics))
			agentGroup.POST("/confirm", handlers.HandleConfirm(engine, metrics))
		}

		// Staging ledger audit routes
		audit := v1.Group("/audit")
		audit.Use(guard.Middleware())
		{
			audit.GET("/:sessionId", handlers.GetAuditTrail(states, markers, metrics))
		}
	}
}
