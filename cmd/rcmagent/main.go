// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/AleutianAI/AleutianRCM/pkg/logging"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/llm"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/redact"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/tools"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/middleware"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/observability"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/routes"
	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/storage"
)

var (
	port         string
	dataDir      string
	criteriaPath string
	inMemory     bool

	rootCmd = &cobra.Command{
		Use:   "rcmagent",
		Short: "The Aleutian RCM clinical Q&A agent service",
		Long: `rcmagent serves the revenue-cycle clinical Q&A workflow:
bounded audit loops over clinical tools, document marker staging, and
human-confirmed EHR sync.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&port, "port", envOr("RCM_AGENT_PORT", "12310"),
		"HTTP listen port")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", envOr("RCM_AGENT_DATA_DIR", "data/rcm_agent"),
		"directory for the session and staging database")
	serveCmd.Flags().StringVar(&criteriaPath, "criteria", os.Getenv("RCM_POLICY_CRITERIA"),
		"optional payer policy criteria file (JSON, hot-reloaded)")
	serveCmd.Flags().BoolVar(&inMemory, "in-memory", false,
		"run without disk persistence (testing only)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	memguard.CatchInterrupt()
	defer memguard.Purge()

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newWeaviateClient builds the optional policy retrieval client. A
// missing or malformed WEAVIATE_SERVICE_URL downgrades to the local
// criteria store rather than failing startup.
func newWeaviateClient() *weaviate.Client {
	raw := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if raw == "" || !strings.Contains(raw, "http") {
		slog.Info("WEAVIATE_SERVICE_URL not set. Policy search uses the local criteria store only.")
		return nil
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		slog.Warn("WEAVIATE_SERVICE_URL is invalid. Policy search uses the local criteria store only.",
			"url", raw, "error", err)
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client", "error", err)
		return nil
	}
	return client
}

// newLLMClient builds the completion client from the environment. The
// OpenAI-compatible client also covers local backends (Ollama, vLLM,
// llama.cpp) via OPENAI_BASE_URL.
func newLLMClient() (llm.Client, error) {
	model := envOr("RCM_LLM_MODEL", "gpt-4o-mini")
	return llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
		Model:   model,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	logging.Init(logging.FromEnv("rcm-agent"))
	metrics := observability.InitMetrics()

	// --- Storage ---
	cfg := storage.DefaultConfig(dataDir)
	if inMemory {
		cfg = storage.InMemoryConfig()
	}
	db, err := storage.Open(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions := storage.NewSessionStore(db, 24*time.Hour)
	staging := storage.NewStagingStore(db)

	// --- Tools ---
	directory := tools.SeedDirectory()
	docs := tools.NewMemoryDocumentSource()
	scrubber := redact.NewScrubber(nil)

	var criteria *tools.CriteriaStore
	if criteriaPath != "" {
		criteria, err = tools.LoadCriteriaStore(criteriaPath)
		if err != nil {
			return err
		}
		defer criteria.Close()
	} else {
		criteria = tools.NewCriteriaStore(nil)
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewSubjectLookupTool(directory))
	registry.Register(tools.NewMedicationsTool(directory))
	registry.Register(tools.NewInteractionsTool(directory))
	registry.Register(tools.NewAllergyConflictTool(directory))
	registry.Register(tools.NewExtractDocumentTool(docs))
	registry.Register(tools.NewPolicySearchTool(newWeaviateClient(), criteria))
	registry.Register(tools.NewDenialRiskTool())
	registry.Register(tools.NewScrubPIITool(scrubber))

	// --- LLM ---
	client, err := newLLMClient()
	if err != nil {
		return err
	}
	slog.Info("Configured LLM client", "name", client.Name(), "model", client.Model())

	// --- Engine ---
	engine, err := agent.NewEngine(agent.EngineConfig{
		LLM:      client,
		Registry: registry,
		States:   sessions,
		Markers:  staging,
		Scrubber: scrubber,
	})
	if err != nil {
		return err
	}

	// --- HTTP ---
	guard := middleware.NewBearerGuard(os.Getenv("RCM_AUDIT_TOKEN"))
	if guard.Open() {
		slog.Warn("RCM_AUDIT_TOKEN not set. The audit trail endpoint is unauthenticated.")
	}

	router := gin.New()
	router.Use(gin.Recovery())
	routes.SetupRoutes(router, engine, docs, sessions, staging, guard, metrics)

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("RCM agent listening", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("graceful shutdown failed", "error", err)
		}
	}
	return nil
}
