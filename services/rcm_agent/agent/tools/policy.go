// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

// ToolSearchPolicy is the search_policy tool name.
const ToolSearchPolicy = "search_policy"

// policyClassName is the Weaviate class holding payer policy chunks.
const policyClassName = "PayerPolicy"

// keywordSupportThreshold is the fraction of a criterion's significant
// keywords that must appear in the claims text for the criterion to count
// as supported.
const keywordSupportThreshold = 0.2

// PolicyCriterion is one payer requirement for a procedure.
type PolicyCriterion struct {
	Payer     string `json:"payer"`
	Procedure string `json:"procedure"`
	Criterion string `json:"criterion"`
}

// CriteriaStore holds the deterministic criteria backing the keyword
// fallback, hot-reloaded from a JSON file when it changes on disk.
//
// Thread Safety:
//
//	CriteriaStore is safe for concurrent use.
type CriteriaStore struct {
	mu       sync.RWMutex
	criteria []PolicyCriterion

	watcher *fsnotify.Watcher
}

// NewCriteriaStore creates a store with the given criteria.
func NewCriteriaStore(criteria []PolicyCriterion) *CriteriaStore {
	return &CriteriaStore{criteria: criteria}
}

// LoadCriteriaStore reads criteria from a JSON file and watches it for
// changes. Close the store to stop the watcher.
//
// Inputs:
//
//	path - JSON file containing an array of PolicyCriterion
//
// Outputs:
//
//	*CriteriaStore - Store with the file contents loaded
//	error - Non-nil if the initial load fails
func LoadCriteriaStore(path string) (*CriteriaStore, error) {
	s := &CriteriaStore{}
	if err := s.loadFile(path); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("criteria file watcher unavailable, hot reload disabled", "error", err)
		return s, nil
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		slog.Warn("criteria file watch failed, hot reload disabled", "path", path, "error", err)
		return s, nil
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
					if err := s.loadFile(path); err != nil {
						slog.Error("criteria reload failed", "path", path, "error", err)
					} else {
						slog.Info("criteria reloaded", "path", path)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("criteria watcher error", "error", err)
			}
		}
	}()

	return s, nil
}

func (s *CriteriaStore) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read criteria file: %w", err)
	}
	var criteria []PolicyCriterion
	if err := json.Unmarshal(data, &criteria); err != nil {
		return fmt.Errorf("parse criteria file: %w", err)
	}
	s.mu.Lock()
	s.criteria = criteria
	s.mu.Unlock()
	return nil
}

// For returns the criteria for a payer/procedure pair. Empty payer or
// procedure matches everything.
func (s *CriteriaStore) For(payer, procedure string) []PolicyCriterion {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []PolicyCriterion
	for _, c := range s.criteria {
		if payer != "" && !strings.EqualFold(c.Payer, payer) {
			continue
		}
		if procedure != "" && !strings.EqualFold(c.Procedure, procedure) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Close stops the file watcher, if any.
func (s *CriteriaStore) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// CriterionCheck is the evaluation of one criterion against the evidence.
type CriterionCheck struct {
	Criterion string `json:"criterion"`
	Supported bool   `json:"supported"`
}

// PolicySearchTool evaluates payer policy criteria against extracted
// evidence. Vector search over indexed policy documents is used when a
// Weaviate client is configured; the deterministic keyword check over the
// criteria store is both the fallback and the floor.
type PolicySearchTool struct {
	client   *weaviate.Client
	criteria *CriteriaStore
}

// NewPolicySearchTool creates the search_policy tool. The client may be
// nil, in which case only the keyword fallback runs.
func NewPolicySearchTool(client *weaviate.Client, criteria *CriteriaStore) *PolicySearchTool {
	return &PolicySearchTool{client: client, criteria: criteria}
}

// Name implements Tool.
func (t *PolicySearchTool) Name() string { return ToolSearchPolicy }

// Category implements Tool.
func (t *PolicySearchTool) Category() ToolCategory { return CategoryPolicy }

// Definition implements Tool.
func (t *PolicySearchTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolSearchPolicy,
		Description: "Evaluate payer policy criteria for a procedure against extracted evidence.",
		Category:    CategoryPolicy,
		Parameters: map[string]ParamDef{
			"payer":       {Type: "string", Description: "Payer name", Required: false},
			"procedure":   {Type: "string", Description: "Procedure identifier", Required: true},
			"claims_text": {Type: "string", Description: "Combined evidence claims", Required: true},
		},
	}
}

// Execute implements Tool.
func (t *PolicySearchTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	procedure, ok := stringParam(params, "procedure")
	if !ok {
		return failure("procedure parameter is required", time.Since(start)), nil
	}
	claimsText, ok := stringParam(params, "claims_text")
	if !ok {
		return failure("claims_text parameter is required", time.Since(start)), nil
	}
	payer, _ := stringParam(params, "payer")

	criteria := t.fetchCriteria(ctx, payer, procedure)
	if len(criteria) == 0 {
		return &Result{
			Success:    true,
			Output:     []CriterionCheck{},
			OutputText: fmt.Sprintf("no policy criteria on file for %s", procedure),
			Duration:   time.Since(start),
		}, nil
	}

	checks := make([]CriterionCheck, len(criteria))
	supported := 0
	for i, c := range criteria {
		ok := criterionSupported(c.Criterion, claimsText)
		checks[i] = CriterionCheck{Criterion: c.Criterion, Supported: ok}
		if ok {
			supported++
		}
	}

	return &Result{
		Success: true,
		Output:  checks,
		OutputText: fmt.Sprintf("policy check for %s: %d/%d criteria supported by documentation",
			procedure, supported, len(checks)),
		Duration: time.Since(start),
	}, nil
}

// fetchCriteria queries Weaviate for indexed policy criteria and falls
// back to the local criteria store on any failure or empty result.
func (t *PolicySearchTool) fetchCriteria(ctx context.Context, payer, procedure string) []PolicyCriterion {
	if t.client != nil {
		if criteria, err := t.queryWeaviate(ctx, payer, procedure); err != nil {
			slog.Warn("policy vector search failed, using keyword criteria",
				"procedure", procedure, "error", err)
		} else if len(criteria) > 0 {
			return criteria
		}
	}
	if t.criteria == nil {
		return nil
	}
	return t.criteria.For(payer, procedure)
}

func (t *PolicySearchTool) queryWeaviate(ctx context.Context, payer, procedure string) ([]PolicyCriterion, error) {
	concepts := []string{procedure}
	if payer != "" {
		concepts = append(concepts, payer)
	}

	result, err := t.client.GraphQL().Get().
		WithClassName(policyClassName).
		WithFields(
			graphql.Field{Name: "payer"},
			graphql.Field{Name: "procedure"},
			graphql.Field{Name: "criterion"},
		).
		WithNearText(t.client.GraphQL().NearTextArgBuilder().WithConcepts(concepts)).
		WithLimit(10).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("graphql: %s", result.Errors[0].Message)
	}

	data, ok := result.Data["Get"].(map[string]any)
	if !ok {
		return nil, nil
	}
	rows, ok := data[policyClassName].([]any)
	if !ok {
		return nil, nil
	}

	criteria := make([]PolicyCriterion, 0, len(rows))
	for _, row := range rows {
		fields, ok := row.(map[string]any)
		if !ok {
			continue
		}
		c := PolicyCriterion{}
		if v, ok := fields["payer"].(string); ok {
			c.Payer = v
		}
		if v, ok := fields["procedure"].(string); ok {
			c.Procedure = v
		}
		if v, ok := fields["criterion"].(string); ok {
			c.Criterion = v
		}
		if c.Criterion != "" {
			criteria = append(criteria, c)
		}
	}
	return criteria, nil
}

// criterionSupported reports whether enough of a criterion's significant
// keywords (longer than five characters) appear in the claims text.
func criterionSupported(criterion, claimsText string) bool {
	haystack := strings.ToLower(claimsText)

	var keywords []string
	for _, word := range strings.Fields(strings.ToLower(criterion)) {
		word = strings.Trim(word, ".,;:()[]\"'")
		if len(word) > 5 {
			keywords = append(keywords, word)
		}
	}
	if len(keywords) == 0 {
		return false
	}

	hits := 0
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			hits++
		}
	}
	return float64(hits)/float64(len(keywords)) >= keywordSupportThreshold
}
