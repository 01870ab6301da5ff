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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ToolExtractDocument is the extract_document tool name.
const ToolExtractDocument = "extract_document"

// DocumentSource supplies page text for an attached document. Documents
// reach the service as pre-extracted page text; parsing binary formats
// happens upstream.
type DocumentSource interface {
	// Pages returns the page texts for a content hash.
	Pages(ctx context.Context, contentHash string) ([]string, error)
}

// MemoryDocumentSource is an in-process DocumentSource for attached
// documents and tests.
//
// Thread Safety:
//
//	MemoryDocumentSource is safe for concurrent use.
type MemoryDocumentSource struct {
	mu   sync.RWMutex
	docs map[string][]string
}

// NewMemoryDocumentSource creates an empty source.
func NewMemoryDocumentSource() *MemoryDocumentSource {
	return &MemoryDocumentSource{docs: make(map[string][]string)}
}

// Put stores page texts and returns their content hash.
func (s *MemoryDocumentSource) Put(pages []string) string {
	hash := HashPages(pages)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[hash] = pages
	return hash
}

// Pages implements DocumentSource.
func (s *MemoryDocumentSource) Pages(ctx context.Context, contentHash string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pages, ok := s.docs[contentHash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, contentHash)
	}
	return pages, nil
}

// HashPages computes the content hash that keys the extraction cache.
func HashPages(pages []string) string {
	h := sha256.New()
	for _, p := range pages {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ExtractDocumentTool fetches document pages, cached by content hash.
//
// Repeated extraction of the same document is served from cache, and
// concurrent extraction of the same hash is deduplicated so only one
// fetch runs.
//
// Thread Safety:
//
//	ExtractDocumentTool is safe for concurrent use.
type ExtractDocumentTool struct {
	source DocumentSource

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string][]string
}

// NewExtractDocumentTool creates the extract_document tool.
func NewExtractDocumentTool(source DocumentSource) *ExtractDocumentTool {
	return &ExtractDocumentTool{
		source: source,
		cache:  make(map[string][]string),
	}
}

// Name implements Tool.
func (t *ExtractDocumentTool) Name() string { return ToolExtractDocument }

// Category implements Tool.
func (t *ExtractDocumentTool) Category() ToolCategory { return CategoryDocument }

// Definition implements Tool.
func (t *ExtractDocumentTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolExtractDocument,
		Description: "Extract page text for an attached document, cached by content hash.",
		Category:    CategoryDocument,
		Parameters: map[string]ParamDef{
			"content_hash": {Type: "string", Description: "SHA-256 of the document pages", Required: true},
		},
	}
}

// Execute implements Tool.
func (t *ExtractDocumentTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	hash, ok := stringParam(params, "content_hash")
	if !ok {
		return failure("content_hash parameter is required", time.Since(start)), nil
	}

	t.mu.RLock()
	pages, hit := t.cache[hash]
	t.mu.RUnlock()

	if hit {
		return t.pagesResult(pages, true, time.Since(start)), nil
	}

	v, err, _ := t.group.Do(hash, func() (any, error) {
		fetched, err := t.source.Pages(ctx, hash)
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.cache[hash] = fetched
		t.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		return failure(fmt.Sprintf("document extraction failed: %v", err), time.Since(start)), nil
	}

	return t.pagesResult(v.([]string), false, time.Since(start)), nil
}

func (t *ExtractDocumentTool) pagesResult(pages []string, cached bool, elapsed time.Duration) *Result {
	return &Result{
		Success:    true,
		Output:     pages,
		OutputText: strings.Join(pages, "\n"),
		Duration:   elapsed,
		Cached:     cached,
	}
}
