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
	"time"

	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/redact"
)

// ToolScrubPII is the scrub_pii tool name.
const ToolScrubPII = "scrub_pii"

// ScrubPIITool removes protected identifiers from text. Exposed as a tool
// so document pipelines can scrub explicitly; the workflow also scrubs
// claims and clarification questions directly through the redact package.
type ScrubPIITool struct {
	scrubber *redact.Scrubber
}

// NewScrubPIITool creates the scrub_pii tool.
func NewScrubPIITool(scrubber *redact.Scrubber) *ScrubPIITool {
	return &ScrubPIITool{scrubber: scrubber}
}

// Name implements Tool.
func (t *ScrubPIITool) Name() string { return ToolScrubPII }

// Category implements Tool.
func (t *ScrubPIITool) Category() ToolCategory { return CategoryPrivacy }

// Definition implements Tool.
func (t *ScrubPIITool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolScrubPII,
		Description: "Remove protected health identifiers from text.",
		Category:    CategoryPrivacy,
		Parameters: map[string]ParamDef{
			"text": {Type: "string", Description: "Text to scrub", Required: true},
		},
	}
}

// Execute implements Tool.
func (t *ScrubPIITool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	text, ok := stringParam(params, "text")
	if !ok {
		return failure("text parameter is required", time.Since(start)), nil
	}

	scrubbed := t.scrubber.Scrub(ctx, text)

	return &Result{
		Success:    true,
		Output:     scrubbed,
		OutputText: scrubbed,
		Duration:   time.Since(start),
	}, nil
}
