// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the LLM client interface for the clinical workflow.
//
// The workflow uses the LLM for three narrow jobs: intent classification,
// query analysis in the planner, and final response synthesis. Tool
// selection is deterministic, so the interface carries no tool-calling
// surface.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package llm

import (
	"context"
	"time"
)

// Client defines the interface for LLM interactions.
//
// Implementations must be safe for concurrent use.
type Client interface {
	// Complete sends a prompt to the LLM and returns a response.
	//
	// Inputs:
	//   ctx - Context for cancellation and timeout
	//   request - The completion request
	//
	// Outputs:
	//   *Response - The LLM response
	//   error - Non-nil if the request failed
	Complete(ctx context.Context, request *Request) (*Response, error)

	// Name returns the provider name (e.g., "openai", "mock").
	Name() string

	// Model returns the model being used.
	Model() string
}

// Request represents a completion request to the LLM.
type Request struct {
	// SystemPrompt is the system message.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages is the conversation history.
	Messages []Message `json:"messages"`

	// MaxTokens limits the response length.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0-1.0). Classification requests
	// should use 0.
	Temperature float64 `json:"temperature,omitempty"`

	// ModelOverride allows using a different model for this request.
	// Empty string means use the client's default model.
	ModelOverride string `json:"model_override,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	// Role is "user", "assistant", or "system".
	Role string `json:"role"`

	// Content is the text content.
	Content string `json:"content"`
}

// Response represents an LLM response.
type Response struct {
	// Content is the text response.
	Content string `json:"content"`

	// StopReason indicates why generation stopped.
	// Values: "end", "max_tokens", "stop_sequence"
	StopReason string `json:"stop_reason"`

	// TokensUsed is the total tokens consumed (input + output).
	TokensUsed int `json:"tokens_used"`

	// InputTokens is the input token count.
	InputTokens int `json:"input_tokens"`

	// OutputTokens is the output token count.
	OutputTokens int `json:"output_tokens"`

	// Duration is how long the request took.
	Duration time.Duration `json:"duration"`

	// Model is the model that generated this response.
	Model string `json:"model,omitempty"`
}
