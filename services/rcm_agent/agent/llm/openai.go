// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNoChoices indicates the backend returned an empty choice list.
var ErrNoChoices = errors.New("llm returned no choices")

// OpenAIConfig configures the OpenAI-compatible client. The BaseURL
// override makes the same client work against local inference servers
// (Ollama, vLLM, llama.cpp) that speak the OpenAI chat API.
type OpenAIConfig struct {
	// APIKey authenticates against the backend. Local servers usually
	// accept any non-empty value.
	APIKey string

	// BaseURL overrides the API endpoint. Empty means api.openai.com.
	BaseURL string

	// Model is the default model for completions.
	Model string

	// RequestTimeout bounds a single completion call.
	RequestTimeout time.Duration
}

// Validate checks the config for required fields.
func (c *OpenAIConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model must not be empty")
	}
	return nil
}

// OpenAIClient implements Client against any OpenAI-compatible backend.
//
// Thread Safety:
//
//	OpenAIClient is safe for concurrent use.
type OpenAIClient struct {
	client *openai.Client
	model  string

	requestTimeout time.Duration
}

// NewOpenAIClient creates a client from the config.
//
// Inputs:
//
//	cfg - Backend configuration
//
// Outputs:
//
//	*OpenAIClient - The configured client
//	error - Non-nil if the config is invalid
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &OpenAIClient{
		client:         openai.NewClientWithConfig(apiCfg),
		model:          cfg.Model,
		requestTimeout: timeout,
	}, nil
}

// Complete implements the Client interface.
func (c *OpenAIClient) Complete(ctx context.Context, request *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	model := c.model
	if request.ModelOverride != "" {
		model = request.ModelOverride
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(request.Messages)+1)
	if request.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: request.SystemPrompt,
		})
	}
	for _, msg := range request.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   request.MaxTokens,
		Temperature: float32(request.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	choice := resp.Choices[0]
	return &Response{
		Content:      choice.Message.Content,
		StopReason:   string(choice.FinishReason),
		TokensUsed:   resp.Usage.TotalTokens,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Duration:     time.Since(start),
		Model:        resp.Model,
	}, nil
}

// Name implements the Client interface.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Model implements the Client interface.
func (c *OpenAIClient) Model() string {
	return c.model
}
