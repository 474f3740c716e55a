// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_llm is the reply generator. The conversation history
// lives with the call session; this client only ships it to the model
// endpoint and returns the assistant text.
package internal_llm

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/voxbridgeai/pkg/commons"
)

// FallbackReply is spoken when the model endpoint fails; the dialogue must
// keep moving even when the brain is down.
const FallbackReply = "Acknowledged."

// Turn is one conversation entry.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Client produces one assistant reply for the history so far.
type Client interface {
	Reply(ctx context.Context, history []Turn) (string, error)
}

// Config parameterises the HTTP chat backend.
type Config struct {
	URL          string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Text    string `json:"text"`
	Content string `json:"content"`
}

type httpClient struct {
	logger commons.Logger
	rest   *resty.Client
	cfg    Config
}

// NewClient builds the HTTP chat client.
func NewClient(logger commons.Logger, cfg Config) (Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("llm: url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpClient{
		logger: logger,
		rest:   resty.New().SetTimeout(timeout),
		cfg:    cfg,
	}, nil
}

func (c *httpClient) Reply(ctx context.Context, history []Turn) (string, error) {
	req := chatRequest{Model: c.cfg.Model}
	if c.cfg.SystemPrompt != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: c.cfg.SystemPrompt})
	}
	for _, t := range history {
		req.Messages = append(req.Messages, chatMessage{Role: t.Role, Content: t.Content})
	}

	var out chatResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&out).
		Post(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("llm: request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("llm: endpoint returned %d", resp.StatusCode())
	}

	text := out.Text
	if text == "" {
		text = out.Content
	}
	if text == "" {
		return "", fmt.Errorf("llm: empty reply")
	}
	return text, nil
}
