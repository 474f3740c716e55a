// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_tts synthesises assistant replies to WAV through the
// kokoro HTTP endpoint.
package internal_tts

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/voxbridgeai/pkg/commons"
)

// ModeKokoroHTTP is the only synthesis backend currently supported.
const ModeKokoroHTTP = "kokoro_http"

// Client turns text into playable audio.
type Client interface {
	Synthesize(ctx context.Context, text string) (wav []byte, contentType string, err error)
}

// Config carries the kokoro endpoint plus per-tenant voice overrides.
type Config struct {
	Mode         string
	URL          string
	Voice        string
	Format       string
	SampleRateHz int
	Timeout      time.Duration
}

type synthRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice,omitempty"`
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

type kokoroClient struct {
	logger commons.Logger
	rest   *resty.Client
	cfg    Config
}

// NewClient builds the synthesis backend.
func NewClient(logger commons.Logger, cfg Config) (Client, error) {
	if cfg.Mode != "" && cfg.Mode != ModeKokoroHTTP {
		return nil, fmt.Errorf("tts: unknown mode %q", cfg.Mode)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("tts: url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &kokoroClient{
		logger: logger,
		rest:   resty.New().SetTimeout(timeout),
		cfg:    cfg,
	}, nil
}

func (c *kokoroClient) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(synthRequest{
			Text:       text,
			Voice:      c.cfg.Voice,
			Format:     c.cfg.Format,
			SampleRate: c.cfg.SampleRateHz,
		}).
		Post(c.cfg.URL)
	if err != nil {
		return nil, "", fmt.Errorf("tts: request failed: %w", err)
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("tts: endpoint returned %d", resp.StatusCode())
	}

	body := resp.Body()
	if !bytes.HasPrefix(body, []byte("RIFF")) {
		return nil, "", fmt.Errorf("tts: endpoint returned non-WAV content type %q", resp.Header().Get("Content-Type"))
	}
	return body, resp.Header().Get("Content-Type"), nil
}
