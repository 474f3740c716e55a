// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_stt

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/voxbridgeai/pkg/commons"
)

// Modes accepted in tenant and global STT config.
const (
	ModeDisabled    = "disabled"
	ModeHTTPWavJSON = "http_wav_json"
)

// Client transcribes one WAV upload.
type Client interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// ClientConfig selects and parameterises the transcription backend.
type ClientConfig struct {
	Mode     string
	URL      string
	Language string
	Timeout  time.Duration
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// httpWavJSONClient POSTs PCM16 mono WAV bytes and reads {text} back.
type httpWavJSONClient struct {
	logger commons.Logger
	rest   *resty.Client
	url    string
	lang   string
}

// NewClient builds the configured backend; mode=disabled yields nil, which
// the driver treats as "never transcribe".
func NewClient(logger commons.Logger, cfg ClientConfig) (Client, error) {
	switch cfg.Mode {
	case ModeDisabled:
		return nil, nil
	case ModeHTTPWavJSON, "":
		if cfg.URL == "" {
			return nil, fmt.Errorf("stt: mode %s requires a url", ModeHTTPWavJSON)
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		return &httpWavJSONClient{
			logger: logger,
			rest:   resty.New().SetTimeout(timeout),
			url:    cfg.URL,
			lang:   cfg.Language,
		}, nil
	default:
		return nil, fmt.Errorf("stt: unknown mode %q", cfg.Mode)
	}
}

func (c *httpWavJSONClient) Transcribe(ctx context.Context, wav []byte) (string, error) {
	var out transcribeResponse
	req := c.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "audio/wav").
		SetBody(wav).
		SetResult(&out)
	if c.lang != "" {
		req.SetQueryParam("language", c.lang)
	}

	resp, err := req.Post(c.url)
	if err != nil {
		return "", fmt.Errorf("stt: request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("stt: endpoint returned %d", resp.StatusCode())
	}
	return out.Text, nil
}
