// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_telnyx is the carrier call-control client: answer, play
// by URL, stop playback and hangup, all keyed by the carrier's call control
// id.
package internal_telnyx

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/voxbridgeai/pkg/commons"
)

// Actions is what the call session needs from the carrier. The transport
// layer implements playback on top of PlayAudioURL/StopPlayback.
type Actions interface {
	Answer(ctx context.Context, callControlID string, streamURL string) error
	PlayAudioURL(ctx context.Context, callControlID, audioURL string) error
	StopPlayback(ctx context.Context, callControlID string) error
	// RestartStream stops the current media stream and starts a new one
	// with a different bidirectional codec.
	RestartStream(ctx context.Context, callControlID, streamURL, codec string) error
	Hangup(ctx context.Context, callControlID string) error
}

// Config holds the API credentials and stream parameters sent on answer.
type Config struct {
	BaseURL     string
	APIKey      string
	StreamTrack string
	StreamCodec string
	Timeout     time.Duration
}

type client struct {
	logger commons.Logger
	rest   *resty.Client
	cfg    Config
}

// NewClient builds the REST client.
func NewClient(logger commons.Logger, cfg Config) (Actions, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("telnyx: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telnyx.com/v2"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &client{
		logger: logger,
		rest: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(timeout).
			SetAuthToken(cfg.APIKey),
		cfg: cfg,
	}, nil
}

func (c *client) action(ctx context.Context, callControlID, name string, body map[string]any) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(fmt.Sprintf("/calls/%s/actions/%s", callControlID, name))
	if err != nil {
		return fmt.Errorf("telnyx: %s failed: %w", name, err)
	}
	if resp.IsError() {
		return fmt.Errorf("telnyx: %s returned %d: %s", name, resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *client) Answer(ctx context.Context, callControlID, streamURL string) error {
	body := map[string]any{}
	if streamURL != "" {
		body["stream_url"] = streamURL
		body["stream_track"] = c.cfg.StreamTrack
		if c.cfg.StreamCodec != "" {
			body["stream_bidirectional_codec"] = c.cfg.StreamCodec
		}
	}
	return c.action(ctx, callControlID, "answer", body)
}

func (c *client) PlayAudioURL(ctx context.Context, callControlID, audioURL string) error {
	return c.action(ctx, callControlID, "playback_start", map[string]any{"audio_url": audioURL})
}

func (c *client) StopPlayback(ctx context.Context, callControlID string) error {
	return c.action(ctx, callControlID, "playback_stop", map[string]any{"stop": "all"})
}

func (c *client) RestartStream(ctx context.Context, callControlID, streamURL, codec string) error {
	if err := c.action(ctx, callControlID, "streaming_stop", map[string]any{}); err != nil {
		return err
	}
	body := map[string]any{
		"stream_url":   streamURL,
		"stream_track": c.cfg.StreamTrack,
	}
	if codec != "" {
		body["stream_bidirectional_codec"] = codec
	}
	return c.action(ctx, callControlID, "streaming_start", body)
}

func (c *client) Hangup(ctx context.Context, callControlID string) error {
	return c.action(ctx, callControlID, "hangup", map[string]any{})
}
