// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	internal_audio "github.com/voxbridgeai/api/bridge-api/internal/audio"
	internal_telnyx "github.com/voxbridgeai/api/bridge-api/internal/telephony/telnyx"
	"github.com/voxbridgeai/pkg/commons"
)

// PSTNConfig wires one carrier call.
type PSTNConfig struct {
	CallControlID string
	// StreamURL is the public wss endpoint the carrier connects its media
	// stream to, sent on answer.
	StreamURL string
	// InputCodec/InputRate describe the negotiated inbound stream, refined
	// later by the start event.
	InputCodec string
	InputRate  int
	AutoAnswer bool
	// PlaybackRateHz, when set, resamples stored segments to the carrier's
	// playback rate before they are served.
	PlaybackRateHz int
	// EnableHighpass runs the pre-emphasis filter over outbound segments.
	EnableHighpass bool
}

// highpassCoeff is the pre-emphasis coefficient for outbound telephony audio.
const highpassCoeff = 0.95

// pstnSession bridges the carrier media WebSocket and REST actions. The
// media socket attaches after Start, when the carrier dials back in.
type pstnSession struct {
	logger  commons.Logger
	carrier internal_telnyx.Actions
	store   internal_audio.Store
	cfg     PSTNConfig

	mu              sync.Mutex
	conn            *websocket.Conn
	onInbound       func([]byte)
	onPlaybackEnded func(string)
	stopped         bool
}

// NewPSTNSession builds a carrier-backed transport.
func NewPSTNSession(logger commons.Logger, carrier internal_telnyx.Actions, store internal_audio.Store, cfg PSTNConfig) Session {
	return &pstnSession{logger: logger, carrier: carrier, store: store, cfg: cfg}
}

func (s *pstnSession) AudioInput() AudioInput {
	rate := s.cfg.InputRate
	if rate <= 0 {
		rate = 16000
	}
	return AudioInput{Codec: s.cfg.InputCodec, SampleRateHz: rate}
}

func (s *pstnSession) OnInbound(fn func([]byte)) {
	s.mu.Lock()
	s.onInbound = fn
	s.mu.Unlock()
}

func (s *pstnSession) OnPlaybackEnded(fn func(string)) {
	s.mu.Lock()
	s.onPlaybackEnded = fn
	s.mu.Unlock()
}

func (s *pstnSession) Start(ctx context.Context) error {
	if !s.cfg.AutoAnswer {
		return nil
	}
	if err := s.carrier.Answer(ctx, s.cfg.CallControlID, s.cfg.StreamURL); err != nil {
		return fmt.Errorf("transport: answer failed: %w", err)
	}
	return nil
}

// AttachMediaConn adopts the carrier's media WebSocket and pumps frames to
// the inbound callback until the socket closes. A second attach while one
// socket is live replaces it; the old reader winds down on its read error.
func (s *pstnSession) AttachMediaConn(conn *websocket.Conn) {
	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}

	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				s.logger.Debugw("carrier media socket closed", "error", err)
				return
			}
			s.mu.Lock()
			fn := s.onInbound
			s.mu.Unlock()
			if fn != nil {
				fn(raw)
			}
		}
	}()
}

func (s *pstnSession) Play(ctx context.Context, turnID string, wav []byte) error {
	url, err := s.store.StoreWAV(s.cfg.CallControlID, turnID, s.normalizeWAV(wav))
	if err != nil {
		return fmt.Errorf("transport: store wav: %w", err)
	}
	if err := s.carrier.PlayAudioURL(ctx, s.cfg.CallControlID, url); err != nil {
		return fmt.Errorf("transport: play: %w", err)
	}
	return nil
}

// normalizeWAV resamples a synthesized segment to the carrier playback rate
// and applies the optional pre-emphasis filter. Segments that fail to parse
// are served untouched; the carrier rejects them with its own error.
func (s *pstnSession) normalizeWAV(wav []byte) []byte {
	if s.cfg.PlaybackRateHz <= 0 && !s.cfg.EnableHighpass {
		return wav
	}
	pcm, info, err := internal_audio.DecodeWAV(wav)
	if err != nil {
		s.logger.Warnw("playback segment not normalizable", "error", err)
		return wav
	}

	rate := int(info.SampleRate)
	samples := internal_audio.BytesToInt16(pcm)
	if s.cfg.PlaybackRateHz > 0 && rate != s.cfg.PlaybackRateHz {
		samples = internal_audio.ResampleLinear(samples, rate, s.cfg.PlaybackRateHz)
		rate = s.cfg.PlaybackRateHz
	}
	if s.cfg.EnableHighpass {
		samples = internal_audio.HighPass(samples, highpassCoeff)
	}
	return internal_audio.CreateWAV(internal_audio.Int16ToBytes(samples), rate, 1)
}

func (s *pstnSession) StopPlayback(ctx context.Context) error {
	return s.carrier.StopPlayback(ctx, s.cfg.CallControlID)
}

// NotifyPlaybackEnded forwards carrier playback.ended webhooks to the
// session; the manager routes them here.
func (s *pstnSession) NotifyPlaybackEnded(source string) {
	s.mu.Lock()
	fn := s.onPlaybackEnded
	s.mu.Unlock()
	if fn != nil {
		fn(source)
	}
}

func (s *pstnSession) Hangup(ctx context.Context) error {
	return s.carrier.Hangup(ctx, s.cfg.CallControlID)
}

func (s *pstnSession) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "teardown"), deadline)
		conn.Close()
	}
	return nil
}
