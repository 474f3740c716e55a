// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_transport carries call media in and out. Two transports
// exist: the carrier media WebSocket (PSTN) and a WebRTC peer connection
// for HD browser calls. Transports own no call state; the session drives
// them through this interface and receives media through callbacks.
package internal_transport

import (
	"context"
)

// Playback-end sources accepted by the session's authority check.
const (
	PlaybackEndWebhook   = "webhook"
	PlaybackEndWatchdog  = "watchdog"
	PlaybackEndTransport = "transport"
	PlaybackEndFailsafe  = "failsafe"
)

// AudioInput describes what the transport feeds into ingest.
type AudioInput struct {
	Codec        string
	SampleRateHz int
}

// Session is the transport seen from a call session.
type Session interface {
	// Start brings the media path up (answer the call, begin reading).
	Start(ctx context.Context) error
	// Stop tears the media path down; WebSocket closes use code 1000.
	Stop(ctx context.Context) error

	AudioInput() AudioInput

	// Play ships one synthesized WAV to the caller. On PSTN this stores
	// the WAV and asks the carrier to play it by URL; completion arrives
	// later via webhook. On WebRTC the audio is paced onto the outbound
	// track and completion is the transport's own.
	Play(ctx context.Context, turnID string, wav []byte) error
	StopPlayback(ctx context.Context) error

	// OnInbound registers the single media callback. PSTN delivers raw
	// carrier WebSocket frames; WebRTC delivers decoded PCM16.
	OnInbound(fn func(frame []byte))
	// OnPlaybackEnded registers the completion callback; source is one of
	// the PlaybackEnd* constants.
	OnPlaybackEnded(fn func(source string))

	// Hangup ends the call at the carrier; a no-op where the concept does
	// not exist.
	Hangup(ctx context.Context) error
}
