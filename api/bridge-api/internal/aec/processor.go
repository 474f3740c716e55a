// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_aec

import (
	"sync"

	internal_audio "github.com/voxbridgeai/api/bridge-api/internal/audio"
	"github.com/voxbridgeai/pkg/commons"
)

// unavailableWarn makes the disabled-AEC warning a one-time event per
// process, however many calls start.
var unavailableWarn sync.Once

func warnUnavailable(logger commons.Logger) {
	unavailableWarn.Do(func() {
		logger.Warn("echo cancellation disabled, near-end audio passes through")
	})
}

// Processor aligns near-end audio to 20 ms frames, pulls one far-end frame
// per near-end frame and runs the canceller. Owned by a single call worker.
type Processor struct {
	logger    commons.Logger
	ring      *FarEndRing
	canceller Canceller
	pending   []byte
}

// NewProcessor builds the per-call AEC stage. With enabled=false every frame
// passes through but far-end alignment still advances, keeping the ring
// bounded.
func NewProcessor(logger commons.Logger, ring *FarEndRing, enabled bool) *Processor {
	var c Canceller = passthroughCanceller{}
	if enabled {
		c = NewNLMSCanceller()
	} else {
		warnUnavailable(logger)
	}
	return &Processor{logger: logger, ring: ring, canceller: c}
}

// ProcessNearEnd consumes inbound PCM16 and returns the echo-cancelled
// stream. Input shorter than a frame is carried over to the next call.
func (p *Processor) ProcessNearEnd(pcm []byte) []byte {
	p.pending = append(p.pending, pcm...)

	var out []byte
	for len(p.pending) >= FrameBytes {
		frame := p.pending[:FrameBytes]
		p.pending = p.pending[FrameBytes:]

		far := p.ring.Pull()
		if far == nil {
			out = append(out, frame...)
			continue
		}

		processed := p.canceller.Process(
			internal_audio.BytesToInt16(frame),
			internal_audio.BytesToInt16(far),
		)
		out = append(out, internal_audio.Int16ToBytes(processed)...)
	}
	return out
}

// OnPlaybackTransition resets filter state at every playback start/stop so
// stale adaptation from the previous segment cannot bleed into the next.
func (p *Processor) OnPlaybackTransition() {
	p.canceller.Reset()
	p.pending = nil
}

// Ring exposes the far-end queue for the playback push side.
func (p *Processor) Ring() *FarEndRing { return p.ring }
