// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_aec removes played-back audio from the caller's
// microphone signal. Far-end frames are queued by the playback chain; the
// pull side aligns them with 20 ms near-end frames and runs the canceller.
package internal_aec

import (
	"fmt"

	internal_audio "github.com/voxbridgeai/api/bridge-api/internal/audio"
	"github.com/voxbridgeai/pkg/commons"
)

const (
	// FrameBytes is one 20 ms frame at 16 kHz PCM16.
	FrameBytes = 640
	// ringCapacity bounds the far-end queue at roughly 15 s.
	ringCapacity = 750
)

// FarEndRing is the per-call FIFO of reference frames. Mutated only by the
// owning call worker, so no locking.
type FarEndRing struct {
	frames  [][]byte
	dropped int
}

// NewFarEndRing returns an empty reference queue.
func NewFarEndRing() *FarEndRing {
	return &FarEndRing{}
}

// PushWAV decodes a TTS WAV, resamples it to 16 kHz mono and slices it into
// 20 ms reference frames. Oldest frames are evicted when the ring is full.
func (r *FarEndRing) PushWAV(logger commons.Logger, wav []byte) error {
	pcmIn, info, err := internal_audio.DecodeWAV(wav)
	if err != nil {
		return fmt.Errorf("aec: reference wav rejected: %w", err)
	}

	samples := internal_audio.BytesToInt16(pcmIn)
	if rate := int(info.SampleRate); rate != 16000 {
		samples = internal_audio.ResampleLinear(samples, rate, 16000)
	}
	pcm := internal_audio.Int16ToBytes(samples)

	for off := 0; off+FrameBytes <= len(pcm); off += FrameBytes {
		r.push(pcm[off : off+FrameBytes])
	}
	if tail := len(pcm) % FrameBytes; tail > 0 {
		r.push(internal_audio.PadToLength(pcm[len(pcm)-tail:], FrameBytes))
	}

	if r.dropped > 0 {
		logger.Debugw("far-end ring evicting", "dropped", r.dropped, "depth", len(r.frames))
	}
	return nil
}

func (r *FarEndRing) push(frame []byte) {
	if len(r.frames) >= ringCapacity {
		r.frames = r.frames[1:]
		r.dropped++
	}
	cp := make([]byte, FrameBytes)
	copy(cp, frame)
	r.frames = append(r.frames, cp)
}

// Pull removes and returns the oldest reference frame, or nil when empty.
func (r *FarEndRing) Pull() []byte {
	if len(r.frames) == 0 {
		return nil
	}
	frame := r.frames[0]
	r.frames = r.frames[1:]
	return frame
}

// Len reports the queue depth.
func (r *FarEndRing) Len() int { return len(r.frames) }

// Clear empties the queue; used on playback transitions.
func (r *FarEndRing) Clear() {
	r.frames = nil
	r.dropped = 0
}
