// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_aec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_audio "github.com/voxbridgeai/api/bridge-api/internal/audio"
	"github.com/voxbridgeai/pkg/commons"
)

func sine(samples int, freq float64, rate int, amp float64) []int16 {
	out := make([]int16, samples)
	for i := range out {
		out[i] = int16(amp * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

// ============================================================================
// Far-end ring
// ============================================================================

func TestRing_PushWAVSlicesTo20msFrames(t *testing.T) {
	r := NewFarEndRing()
	logger := commons.NewApplicationLogger()

	// 100 ms of 16 kHz mono: exactly five frames.
	pcm := internal_audio.Int16ToBytes(sine(1600, 440, 16000, 0.5))
	wav := internal_audio.CreateWAV(pcm, 16000, 1)

	require.NoError(t, r.PushWAV(logger, wav))
	assert.Equal(t, 5, r.Len())

	frame := r.Pull()
	require.NotNil(t, frame)
	assert.Equal(t, FrameBytes, len(frame))
	assert.Equal(t, 4, r.Len())
}

func TestRing_ResamplesNon16kReference(t *testing.T) {
	r := NewFarEndRing()

	// 100 ms at 24 kHz becomes 100 ms at 16 kHz: still five frames.
	pcm := internal_audio.Int16ToBytes(sine(2400, 440, 24000, 0.5))
	wav := internal_audio.CreateWAV(pcm, 24000, 1)

	require.NoError(t, r.PushWAV(commons.NewApplicationLogger(), wav))
	assert.Equal(t, 5, r.Len())
}

func TestRing_PadsTrailingPartialFrame(t *testing.T) {
	r := NewFarEndRing()

	// 50 ms at 16 kHz: two full frames plus a half frame, padded to three.
	pcm := internal_audio.Int16ToBytes(sine(800, 440, 16000, 0.5))
	wav := internal_audio.CreateWAV(pcm, 16000, 1)

	require.NoError(t, r.PushWAV(commons.NewApplicationLogger(), wav))
	require.Equal(t, 3, r.Len())

	r.Pull()
	r.Pull()
	last := r.Pull()
	require.Len(t, last, FrameBytes)
	// The padded half is silence.
	tail := internal_audio.BytesToInt16(last[FrameBytes/2:])
	assert.Zero(t, internal_audio.RMS(tail))
}

func TestRing_RejectsNonPCMWAV(t *testing.T) {
	r := NewFarEndRing()
	err := r.PushWAV(commons.NewApplicationLogger(), []byte("definitely not RIFF"))
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestRing_EvictsOldestWhenFull(t *testing.T) {
	r := NewFarEndRing()
	first := make([]byte, FrameBytes)
	first[0] = 0xAA
	r.push(first)
	for i := 0; i < ringCapacity; i++ {
		r.push(make([]byte, FrameBytes))
	}

	assert.Equal(t, ringCapacity, r.Len())
	assert.NotEqual(t, byte(0xAA), r.Pull()[0], "oldest frame must have been evicted")
}

func TestRing_PullEmptyReturnsNil(t *testing.T) {
	assert.Nil(t, NewFarEndRing().Pull())
}

// ============================================================================
// NLMS canceller
// ============================================================================

func TestNLMS_ConvergesOnPureEcho(t *testing.T) {
	c := NewNLMSCanceller()

	// Near end is exactly the far end (zero-delay echo, unity gain). After
	// adaptation the residual must be well below the input level.
	far := sine(16000, 300, 16000, 0.4)

	var tail []int16
	for off := 0; off+320 <= len(far); off += 320 {
		frame := far[off : off+320]
		out := c.Process(frame, frame)
		if off >= len(far)-3200 {
			tail = append(tail, out...)
		}
	}

	inRMS := internal_audio.RMS(far)
	outRMS := internal_audio.RMS(tail)
	assert.Less(t, outRMS, inRMS/4, "converged canceller should attenuate a pure echo")
}

func TestNLMS_LeavesIndependentSpeechMostlyIntact(t *testing.T) {
	c := NewNLMSCanceller()

	near := sine(3200, 250, 16000, 0.4)
	silence := make([]int16, 320)

	var out []int16
	for off := 0; off+320 <= len(near); off += 320 {
		out = append(out, c.Process(near[off:off+320], silence)...)
	}

	// With a silent reference there is nothing to subtract.
	assert.InDelta(t, internal_audio.RMS(near), internal_audio.RMS(out), 0.02)
}

func TestNLMS_ResetClearsAdaptation(t *testing.T) {
	c := NewNLMSCanceller().(*nlmsCanceller)

	far := sine(320, 300, 16000, 0.4)
	c.Process(far, far)
	c.Reset()

	assert.Zero(t, c.energy)
	for _, w := range c.weights {
		require.Zero(t, w)
	}
}

// ============================================================================
// Processor
// ============================================================================

func TestProcessor_AlignsTo20msAndCarriesRemainder(t *testing.T) {
	p := NewProcessor(commons.NewApplicationLogger(), NewFarEndRing(), false)

	// 900 bytes: one full frame out, 260 bytes carried.
	out := p.ProcessNearEnd(make([]byte, 900))
	assert.Equal(t, FrameBytes, len(out))
	assert.Equal(t, 260, len(p.pending))

	// 380 more bytes complete the second frame exactly.
	out = p.ProcessNearEnd(make([]byte, 380))
	assert.Equal(t, FrameBytes, len(out))
	assert.Empty(t, p.pending)
}

func TestProcessor_PassthroughWhenNoFarEnd(t *testing.T) {
	p := NewProcessor(commons.NewApplicationLogger(), NewFarEndRing(), true)

	near := internal_audio.Int16ToBytes(sine(320, 250, 16000, 0.4))
	out := p.ProcessNearEnd(near)
	assert.Equal(t, near, out, "without a reference frame the near end passes through untouched")
}

func TestProcessor_TransitionResetsPending(t *testing.T) {
	p := NewProcessor(commons.NewApplicationLogger(), NewFarEndRing(), true)

	p.ProcessNearEnd(make([]byte, 100))
	require.Equal(t, 100, len(p.pending))

	p.OnPlaybackTransition()
	assert.Empty(t, p.pending)
}
