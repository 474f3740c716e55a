// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_ingest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_audio "github.com/voxbridgeai/api/bridge-api/internal/audio"
	internal_codec "github.com/voxbridgeai/api/bridge-api/internal/codec"
	"github.com/voxbridgeai/pkg/commons"
)

// ============================================================================
// Test helpers
// ============================================================================

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestIngest(t *testing.T, cfg Config, hooks Hooks) (*Ingest, *fakeClock) {
	t.Helper()
	if cfg.Transport == "" {
		cfg.Transport = TransportPSTN
	}
	in := New(commons.NewApplicationLogger(), cfg, hooks)
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	in.now = clock.now
	in.health.started = clock.t
	return in, clock
}

func startJSON(encoding string, rate int, streamID string) []byte {
	raw, _ := json.Marshal(map[string]any{
		"event":     "start",
		"stream_id": streamID,
		"start": map[string]any{
			"media_format": map[string]any{
				"encoding":    encoding,
				"sample_rate": rate,
				"channels":    1,
			},
		},
	})
	return raw
}

func mediaJSON(streamID string, seq int64, track string, payload []byte) []byte {
	raw, _ := json.Marshal(map[string]any{
		"event":           "media",
		"stream_id":       streamID,
		"sequence_number": fmt.Sprintf("%d", seq),
		"media": map[string]any{
			"track":   track,
			"payload": base64.StdEncoding.EncodeToString(payload),
		},
	})
	return raw
}

// ulawFrame is 20 ms of µ-law at 8 kHz. 0xFF encodes near-zero; a sine seed
// produces audible content.
func ulawSilence() []byte {
	frame := make([]byte, 160)
	for i := range frame {
		frame[i] = 0xFF
	}
	return frame
}

func ulawTone() []byte {
	frame := make([]byte, 160)
	for i := range frame {
		// Alternate loud positive/negative codes for a strong RMS.
		if i%2 == 0 {
			frame[i] = 0x00
		} else {
			frame[i] = 0x80
		}
	}
	return frame
}

// ============================================================================
// Candidate selection
// ============================================================================

func TestPickPayload_PrefersMediaPayload(t *testing.T) {
	want := make([]byte, 32)
	for i := range want {
		want[i] = byte(i)
	}
	outer := map[string]any{
		"media": map[string]any{
			"payload": base64.StdEncoding.EncodeToString(want),
		},
		"payload": "not-base64!!!",
	}
	got, tiny := pickPayload(outer, 10)
	assert.False(t, tiny)
	assert.Equal(t, want, got)
}

func TestPickPayload_FallsThroughCandidates(t *testing.T) {
	want := make([]byte, 32)
	outer := map[string]any{
		"media": map[string]any{
			"data": map[string]any{
				"payload": base64.StdEncoding.EncodeToString(want),
			},
		},
	}
	got, tiny := pickPayload(outer, 10)
	assert.False(t, tiny)
	assert.Equal(t, want, got)
}

func TestPickPayload_TinyGate(t *testing.T) {
	outer := map[string]any{
		"media": map[string]any{
			"payload": base64.StdEncoding.EncodeToString([]byte{1, 2, 3}),
		},
	}
	got, tiny := pickPayload(outer, 10)
	assert.Nil(t, got)
	assert.True(t, tiny, "a 3-byte decode must trip the tiny gate, not be forwarded")
}

func TestPickPayload_LargerCandidateWins(t *testing.T) {
	small := make([]byte, 16)
	large := make([]byte, 64)
	for i := range large {
		large[i] = 0x55
	}
	outer := map[string]any{
		"media": map[string]any{
			"payload": base64.StdEncoding.EncodeToString(small),
		},
		"payload": base64.StdEncoding.EncodeToString(large),
	}
	got, _ := pickPayload(outer, 10)
	assert.Equal(t, large, got)
}

// ============================================================================
// Sequence gating (Scenario: out-of-order sequence)
// ============================================================================

func TestSequenceGate_DropsDuplicatesAndReorders(t *testing.T) {
	var chunks int
	in, _ := newTestIngest(t, Config{ExpectedTrack: TrackInbound}, Hooks{
		OnChunk: func([]byte, int) { chunks++ },
	})
	in.HandleCarrierFrame(startJSON("PCMU", 8000, "s1"))

	for _, seq := range []int64{5, 6, 7, 5, 6, 8} {
		in.HandleCarrierFrame(mediaJSON("s1", seq, TrackInbound, ulawSilence()))
	}

	st := in.Stats()
	assert.Equal(t, int64(8), st.LastSequence, "last_seq advances only on acceptance")
	assert.Equal(t, 2, st.DroppedDupOrReorder)
	assert.Equal(t, 0, st.DroppedWrongStream)
}

func TestSequenceGate_CommitHappensAfterAllGates(t *testing.T) {
	in, _ := newTestIngest(t, Config{ExpectedTrack: TrackInbound}, Hooks{
		OnChunk: func([]byte, int) {},
	})
	in.HandleCarrierFrame(startJSON("PCMU", 8000, "s1"))

	// Seq 9 on a rejected track must not advance last_seq; seq 9 inbound
	// afterwards must still be accepted.
	in.HandleCarrierFrame(mediaJSON("s1", 9, TrackOutbound, ulawSilence()))
	assert.Equal(t, int64(-1), in.Stats().LastSequence)

	in.HandleCarrierFrame(mediaJSON("s1", 9, TrackInbound, ulawSilence()))
	assert.Equal(t, int64(9), in.Stats().LastSequence)
}

// ============================================================================
// Stream isolation
// ============================================================================

func TestStreamIsolation_FirstIDAdopted(t *testing.T) {
	in, _ := newTestIngest(t, Config{ExpectedTrack: TrackInbound}, Hooks{
		OnChunk: func([]byte, int) {},
	})
	in.HandleCarrierFrame(startJSON("PCMU", 8000, "s1"))

	in.HandleCarrierFrame(mediaJSON("s1", 1, TrackInbound, ulawSilence()))
	in.HandleCarrierFrame(mediaJSON("s2", 2, TrackInbound, ulawSilence()))
	in.HandleCarrierFrame(mediaJSON("s2", 3, TrackInbound, ulawSilence()))
	in.HandleCarrierFrame(mediaJSON("s1", 2, TrackInbound, ulawSilence()))

	st := in.Stats()
	assert.Equal(t, "s1", st.ActiveStreamID)
	assert.Equal(t, 2, st.DroppedWrongStream)
	assert.Equal(t, int64(2), st.LastSequence)
}

// ============================================================================
// Playback echo guard
// ============================================================================

func TestEchoGuard_SuppressesNonInboundDuringPlaybackAndTail(t *testing.T) {
	playback := true
	var chunks int
	in, clock := newTestIngest(t, Config{ExpectedTrack: TrackBoth, GuardMs: 400}, Hooks{
		OnChunk:          func([]byte, int) { chunks++ },
		IsPlaybackActive: func() bool { return playback },
	})
	in.HandleCarrierFrame(startJSON("PCMU", 8000, "s1"))

	seq := int64(0)
	next := func(track string) {
		seq++
		in.HandleCarrierFrame(mediaJSON("s1", seq, track, ulawTone()))
	}

	// During playback: outbound dropped, guard armed.
	next(TrackOutbound)
	assert.Equal(t, 1, in.Stats().DroppedEchoGuard)

	// Playback ends; within the guard tail outbound frames stay dropped.
	playback = false
	clock.advance(200 * time.Millisecond)
	next(TrackOutbound)
	assert.Equal(t, 2, in.Stats().DroppedEchoGuard)

	// Inbound frames pass throughout.
	next(TrackInbound)
	assert.Equal(t, int64(seq), in.Stats().LastSequence)

	// After the tail the outbound track flows again.
	clock.advance(300 * time.Millisecond)
	next(TrackOutbound)
	assert.Equal(t, 2, in.Stats().DroppedEchoGuard)
}

// ============================================================================
// Re-chunking (µ-law smoke test)
// ============================================================================

func TestRechunk_UlawSmokeTest(t *testing.T) {
	var chunks [][]byte
	in, _ := newTestIngest(t, Config{ExpectedTrack: TrackInbound, TargetRateHz: 16000, EmitMs: 100}, Hooks{
		OnChunk: func(pcm []byte, rate int) {
			assert.Equal(t, 16000, rate)
			chunks = append(chunks, pcm)
		},
	})
	in.HandleCarrierFrame(startJSON("PCMU", 8000, "s1"))

	seq := int64(0)
	for i := 0; i < 50; i++ {
		seq++
		in.HandleCarrierFrame(mediaJSON("s1", seq, TrackInbound, ulawSilence()))
	}
	for i := 0; i < 25; i++ { // 500 ms burst
		seq++
		in.HandleCarrierFrame(mediaJSON("s1", seq, TrackInbound, ulawTone()))
	}

	// 75 × 20 ms = 1.5 s of audio at 100 ms per chunk.
	require.GreaterOrEqual(t, len(chunks), 5)
	wantBytes := 16000 * 100 / 1000 * 2
	for _, c := range chunks {
		assert.Equal(t, wantBytes, len(c), "every emitted chunk is exactly emit-ms long")
	}

	// The burst region must carry real energy.
	last := internal_audio.BytesToInt16(chunks[len(chunks)-1])
	assert.Greater(t, internal_audio.RMS(last), 0.05)
}

func TestRechunk_RateChangeFlushesResidue(t *testing.T) {
	c := newChunker(100)

	chunks, flushed := c.push(make([]byte, 1000), 16000)
	assert.Empty(t, chunks)
	assert.Empty(t, flushed)

	_, flushed = c.push(make([]byte, 10), 8000)
	assert.Equal(t, 1000, len(flushed), "old-rate residue is flushed before the new rate starts")
}

func TestChunker_ClampsEmitMs(t *testing.T) {
	assert.Equal(t, minEmitMs, newChunker(10).emitMs)
	assert.Equal(t, maxEmitMs, newChunker(900).emitMs)
	assert.Equal(t, defaultEmitMs, newChunker(0).emitMs)
	assert.Equal(t, 120, newChunker(120).emitMs)
}

// ============================================================================
// Health monitor
// ============================================================================

func badAMRWBPayload() []byte {
	// Reserved frame types in every TOC position: parses under neither
	// format.
	return []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
}

func TestHealth_DecodeFailuresTriggerRestart(t *testing.T) {
	var restarts int
	in, clock := newTestIngest(t, Config{
		ExpectedTrack: TrackInbound,
		RestartCodec:  internal_codec.CodecPCMU,
	}, Hooks{
		OnChunk: func([]byte, int) {},
		OnRestartRequest: func(current, requested internal_codec.Name) bool {
			restarts++
			assert.Equal(t, internal_codec.CodecAMRWB, current)
			assert.Equal(t, internal_codec.CodecPCMU, requested)
			return true
		},
	})
	in.HandleCarrierFrame(startJSON("AMR-WB", 16000, "s1"))

	for i := int64(1); i <= 12; i++ {
		clock.advance(150 * time.Millisecond)
		in.HandleCarrierFrame(mediaJSON("s1", i, TrackInbound, badAMRWBPayload()))
	}
	assert.Equal(t, 1, restarts)

	// A second unhealthy window must not restart again (attempts bounded).
	for i := int64(13); i <= 24; i++ {
		clock.advance(150 * time.Millisecond)
		in.HandleCarrierFrame(mediaJSON("s1", i, TrackInbound, badAMRWBPayload()))
	}
	assert.Equal(t, 1, restarts)
}

func TestHealth_RepromptGatedByCooldowns(t *testing.T) {
	listening := true
	var reprompts []string
	in, clock := newTestIngest(t, Config{ExpectedTrack: TrackInbound}, Hooks{
		OnChunk:     func([]byte, int) {},
		IsListening: func() bool { return listening },
		OnReprompt:  func(reason string) { reprompts = append(reprompts, reason) },
	})
	in.HandleCarrierFrame(startJSON("AMR-WB", 16000, "s1"))

	feedWindow := func(from int64) {
		for i := from; i < from+12; i++ {
			clock.advance(150 * time.Millisecond)
			in.HandleCarrierFrame(mediaJSON("s1", i, TrackInbound, badAMRWBPayload()))
		}
	}

	feedWindow(1)
	require.Equal(t, []string{ReasonDecodeFailures}, reprompts)

	// Within the 5 s cooldown a second unhealthy window stays silent.
	feedWindow(20)
	assert.Len(t, reprompts, 1)

	// Past the cooldown it fires again.
	clock.advance(6 * time.Second)
	feedWindow(40)
	assert.Len(t, reprompts, 2)

	// Never while not listening.
	listening = false
	clock.advance(6 * time.Second)
	feedWindow(60)
	assert.Len(t, reprompts, 2)
}

func TestHealth_TinyPayloadsReprompt(t *testing.T) {
	var reprompts []string
	in, clock := newTestIngest(t, Config{
		ExpectedTrack: TrackInbound,
		RestartCodec:  internal_codec.CodecPCMU,
	}, Hooks{
		OnChunk: func([]byte, int) {},
		OnRestartRequest: func(internal_codec.Name, internal_codec.Name) bool {
			t.Fatal("tiny payloads must reprompt, not restart")
			return false
		},
		OnReprompt: func(reason string) { reprompts = append(reprompts, reason) },
	})
	in.HandleCarrierFrame(startJSON("AMR-WB", 16000, "s1"))

	for i := int64(1); i <= 12; i++ {
		clock.advance(150 * time.Millisecond)
		in.HandleCarrierFrame(mediaJSON("s1", i, TrackInbound, []byte{1, 2}))
	}
	assert.Equal(t, []string{ReasonTinyPayloads}, reprompts)
}

func TestHealth_TinyPayloadsRestartOnOtherCodecs(t *testing.T) {
	// Runt frames on G.722 mean the carrier is mangling the stream, so a
	// renegotiation is worth one attempt. Only AMR-WB gets the tiny-payload
	// pass, because its comfort-noise frames are legitimately that small.
	var restarts int
	in, clock := newTestIngest(t, Config{
		ExpectedTrack: TrackInbound,
		RestartCodec:  internal_codec.CodecPCMU,
	}, Hooks{
		OnChunk: func([]byte, int) {},
		OnRestartRequest: func(current, requested internal_codec.Name) bool {
			restarts++
			assert.Equal(t, internal_codec.CodecG722, current)
			assert.Equal(t, internal_codec.CodecPCMU, requested)
			return true
		},
	})
	in.HandleCarrierFrame(startJSON("G722", 8000, "s1"))

	for i := int64(1); i <= 12; i++ {
		clock.advance(150 * time.Millisecond)
		in.HandleCarrierFrame(mediaJSON("s1", i, TrackInbound, []byte{1, 2}))
	}
	assert.Equal(t, 1, restarts)
}

// ============================================================================
// Forced-BE policy
// ============================================================================

func TestForcedBE_StickyOnPSTNAMRWB(t *testing.T) {
	in, _ := newTestIngest(t, Config{
		Transport:     TransportPSTN,
		ExpectedTrack: TrackInbound,
		RequireBE:     true,
	}, Hooks{OnChunk: func([]byte, int) {}})

	in.HandleCarrierFrame(startJSON("AMR-WB", 16000, "s1"))
	assert.True(t, in.forceBE)

	in2, _ := newTestIngest(t, Config{
		Transport:     TransportWebRTCHD,
		ExpectedTrack: TrackInbound,
		RequireBE:     true,
	}, Hooks{OnChunk: func([]byte, int) {}})
	in2.HandleCarrierFrame(startJSON("AMR-WB", 16000, "s1"))
	assert.False(t, in2.forceBE, "the pin is a carrier workaround and only applies on the phone network")
}

// ============================================================================
// WebRTC PCM path
// ============================================================================

func TestPushPCM_RechunksWithoutCarrierFraming(t *testing.T) {
	var chunks int
	in, _ := newTestIngest(t, Config{
		Transport:     TransportWebRTCHD,
		ExpectedTrack: TrackInbound,
		TargetRateHz:  16000,
		EmitMs:        100,
	}, Hooks{OnChunk: func(pcm []byte, rate int) { chunks++ }})

	frame := make([]byte, 640) // 20 ms at 16 kHz
	for i := 0; i < len(frame); i += 2 {
		v := int16(3000 * math.Sin(float64(i)*0.1))
		frame[i] = byte(v)
		frame[i+1] = byte(v >> 8)
	}
	for i := 0; i < 10; i++ {
		in.PushPCM(frame, 16000)
	}
	assert.Equal(t, 2, chunks, "200 ms of PCM at 100 ms emit yields two chunks")
}
