// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_ingest

import (
	"errors"
	"strings"
	"time"

	internal_audio "github.com/voxbridgeai/api/bridge-api/internal/audio"
	internal_codec "github.com/voxbridgeai/api/bridge-api/internal/codec"
	"github.com/voxbridgeai/pkg/commons"
)

// ============================================================================
// Configuration & hooks
// ============================================================================

const (
	TransportPSTN     = "pstn"
	TransportWebRTCHD = "webrtc_hd"

	TrackInbound  = "inbound"
	TrackOutbound = "outbound"
	TrackBoth     = "both_tracks"
)

const (
	defaultGuardMs            = 400
	defaultMaxRestartAttempts = 1

	repromptCooldown    = 5 * time.Second
	repromptSpeechGap   = 1500 * time.Millisecond
	repromptDecodeGap   = 1200 * time.Millisecond
	silenceRMSThreshold = 0.001
	minPayloadAMRWB     = 6
	minPayloadDefault   = 10
)

// Config tunes one call's ingest pipeline.
type Config struct {
	Transport     string
	ExpectedTrack string
	TargetRateHz  int
	EmitMs        int
	// GuardMs extends echo suppression of non-inbound tracks past playback
	// end to absorb carrier jitter.
	GuardMs int
	// RequireBE pins AMR-WB payload parsing to bandwidth-efficient for the
	// whole call once AMR-WB is detected on PSTN.
	RequireBE bool
	// DefaultBE assumes bandwidth-efficient packing when the carrier's start
	// event carries no packing hint. The octet-aligned fallback only applies
	// when both RequireBE and DefaultBE are off.
	DefaultBE bool
	// RestartCodec is the codec a media-stream restart would request when
	// the current one proves undecodable.
	RestartCodec       internal_codec.Name
	MaxRestartAttempts int
	AMRWB              internal_codec.AMRWBConfig
}

// Hooks are the caller-owned callbacks. OnChunk is required; the rest may be
// nil, which disables the corresponding escalation.
type Hooks struct {
	OnChunk          func(pcm []byte, sampleRateHz int)
	IsPlaybackActive func() bool
	IsListening      func() bool
	LastSpeechStart  func() time.Time
	// OnRestartRequest asks the transport to restart the media stream with
	// a different codec; it reports whether a restart was issued.
	OnRestartRequest func(current, requested internal_codec.Name) bool
	OnReprompt       func(reason string)
}

// ============================================================================
// Ingest
// ============================================================================

// Ingest is the per-call media pipeline. Not safe for concurrent use; the
// owning call worker serialises all entry points.
type Ingest struct {
	logger commons.Logger
	cfg    Config
	hooks  Hooks
	now    func() time.Time

	// Stream gating state.
	activeStreamID string
	lastSeq        int64
	seqSeen        bool

	// Codec state.
	codecName     internal_codec.Name
	decoder       internal_codec.Decoder
	sourceRateHz  int
	forceBE       bool
	codecDisabled bool

	// Playback echo guard.
	suppressUntil time.Time

	chunker *chunker
	health  *healthWindow

	lastDecodeOK    time.Time
	lastReprompt    time.Time
	restartAttempts int

	// Drop counters kept for the whole call, surfaced in Stats.
	droppedWrongStream  int
	droppedDupOrReorder int
	droppedWrongTrack   int
	droppedEchoGuard    int
}

// Stats is a point-in-time snapshot for logging and the metrics summary.
type Stats struct {
	ActiveStreamID      string
	LastSequence        int64
	Codec               internal_codec.Name
	DroppedWrongStream  int
	DroppedDupOrReorder int
	DroppedWrongTrack   int
	DroppedEchoGuard    int
}

// New builds an ingest pipeline for one call.
func New(logger commons.Logger, cfg Config, hooks Hooks) *Ingest {
	if cfg.TargetRateHz <= 0 {
		cfg.TargetRateHz = 16000
	}
	if cfg.GuardMs <= 0 {
		cfg.GuardMs = defaultGuardMs
	}
	if cfg.MaxRestartAttempts <= 0 {
		cfg.MaxRestartAttempts = defaultMaxRestartAttempts
	}
	if cfg.ExpectedTrack == "" {
		cfg.ExpectedTrack = TrackInbound
	}
	now := time.Now
	return &Ingest{
		logger:  logger,
		cfg:     cfg,
		hooks:   hooks,
		now:     now,
		lastSeq: -1,
		chunker: newChunker(cfg.EmitMs),
		health:  newHealthWindow(now()),
	}
}

// Stats returns the current drop counters and gating state.
func (in *Ingest) Stats() Stats {
	return Stats{
		ActiveStreamID:      in.activeStreamID,
		LastSequence:        in.lastSeq,
		Codec:               in.codecName,
		DroppedWrongStream:  in.droppedWrongStream,
		DroppedDupOrReorder: in.droppedDupOrReorder,
		DroppedWrongTrack:   in.droppedWrongTrack,
		DroppedEchoGuard:    in.droppedEchoGuard,
	}
}

// Codec reports the pinned codec, empty until a start event arrives.
func (in *Ingest) Codec() internal_codec.Name { return in.codecName }

// HandleCarrierFrame processes one raw WebSocket frame from the carrier.
func (in *Ingest) HandleCarrierFrame(raw []byte) {
	minLen := minPayloadDefault
	if in.codecName == internal_codec.CodecAMRWB {
		minLen = minPayloadAMRWB
	}
	frame, err := ParseCarrierFrame(raw, minLen)
	if err != nil {
		in.logger.Debugw("carrier frame dropped", "error", err)
		return
	}

	switch frame.Event {
	case EventConnected:
		in.logger.Debug("carrier media socket connected")
	case EventStart:
		in.handleStart(frame)
	case EventMedia:
		in.handleMedia(frame)
	case EventStop:
		in.logger.Infow("carrier media stream stopped", "streamId", frame.StreamID)
		if residue := in.chunker.flush(); len(residue) > 0 && in.hooks.OnChunk != nil {
			in.hooks.OnChunk(residue, in.chunker.rateHz)
		}
	}
}

func (in *Ingest) handleStart(frame *CarrierFrame) {
	if frame.Format == nil {
		in.logger.Warn("start event without media_format, keeping current codec")
		return
	}
	name, ok := internal_codec.Normalize(frame.Format.Encoding)
	if !ok {
		in.logger.Errorw("unsupported carrier encoding", "encoding", frame.Format.Encoding)
		in.codecDisabled = true
		return
	}

	if in.decoder != nil {
		in.decoder.Close()
	}
	dec, err := internal_codec.NewDecoder(in.logger, name, internal_codec.FactoryConfig{
		TargetRateHz: in.cfg.TargetRateHz,
		AMRWB:        in.cfg.AMRWB,
	})
	if err != nil {
		in.logger.Errorw("decoder init failed", "codec", name, "error", err)
		in.codecDisabled = true
		return
	}

	in.codecName = name
	in.decoder = dec
	in.codecDisabled = false
	in.sourceRateHz = frame.Format.SampleRateHz

	// AMR-WB on PSTN pins the payload format for the rest of the call. The
	// carrier never repacks mid-stream, so a BE start means BE forever.
	if name == internal_codec.CodecAMRWB && in.cfg.Transport == TransportPSTN &&
		(in.cfg.RequireBE || in.cfg.DefaultBE) {
		in.forceBE = true
	}

	in.logger.Infow("media stream started",
		"codec", name,
		"sampleRate", frame.Format.SampleRateHz,
		"channels", frame.Format.Channels,
		"streamId", frame.StreamID,
		"forceBE", in.forceBE)
}

func (in *Ingest) handleMedia(frame *CarrierFrame) {
	now := in.now()
	in.health.totalFrames++

	if frame.PayloadTiny {
		in.health.tinyPayloads++
		in.checkHealth(now)
		return
	}
	if frame.Payload == nil {
		return
	}

	// Gate 1: stream isolation. First id wins; everything else is a
	// restart-overlap ghost.
	if frame.StreamID != "" {
		if in.activeStreamID == "" {
			in.activeStreamID = frame.StreamID
		} else if frame.StreamID != in.activeStreamID {
			in.droppedWrongStream++
			in.logger.Debugw("media frame dropped", "reason", "wrong_stream",
				"streamId", frame.StreamID, "active", in.activeStreamID)
			return
		}
	}

	// Gate 2: duplicate/reorder. Acceptance is not committed yet.
	if frame.Sequence >= 0 && in.seqSeen && frame.Sequence <= in.lastSeq {
		in.droppedDupOrReorder++
		in.logger.Debugw("media frame dropped", "reason", "dup_or_reorder",
			"seq", frame.Sequence, "lastSeq", in.lastSeq)
		return
	}

	// Gate 3: track filter.
	if !in.trackAccepted(frame.Track) {
		in.droppedWrongTrack++
		return
	}

	// Gate 4: playback echo guard. Non-inbound frames during playback are
	// loopback; the guard deadline covers the jitter tail after it ends.
	if frame.Track != TrackInbound {
		if in.hooks.IsPlaybackActive != nil && in.hooks.IsPlaybackActive() {
			in.suppressUntil = now.Add(time.Duration(in.cfg.GuardMs) * time.Millisecond)
			in.droppedEchoGuard++
			return
		}
		if now.Before(in.suppressUntil) {
			in.droppedEchoGuard++
			return
		}
	}

	// All gates passed: commit acceptance.
	if frame.Sequence >= 0 {
		in.lastSeq = frame.Sequence
		in.seqSeen = true
	}

	in.decodeAndEmit(frame.Payload, now)
	in.checkHealth(now)
}

func (in *Ingest) trackAccepted(track string) bool {
	switch strings.ToLower(in.cfg.ExpectedTrack) {
	case TrackBoth, "both", "":
		return true
	case TrackInbound:
		return track == TrackInbound || track == ""
	case TrackOutbound:
		return track == TrackOutbound
	default:
		return true
	}
}

func (in *Ingest) decodeAndEmit(payload []byte, now time.Time) {
	if in.codecDisabled || in.decoder == nil {
		in.health.decodeFails++
		return
	}

	res, err := in.decoder.Decode(payload, internal_codec.Hints{
		SourceRateHz: in.sourceRateHz,
		ForceBE:      in.forceBE,
		HasCMR:       true,
	})
	if err != nil {
		if errors.Is(err, internal_codec.ErrBuffering) {
			in.health.decodedFrames++
			in.lastDecodeOK = now
			return
		}
		var derr *internal_codec.DecodeError
		if errors.As(err, &derr) && derr.Kind == internal_codec.FormatRejected {
			// The payload format can never decode under the active policy.
			in.logger.Warnw("codec disabled for call", "codec", in.codecName, "error", err)
			in.codecDisabled = true
		}
		in.health.decodeFails++
		return
	}

	in.health.decodedFrames++
	in.lastDecodeOK = now
	in.emitPCM(res.PCM16, res.SampleRateHz)
}

func (in *Ingest) emitPCM(pcm []byte, rateHz int) {
	samples := internal_audio.BytesToInt16(pcm)
	rms := internal_audio.RMS(samples)
	in.health.rmsSum += rms
	in.health.rmsCount++
	if rms < silenceRMSThreshold {
		in.health.silentFrames++
	}

	chunks, flushed := in.chunker.push(pcm, rateHz)
	if len(flushed) > 0 && in.hooks.OnChunk != nil {
		in.hooks.OnChunk(flushed, rateHz)
		in.health.emittedChunks++
	}
	for _, chunk := range chunks {
		if in.hooks.OnChunk != nil {
			in.hooks.OnChunk(chunk, rateHz)
		}
		in.health.emittedChunks++
	}
}

// PushPCM accepts already-decoded PCM16 (the WebRTC inbound path) and runs
// only the re-chunk and health stages.
func (in *Ingest) PushPCM(pcm []byte, rateHz int) {
	now := in.now()
	in.health.totalFrames++
	in.health.decodedFrames++
	in.lastDecodeOK = now
	in.emitPCM(pcm, rateHz)
	in.checkHealth(now)
}

// Flush drains the codec buffer and the chunk residue, emitting whatever is
// pending. Called at utterance boundaries and on teardown.
func (in *Ingest) Flush() {
	if in.decoder != nil {
		if res, err := in.decoder.Flush(); err == nil && res != nil {
			in.emitPCM(res.PCM16, res.SampleRateHz)
		}
	}
	if residue := in.chunker.flush(); len(residue) > 0 && in.hooks.OnChunk != nil {
		in.hooks.OnChunk(residue, in.chunker.rateHz)
	}
}

// Close releases the decoder (and its subprocess, for AMR-WB).
func (in *Ingest) Close() error {
	if in.decoder == nil {
		return nil
	}
	err := in.decoder.Close()
	in.decoder = nil
	return err
}

// ============================================================================
// Health escalation
// ============================================================================

func (in *Ingest) checkHealth(now time.Time) {
	reason := in.health.verdict(now)
	if reason == "" {
		return
	}
	in.logger.Warnw("ingest unhealthy",
		"reason", reason,
		"frames", in.health.totalFrames,
		"decodeFailures", in.health.decodeFails,
		"tinyPayloads", in.health.tinyPayloads,
		"rollingRms", in.health.rollingRMS())
	in.escalate(reason, now)
	in.health.reset(now)
}

func (in *Ingest) escalate(reason string, now time.Time) {
	// A codec restart only makes sense on a transport that can renegotiate,
	// toward a codec we are not already on. Low RMS is a caller-side problem
	// a codec change cannot fix, and tiny payloads are normal for AMR-WB
	// where comfort-noise frames run a few bytes.
	canRestart := reason != ReasonLowRMS &&
		!(reason == ReasonTinyPayloads && in.codecName == internal_codec.CodecAMRWB) &&
		in.cfg.Transport == TransportPSTN &&
		in.hooks.OnRestartRequest != nil &&
		in.cfg.RestartCodec != "" &&
		in.cfg.RestartCodec != in.codecName &&
		in.restartAttempts < in.cfg.MaxRestartAttempts

	if canRestart {
		in.restartAttempts++
		if in.hooks.OnRestartRequest(in.codecName, in.cfg.RestartCodec) {
			in.logger.Infow("media stream restart requested",
				"from", in.codecName, "to", in.cfg.RestartCodec, "attempt", in.restartAttempts)
			return
		}
	}

	in.maybeReprompt(reason, now)
}

func (in *Ingest) maybeReprompt(reason string, now time.Time) {
	if in.hooks.OnReprompt == nil {
		return
	}
	if in.hooks.IsListening != nil && !in.hooks.IsListening() {
		return
	}
	if in.hooks.IsPlaybackActive != nil && in.hooks.IsPlaybackActive() {
		return
	}
	if now.Sub(in.lastReprompt) < repromptCooldown {
		return
	}
	if in.hooks.LastSpeechStart != nil {
		if ls := in.hooks.LastSpeechStart(); !ls.IsZero() && now.Sub(ls) < repromptSpeechGap {
			return
		}
	}
	if !in.lastDecodeOK.IsZero() && now.Sub(in.lastDecodeOK) < repromptDecodeGap {
		return
	}
	in.lastReprompt = now
	in.hooks.OnReprompt(reason)
}
