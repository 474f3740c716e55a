// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_codec

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"

	internal_amrwb "github.com/voxbridgeai/api/bridge-api/internal/amrwb"
	internal_audio "github.com/voxbridgeai/api/bridge-api/internal/audio"
	"github.com/voxbridgeai/pkg/commons"
)

const (
	// DefaultAMRWBMinFrames is the buffered-frame threshold before a decode
	// is issued (10 × 20 ms ≈ 200 ms).
	DefaultAMRWBMinFrames = 10
	// DefaultAMRWBMaxBufferMs forces a decode even below the frame
	// threshold once this much audio is pending.
	DefaultAMRWBMaxBufferMs = 500

	amrwbFrameMs = 20
)

// AMRWBConfig tunes the buffered AMR-WB decoder.
type AMRWBConfig struct {
	MinFrames   int
	MaxBufferMs int
	// AllowOctet permits the octet-aligned fallback parse. Never effective
	// while a payload hint forces bandwidth-efficient.
	AllowOctet bool
	// StrictCarryover surfaces subprocess over-reads as errors.
	StrictCarryover bool
	// DebugDir, when set, receives the per-call selected-storage stream.
	DebugDir string
	// DecoderBinary overrides the subprocess executable (tests).
	DecoderBinary string
}

// amrwbDecoder accumulates storage frames until a decode threshold and runs
// them through the external subprocess in one batch. Consecutive identical
// speech frames (carrier replays) are dropped by content hash before they
// enter the buffer.
type amrwbDecoder struct {
	logger commons.Logger
	cfg    AMRWBConfig

	stream *internal_amrwb.StreamDecoder

	buffered     []internal_amrwb.Frame
	lastHash     [32]byte
	lastHashSet  bool
	parseErrOnce bool
}

// NewAMRWBDecoder builds the per-call buffered decoder.
func NewAMRWBDecoder(logger commons.Logger, cfg AMRWBConfig) Decoder {
	if cfg.MinFrames <= 0 {
		cfg.MinFrames = DefaultAMRWBMinFrames
	}
	if cfg.MaxBufferMs <= 0 {
		cfg.MaxBufferMs = DefaultAMRWBMaxBufferMs
	}
	var opts []internal_amrwb.StreamDecoderOption
	if cfg.StrictCarryover {
		opts = append(opts, internal_amrwb.WithStrictCarryover())
	}
	if cfg.DecoderBinary != "" {
		opts = append(opts, internal_amrwb.WithDecoderBinary(cfg.DecoderBinary))
	}
	return &amrwbDecoder{
		logger: logger,
		cfg:    cfg,
		stream: internal_amrwb.NewStreamDecoder(logger, opts...),
	}
}

func (d *amrwbDecoder) Name() Name { return CodecAMRWB }

func (d *amrwbDecoder) Decode(payload []byte, hints Hints) (*Result, error) {
	allowOctet := d.cfg.AllowOctet && !hints.ForceBE
	frames, err := internal_amrwb.Transcode(payload, hints.HasCMR, allowOctet)
	if err != nil {
		if hints.ForceBE {
			// Under the strict carrier policy a non-BE payload will never
			// decode; reject so ingest can disable or restart.
			return nil, rejected(err)
		}
		if !d.parseErrOnce {
			d.logger.Warnw("amrwb parse failed", "error", err, "payloadBytes", len(payload))
			d.parseErrOnce = true
		}
		return nil, failed(err)
	}

	for _, f := range frames {
		if f.IsSpeech() {
			h := sha256.Sum256(f.Data)
			if d.lastHashSet && h == d.lastHash {
				// Carrier replayed the previous speech frame.
				continue
			}
			d.lastHash = h
			d.lastHashSet = true
		}
		d.buffered = append(d.buffered, f)
	}

	maxFrames := d.cfg.MaxBufferMs / amrwbFrameMs
	if len(d.buffered) < d.cfg.MinFrames && len(d.buffered) < maxFrames {
		return nil, ErrBuffering
	}
	return d.drain()
}

// Flush decodes whatever is buffered, regardless of thresholds.
func (d *amrwbDecoder) Flush() (*Result, error) {
	if len(d.buffered) == 0 {
		return nil, nil
	}
	return d.drain()
}

func (d *amrwbDecoder) drain() (*Result, error) {
	frames := d.buffered
	d.buffered = nil

	storage := internal_amrwb.BEToStorage(frames)
	if d.cfg.DebugDir != "" {
		if tap := internal_audio.GlobalTap(); tap != nil {
			tap.AppendFrame(
				filepath.Join(d.cfg.DebugDir, "runtime_selected_storage.awb"),
				[]byte(internal_amrwb.StorageHeader),
				storage,
			)
		}
	}

	pcm, err := d.stream.DecodeFrames(storage, len(frames))
	if err != nil {
		return nil, failed(fmt.Errorf("amrwb subprocess: %w", err))
	}

	// Normalise to the exact frame-dictated length: trim near-zero lead-in
	// when over, zero-pad when under.
	want := len(frames) * internal_amrwb.SamplesPerFrame * 2
	if len(pcm) > want {
		pcm = internal_audio.TrimLeadingNearZero(pcm, want)
	}
	pcm = internal_audio.PadToLength(pcm, want)

	speechSamples := 0
	for _, f := range frames {
		if f.IsSpeech() {
			speechSamples += internal_amrwb.SamplesPerFrame
		}
	}

	return &Result{
		PCM16:         pcm,
		SampleRateHz:  16000,
		DecodedFrames: len(frames),
		SpeechSamples: speechSamples,
	}, nil
}

func (d *amrwbDecoder) Close() error {
	return d.stream.Close()
}
