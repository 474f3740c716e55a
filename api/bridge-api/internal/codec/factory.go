// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_codec

import (
	"fmt"

	internal_audio "github.com/voxbridgeai/api/bridge-api/internal/audio"
	"github.com/voxbridgeai/pkg/commons"
)

// FactoryConfig carries everything a per-call decoder may need.
type FactoryConfig struct {
	TargetRateHz int
	AMRWB        AMRWBConfig
}

// NewDecoder builds a fresh stateful decoder for one call leg.
func NewDecoder(logger commons.Logger, name Name, cfg FactoryConfig) (Decoder, error) {
	if cfg.TargetRateHz <= 0 {
		cfg.TargetRateHz = 16000
	}
	switch name {
	case CodecPCMU, CodecPCMA:
		return NewG711Decoder(name, cfg.TargetRateHz)
	case CodecG722:
		return NewG722Decoder(), nil
	case CodecOpus:
		return NewOpusDecoder(cfg.TargetRateHz)
	case CodecAMRWB:
		return NewAMRWBDecoder(logger, cfg.AMRWB), nil
	case CodecL16:
		return newL16Decoder(cfg.TargetRateHz), nil
	default:
		return nil, fmt.Errorf("codec: unsupported codec %q", name)
	}
}

// l16Decoder passes linear PCM through, resampling if the declared source
// rate differs from the target.
type l16Decoder struct {
	noopFlush
	targetRate int
}

func newL16Decoder(targetRate int) Decoder {
	return &l16Decoder{targetRate: targetRate}
}

func (d *l16Decoder) Name() Name { return CodecL16 }

func (d *l16Decoder) Decode(payload []byte, hints Hints) (*Result, error) {
	if len(payload) < 2 {
		return nil, failed(fmt.Errorf("short payload: %d bytes", len(payload)))
	}
	if len(payload)%2 != 0 {
		payload = payload[:len(payload)-1]
	}

	sourceRate := hints.SourceRateHz
	if sourceRate == 0 {
		sourceRate = d.targetRate
	}

	samples := internal_audio.BytesToInt16(payload)
	if sourceRate != d.targetRate {
		samples = internal_audio.ResampleLinear(samples, sourceRate, d.targetRate)
	}

	return &Result{
		PCM16:         internal_audio.Int16ToBytes(samples),
		SampleRateHz:  d.targetRate,
		DecodedFrames: 1,
		SpeechSamples: len(samples),
	}, nil
}
