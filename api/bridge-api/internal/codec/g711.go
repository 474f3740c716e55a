// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_codec

import (
	"fmt"

	"github.com/zaf/g711"

	internal_audio "github.com/voxbridgeai/api/bridge-api/internal/audio"
)

// g711Decoder handles µ-law and A-law. Both are 8 kHz on the wire; output is
// upsampled to the target rate by linear interpolation.
type g711Decoder struct {
	noopFlush
	name       Name
	targetRate int
}

// NewG711Decoder returns a µ-law or A-law decoder emitting targetRate PCM16.
func NewG711Decoder(name Name, targetRate int) (Decoder, error) {
	if name != CodecPCMU && name != CodecPCMA {
		return nil, fmt.Errorf("codec: %s is not a g711 variant", name)
	}
	return &g711Decoder{name: name, targetRate: targetRate}, nil
}

func (d *g711Decoder) Name() Name { return d.name }

func (d *g711Decoder) Decode(payload []byte, hints Hints) (*Result, error) {
	if len(payload) == 0 {
		return nil, failed(fmt.Errorf("empty payload"))
	}

	var lpcm []byte
	if d.name == CodecPCMU {
		lpcm = g711.DecodeUlaw(payload)
	} else {
		lpcm = g711.DecodeAlaw(payload)
	}

	sourceRate := hints.SourceRateHz
	if sourceRate == 0 {
		sourceRate = 8000
	}

	samples := internal_audio.BytesToInt16(lpcm)
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
