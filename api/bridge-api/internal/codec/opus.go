// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_codec

import (
	"bytes"
	"fmt"

	opus "gopkg.in/hraban/opus.v2"

	internal_audio "github.com/voxbridgeai/api/bridge-api/internal/audio"
)

const (
	opusDecodeRate = 48000
	// opusMaxFrameSamples covers the 120 ms maximum Opus frame at 48 kHz,
	// stereo interleaved.
	opusMaxFrameSamples = 5760 * 2
)

// opusDecoder decodes packet-level Opus at 48 kHz stereo, downmixes to mono,
// and averages 3:1 down to 16 kHz when that is the target.
type opusDecoder struct {
	noopFlush
	dec        *opus.Decoder
	targetRate int
	buf        []int16
}

// NewOpusDecoder builds a per-call Opus decoder.
func NewOpusDecoder(targetRate int) (Decoder, error) {
	dec, err := opus.NewDecoder(opusDecodeRate, 2)
	if err != nil {
		return nil, fmt.Errorf("codec: opus init failed: %w", err)
	}
	return &opusDecoder{
		dec:        dec,
		targetRate: targetRate,
		buf:        make([]int16, opusMaxFrameSamples),
	}, nil
}

func (d *opusDecoder) Name() Name { return CodecOpus }

func (d *opusDecoder) Decode(payload []byte, hints Hints) (*Result, error) {
	if len(payload) == 0 {
		return nil, failed(fmt.Errorf("empty payload"))
	}
	// An Ogg container here means the sender is shipping files, not packets;
	// no amount of retrying will decode it.
	if bytes.HasPrefix(payload, []byte("OggS")) {
		return nil, rejected(fmt.Errorf("ogg container detected, expected raw opus packets"))
	}

	n, err := d.dec.Decode(payload, d.buf)
	if err != nil {
		return nil, failed(fmt.Errorf("opus decode: %w", err))
	}

	mono := internal_audio.DownmixStereo(d.buf[:n*2])
	if d.targetRate == 16000 {
		mono = internal_audio.Downsample48To16(mono)
	} else if d.targetRate != opusDecodeRate {
		mono = internal_audio.ResampleLinear(mono, opusDecodeRate, d.targetRate)
	}

	return &Result{
		PCM16:         internal_audio.Int16ToBytes(mono),
		SampleRateHz:  d.targetRate,
		DecodedFrames: 1,
		SpeechSamples: len(mono),
	}, nil
}
