// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_audio

import (
	"encoding/binary"
	"math"
)

// BytesToInt16 reinterprets little-endian PCM16 bytes as samples. A trailing
// odd byte is ignored.
func BytesToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
	}
	return samples
}

// Int16ToBytes serialises samples as little-endian PCM16 bytes.
func Int16ToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:i*2+2], uint16(s))
	}
	return data
}

// RMS computes the root-mean-square of PCM16 samples normalised to [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Peak returns the maximum absolute sample normalised to [0, 1].
func Peak(samples []int16) float64 {
	var peak float64
	for _, s := range samples {
		f := math.Abs(float64(s)) / 32768.0
		if f > peak {
			peak = f
		}
	}
	return peak
}

// TrimLeadingNearZero drops leading bytes whose samples are near-silent until
// the buffer fits target length. Used to normalise over-length decoder output
// without cutting into speech.
func TrimLeadingNearZero(pcm []byte, targetLen int) []byte {
	if len(pcm) <= targetLen {
		return pcm
	}
	excess := len(pcm) - targetLen
	// Only trim whole samples.
	excess -= excess % 2
	trimmed := 0
	for trimmed < excess {
		s := int16(binary.LittleEndian.Uint16(pcm[trimmed : trimmed+2]))
		if s > 16 || s < -16 {
			break
		}
		trimmed += 2
	}
	out := pcm[trimmed:]
	if len(out) > targetLen {
		out = out[:targetLen]
	}
	return out
}

// PadToLength zero-pads under-length PCM to the target byte length.
func PadToLength(pcm []byte, targetLen int) []byte {
	if len(pcm) >= targetLen {
		return pcm
	}
	out := make([]byte, targetLen)
	copy(out, pcm)
	return out
}
