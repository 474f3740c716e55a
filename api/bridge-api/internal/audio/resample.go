// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_audio

// ResampleLinear converts PCM16 samples between arbitrary rates using linear
// interpolation. Used for the telephony 8 kHz → 16 kHz upsample path.
func ResampleLinear(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(samples)) / ratio)
	out := make([]int16, outLen)
	for i := 0; i < outLen; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		if idx+1 < len(samples) {
			a := float64(samples[idx])
			b := float64(samples[idx+1])
			out[i] = int16(a + (b-a)*frac)
		} else {
			out[i] = samples[len(samples)-1]
		}
	}
	return out
}

// Downsample48To16 averages each group of three 48 kHz samples into one
// 16 kHz sample. The 3:1 averaging doubles as a crude low-pass filter.
func Downsample48To16(samples []int16) []int16 {
	outLen := len(samples) / 3
	out := make([]int16, outLen)
	for i := 0; i < outLen; i++ {
		sum := int(samples[i*3]) + int(samples[i*3+1]) + int(samples[i*3+2])
		out[i] = int16(sum / 3)
	}
	return out
}

// DownmixStereo averages interleaved stereo samples into mono.
func DownmixStereo(samples []int16) []int16 {
	out := make([]int16, len(samples)/2)
	for i := range out {
		out[i] = int16((int(samples[i*2]) + int(samples[i*2+1])) / 2)
	}
	return out
}

// HighPass applies a first-order pre-emphasis filter (y[n] = x[n] - a*x[n-1])
// to reduce low-frequency rumble on the telephony playback path.
func HighPass(samples []int16, coeff float64) []int16 {
	if len(samples) == 0 {
		return samples
	}
	out := make([]int16, len(samples))
	out[0] = samples[0]
	for i := 1; i < len(samples); i++ {
		v := float64(samples[i]) - coeff*float64(samples[i-1])
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}
