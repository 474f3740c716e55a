// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package utils

// AverageFloat32 returns the arithmetic mean of the input, 0 for empty input.
func AverageFloat32(values []float32) float32 {
	if len(values) == 0 {
		return 0
	}
	var sum float32
	for _, v := range values {
		sum += v
	}
	return sum / float32(len(values))
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
