// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_aec

// Canceller removes the far-end reference from a near-end frame. Both
// slices are one 20 ms frame (320 samples); the return value has the same
// length as near.
type Canceller interface {
	Process(near, far []int16) []int16
	Reset()
}

const (
	// filterLen is the adaptive filter tail: 2560 samples = 160 ms at
	// 16 kHz, enough for typical carrier loopback delay.
	filterLen = 2560

	nlmsStep = 0.5
	nlmsEps  = 1e-6
)

// nlmsCanceller is a normalised LMS echo canceller. It keeps a sliding
// history of far-end samples and adapts one FIR weight per tap.
type nlmsCanceller struct {
	weights []float64
	history []float64
	// energy tracks ||history||² incrementally so each sample costs one
	// multiply-add instead of a full re-sum.
	energy float64
	pos    int
}

// NewNLMSCanceller returns a zeroed canceller.
func NewNLMSCanceller() Canceller {
	return &nlmsCanceller{
		weights: make([]float64, filterLen),
		history: make([]float64, filterLen),
	}
}

func (c *nlmsCanceller) Reset() {
	for i := range c.weights {
		c.weights[i] = 0
		c.history[i] = 0
	}
	c.energy = 0
	c.pos = 0
}

func (c *nlmsCanceller) Process(near, far []int16) []int16 {
	out := make([]int16, len(near))
	for i := range near {
		var f float64
		if i < len(far) {
			f = float64(far[i]) / 32768
		}

		// Slide the reference history.
		old := c.history[c.pos]
		c.energy += f*f - old*old
		if c.energy < 0 {
			c.energy = 0
		}
		c.history[c.pos] = f

		// Estimate the echo as the filter response over the history,
		// newest tap first.
		var est float64
		idx := c.pos
		for t := 0; t < filterLen; t++ {
			est += c.weights[t] * c.history[idx]
			idx--
			if idx < 0 {
				idx = filterLen - 1
			}
		}

		d := float64(near[i]) / 32768
		e := d - est

		// NLMS update.
		mu := nlmsStep / (nlmsEps + c.energy)
		idx = c.pos
		for t := 0; t < filterLen; t++ {
			c.weights[t] += mu * e * c.history[idx]
			idx--
			if idx < 0 {
				idx = filterLen - 1
			}
		}

		c.pos++
		if c.pos == filterLen {
			c.pos = 0
		}

		v := e * 32768
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// passthroughCanceller is used when echo cancellation is unavailable or
// disabled; it returns the near-end frame untouched.
type passthroughCanceller struct{}

func (passthroughCanceller) Process(near, _ []int16) []int16 { return near }
func (passthroughCanceller) Reset()                          {}
