// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_ingest

import "time"

// Unhealthy reasons reported by the health window.
const (
	ReasonDecodeFailures = "decode_failures"
	ReasonTinyPayloads   = "tiny_payloads"
	ReasonLowRMS         = "low_rms"
)

const (
	healthMinFrames   = 10
	healthMinWindow   = time.Second
	healthMaxFailures = 5
	healthMaxTiny     = 10
	healthMinChunks   = 10
	healthRMSFloor    = 0.001
)

// healthWindow accumulates per-window ingest counters and decides when the
// stream is unhealthy. The window resets after every verdict so one bad
// stretch cannot trigger repeated escalations.
type healthWindow struct {
	started       time.Time
	totalFrames   int
	decodedFrames int
	emittedChunks int
	silentFrames  int
	tinyPayloads  int
	decodeFails   int
	rmsSum        float64
	rmsCount      int
}

func newHealthWindow(now time.Time) *healthWindow {
	return &healthWindow{started: now}
}

func (h *healthWindow) rollingRMS() float64 {
	if h.rmsCount == 0 {
		return 0
	}
	return h.rmsSum / float64(h.rmsCount)
}

// verdict returns an unhealthy reason, or "" while the stream looks fine or
// the window has not matured yet.
func (h *healthWindow) verdict(now time.Time) string {
	if h.totalFrames < healthMinFrames || now.Sub(h.started) < healthMinWindow {
		return ""
	}
	switch {
	case h.decodeFails >= healthMaxFailures:
		return ReasonDecodeFailures
	case h.tinyPayloads >= healthMaxTiny:
		return ReasonTinyPayloads
	case h.emittedChunks >= healthMinChunks && h.rollingRMS() < healthRMSFloor:
		return ReasonLowRMS
	default:
		return ""
	}
}

func (h *healthWindow) reset(now time.Time) {
	*h = healthWindow{started: now}
}
