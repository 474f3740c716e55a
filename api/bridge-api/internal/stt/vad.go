// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_stt drives speech-to-text over validated PCM16 chunks:
// energy-based voice activity detection, utterance segmentation and the
// HTTP transcription requests.
package internal_stt

import (
	internal_audio "github.com/voxbridgeai/api/bridge-api/internal/audio"
)

const (
	defaultRMSThreshold  = 0.015
	defaultPeakThreshold = 0.05
	defaultStreakFrames  = 3
)

// vadConfig tunes the energy detector.
type vadConfig struct {
	rmsThreshold  float64
	peakThreshold float64
	streakFrames  int
}

func (c *vadConfig) defaults() {
	if c.rmsThreshold <= 0 {
		c.rmsThreshold = defaultRMSThreshold
	}
	if c.peakThreshold <= 0 {
		c.peakThreshold = defaultPeakThreshold
	}
	if c.streakFrames <= 0 {
		c.streakFrames = defaultStreakFrames
	}
}

// vad is a streak-based energy detector. A frame is "voiced" when either
// its RMS or its peak clears the threshold; speech starts after streakFrames
// consecutive voiced frames.
type vad struct {
	cfg      vadConfig
	streak   int
	inSpeech bool
}

func newVAD(cfg vadConfig) *vad {
	cfg.defaults()
	return &vad{cfg: cfg}
}

// observe classifies one frame. speechStart is true exactly once per
// utterance, on the frame that completes the streak.
func (v *vad) observe(samples []int16) (voiced, speechStart bool) {
	rms := internal_audio.RMS(samples)
	peak := internal_audio.Peak(samples)
	voiced = rms >= v.cfg.rmsThreshold || peak >= v.cfg.peakThreshold

	if !voiced {
		v.streak = 0
		return false, false
	}

	v.streak++
	if !v.inSpeech && v.streak >= v.cfg.streakFrames {
		v.inSpeech = true
		return true, true
	}
	return true, false
}

// endUtterance arms the detector for the next utterance.
func (v *vad) endUtterance() {
	v.inSpeech = false
	v.streak = 0
}
