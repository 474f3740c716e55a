// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_stt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	internal_audio "github.com/voxbridgeai/api/bridge-api/internal/audio"
	"github.com/voxbridgeai/pkg/commons"
)

// Transcript sources.
const (
	SourcePartial = "partial"
	SourceFinal   = "final"
)

// DriverConfig tunes utterance segmentation.
type DriverConfig struct {
	SampleRateHz int
	// SilenceMs of sub-threshold audio after speech ends the utterance.
	SilenceMs int
	// PartialChunkMs issues an interim request every so often during a long
	// utterance; 0 disables partials.
	PartialChunkMs int
	// PreRollMs of audio kept before detection and prepended to the upload.
	PreRollMs int

	RMSThreshold  float64
	PeakThreshold float64
	StreakFrames  int

	// DebugDir, when set, receives a WAV copy of every finalized utterance.
	DebugDir string
}

func (c *DriverConfig) defaults() {
	if c.SampleRateHz <= 0 {
		c.SampleRateHz = 16000
	}
	if c.SilenceMs <= 0 {
		c.SilenceMs = 900
	}
	if c.PreRollMs <= 0 {
		c.PreRollMs = 300
	}
}

// Callbacks connect the driver to the owning call session. Only OnFinalResult
// is required. The Is* hooks gate ingestion; the driver itself never touches
// the transport.
type Callbacks struct {
	OnTranscript      func(text, source string)
	OnSpeechStart     func()
	OnUtteranceEnd    func()
	OnFinalResult     func(text string)
	OnSttRequestStart func()
	OnSttRequestEnd   func()
	IsListening       func() bool
	IsPlaybackActive  func() bool
}

// Driver consumes PCM16 chunks and segments them into utterances. PushChunk
// runs on the call worker; transcription requests run on short-lived
// goroutines with the in-flight counter bridging the two.
type Driver struct {
	logger commons.Logger
	cfg    DriverConfig
	client Client
	cbs    Callbacks

	vad       *vad
	preRoll   []byte
	utterance []byte
	// silentBytes accumulates sub-threshold audio since the last voiced
	// frame; compared against SilenceMs.
	silentBytes int
	// partialMark is the utterance length at the last partial request.
	partialMark int

	inFlight atomic.Int32
	dumpSeq  int

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDriver wires a driver; client may be nil (STT disabled), in which case
// segmentation still runs so speech events keep firing.
func NewDriver(logger commons.Logger, cfg DriverConfig, client Client, cbs Callbacks) *Driver {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		logger: logger,
		cfg:    cfg,
		client: client,
		cbs:    cbs,
		vad: newVAD(vadConfig{
			rmsThreshold:  cfg.RMSThreshold,
			peakThreshold: cfg.PeakThreshold,
			streakFrames:  cfg.StreakFrames,
		}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// InFlight reports the number of transcription requests currently pending.
func (d *Driver) InFlight() int { return int(d.inFlight.Load()) }

// PushChunk feeds one PCM16 chunk at the configured rate.
func (d *Driver) PushChunk(pcm []byte) {
	if d.cbs.IsPlaybackActive != nil && d.cbs.IsPlaybackActive() {
		return
	}
	if d.cbs.IsListening != nil && !d.cbs.IsListening() {
		return
	}

	samples := internal_audio.BytesToInt16(pcm)
	voiced, started := d.vad.observe(samples)

	if started {
		// Seed the utterance with the pre-roll so the leading phoneme
		// survives detection latency.
		d.utterance = append(d.utterance, d.preRoll...)
		d.preRoll = nil
		if d.cbs.OnSpeechStart != nil {
			d.cbs.OnSpeechStart()
		}
	}

	if !d.vad.inSpeech {
		d.bufferPreRoll(pcm)
		return
	}

	d.utterance = append(d.utterance, pcm...)

	if voiced {
		d.silentBytes = 0
	} else {
		d.silentBytes += len(pcm)
		if d.msOf(d.silentBytes) >= d.cfg.SilenceMs {
			d.finishUtterance()
			return
		}
	}

	if d.cfg.PartialChunkMs > 0 {
		since := d.msOf(len(d.utterance) - d.partialMark)
		if since >= d.cfg.PartialChunkMs {
			d.partialMark = len(d.utterance)
			d.transcribe(d.utterance, SourcePartial)
		}
	}
}

func (d *Driver) msOf(nbytes int) int {
	return nbytes * 1000 / (d.cfg.SampleRateHz * 2)
}

func (d *Driver) bufferPreRoll(pcm []byte) {
	d.preRoll = append(d.preRoll, pcm...)
	maxBytes := d.cfg.PreRollMs * d.cfg.SampleRateHz * 2 / 1000
	if len(d.preRoll) > maxBytes {
		d.preRoll = d.preRoll[len(d.preRoll)-maxBytes:]
	}
}

func (d *Driver) finishUtterance() {
	audio := d.utterance
	d.utterance = nil
	d.partialMark = 0
	d.silentBytes = 0
	d.vad.endUtterance()

	if d.cbs.OnUtteranceEnd != nil {
		d.cbs.OnUtteranceEnd()
	}
	d.transcribe(audio, SourceFinal)
}

// FinishNow force-ends any open utterance; used on hangup so trailing speech
// is not lost.
func (d *Driver) FinishNow() {
	if len(d.utterance) == 0 {
		return
	}
	d.finishUtterance()
}

func (d *Driver) transcribe(audio []byte, source string) {
	if d.client == nil || len(audio) == 0 {
		return
	}

	// Snapshot: the utterance buffer keeps growing while a partial request
	// is in flight.
	wav := internal_audio.CreateWAV(append([]byte(nil), audio...), d.cfg.SampleRateHz, 1)
	if d.cfg.DebugDir != "" && source == SourceFinal {
		d.dumpUtterance(wav)
	}

	d.inFlight.Add(1)
	if d.cbs.OnSttRequestStart != nil {
		d.cbs.OnSttRequestStart()
	}

	go func() {
		defer func() {
			d.inFlight.Add(-1)
			if d.cbs.OnSttRequestEnd != nil {
				d.cbs.OnSttRequestEnd()
			}
		}()

		text, err := d.client.Transcribe(d.ctx, wav)
		if err != nil {
			d.logger.Warnw("stt request failed", "source", source, "error", err)
			return
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		if d.cbs.OnTranscript != nil {
			d.cbs.OnTranscript(text, source)
		}
		if source == SourceFinal && d.cbs.OnFinalResult != nil {
			d.cbs.OnFinalResult(text)
		}
	}()
}

// dumpUtterance writes a debug WAV, best-effort.
func (d *Driver) dumpUtterance(wav []byte) {
	if err := os.MkdirAll(d.cfg.DebugDir, 0o755); err != nil {
		return
	}
	d.dumpSeq++
	name := filepath.Join(d.cfg.DebugDir, fmt.Sprintf("utt_%d_%d.wav", time.Now().UnixMilli(), d.dumpSeq))
	if err := os.WriteFile(name, wav, 0o644); err != nil {
		d.logger.Debugw("utterance dump failed", "path", name, "error", err)
	}
}

// Close cancels outstanding requests.
func (d *Driver) Close() {
	d.cancel()
}
