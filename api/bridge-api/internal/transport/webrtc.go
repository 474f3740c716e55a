// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/rtp"
	pionwebrtc "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	opus "gopkg.in/hraban/opus.v2"

	internal_audio "github.com/voxbridgeai/api/bridge-api/internal/audio"
	"github.com/voxbridgeai/pkg/commons"
)

const (
	opusSampleRate = 48000
	opusChannels   = 1
	// opusFrameBytes is 20 ms of 48 kHz mono PCM16.
	opusFrameBytes   = 960 * 2
	rtpBufferSize    = 1500
	maxReadErrors    = 25
	outputPaceMs     = 20
	outputQueueDepth = 2048
)

// WebRTCConfig wires one browser call.
type WebRTCConfig struct {
	SessionID  string
	ICEServers []pionwebrtc.ICEServer
	// TargetRateHz is the rate inbound audio is delivered at (default 16000).
	TargetRateHz int
}

// webrtcSession is the HD browser transport: Opus both ways over a pion
// peer connection. Inbound packets are decoded and downsampled before the
// inbound callback; outbound WAVs are upsampled, Opus-encoded and paced
// onto the local track at 20 ms real time.
type webrtcSession struct {
	logger commons.Logger
	cfg    WebRTCConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	pc              *pionwebrtc.PeerConnection
	localTrack      *pionwebrtc.TrackLocalStaticSample
	encoder         *opus.Encoder
	onInbound       func([]byte)
	onPlaybackEnded func(string)
	stopped         bool

	// pending holds queued 20 ms 48 kHz PCM frames awaiting pacing; drained
	// by the writer loop, cleared wholesale on StopPlayback.
	pendingCh chan []byte
	flushCh   chan struct{}
}

// NewWebRTCSession answers a browser offer and returns the transport plus
// the SDP answer for the signalling response.
func NewWebRTCSession(logger commons.Logger, cfg WebRTCConfig, offer pionwebrtc.SessionDescription) (Session, *pionwebrtc.SessionDescription, error) {
	if cfg.TargetRateHz <= 0 {
		cfg.TargetRateHz = 16000
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &webrtcSession{
		logger:    logger,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		pendingCh: make(chan []byte, outputQueueDepth),
		flushCh:   make(chan struct{}, 1),
	}

	answer, err := s.negotiate(offer)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	go s.runOutputWriter()
	return s, answer, nil
}

func (s *webrtcSession) negotiate(offer pionwebrtc.SessionDescription) (*pionwebrtc.SessionDescription, error) {
	mediaEngine := &pionwebrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(pionwebrtc.RTPCodecParameters{
		RTPCodecCapability: pionwebrtc.RTPCodecCapability{
			MimeType:  pionwebrtc.MimeTypeOpus,
			ClockRate: opusSampleRate,
			Channels:  2,
		},
		PayloadType: 111,
	}, pionwebrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("transport: register opus: %w", err)
	}

	api := pionwebrtc.NewAPI(pionwebrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(pionwebrtc.Configuration{ICEServers: s.cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("transport: peer connection: %w", err)
	}
	s.pc = pc

	track, err := pionwebrtc.NewTrackLocalStaticSample(
		pionwebrtc.RTPCodecCapability{
			MimeType:  pionwebrtc.MimeTypeOpus,
			ClockRate: opusSampleRate,
			Channels:  opusChannels,
		},
		"audio",
		"voxbridge-audio",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("transport: local track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, fmt.Errorf("transport: add track: %w", err)
	}
	s.localTrack = track

	enc, err := opus.NewEncoder(opusSampleRate, opusChannels, opus.AppVoIP)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("transport: opus encoder: %w", err)
	}
	s.encoder = enc

	pc.OnTrack(func(track *pionwebrtc.TrackRemote, _ *pionwebrtc.RTPReceiver) {
		if track.Kind() != pionwebrtc.RTPCodecTypeAudio {
			return
		}
		s.logger.Infow("remote audio track received",
			"session", s.cfg.SessionID, "codec", track.Codec().MimeType)
		go s.readRemoteAudio(track)
	})
	pc.OnConnectionStateChange(func(state pionwebrtc.PeerConnectionState) {
		s.logger.Infow("peer connection state changed",
			"session", s.cfg.SessionID, "state", state.String())
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("transport: set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("transport: create answer: %w", err)
	}

	// Non-trickle signalling: wait for candidate gathering so the answer is
	// complete when the HTTP response goes out.
	gatherDone := pionwebrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("transport: set local description: %w", err)
	}
	<-gatherDone

	return pc.LocalDescription(), nil
}

func (s *webrtcSession) AudioInput() AudioInput {
	return AudioInput{Codec: "OPUS", SampleRateHz: s.cfg.TargetRateHz}
}

func (s *webrtcSession) OnInbound(fn func([]byte)) {
	s.mu.Lock()
	s.onInbound = fn
	s.mu.Unlock()
}

func (s *webrtcSession) OnPlaybackEnded(fn func(string)) {
	s.mu.Lock()
	s.onPlaybackEnded = fn
	s.mu.Unlock()
}

func (s *webrtcSession) Start(ctx context.Context) error { return nil }

// readRemoteAudio decodes the caller's Opus packets to PCM16 at the target
// rate and hands them to the inbound callback.
func (s *webrtcSession) readRemoteAudio(track *pionwebrtc.TrackRemote) {
	dec, err := opus.NewDecoder(opusSampleRate, 2)
	if err != nil {
		s.logger.Errorw("opus decoder init failed", "error", err)
		return
	}
	pcmBuf := make([]int16, 5760*2)
	buf := make([]byte, rtpBufferSize)
	readErrors := 0

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			readErrors++
			if readErrors >= maxReadErrors {
				s.logger.Errorw("too many track read errors, stopping reader", "lastError", err)
				return
			}
			continue
		}
		readErrors = 0

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil || len(pkt.Payload) == 0 {
			continue
		}

		samples, err := dec.Decode(pkt.Payload, pcmBuf)
		if err != nil {
			s.logger.Debugw("opus decode failed", "error", err, "payloadSize", len(pkt.Payload))
			continue
		}

		mono := internal_audio.DownmixStereo(pcmBuf[:samples*2])
		if s.cfg.TargetRateHz == 16000 {
			mono = internal_audio.Downsample48To16(mono)
		} else if s.cfg.TargetRateHz != opusSampleRate {
			mono = internal_audio.ResampleLinear(mono, opusSampleRate, s.cfg.TargetRateHz)
		}

		s.mu.Lock()
		fn := s.onInbound
		s.mu.Unlock()
		if fn != nil {
			fn(internal_audio.Int16ToBytes(mono))
		}
	}
}

// Play queues a synthesized WAV for paced playback on the local track.
func (s *webrtcSession) Play(ctx context.Context, turnID string, wav []byte) error {
	pcmIn, info, err := internal_audio.DecodeWAV(wav)
	if err != nil {
		return fmt.Errorf("transport: playback wav rejected: %w", err)
	}

	samples := internal_audio.BytesToInt16(pcmIn)
	if rate := int(info.SampleRate); rate != opusSampleRate {
		samples = internal_audio.ResampleLinear(samples, rate, opusSampleRate)
	}
	pcm := internal_audio.Int16ToBytes(samples)

	queued := 0
	for off := 0; off < len(pcm); off += opusFrameBytes {
		end := off + opusFrameBytes
		var frame []byte
		if end <= len(pcm) {
			frame = pcm[off:end]
		} else {
			frame = internal_audio.PadToLength(pcm[off:], opusFrameBytes)
		}
		select {
		case s.pendingCh <- frame:
			queued++
		default:
			s.logger.Warnw("playback queue full, dropping tail",
				"session", s.cfg.SessionID, "queuedFrames", queued)
			return nil
		}
	}
	// A sentinel marks the segment boundary so completion can be reported
	// once the last frame has actually been paced out.
	select {
	case s.pendingCh <- nil:
	default:
	}
	return nil
}

// runOutputWriter paces one 20 ms frame per tick onto the local track and
// reports playback completion when a segment sentinel drains.
func (s *webrtcSession) runOutputWriter() {
	ticker := time.NewTicker(outputPaceMs * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-s.flushCh:
			for {
				select {
				case <-s.pendingCh:
				default:
					goto flushed
				}
			}
		flushed:
			s.notifyPlaybackEnded(PlaybackEndTransport)

		case <-ticker.C:
			select {
			case frame := <-s.pendingCh:
				if frame == nil {
					s.notifyPlaybackEnded(PlaybackEndTransport)
					continue
				}
				s.writeFrame(frame)
			default:
			}
		}
	}
}

func (s *webrtcSession) writeFrame(pcm []byte) {
	s.mu.Lock()
	track := s.localTrack
	enc := s.encoder
	s.mu.Unlock()
	if track == nil || enc == nil {
		return
	}

	encoded := make([]byte, 1275)
	n, err := enc.Encode(internal_audio.BytesToInt16(pcm), encoded)
	if err != nil {
		s.logger.Debugw("opus encode failed", "error", err)
		return
	}
	if err := track.WriteSample(media.Sample{
		Data:     encoded[:n],
		Duration: outputPaceMs * time.Millisecond,
	}); err != nil {
		s.logger.Debugw("track write failed", "error", err)
	}
}

func (s *webrtcSession) notifyPlaybackEnded(source string) {
	s.mu.Lock()
	fn := s.onPlaybackEnded
	s.mu.Unlock()
	if fn != nil {
		fn(source)
	}
}

// StopPlayback discards every queued frame; used on barge-in.
func (s *webrtcSession) StopPlayback(ctx context.Context) error {
	select {
	case s.flushCh <- struct{}{}:
	default:
	}
	return nil
}

// Hangup has no carrier leg on WebRTC; closing the peer connection is the
// hangup.
func (s *webrtcSession) Hangup(ctx context.Context) error {
	return s.Stop(ctx)
}

func (s *webrtcSession) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	pc := s.pc
	s.pc = nil
	s.localTrack = nil
	s.mu.Unlock()

	s.cancel()
	if pc != nil {
		return pc.Close()
	}
	return nil
}
