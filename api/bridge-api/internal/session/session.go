// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_session holds the per-call state machine and the
// cross-call manager. A call session owns its ingest pipeline, AEC state,
// STT driver and transport; everything it mutates is guarded by one
// per-call lock so the pipeline behaves as if single-threaded.
package internal_session

import (
	"context"
	"strings"
	"sync"
	"time"

	internal_aec "github.com/voxbridgeai/api/bridge-api/internal/aec"
	internal_ingest "github.com/voxbridgeai/api/bridge-api/internal/ingest"
	internal_llm "github.com/voxbridgeai/api/bridge-api/internal/llm"
	internal_stt "github.com/voxbridgeai/api/bridge-api/internal/stt"
	internal_transport "github.com/voxbridgeai/api/bridge-api/internal/transport"
	internal_tts "github.com/voxbridgeai/api/bridge-api/internal/tts"
	"github.com/voxbridgeai/pkg/commons"
)

// ============================================================================
// States
// ============================================================================

// State is the call lifecycle position.
type State string

const (
	StateInit      State = "INIT"
	StateAnswered  State = "ANSWERED"
	StateListening State = "LISTENING"
	StateThinking  State = "THINKING"
	StateSpeaking  State = "SPEAKING"
	StateEnded     State = "ENDED"
)

// Default prompts and timings.
const (
	defaultWatchdogMs       = 8000
	defaultDeadAirMs        = 9000
	defaultNoFramesMs       = 4000
	defaultLateFinalGraceMs = 1500
	listeningGraceMs        = 1200
	speechStartGraceMs      = 1500

	// Post-playback grace growth per completed bot turn, bounded by MaxMs.
	postPlaybackGrowthMs = 250

	defaultRepromptText      = "Are you still there?"
	ingestFailureText        = "I'm having trouble hearing you. Please try again."
	defaultGreeting          = "Hello! How can I help you today?"
	sentenceBoundaryRunes    = ".!?"
	defaultFirstSegmentChars = 40
	defaultNextSegmentChars  = 120
)

// Config describes one call.
type Config struct {
	CallID   string
	TenantID string
	From     string
	To       string

	// TransportMode is pstn or webrtc_hd; it decides playback-end authority
	// and TTS segmentation.
	TransportMode string

	Greeting     string
	RepromptText string
	SystemPrompt string

	WatchdogMs       int
	DeadAirMs        int
	DeadAirNoFrames  int
	LateFinalGraceMs int

	// Post-playback STT grace: Fixed wins when positive, otherwise
	// min(MinMs + growth, MaxMs).
	PostPlaybackGraceFixedMs int
	PostPlaybackGraceMinMs   int
	PostPlaybackGraceMaxMs   int

	// SegmentationEnabled splits replies into TTS segments (WebRTC only;
	// forced off on PSTN).
	SegmentationEnabled  bool
	FirstSegmentMinChars int
	NextSegmentMinChars  int
}

func (c *Config) defaults() {
	if c.Greeting == "" {
		c.Greeting = defaultGreeting
	}
	if c.RepromptText == "" {
		c.RepromptText = defaultRepromptText
	}
	if c.WatchdogMs <= 0 {
		c.WatchdogMs = defaultWatchdogMs
	}
	if c.DeadAirMs <= 0 {
		c.DeadAirMs = defaultDeadAirMs
	}
	if c.DeadAirNoFrames <= 0 {
		c.DeadAirNoFrames = defaultNoFramesMs
	}
	if c.LateFinalGraceMs <= 0 {
		c.LateFinalGraceMs = defaultLateFinalGraceMs
	}
	if c.PostPlaybackGraceMinMs <= 0 {
		c.PostPlaybackGraceMinMs = 300
	}
	if c.PostPlaybackGraceMaxMs <= 0 {
		c.PostPlaybackGraceMaxMs = 1200
	}
	if c.FirstSegmentMinChars <= 0 {
		c.FirstSegmentMinChars = defaultFirstSegmentChars
	}
	if c.NextSegmentMinChars <= 0 {
		c.NextSegmentMinChars = defaultNextSegmentChars
	}
	if c.TransportMode == internal_ingest.TransportPSTN {
		c.SegmentationEnabled = false
	}
}

// Metrics are per-call counters surfaced at teardown.
type Metrics struct {
	Turns        int
	STTFailures  int
	LLMFailures  int
	TTSFailures  int
	BargeIns     int
	Reprompts    int
	LateFinals   int
	WatchdogEnds int
}

// Session is one call. All mutable state is guarded by mu; timer callbacks
// and STT goroutines re-enter through exported/internal methods that lock.
type Session struct {
	logger commons.Logger
	cfg    Config

	transport internal_transport.Session
	ingest    *internal_ingest.Ingest
	stt       Transcriber
	aecProc   *internal_aec.Processor
	llm       internal_llm.Client
	tts       internal_tts.Client

	mu     sync.Mutex
	state  State
	active bool

	history     []internal_llm.Turn
	transcripts []string
	metrics     Metrics

	// Playback state.
	playbackActive      bool
	playbackInterrupted bool
	watchdog            *time.Timer
	ttsQueue            []string
	currentTurnID       int

	// Turn policy.
	utteranceAccepted bool
	latestPartial     string
	deferredFinal     string

	// Listening-side clocks.
	enteredListeningAt time.Time
	lastSpeechStartAt  time.Time
	lastMediaAt        time.Time
	lastActivityAt     time.Time
	postPlaybackUntil  time.Time
	completedTurns     int

	deadAir *time.Timer

	// Hangup / late-final grace.
	hangupGrace  *time.Timer
	awaitingLate bool
	tornDown     bool
	onTeardown   func(reason string)

	now func() time.Time
}

// Transcriber is what the session needs from the utterance driver.
type Transcriber interface {
	PushChunk(pcm []byte)
	InFlight() int
	Close()
}

// Deps are the collaborators a session is built from.
type Deps struct {
	Transport internal_transport.Session
	Ingest    *internal_ingest.Ingest
	STT       Transcriber
	AEC       *internal_aec.Processor
	LLM       internal_llm.Client
	TTS       internal_tts.Client
	// OnTeardown fires exactly once when the session is finished with
	// itself; the manager releases capacity there.
	OnTeardown func(reason string)
}

// New assembles a session; Start wires and begins the call.
func New(logger commons.Logger, cfg Config, deps Deps) *Session {
	cfg.defaults()
	s := &Session{
		logger:     logger,
		cfg:        cfg,
		transport:  deps.Transport,
		ingest:     deps.Ingest,
		stt:        deps.STT,
		aecProc:    deps.AEC,
		llm:        deps.LLM,
		tts:        deps.TTS,
		state:      StateInit,
		active:     true,
		onTeardown: deps.OnTeardown,
		now:        time.Now,
	}
	s.lastActivityAt = s.now()
	return s
}

// ============================================================================
// Lifecycle
// ============================================================================

// BindIngest attaches the ingest pipeline after construction; ingest hooks
// point back at the session, so the two are built in sequence.
func (s *Session) BindIngest(in *internal_ingest.Ingest) {
	s.mu.Lock()
	s.ingest = in
	s.mu.Unlock()
}

// BindSTT attaches the utterance driver after construction.
func (s *Session) BindSTT(d Transcriber) {
	s.mu.Lock()
	s.stt = d
	s.mu.Unlock()
}

// Start wires the transport callbacks and answers the call.
func (s *Session) Start(ctx context.Context) error {
	s.transport.OnInbound(s.handleInbound)
	s.transport.OnPlaybackEnded(s.HandlePlaybackEnded)
	if err := s.transport.Start(ctx); err != nil {
		return err
	}
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the session still owns live resources.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// LastActivity is used by the idle sweeper.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

// MetricsSnapshot returns a copy of the per-call counters.
func (s *Session) MetricsSnapshot() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// History returns a copy of the conversation so far.
func (s *Session) History() []internal_llm.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]internal_llm.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// HandleAnswered moves INIT to ANSWERED and speaks the greeting.
func (s *Session) HandleAnswered() {
	s.mu.Lock()
	if s.state != StateInit {
		s.mu.Unlock()
		return
	}
	s.state = StateAnswered
	s.touchLocked()
	greeting := s.cfg.Greeting
	s.mu.Unlock()

	s.logger.Infow("call answered", "callId", s.cfg.CallID)
	s.speak(greeting, false)
}

// HandleHangup moves any state to ENDED. With STT in flight a grace window
// opens for a late final; otherwise teardown is immediate.
func (s *Session) HandleHangup(reason string) {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	s.state = StateEnded
	s.active = false
	s.stopTimersLocked()

	inFlight := s.stt != nil && s.stt.InFlight() > 0
	if inFlight && !s.awaitingLate {
		s.awaitingLate = true
		grace := time.Duration(s.cfg.LateFinalGraceMs) * time.Millisecond
		s.hangupGrace = time.AfterFunc(grace, func() { s.finishTeardown("late_final_grace_expired") })
		s.mu.Unlock()
		s.logger.Infow("hangup with stt in flight, arming late-final grace",
			"callId", s.cfg.CallID, "graceMs", s.cfg.LateFinalGraceMs)
		return
	}
	s.mu.Unlock()
	s.finishTeardown(reason)
}

// finishTeardown runs the teardown callback exactly once.
func (s *Session) finishTeardown(reason string) {
	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		return
	}
	s.tornDown = true
	s.state = StateEnded
	s.active = false
	s.stopTimersLocked()
	if s.hangupGrace != nil {
		s.hangupGrace.Stop()
		s.hangupGrace = nil
	}
	cb := s.onTeardown
	metrics := s.metrics
	s.mu.Unlock()

	if s.stt != nil {
		s.stt.Close()
	}
	if s.ingest != nil {
		s.ingest.Close()
	}

	s.logger.Infow("session finished",
		"callId", s.cfg.CallID,
		"reason", reason,
		"turns", metrics.Turns,
		"bargeIns", metrics.BargeIns,
		"lateFinals", metrics.LateFinals)
	if cb != nil {
		cb(reason)
	}
}

func (s *Session) stopTimersLocked() {
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	if s.deadAir != nil {
		s.deadAir.Stop()
		s.deadAir = nil
	}
}

func (s *Session) touchLocked() {
	s.lastActivityAt = s.now()
}

// ============================================================================
// Media path
// ============================================================================

// handleInbound receives raw transport frames: carrier JSON on PSTN, PCM16
// on WebRTC.
func (s *Session) handleInbound(frame []byte) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.lastMediaAt = s.now()
	s.touchLocked()
	s.mu.Unlock()

	if s.cfg.TransportMode == internal_ingest.TransportPSTN {
		s.ingest.HandleCarrierFrame(frame)
	} else {
		s.ingest.PushPCM(frame, 16000)
	}
}

// HandleChunk is the ingest OnChunk callback: AEC then STT.
func (s *Session) HandleChunk(pcm []byte, rateHz int) {
	if s.aecProc != nil && rateHz == 16000 {
		pcm = s.aecProc.ProcessNearEnd(pcm)
		if len(pcm) == 0 {
			return
		}
	}
	if s.stt != nil {
		s.stt.PushChunk(pcm)
	}
}

// IsListening gates the STT driver and the reprompt paths.
func (s *Session) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isListeningLocked()
}

func (s *Session) isListeningLocked() bool {
	if s.state != StateListening || s.playbackActive {
		return false
	}
	return !s.now().Before(s.postPlaybackUntil)
}

// IsPlaybackActive gates ingest's echo guard and the STT driver.
func (s *Session) IsPlaybackActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playbackActive
}

// LastSpeechStart feeds ingest's reprompt gating.
func (s *Session) LastSpeechStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSpeechStartAt
}

// ============================================================================
// STT events
// ============================================================================

// HandleSpeechStart records caller speech and triggers barge-in when the
// bot is mid-playback.
func (s *Session) HandleSpeechStart() {
	s.mu.Lock()
	s.lastSpeechStartAt = s.now()
	s.touchLocked()
	// New utterance: a fresh transcript may be accepted.
	s.utteranceAccepted = false

	bargeIn := s.playbackActive && !s.playbackInterrupted
	if bargeIn {
		s.playbackInterrupted = true
		s.ttsQueue = nil
		s.metrics.BargeIns++
	}
	s.mu.Unlock()

	if bargeIn {
		s.logger.Infow("barge-in, stopping playback", "callId", s.cfg.CallID)
		if err := s.transport.StopPlayback(context.Background()); err != nil {
			s.logger.Warnw("stop playback failed", "error", err)
		}
		// Authority stays with the webhook/watchdog (PSTN) or the
		// transport's own completion (WebRTC).
	}
}

// HandleTranscript stores partials for diagnostics and routes finals.
func (s *Session) HandleTranscript(text, source string) {
	if source != internal_stt.SourceFinal {
		s.mu.Lock()
		s.latestPartial = text
		s.touchLocked()
		s.mu.Unlock()
		return
	}
	s.HandleFinalTranscript(text)
}

// HandleFinalTranscript applies the FINAL-only turn policy.
func (s *Session) HandleFinalTranscript(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	if s.awaitingLate {
		s.mu.Unlock()
		s.captureLateFinal(text)
		return
	}
	if !s.active || s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	if s.utteranceAccepted {
		s.logger.Debugw("transcript ignored, utterance already consumed", "callId", s.cfg.CallID)
		s.mu.Unlock()
		return
	}
	if s.playbackActive {
		// Defer: consumed exactly once at the authoritative playback end.
		s.deferredFinal = text
		s.utteranceAccepted = true
		s.touchLocked()
		s.mu.Unlock()
		s.logger.Infow("final transcript deferred during playback", "callId", s.cfg.CallID)
		return
	}
	s.utteranceAccepted = true
	s.state = StateThinking
	s.touchLocked()
	s.mu.Unlock()

	s.runTurn(text)
}

// runTurn is one LISTENING→THINKING→SPEAKING transition: record the user
// turn, generate the reply, speak it.
func (s *Session) runTurn(userText string) {
	s.mu.Lock()
	s.transcripts = append(s.transcripts, userText)
	s.history = append(s.history, internal_llm.Turn{Role: "user", Content: userText, Timestamp: s.now()})
	s.metrics.Turns++
	history := make([]internal_llm.Turn, len(s.history))
	copy(history, s.history)
	s.mu.Unlock()

	reply := internal_llm.FallbackReply
	if s.llm != nil {
		text, err := s.llm.Reply(context.Background(), history)
		if err != nil {
			s.mu.Lock()
			s.metrics.LLMFailures++
			s.mu.Unlock()
			s.logger.Warnw("llm reply failed, using fallback", "callId", s.cfg.CallID, "error", err)
		} else {
			reply = text
		}
	}

	s.mu.Lock()
	s.history = append(s.history, internal_llm.Turn{Role: "assistant", Content: reply, Timestamp: s.now()})
	active := s.active
	s.mu.Unlock()
	if !active {
		return
	}

	s.speak(reply, s.cfg.SegmentationEnabled)
}

// HandleIngestReprompt is ingest's unhealthy escalation.
func (s *Session) HandleIngestReprompt(reason string) {
	s.mu.Lock()
	s.metrics.Reprompts++
	active := s.active
	s.mu.Unlock()
	if !active {
		return
	}
	s.logger.Warnw("ingest reprompt", "callId", s.cfg.CallID, "reason", reason)
	s.speak(ingestFailureText, false)
}

// ============================================================================
// Speaking
// ============================================================================

// speak queues one reply, segmented or whole, and starts playback of the
// first segment.
func (s *Session) speak(text string, segmented bool) {
	segments := []string{text}
	if segmented {
		segments = segmentReply(text, s.cfg.FirstSegmentMinChars, s.cfg.NextSegmentMinChars)
	}

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.state = StateSpeaking
	s.playbackInterrupted = false
	s.ttsQueue = segments
	s.touchLocked()
	s.mu.Unlock()

	s.playNextSegment()
}

// playNextSegment synthesises and plays the head of the TTS queue. Segments
// play strictly in order; the next one starts only on authoritative
// completion of the previous.
func (s *Session) playNextSegment() {
	s.mu.Lock()
	if !s.active || len(s.ttsQueue) == 0 {
		s.mu.Unlock()
		s.enterListening()
		return
	}
	text := s.ttsQueue[0]
	s.ttsQueue = s.ttsQueue[1:]
	s.currentTurnID++
	turnID := s.currentTurnID
	s.mu.Unlock()

	wav, _, err := s.tts.Synthesize(context.Background(), text)
	if err != nil {
		s.mu.Lock()
		s.metrics.TTSFailures++
		s.playbackActive = false
		s.mu.Unlock()
		s.logger.Errorw("tts synthesis failed", "callId", s.cfg.CallID, "error", err)
		s.enterListening()
		return
	}

	// Feed the echo canceller's reference before the carrier can loop the
	// audio back at us.
	if s.aecProc != nil {
		if err := s.aecProc.Ring().PushWAV(s.logger, wav); err != nil {
			s.logger.Warnw("far-end push failed", "error", err)
		}
		s.aecProc.OnPlaybackTransition()
	}

	s.mu.Lock()
	s.playbackActive = true
	watchdogMs := s.cfg.WatchdogMs
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	s.watchdog = time.AfterFunc(time.Duration(watchdogMs)*time.Millisecond, s.onWatchdog)
	s.mu.Unlock()

	if err := s.transport.Play(context.Background(), turnIDString(s.cfg.CallID, turnID), wav); err != nil {
		s.logger.Errorw("playback start failed", "callId", s.cfg.CallID, "error", err)
		s.mu.Lock()
		s.playbackActive = false
		if s.watchdog != nil {
			s.watchdog.Stop()
			s.watchdog = nil
		}
		s.mu.Unlock()
		s.enterListening()
	}
}

func (s *Session) onWatchdog() {
	s.mu.Lock()
	stillActive := s.playbackActive
	if stillActive {
		s.metrics.WatchdogEnds++
	}
	s.mu.Unlock()
	if stillActive {
		s.logger.Warnw("playback watchdog fired", "callId", s.cfg.CallID)
		s.HandlePlaybackEnded(internal_transport.PlaybackEndWatchdog)
	}
}

// HandlePlaybackEnded closes out the current playback. On PSTN only the
// carrier webhook and the session watchdog are authoritative; anything else
// is rejected unless playback is still marked active, in which case a
// failsafe cleanup prevents a permanently closed listening gate.
func (s *Session) HandlePlaybackEnded(source string) {
	s.mu.Lock()
	if s.cfg.TransportMode == internal_ingest.TransportPSTN {
		authoritative := source == internal_transport.PlaybackEndWebhook ||
			source == internal_transport.PlaybackEndWatchdog
		if !authoritative {
			if !s.playbackActive {
				s.mu.Unlock()
				s.logger.Debugw("non-authoritative playback end rejected",
					"callId", s.cfg.CallID, "source", source)
				return
			}
			source = internal_transport.PlaybackEndFailsafe
		}
	}
	if !s.playbackActive {
		s.mu.Unlock()
		return
	}
	s.playbackActive = false
	interrupted := s.playbackInterrupted
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	s.completedTurns++
	s.postPlaybackUntil = s.now().Add(s.postPlaybackGraceLocked())
	deferred := s.deferredFinal
	s.deferredFinal = ""
	queueLeft := len(s.ttsQueue)
	s.touchLocked()
	s.mu.Unlock()

	if s.aecProc != nil {
		s.aecProc.OnPlaybackTransition()
	}
	s.logger.Infow("playback ended",
		"callId", s.cfg.CallID, "source", source, "interrupted", interrupted, "segmentsLeft", queueLeft)

	if deferred != "" {
		s.mu.Lock()
		s.state = StateThinking
		s.mu.Unlock()
		s.runTurn(deferred)
		return
	}
	if !interrupted && queueLeft > 0 {
		s.playNextSegment()
		return
	}
	s.enterListening()
}

// postPlaybackGraceLocked resolves the STT hold-off after playback: a fixed
// override wins outright, otherwise the grace grows per completed turn up
// to the max.
func (s *Session) postPlaybackGraceLocked() time.Duration {
	if s.cfg.PostPlaybackGraceFixedMs > 0 {
		return time.Duration(s.cfg.PostPlaybackGraceFixedMs) * time.Millisecond
	}
	ms := s.cfg.PostPlaybackGraceMinMs + s.completedTurns*postPlaybackGrowthMs
	if ms > s.cfg.PostPlaybackGraceMaxMs {
		ms = s.cfg.PostPlaybackGraceMaxMs
	}
	return time.Duration(ms) * time.Millisecond
}

func (s *Session) enterListening() {
	s.mu.Lock()
	if !s.active || s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	s.state = StateListening
	s.enteredListeningAt = s.now()
	s.armDeadAirLocked()
	s.mu.Unlock()
}

// ============================================================================
// Dead-air reprompt
// ============================================================================

func (s *Session) armDeadAirLocked() {
	if s.deadAir != nil {
		s.deadAir.Stop()
	}
	s.deadAir = time.AfterFunc(time.Duration(s.cfg.DeadAirMs)*time.Millisecond, s.onDeadAir)
}

func (s *Session) onDeadAir() {
	s.mu.Lock()
	if !s.active || s.state != StateListening {
		s.mu.Unlock()
		return
	}
	if s.deadAirSuppressedLocked() {
		s.armDeadAirLocked()
		s.mu.Unlock()
		return
	}
	s.metrics.Reprompts++
	text := s.cfg.RepromptText
	s.mu.Unlock()

	s.logger.Infow("dead-air reprompt", "callId", s.cfg.CallID)
	s.speak(text, false)
}

func (s *Session) deadAirSuppressedLocked() bool {
	now := s.now()
	switch {
	case s.stt != nil && s.stt.InFlight() > 0:
		return true
	case s.playbackActive:
		return true
	case s.state == StateThinking:
		return true
	case now.Sub(s.enteredListeningAt) < listeningGraceMs*time.Millisecond:
		return true
	case !s.lastSpeechStartAt.IsZero() && now.Sub(s.lastSpeechStartAt) < speechStartGraceMs*time.Millisecond:
		return true
	case s.lastMediaAt.IsZero():
		// No inbound media since the call began.
		return true
	case s.lastMediaAt.Before(s.enteredListeningAt):
		// Nothing heard since entering LISTENING.
		return true
	case now.Sub(s.lastMediaAt) < time.Duration(s.cfg.DeadAirNoFrames)*time.Millisecond:
		return true
	default:
		return false
	}
}

// ============================================================================
// Late-final grace
// ============================================================================

func (s *Session) captureLateFinal(text string) {
	s.mu.Lock()
	if s.tornDown || !s.awaitingLate {
		s.mu.Unlock()
		return
	}
	s.awaitingLate = false
	s.history = append(s.history, internal_llm.Turn{Role: "user", Content: text, Timestamp: s.now()})
	s.transcripts = append(s.transcripts, text)
	s.metrics.LateFinals++
	s.mu.Unlock()

	s.logger.Infow("late final captured after hangup",
		"callId", s.cfg.CallID, "event", "late_final_captured")
	s.finishTeardown("hangup_late_final")
}

// ============================================================================
// Helpers
// ============================================================================

func turnIDString(callID string, turn int) string {
	var b strings.Builder
	b.WriteString(callID)
	b.WriteString("-turn-")
	// Small positive integers only; avoid fmt in the hot path.
	if turn == 0 {
		b.WriteByte('0')
	} else {
		var digits [12]byte
		i := len(digits)
		for turn > 0 {
			i--
			digits[i] = byte('0' + turn%10)
			turn /= 10
		}
		b.Write(digits[i:])
	}
	return b.String()
}

// segmentReply splits a reply at sentence boundaries, merging short pieces
// so the first segment reaches firstMin characters and later segments reach
// nextMin.
func segmentReply(text string, firstMin, nextMin int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	start := 0
	for i, r := range text {
		if strings.ContainsRune(sentenceBoundaryRunes, r) {
			end := i + 1
			if piece := strings.TrimSpace(text[start:end]); piece != "" {
				sentences = append(sentences, piece)
			}
			start = end
		}
	}
	if piece := strings.TrimSpace(text[start:]); piece != "" {
		sentences = append(sentences, piece)
	}

	var segments []string
	var current strings.Builder
	min := firstMin
	for _, sentence := range sentences {
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
		if current.Len() >= min {
			segments = append(segments, current.String())
			current.Reset()
			min = nextMin
		}
	}
	if current.Len() > 0 {
		segments = append(segments, current.String())
	}
	return segments
}
