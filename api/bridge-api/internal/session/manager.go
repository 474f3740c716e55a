// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	pionwebrtc "github.com/pion/webrtc/v4"

	internal_aec "github.com/voxbridgeai/api/bridge-api/internal/aec"
	internal_audio "github.com/voxbridgeai/api/bridge-api/internal/audio"
	internal_capacity "github.com/voxbridgeai/api/bridge-api/internal/capacity"
	internal_codec "github.com/voxbridgeai/api/bridge-api/internal/codec"
	internal_ingest "github.com/voxbridgeai/api/bridge-api/internal/ingest"
	internal_llm "github.com/voxbridgeai/api/bridge-api/internal/llm"
	internal_stt "github.com/voxbridgeai/api/bridge-api/internal/stt"
	internal_telnyx "github.com/voxbridgeai/api/bridge-api/internal/telephony/telnyx"
	internal_transport "github.com/voxbridgeai/api/bridge-api/internal/transport"
	internal_tts "github.com/voxbridgeai/api/bridge-api/internal/tts"
	"github.com/voxbridgeai/pkg/commons"
)

// ============================================================================
// Manager
// ============================================================================

const (
	defaultIdleTTL       = 10 * time.Minute
	defaultSweepInterval = 60 * time.Second
	eventQueueDepth      = 64
)

// ManagerConfig is the cross-call configuration: per-call templates plus the
// shared knobs.
type ManagerConfig struct {
	// Session is the per-call template; CallID/TenantID/TransportMode are
	// filled per call.
	Session Config
	Ingest  internal_ingest.Config
	STT     internal_stt.DriverConfig

	AECEnabled bool

	// StreamURL is the public wss endpoint handed to the carrier on answer
	// and on stream restart.
	StreamURL string
	// InputCodec is what the carrier is asked to stream (AMR-WB by default).
	InputCodec string

	// PlaybackRateHz and PlaybackHighpass shape outbound PSTN segments.
	PlaybackRateHz   int
	PlaybackHighpass bool

	ICEServers []pionwebrtc.ICEServer

	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// Manager owns every live call: admission, webhook routing, per-call event
// ordering and idle reaping.
type Manager struct {
	logger   commons.Logger
	cfg      ManagerConfig
	capacity internal_capacity.Controller
	carrier  internal_telnyx.Actions
	store    internal_audio.Store
	sttCli   internal_stt.Client
	llmCli   internal_llm.Client
	ttsCli   internal_tts.Client

	mu       sync.Mutex
	sessions map[string]*managedCall
}

// managedCall couples one session with its transport and its serialized
// webhook queue.
type managedCall struct {
	session   *Session
	transport internal_transport.Session
	tenantID  string
	events    chan func()
	done      chan struct{}
}

// mediaAttacher is satisfied by the PSTN transport; the media WebSocket
// arrives on a separate HTTP request and is handed over here.
type mediaAttacher interface {
	AttachMediaConn(conn *websocket.Conn)
}

// playbackNotifier routes carrier playback.ended webhooks into a transport.
type playbackNotifier interface {
	NotifyPlaybackEnded(source string)
}

// NewManager wires the manager. carrier may be nil when only WebRTC calls
// are served.
func NewManager(
	logger commons.Logger,
	cfg ManagerConfig,
	cap internal_capacity.Controller,
	carrier internal_telnyx.Actions,
	store internal_audio.Store,
	sttCli internal_stt.Client,
	llmCli internal_llm.Client,
	ttsCli internal_tts.Client,
) *Manager {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.InputCodec == "" {
		cfg.InputCodec = "AMR-WB"
	}
	return &Manager{
		logger:   logger,
		cfg:      cfg,
		capacity: cap,
		carrier:  carrier,
		store:    store,
		sttCli:   sttCli,
		llmCli:   llmCli,
		ttsCli:   ttsCli,
		sessions: make(map[string]*managedCall),
	}
}

// Run starts the idle sweeper and blocks until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

func (m *Manager) sweepIdle() {
	m.mu.Lock()
	var stale []string
	for id, mc := range m.sessions {
		if time.Since(mc.session.LastActivity()) > m.cfg.IdleTTL {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.logger.Warnw("reaping idle session", "callId", id)
		m.Teardown(id, "idle_timeout")
	}
}

// ActiveCount reports live sessions, for the healthcheck.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ============================================================================
// PSTN call lifecycle
// ============================================================================

// HandleCallInitiated admits and creates a session for an incoming carrier
// call. Creation is idempotent by call id. A non-empty reject reason means
// capacity said no and the call should be hung up.
func (m *Manager) HandleCallInitiated(ctx context.Context, tenantID, callControlID string) (rejectReason string, err error) {
	m.mu.Lock()
	if _, ok := m.sessions[callControlID]; ok {
		m.mu.Unlock()
		return "", nil
	}
	m.mu.Unlock()

	res, err := m.capacity.TryAcquire(ctx, tenantID, callControlID)
	if err != nil {
		return "", fmt.Errorf("capacity check: %w", err)
	}
	if !res.Acquired {
		return res.Reason, nil
	}

	transport := internal_transport.NewPSTNSession(m.logger, m.carrier, m.store, internal_transport.PSTNConfig{
		CallControlID:  callControlID,
		StreamURL:      m.cfg.StreamURL,
		InputCodec:     m.cfg.InputCodec,
		InputRate:      16000,
		AutoAnswer:     true,
		PlaybackRateHz: m.cfg.PlaybackRateHz,
		EnableHighpass: m.cfg.PlaybackHighpass,
	})

	if err := m.createSession(ctx, tenantID, callControlID, internal_ingest.TransportPSTN, transport); err != nil {
		_ = m.capacity.Release(context.Background(), tenantID, callControlID)
		return "", err
	}
	return "", nil
}

// HandleCallAnswered runs the greeting turn.
func (m *Manager) HandleCallAnswered(callID string) {
	m.enqueue(callID, true, func(mc *managedCall) { mc.session.HandleAnswered() })
}

// HandlePlaybackEnded routes the carrier's playback.ended webhook.
func (m *Manager) HandlePlaybackEnded(callID string) {
	m.enqueue(callID, true, func(mc *managedCall) {
		if n, ok := mc.transport.(playbackNotifier); ok {
			n.NotifyPlaybackEnded(internal_transport.PlaybackEndWebhook)
			return
		}
		mc.session.HandlePlaybackEnded(internal_transport.PlaybackEndWebhook)
	})
}

// HandleCallHangup ends the session; teardown may defer briefly for a late
// final transcript.
func (m *Manager) HandleCallHangup(callID string) {
	m.enqueue(callID, true, func(mc *managedCall) { mc.session.HandleHangup("hangup") })
}

// AttachMedia hands the carrier's media WebSocket to the call's transport.
// The socket is closed when no session owns the call id.
func (m *Manager) AttachMedia(callID string, conn *websocket.Conn) {
	m.mu.Lock()
	mc, ok := m.sessions[callID]
	m.mu.Unlock()
	if !ok {
		m.logger.Warnw("media socket for unknown call", "callId", callID)
		conn.Close()
		return
	}
	attacher, ok := mc.transport.(mediaAttacher)
	if !ok {
		m.logger.Warnw("media socket for non-carrier transport", "callId", callID)
		conn.Close()
		return
	}
	attacher.AttachMediaConn(conn)
}

// ============================================================================
// WebRTC call lifecycle
// ============================================================================

// StartWebRTCCall admits, negotiates and starts an HD browser call. The
// returned answer is complete (non-trickle). A non-empty reject reason means
// capacity said no. sessionID may be supplied by the caller; a fresh one is
// minted when empty.
func (m *Manager) StartWebRTCCall(ctx context.Context, tenantID, sessionID string, offer pionwebrtc.SessionDescription) (answer *pionwebrtc.SessionDescription, callID, rejectReason string, err error) {
	callID = sessionID
	if callID == "" {
		callID = "web-" + uuid.NewString()
	}
	m.mu.Lock()
	_, exists := m.sessions[callID]
	m.mu.Unlock()
	if exists {
		return nil, "", "", fmt.Errorf("session %s already active", callID)
	}

	res, err := m.capacity.TryAcquire(ctx, tenantID, callID)
	if err != nil {
		return nil, "", "", fmt.Errorf("capacity check: %w", err)
	}
	if !res.Acquired {
		return nil, "", res.Reason, nil
	}

	transport, answer, err := internal_transport.NewWebRTCSession(m.logger, internal_transport.WebRTCConfig{
		SessionID:    callID,
		ICEServers:   m.cfg.ICEServers,
		TargetRateHz: 16000,
	}, offer)
	if err != nil {
		_ = m.capacity.Release(context.Background(), tenantID, callID)
		return nil, "", "", fmt.Errorf("webrtc negotiate: %w", err)
	}

	if err := m.createSession(ctx, tenantID, callID, internal_ingest.TransportWebRTCHD, transport); err != nil {
		_ = transport.Stop(context.Background())
		_ = m.capacity.Release(context.Background(), tenantID, callID)
		return nil, "", "", err
	}

	// No answered webhook exists here; the call is live once negotiated.
	m.HandleCallAnswered(callID)
	return answer, callID, "", nil
}

// ============================================================================
// Session assembly
// ============================================================================

func (m *Manager) createSession(ctx context.Context, tenantID, callID, transportMode string, tr internal_transport.Session) error {
	sessCfg := m.cfg.Session
	sessCfg.CallID = callID
	sessCfg.TenantID = tenantID
	sessCfg.TransportMode = transportMode
	if transportMode == internal_ingest.TransportWebRTCHD {
		sessCfg.SegmentationEnabled = true
	}

	sess := New(m.logger, sessCfg, Deps{
		Transport: tr,
		AEC:       internal_aec.NewProcessor(m.logger, internal_aec.NewFarEndRing(), m.cfg.AECEnabled),
		LLM:       m.llmCli,
		TTS:       m.ttsCli,
		OnTeardown: func(reason string) {
			m.finalize(tenantID, callID, reason)
		},
	})

	ingCfg := m.cfg.Ingest
	ingCfg.Transport = transportMode
	if ingCfg.TargetRateHz <= 0 {
		ingCfg.TargetRateHz = 16000
	}
	ing := internal_ingest.New(m.logger, ingCfg, internal_ingest.Hooks{
		OnChunk:          sess.HandleChunk,
		IsPlaybackActive: sess.IsPlaybackActive,
		IsListening:      sess.IsListening,
		LastSpeechStart:  sess.LastSpeechStart,
		OnRestartRequest: func(current, requested internal_codec.Name) bool {
			return m.restartStream(callID, requested)
		},
		OnReprompt: sess.HandleIngestReprompt,
	})
	sess.BindIngest(ing)

	sttCfg := m.cfg.STT
	driver := internal_stt.NewDriver(m.logger, sttCfg, m.sttCli, internal_stt.Callbacks{
		OnTranscript: func(text, source string) {
			if source == internal_stt.SourcePartial {
				sess.HandleTranscript(text, source)
			}
		},
		OnSpeechStart:    sess.HandleSpeechStart,
		OnFinalResult:    sess.HandleFinalTranscript,
		IsListening:      sess.IsListening,
		IsPlaybackActive: sess.IsPlaybackActive,
	})
	sess.BindSTT(driver)

	mc := &managedCall{
		session:   sess,
		transport: tr,
		tenantID:  tenantID,
		events:    make(chan func(), eventQueueDepth),
		done:      make(chan struct{}),
	}
	go mc.run()

	m.mu.Lock()
	if _, exists := m.sessions[callID]; exists {
		m.mu.Unlock()
		close(mc.done)
		driver.Close()
		return nil
	}
	m.sessions[callID] = mc
	m.mu.Unlock()

	if err := sess.Start(ctx); err != nil {
		m.logger.Errorw("session start failed", "callId", callID, "error", err)
		m.Teardown(callID, "start_failed")
		return err
	}
	m.logger.Infow("session created",
		"callId", callID, "tenantId", tenantID, "transport", transportMode)
	return nil
}

// restartStream asks the carrier for a fresh media stream with the requested
// codec.
func (m *Manager) restartStream(callID string, requested internal_codec.Name) bool {
	if m.carrier == nil {
		return false
	}
	err := m.carrier.RestartStream(context.Background(), callID, m.cfg.StreamURL, string(requested))
	if err != nil {
		m.logger.Warnw("stream restart failed", "callId", callID, "error", err)
		return false
	}
	return true
}

// ============================================================================
// Event ordering and teardown
// ============================================================================

// run drains the per-call queue so webhook events apply in arrival order.
func (mc *managedCall) run() {
	for {
		select {
		case <-mc.done:
			return
		case fn := <-mc.events:
			fn()
		}
	}
}

// enqueue schedules fn on the call's event queue. Events that require a live
// session are dropped when the call is unknown or already ended.
func (m *Manager) enqueue(callID string, requiresActive bool, fn func(*managedCall)) {
	m.mu.Lock()
	mc, ok := m.sessions[callID]
	m.mu.Unlock()
	if !ok {
		if requiresActive {
			m.logger.Debugw("event for unknown call dropped", "callId", callID)
		}
		return
	}
	if requiresActive && !mc.session.Active() {
		return
	}
	select {
	case mc.events <- func() { fn(mc) }:
	default:
		m.logger.Warnw("event queue full, applying inline", "callId", callID)
		fn(mc)
	}
}

// Teardown force-ends a call from the manager side (sweeper, start failure,
// shutdown). Safe when the call is already gone.
func (m *Manager) Teardown(callID, reason string) {
	m.mu.Lock()
	mc, ok := m.sessions[callID]
	m.mu.Unlock()
	if !ok {
		return
	}
	mc.session.HandleHangup(reason)
}

// finalize is the session's teardown callback: release capacity, stop the
// transport and forget the call.
func (m *Manager) finalize(tenantID, callID, reason string) {
	m.mu.Lock()
	mc, ok := m.sessions[callID]
	if ok {
		delete(m.sessions, callID)
	}
	m.mu.Unlock()

	if ok {
		close(mc.done)
		if err := mc.transport.Stop(context.Background()); err != nil {
			m.logger.Debugw("transport stop", "callId", callID, "error", err)
		}
	}
	if err := m.capacity.Release(context.Background(), tenantID, callID); err != nil {
		m.logger.Warnw("capacity release failed", "callId", callID, "error", err)
	}
	m.logger.Infow("call finalized", "callId", callID, "reason", reason)
}

// Shutdown ends every live call, used on process exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Teardown(id, "shutdown")
	}
}
