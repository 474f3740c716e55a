// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_capacity "github.com/voxbridgeai/api/bridge-api/internal/capacity"
	internal_transport "github.com/voxbridgeai/api/bridge-api/internal/transport"
	"github.com/voxbridgeai/pkg/commons"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeCapacity struct {
	mu       sync.Mutex
	reason   string
	acquires []string
	releases []string
}

func (f *fakeCapacity) TryAcquire(ctx context.Context, tenantID, callID string) (internal_capacity.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires = append(f.acquires, callID)
	if f.reason != "" {
		return internal_capacity.Result{Acquired: false, Reason: f.reason}, nil
	}
	return internal_capacity.Result{Acquired: true, Reason: internal_capacity.ReasonOK}, nil
}

func (f *fakeCapacity) Release(ctx context.Context, tenantID, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, callID)
	return nil
}

func (f *fakeCapacity) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.releases)
}

func (f *fakeCapacity) acquireCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acquires)
}

type fakeCarrier struct {
	mu       sync.Mutex
	answers  []string
	plays    []string
	stops    int
	restarts []string
	hangups  []string
}

func (f *fakeCarrier) Answer(ctx context.Context, callControlID, streamURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, callControlID)
	return nil
}

func (f *fakeCarrier) PlayAudioURL(ctx context.Context, callControlID, audioURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, audioURL)
	return nil
}

func (f *fakeCarrier) StopPlayback(ctx context.Context, callControlID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeCarrier) RestartStream(ctx context.Context, callControlID, streamURL, codec string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, codec)
	return nil
}

func (f *fakeCarrier) Hangup(ctx context.Context, callControlID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, callControlID)
	return nil
}

func (f *fakeCarrier) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plays)
}

type fakeStore struct{}

func (fakeStore) StoreWAV(callID, turnID string, wav []byte) (string, error) {
	return "https://media.example.com/" + callID + "/" + turnID + ".wav", nil
}

func (fakeStore) Path(name string) (string, bool) { return "", false }

// ============================================================================
// Helpers
// ============================================================================

func newTestManager(t *testing.T) (*Manager, *fakeCapacity, *fakeCarrier) {
	t.Helper()
	cap := &fakeCapacity{}
	carrier := &fakeCarrier{}
	m := NewManager(
		commons.NewApplicationLogger(),
		ManagerConfig{
			StreamURL: "wss://bridge.example.com/media",
		},
		cap, carrier, fakeStore{},
		nil,
		&fakeLLM{reply: "Understood."},
		&fakeTTS{},
	)
	return m, cap, carrier
}

func (m *Manager) sessionFor(callID string) *managedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[callID]
}

// ============================================================================
// Admission and creation
// ============================================================================

func TestCallInitiatedCreatesSessionOnce(t *testing.T) {
	m, cap, carrier := newTestManager(t)
	ctx := context.Background()

	reason, err := m.HandleCallInitiated(ctx, "tenant-1", "cc-1")
	require.NoError(t, err)
	assert.Empty(t, reason)
	assert.Equal(t, 1, m.ActiveCount())
	assert.Equal(t, []string{"cc-1"}, carrier.answers)

	// Duplicate webhook: no second admission, no second answer.
	reason, err = m.HandleCallInitiated(ctx, "tenant-1", "cc-1")
	require.NoError(t, err)
	assert.Empty(t, reason)
	assert.Equal(t, 1, cap.acquireCount())
	assert.Equal(t, 1, m.ActiveCount())
}

func TestCallInitiatedRejectedByCapacity(t *testing.T) {
	m, cap, carrier := newTestManager(t)
	cap.reason = internal_capacity.ReasonTenantAtCapacity

	reason, err := m.HandleCallInitiated(context.Background(), "tenant-1", "cc-2")
	require.NoError(t, err)
	assert.Equal(t, internal_capacity.ReasonTenantAtCapacity, reason)
	assert.Equal(t, 0, m.ActiveCount())
	assert.Empty(t, carrier.answers)
	assert.Equal(t, 0, cap.releaseCount())
}

// ============================================================================
// Webhook routing
// ============================================================================

func TestAnsweredWebhookPlaysGreeting(t *testing.T) {
	m, _, carrier := newTestManager(t)
	_, err := m.HandleCallInitiated(context.Background(), "tenant-1", "cc-3")
	require.NoError(t, err)

	m.HandleCallAnswered("cc-3")

	assert.Eventually(t, func() bool { return carrier.playCount() == 1 }, time.Second, 10*time.Millisecond)
	mc := m.sessionFor("cc-3")
	require.NotNil(t, mc)
	assert.Eventually(t, func() bool { return mc.session.State() == StateSpeaking }, time.Second, 10*time.Millisecond)
}

func TestPlaybackEndedWebhookReachesSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.HandleCallInitiated(context.Background(), "tenant-1", "cc-4")
	require.NoError(t, err)
	m.HandleCallAnswered("cc-4")

	mc := m.sessionFor("cc-4")
	require.NotNil(t, mc)
	require.Eventually(t, func() bool { return mc.session.State() == StateSpeaking }, time.Second, 10*time.Millisecond)

	m.HandlePlaybackEnded("cc-4")
	assert.Eventually(t, func() bool { return mc.session.State() == StateListening }, time.Second, 10*time.Millisecond)
}

func TestEventsForUnknownCallAreDropped(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.HandleCallAnswered("nope")
	m.HandlePlaybackEnded("nope")
	m.HandleCallHangup("nope")
	assert.Equal(t, 0, m.ActiveCount())
}

// ============================================================================
// Teardown
// ============================================================================

func TestHangupReleasesCapacityAndForgetsCall(t *testing.T) {
	m, cap, _ := newTestManager(t)
	_, err := m.HandleCallInitiated(context.Background(), "tenant-1", "cc-5")
	require.NoError(t, err)

	m.HandleCallHangup("cc-5")

	assert.Eventually(t, func() bool { return m.ActiveCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return cap.releaseCount() == 1 }, time.Second, 10*time.Millisecond)

	// Teardown of a gone call is a no-op.
	m.Teardown("cc-5", "idle_timeout")
	assert.Equal(t, 1, cap.releaseCount())
}

func TestSweepReapsIdleSessions(t *testing.T) {
	m, cap, _ := newTestManager(t)
	m.cfg.IdleTTL = time.Millisecond
	_, err := m.HandleCallInitiated(context.Background(), "tenant-1", "cc-6")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	m.sweepIdle()

	assert.Eventually(t, func() bool { return m.ActiveCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, cap.releaseCount())
}

func TestShutdownEndsEveryCall(t *testing.T) {
	m, cap, _ := newTestManager(t)
	ctx := context.Background()
	_, err := m.HandleCallInitiated(ctx, "tenant-1", "cc-7")
	require.NoError(t, err)
	_, err = m.HandleCallInitiated(ctx, "tenant-2", "cc-8")
	require.NoError(t, err)
	require.Equal(t, 2, m.ActiveCount())

	m.Shutdown()

	assert.Eventually(t, func() bool { return m.ActiveCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, cap.releaseCount())
}

// ============================================================================
// Stream restart plumbing
// ============================================================================

func TestRestartStreamDelegatesToCarrier(t *testing.T) {
	m, _, carrier := newTestManager(t)
	ok := m.restartStream("cc-9", "PCMU")
	assert.True(t, ok)
	assert.Equal(t, []string{"PCMU"}, carrier.restarts)

	m.carrier = nil
	assert.False(t, m.restartStream("cc-9", "PCMU"))
}

var _ internal_transport.Session = (*fakeTransport)(nil)
