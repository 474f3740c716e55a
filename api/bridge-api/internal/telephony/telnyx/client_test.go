// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_telnyx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxbridgeai/pkg/commons"
)

// ============================================================================
// Helpers
// ============================================================================

type recordedAction struct {
	path string
	body map[string]any
}

type actionRecorder struct {
	mu      sync.Mutex
	actions []recordedAction
}

func (rec *actionRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		rec.mu.Lock()
		rec.actions = append(rec.actions, recordedAction{path: r.URL.Path, body: body})
		rec.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func newTestClient(t *testing.T, handler http.Handler) (Actions, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cli, err := NewClient(commons.NewApplicationLogger(), Config{
		BaseURL:     srv.URL,
		APIKey:      "test-key",
		StreamTrack: "inbound_track",
		StreamCodec: "AMR-WB",
	})
	require.NoError(t, err)
	return cli, srv
}

// ============================================================================
// Tests
// ============================================================================

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(commons.NewApplicationLogger(), Config{})
	assert.Error(t, err)
}

func TestAnswerSendsStreamParameters(t *testing.T) {
	rec := &actionRecorder{}
	cli, _ := newTestClient(t, rec.handler())

	require.NoError(t, cli.Answer(context.Background(), "cc-1", "wss://bridge/v1/bridge/telnyx/media/cc-1"))

	require.Len(t, rec.actions, 1)
	assert.Equal(t, "/calls/cc-1/actions/answer", rec.actions[0].path)
	assert.Equal(t, "wss://bridge/v1/bridge/telnyx/media/cc-1", rec.actions[0].body["stream_url"])
	assert.Equal(t, "inbound_track", rec.actions[0].body["stream_track"])
	assert.Equal(t, "AMR-WB", rec.actions[0].body["stream_bidirectional_codec"])
}

func TestPlayAndStopHitActionEndpoints(t *testing.T) {
	rec := &actionRecorder{}
	cli, _ := newTestClient(t, rec.handler())

	require.NoError(t, cli.PlayAudioURL(context.Background(), "cc-2", "http://bridge/audio/cc-2_1.wav"))
	require.NoError(t, cli.StopPlayback(context.Background(), "cc-2"))

	require.Len(t, rec.actions, 2)
	assert.Equal(t, "/calls/cc-2/actions/playback_start", rec.actions[0].path)
	assert.Equal(t, "http://bridge/audio/cc-2_1.wav", rec.actions[0].body["audio_url"])
	assert.Equal(t, "/calls/cc-2/actions/playback_stop", rec.actions[1].path)
	assert.Equal(t, "all", rec.actions[1].body["stop"])
}

func TestRestartStreamStopsThenStartsWithCodec(t *testing.T) {
	rec := &actionRecorder{}
	cli, _ := newTestClient(t, rec.handler())

	require.NoError(t, cli.RestartStream(context.Background(), "cc-3", "wss://bridge/media/cc-3", "G722"))

	require.Len(t, rec.actions, 2)
	assert.Equal(t, "/calls/cc-3/actions/streaming_stop", rec.actions[0].path)
	assert.Equal(t, "/calls/cc-3/actions/streaming_start", rec.actions[1].path)
	assert.Equal(t, "wss://bridge/media/cc-3", rec.actions[1].body["stream_url"])
	assert.Equal(t, "G722", rec.actions[1].body["stream_bidirectional_codec"])
}

func TestActionErrorSurfacesStatus(t *testing.T) {
	cli, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":[{"detail":"call not found"}]}`))
	}))

	err := cli.Hangup(context.Background(), "cc-gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}
