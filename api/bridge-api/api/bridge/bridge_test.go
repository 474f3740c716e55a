// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package bridge_api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxbridgeai/api/bridge-api/config"
	internal_capacity "github.com/voxbridgeai/api/bridge-api/internal/capacity"
	internal_session "github.com/voxbridgeai/api/bridge-api/internal/session"
	"github.com/voxbridgeai/pkg/commons"
)

// ============================================================================
// Fakes
// ============================================================================

type rejectingCapacity struct {
	mu       sync.Mutex
	reason   string
	tenants  []string
	callIDs  []string
	releases int
}

func (f *rejectingCapacity) TryAcquire(ctx context.Context, tenantID, callID string) (internal_capacity.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenants = append(f.tenants, tenantID)
	f.callIDs = append(f.callIDs, callID)
	return internal_capacity.Result{Acquired: false, Reason: f.reason}, nil
}

func (f *rejectingCapacity) Release(ctx context.Context, tenantID, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	return nil
}

type nopStore struct{}

func (nopStore) StoreWAV(callID, turnID string, wav []byte) (string, error) {
	return "https://media.example.com/" + callID + "/" + turnID + ".wav", nil
}

func (nopStore) Path(name string) (string, bool) { return "", false }

// ============================================================================
// Helpers
// ============================================================================

func newOfferTestRouter(t *testing.T, cap *rejectingCapacity) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := commons.NewApplicationLogger()
	manager := internal_session.NewManager(logger, internal_session.ManagerConfig{}, cap, nil, nopStore{}, nil, nil, nil)
	api := New(&config.AppConfig{DefaultTenant: "default"}, logger, manager, nil, nopStore{}, nil, nil)

	r := gin.New()
	r.POST("/offer", api.Offer)
	return r
}

func postOffer(r *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

// ============================================================================
// Offer
// ============================================================================

func TestOfferRejectsMalformedBody(t *testing.T) {
	r := newOfferTestRouter(t, &rejectingCapacity{reason: internal_capacity.ReasonGlobalAtCapacity})

	w := postOffer(r, `{"sdp":"v=0","type":"offer"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "a flat body without the offer envelope must not bind")

	w = postOffer(r, `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOfferRejectsNonOfferDescription(t *testing.T) {
	r := newOfferTestRouter(t, &rejectingCapacity{reason: internal_capacity.ReasonGlobalAtCapacity})

	w := postOffer(r, `{"offer":{"type":"answer","sdp":"v=0"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOfferAtCapacityReturns503WithReason(t *testing.T) {
	cap := &rejectingCapacity{reason: internal_capacity.ReasonGlobalAtCapacity}
	r := newOfferTestRouter(t, cap)

	w := postOffer(r, `{"offer":{"type":"offer","sdp":"v=0"},"tenant_id":"acme","session_id":"web-42"}`)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), internal_capacity.ReasonGlobalAtCapacity)

	// The nested envelope reached admission with the caller's identifiers.
	require.Len(t, cap.tenants, 1)
	assert.Equal(t, "acme", cap.tenants[0])
	assert.Equal(t, "web-42", cap.callIDs[0])
}

func TestOfferDefaultsTenantAndMintsSessionID(t *testing.T) {
	cap := &rejectingCapacity{reason: internal_capacity.ReasonGlobalAtCapacity}
	r := newOfferTestRouter(t, cap)

	w := postOffer(r, `{"offer":{"type":"offer","sdp":"v=0"}}`)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Len(t, cap.tenants, 1)
	assert.Equal(t, "default", cap.tenants[0])
	assert.True(t, strings.HasPrefix(cap.callIDs[0], "web-"), "omitted session_id gets a minted web- identifier")
}
