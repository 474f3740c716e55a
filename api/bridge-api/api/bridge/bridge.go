// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package bridge_api exposes the service's HTTP surface: carrier webhooks,
// the carrier media WebSocket, the WebRTC offer endpoint and stored audio.
package bridge_api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	pionwebrtc "github.com/pion/webrtc/v4"

	"github.com/voxbridgeai/api/bridge-api/config"
	internal_audio "github.com/voxbridgeai/api/bridge-api/internal/audio"
	internal_session "github.com/voxbridgeai/api/bridge-api/internal/session"
	internal_telnyx "github.com/voxbridgeai/api/bridge-api/internal/telephony/telnyx"
	internal_tenantcfg "github.com/voxbridgeai/api/bridge-api/tenantcfg"
	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/connectors"
)

var mediaUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The carrier dials in from its own infrastructure; origin checks do
	// not apply to server-to-server sockets.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// BridgeApi carries the handler dependencies.
type BridgeApi struct {
	cfg     *config.AppConfig
	logger  commons.Logger
	manager *internal_session.Manager
	tenants internal_tenantcfg.Store
	store   internal_audio.Store
	carrier internal_telnyx.Actions
	redis   connectors.RedisConnector
}

func New(
	cfg *config.AppConfig,
	logger commons.Logger,
	manager *internal_session.Manager,
	tenants internal_tenantcfg.Store,
	store internal_audio.Store,
	carrier internal_telnyx.Actions,
	redis connectors.RedisConnector,
) *BridgeApi {
	return &BridgeApi{
		cfg:     cfg,
		logger:  logger,
		manager: manager,
		tenants: tenants,
		store:   store,
		carrier: carrier,
		redis:   redis,
	}
}

// ============================================================================
// Health
// ============================================================================

func (api *BridgeApi) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"service":     api.cfg.Name,
		"version":     api.cfg.Version,
		"activeCalls": api.manager.ActiveCount(),
	})
}

// Readiness also proves the shared store is reachable; admission cannot work
// without it.
func (api *BridgeApi) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := api.redis.Ping(ctx); err != nil {
		api.logger.Warnw("readiness redis ping failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "redis unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// ============================================================================
// Carrier webhooks
// ============================================================================

// telnyxEvent is the envelope the carrier posts for every call event.
type telnyxEvent struct {
	Data struct {
		EventType string `json:"event_type"`
		Payload   struct {
			CallControlID string `json:"call_control_id"`
			From          string `json:"from"`
			To            string `json:"to"`
			HangupCause   string `json:"hangup_cause"`
		} `json:"payload"`
	} `json:"data"`
}

// TelnyxWebhook dispatches carrier call events. The handler always returns
// 200 once the envelope parses; the carrier retries anything else.
func (api *BridgeApi) TelnyxWebhook(c *gin.Context) {
	var ev telnyxEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		api.logger.Warnw("unparseable carrier webhook", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	callID := ev.Data.Payload.CallControlID
	api.logger.Infow("carrier event", "type", ev.Data.EventType, "callId", callID)

	switch ev.Data.EventType {
	case "call.initiated":
		api.handleInitiated(c, callID, ev.Data.Payload.To)
		return
	case "call.answered":
		api.manager.HandleCallAnswered(callID)
	case "call.playback.ended":
		api.manager.HandlePlaybackEnded(callID)
	case "call.hangup":
		api.manager.HandleCallHangup(callID)
	default:
		api.logger.Debugw("ignoring carrier event", "type", ev.Data.EventType)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (api *BridgeApi) handleInitiated(c *gin.Context, callID, did string) {
	tenantID := api.resolveTenant(c, did)
	reason, err := api.manager.HandleCallInitiated(c.Request.Context(), tenantID, callID)
	if err != nil {
		api.logger.Errorw("call admission failed", "callId", callID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "admission failed"})
		return
	}
	if reason != "" {
		api.logger.Warnw("call rejected", "callId", callID, "tenantId", tenantID, "reason", reason)
		if err := api.carrier.Hangup(c.Request.Context(), callID); err != nil {
			api.logger.Warnw("reject hangup failed", "callId", callID, "error", err)
		}
		c.JSON(http.StatusOK, gin.H{"status": "rejected", "reason": reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (api *BridgeApi) resolveTenant(c *gin.Context, did string) string {
	if did != "" {
		tenantID, err := api.tenants.TenantByDID(c.Request.Context(), did)
		if err == nil {
			return tenantID
		}
		if !errors.Is(err, internal_tenantcfg.ErrNotFound) {
			api.logger.Warnw("tenant lookup failed", "did", did, "error", err)
		}
	}
	return api.cfg.DefaultTenant
}

// ============================================================================
// Carrier media WebSocket
// ============================================================================

// TelnyxMedia upgrades the carrier's media stream connection and hands it to
// the owning session.
func (api *BridgeApi) TelnyxMedia(c *gin.Context) {
	callID := c.Param("callControlId")
	conn, err := mediaUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		api.logger.Errorw("media socket upgrade failed", "callId", callID, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to upgrade"})
		return
	}
	api.manager.AttachMedia(callID, conn)
}

// ============================================================================
// WebRTC offer
// ============================================================================

type sessionDescription struct {
	Type string `json:"type" binding:"required"`
	SDP  string `json:"sdp" binding:"required"`
}

type offerRequest struct {
	Offer     sessionDescription `json:"offer" binding:"required"`
	TenantID  string             `json:"tenant_id"`
	SessionID string             `json:"session_id"`
}

type offerResponse struct {
	SessionID string             `json:"session_id"`
	Answer    sessionDescription `json:"answer"`
}

// Offer answers a browser SDP offer. Capacity is checked before any
// negotiation work happens.
func (api *BridgeApi) Offer(c *gin.Context) {
	var req offerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offer"})
		return
	}
	if req.Offer.Type != "offer" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected an offer"})
		return
	}
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = api.cfg.DefaultTenant
	}

	answer, callID, reason, err := api.manager.StartWebRTCCall(c.Request.Context(), tenantID, req.SessionID,
		pionwebrtc.SessionDescription{Type: pionwebrtc.SDPTypeOffer, SDP: req.Offer.SDP})
	if err != nil {
		api.logger.Errorw("offer failed", "tenantId", tenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "negotiation failed"})
		return
	}
	if reason != "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "at capacity", "reason": reason})
		return
	}
	c.JSON(http.StatusOK, offerResponse{
		SessionID: callID,
		Answer: sessionDescription{
			Type: answer.Type.String(),
			SDP:  answer.SDP,
		},
	})
}

// ============================================================================
// Stored audio
// ============================================================================

// Audio serves a stored playback segment to the carrier.
func (api *BridgeApi) Audio(c *gin.Context) {
	name := c.Param("name")
	path, ok := api.store.Path(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Header("Content-Type", "audio/wav")
	c.File(path)
}
