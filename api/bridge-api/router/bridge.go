// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package bridge_routers

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	bridgeApi "github.com/voxbridgeai/api/bridge-api/api/bridge"
	"github.com/voxbridgeai/api/bridge-api/config"
	"github.com/voxbridgeai/pkg/commons"
)

// BridgeApiRoutes mounts the whole HTTP surface on the engine.
func BridgeApiRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger, api *bridgeApi.BridgeApi) {
	logger.Info("BridgeApiRoutes added to engine.")

	engine.GET("/healthz/", api.Healthz)
	engine.GET("/readiness/", api.Readiness)

	apiv1 := engine.Group("v1/bridge")
	{
		// Carrier signalling and media.
		apiv1.POST("/telnyx/webhook", api.TelnyxWebhook)
		apiv1.GET("/telnyx/media/:callControlId", api.TelnyxMedia)

		// Stored playback segments, fetched back by the carrier.
		apiv1.GET("/audio/:name", api.Audio)
	}

	// The offer endpoint is browser-facing; it gets the CORS allow-list.
	offer := engine.Group("v1/bridge")
	offer.Use(cors.New(cors.Config{
		AllowOrigins: splitOrigins(cfg.OfferAllowedOrigins),
		AllowMethods: []string{"POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))
	offer.POST("/offer", api.Offer)
}

func splitOrigins(list string) []string {
	var out []string
	for _, o := range strings.Split(list, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
