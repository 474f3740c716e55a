// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pionwebrtc "github.com/pion/webrtc/v4"
	"golang.org/x/sync/errgroup"

	bridgeApi "github.com/voxbridgeai/api/bridge-api/api/bridge"
	"github.com/voxbridgeai/api/bridge-api/config"
	internal_audio "github.com/voxbridgeai/api/bridge-api/internal/audio"
	internal_capacity "github.com/voxbridgeai/api/bridge-api/internal/capacity"
	internal_codec "github.com/voxbridgeai/api/bridge-api/internal/codec"
	internal_ingest "github.com/voxbridgeai/api/bridge-api/internal/ingest"
	internal_llm "github.com/voxbridgeai/api/bridge-api/internal/llm"
	internal_session "github.com/voxbridgeai/api/bridge-api/internal/session"
	internal_stt "github.com/voxbridgeai/api/bridge-api/internal/stt"
	internal_telnyx "github.com/voxbridgeai/api/bridge-api/internal/telephony/telnyx"
	internal_tenantcfg "github.com/voxbridgeai/api/bridge-api/tenantcfg"
	internal_tts "github.com/voxbridgeai/api/bridge-api/internal/tts"
	bridge_routers "github.com/voxbridgeai/api/bridge-api/router"
	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/connectors"
)

func main() {
	vCfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("failed to init config: %v", err)
	}
	cfg, err := config.GetApplicationConfig(vCfg)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	loggerOpts := []commons.LoggerOption{commons.WithLogLevel(cfg.LogLevel)}
	if cfg.LogFile != "" {
		loggerOpts = append(loggerOpts, commons.WithLogFile(cfg.LogFile))
	}
	logger := commons.NewApplicationLogger(loggerOpts...)
	defer logger.Sync()

	if cfg.AmrwbDebugDir != "" {
		internal_audio.InitTap(logger)
		defer internal_audio.ShutdownTap()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisConn, err := connectors.NewRedisConnector(&cfg.RedisConfig, logger)
	if err != nil {
		logger.Errorf("redis connector: %v", err)
		os.Exit(1)
	}
	defer redisConn.Close()
	// Unreachable shared store at startup is fatal.
	if err := redisConn.Ping(ctx); err != nil {
		logger.Errorf("redis unreachable: %v", err)
		os.Exit(1)
	}

	manager, api, err := buildService(cfg, logger, redisConn)
	if err != nil {
		logger.Errorf("service init: %v", err)
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	bridge_routers.BridgeApiRoutes(cfg, engine, logger, api)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infow("bridge-api listening", "addr", server.Addr, "transport", cfg.TransportMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		manager.Run(gctx)
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		manager.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Errorf("bridge-api exited: %v", err)
		os.Exit(1)
	}
}

// buildService wires every collaborator from config.
func buildService(cfg *config.AppConfig, logger commons.Logger, redisConn connectors.RedisConnector) (*internal_session.Manager, *bridgeApi.BridgeApi, error) {
	publicBase := cfg.AudioPublicBase
	if publicBase == "" {
		publicBase = fmt.Sprintf("http://%s:%d/v1/bridge/audio", cfg.Host, cfg.Port)
	}
	store, err := internal_audio.NewDiskStore(logger, cfg.AudioStorageDir, publicBase)
	if err != nil {
		return nil, nil, err
	}

	var carrier internal_telnyx.Actions
	if cfg.TransportMode == internal_ingest.TransportPSTN {
		carrier, err = internal_telnyx.NewClient(logger, internal_telnyx.Config{
			BaseURL:     cfg.TelnyxApiBase,
			APIKey:      cfg.TelnyxApiKey,
			StreamTrack: cfg.TelnyxStreamTrack,
			StreamCodec: cfg.TelnyxStreamCodec,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	capacity := internal_capacity.NewController(logger, redisConn.Client(), internal_capacity.Config{
		Prefix:           cfg.CapPrefix,
		GlobalCap:        cfg.GlobalConcurrencyCap,
		TenantCapDefault: cfg.TenantConcurrencyCapDefault,
		TenantRPMDefault: cfg.TenantCallsPerMinCapDefault,
		TTLSeconds:       cfg.CapacityTtlSeconds,
	})

	tenants := internal_tenantcfg.NewStore(logger, redisConn.Client(), internal_tenantcfg.StoreConfig{
		Prefix:    cfg.TenantcfgPrefix,
		MapPrefix: cfg.TenantmapPrefix,
	})

	sttClient, err := internal_stt.NewClient(logger, internal_stt.ClientConfig{
		Mode:     cfg.SttMode,
		URL:      cfg.SttWhisperUrl,
		Language: cfg.SttLanguage,
		Timeout:  time.Duration(cfg.SttTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return nil, nil, err
	}

	// Without an LLM endpoint the session falls back to the canned reply.
	var llmClient internal_llm.Client
	if cfg.LlmUrl != "" {
		llmClient, err = internal_llm.NewClient(logger, internal_llm.Config{
			URL:          cfg.LlmUrl,
			Model:        cfg.LlmModel,
			SystemPrompt: cfg.LlmSystemPrompt,
			Timeout:      time.Duration(cfg.LlmTimeoutMs) * time.Millisecond,
		})
		if err != nil {
			return nil, nil, err
		}
	} else {
		logger.Warn("LLM_URL not set, replies fall back to the acknowledgement text")
	}

	ttsClient, err := internal_tts.NewClient(logger, internal_tts.Config{
		Mode:         cfg.TtsMode,
		URL:          cfg.TtsKokoroUrl,
		Voice:        cfg.TtsVoice,
		SampleRateHz: cfg.TtsSampleRate,
		Timeout:      time.Duration(cfg.TtsTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return nil, nil, err
	}

	manager := internal_session.NewManager(logger, internal_session.ManagerConfig{
		Session: internal_session.Config{
			Greeting:                 cfg.GreetingText,
			RepromptText:             cfg.RepromptText,
			SystemPrompt:             cfg.LlmSystemPrompt,
			WatchdogMs:               cfg.PlaybackWatchdogMs,
			DeadAirMs:                cfg.DeadAirMs,
			DeadAirNoFrames:          cfg.DeadAirNoFramesMs,
			LateFinalGraceMs:         cfg.SttLateFinalGraceMs,
			PostPlaybackGraceFixedMs: cfg.SttPostPlaybackGraceMs,
			PostPlaybackGraceMinMs:   cfg.SttPostPlaybackGraceMinMs,
			PostPlaybackGraceMaxMs:   cfg.SttPostPlaybackGraceMaxMs,
		},
		Ingest: internal_ingest.Config{
			ExpectedTrack:      cfg.TelnyxStreamTrack,
			TargetRateHz:       cfg.TelnyxTargetSampleRate,
			EmitMs:             cfg.SttEmitMs,
			GuardMs:            cfg.SttPlaybackGuardMs,
			RequireBE:          cfg.AmrwbRequireBe,
			DefaultBE:          cfg.TelnyxAmrwbDefaultBe,
			RestartCodec:       internal_codec.Name(cfg.AmrwbRestartCodec),
			MaxRestartAttempts: cfg.AmrwbMaxRestartAttempts,
			AMRWB: internal_codec.AMRWBConfig{
				MinFrames:       cfg.AmrwbMinDecodeFrames,
				MaxBufferMs:     cfg.AmrwbMaxBufferMs,
				AllowOctet:      cfg.AmrwbAllowOctetFallback,
				StrictCarryover: cfg.AmrwbStreamStrict,
				DebugDir:        cfg.AmrwbDebugDir,
			},
		},
		STT: internal_stt.DriverConfig{
			SampleRateHz:   cfg.TelnyxTargetSampleRate,
			SilenceMs:      cfg.SttSilenceMs,
			PartialChunkMs: cfg.SttChunkMs,
			PreRollMs:      cfg.SttPreRollMs,
			DebugDir:       cfg.SttDebugDir,
		},
		AECEnabled:       cfg.SttAecEnabled,
		StreamURL:        cfg.TelnyxStreamUrl,
		InputCodec:       cfg.TelnyxStreamCodec,
		PlaybackRateHz:   playbackRate(cfg),
		PlaybackHighpass: cfg.PlaybackEnableHighpass,
		ICEServers:       iceServers(cfg.StunServer),
		IdleTTL:          time.Duration(cfg.SessionIdleTtlSeconds) * time.Second,
	}, capacity, carrier, store, sttClient, llmClient, ttsClient)

	api := bridgeApi.New(cfg, logger, manager, tenants, store, carrier, redisConn)
	return manager, api, nil
}

// playbackRate resolves the outbound PSTN sample rate from the profile.
func playbackRate(cfg *config.AppConfig) int {
	if cfg.PlaybackProfile == "narrowband" {
		return 8000
	}
	return cfg.PlaybackPstnSampleRate
}

func iceServers(stun string) []pionwebrtc.ICEServer {
	var servers []pionwebrtc.ICEServer
	for _, u := range strings.Split(stun, ",") {
		if u = strings.TrimSpace(u); u != "" {
			servers = append(servers, pionwebrtc.ICEServer{URLs: []string{u}})
		}
	}
	return servers
}
