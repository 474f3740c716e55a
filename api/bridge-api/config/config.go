// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package config

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/voxbridgeai/pkg/configs"
)

// Application config structure
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogFile  string `mapstructure:"log_file"`

	RedisConfig configs.RedisConfig `mapstructure:"redis" validate:"required"`

	// Transport selection: pstn or webrtc_hd.
	TransportMode string `mapstructure:"transport_mode" validate:"required,oneof=pstn webrtc_hd"`

	// Carrier (Telnyx) integration.
	TelnyxApiKey           string `mapstructure:"telnyx_api_key"`
	TelnyxApiBase          string `mapstructure:"telnyx_api_base"`
	TelnyxStreamUrl        string `mapstructure:"telnyx_stream_url"`
	TelnyxStreamTrack      string `mapstructure:"telnyx_stream_track" validate:"oneof=inbound outbound both_tracks"`
	TelnyxStreamCodec      string `mapstructure:"telnyx_stream_codec"`
	TelnyxTargetSampleRate int    `mapstructure:"telnyx_target_sample_rate" validate:"required"`
	TelnyxAmrwbDefaultBe   bool   `mapstructure:"telnyx_amrwb_default_be"`

	// AMR-WB decode behavior.
	AmrwbRequireBe          bool   `mapstructure:"amrwb_require_be"`
	AmrwbAllowOctetFallback bool   `mapstructure:"amrwb_allow_octet_fallback"`
	AmrwbStreamStrict       bool   `mapstructure:"amrwb_stream_strict"`
	AmrwbMinDecodeFrames    int    `mapstructure:"amrwb_min_decode_frames"`
	AmrwbMaxBufferMs        int    `mapstructure:"amrwb_max_buffer_ms"`
	AmrwbDebugDir           string `mapstructure:"amrwb_debug_dir"`
	AmrwbRestartCodec       string `mapstructure:"amrwb_restart_codec"`
	AmrwbMaxRestartAttempts int    `mapstructure:"amrwb_max_restart_attempts"`

	// STT and turn behavior.
	SttMode                   string `mapstructure:"stt_mode" validate:"oneof=disabled http_wav_json"`
	SttWhisperUrl             string `mapstructure:"stt_whisper_url"`
	SttLanguage               string `mapstructure:"stt_language"`
	SttTimeoutMs              int    `mapstructure:"stt_timeout_ms"`
	SttSilenceMs              int    `mapstructure:"stt_silence_ms"`
	SttChunkMs                int    `mapstructure:"stt_chunk_ms"`
	SttEmitMs                 int    `mapstructure:"stt_emit_ms"`
	SttPreRollMs              int    `mapstructure:"stt_pre_roll_ms"`
	SttPostPlaybackGraceMs    int    `mapstructure:"stt_post_playback_grace_ms"`
	SttPostPlaybackGraceMinMs int    `mapstructure:"stt_post_playback_grace_min_ms"`
	SttPostPlaybackGraceMaxMs int    `mapstructure:"stt_post_playback_grace_max_ms"`
	SttAecEnabled             bool   `mapstructure:"stt_aec_enabled"`
	SttLateFinalGraceMs       int    `mapstructure:"stt_late_final_grace_ms"`
	SttPlaybackGuardMs        int    `mapstructure:"stt_playback_guard_ms"`
	SttDebugDir               string `mapstructure:"stt_debug_dir"`

	// Dead-air reprompt.
	DeadAirMs         int `mapstructure:"dead_air_ms"`
	DeadAirNoFramesMs int `mapstructure:"dead_air_no_frames_ms"`

	// LLM backend.
	LlmUrl          string `mapstructure:"llm_url"`
	LlmModel        string `mapstructure:"llm_model"`
	LlmSystemPrompt string `mapstructure:"llm_system_prompt"`
	LlmTimeoutMs    int    `mapstructure:"llm_timeout_ms"`

	// TTS backend.
	TtsMode       string `mapstructure:"tts_mode" validate:"oneof=kokoro_http"`
	TtsKokoroUrl  string `mapstructure:"tts_kokoro_url"`
	TtsVoice      string `mapstructure:"tts_voice"`
	TtsSampleRate int    `mapstructure:"tts_sample_rate"`
	TtsTimeoutMs  int    `mapstructure:"tts_timeout_ms"`

	// Capacity admission and key prefixes.
	GlobalConcurrencyCap        int    `mapstructure:"global_concurrency_cap"`
	TenantConcurrencyCapDefault int    `mapstructure:"tenant_concurrency_cap_default"`
	TenantCallsPerMinCapDefault int    `mapstructure:"tenant_calls_per_min_cap_default"`
	CapacityTtlSeconds          int    `mapstructure:"capacity_ttl_seconds"`
	CapPrefix                   string `mapstructure:"cap_prefix"`
	TenantmapPrefix             string `mapstructure:"tenantmap_prefix"`
	TenantcfgPrefix             string `mapstructure:"tenantcfg_prefix"`
	DefaultTenant               string `mapstructure:"default_tenant"`

	// Playback pipeline.
	PlaybackProfile        string `mapstructure:"playback_profile"`
	PlaybackPstnSampleRate int    `mapstructure:"playback_pstn_sample_rate"`
	PlaybackEnableHighpass bool   `mapstructure:"playback_enable_highpass"`
	PlaybackWatchdogMs     int    `mapstructure:"playback_watchdog_ms"`

	// Audio storage and public serving.
	AudioStorageDir string `mapstructure:"audio_storage_dir" validate:"required"`
	AudioPublicBase string `mapstructure:"audio_public_base"`
	GreetingText    string `mapstructure:"greeting_text"`
	RepromptText    string `mapstructure:"reprompt_text"`

	// WebRTC offer endpoint.
	OfferAllowedOrigins string `mapstructure:"offer_allowed_origins"`
	StunServer          string `mapstructure:"stun_server"`

	// Session housekeeping.
	SessionIdleTtlSeconds int `mapstructure:"session_idle_ttl_seconds"`
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env varaibles.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// setting all default values
	// keeping watch on https://github.com/spf13/viper/issues/188

	v.SetDefault("SERVICE_NAME", "bridge-api")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8084)
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("LOG_FILE", "")

	v.SetDefault("REDIS__HOST", "localhost")
	v.SetDefault("REDIS__PORT", 6379)
	v.SetDefault("REDIS__PASSWORD", "")
	v.SetDefault("REDIS__DATABASE", 0)

	v.SetDefault("TRANSPORT_MODE", "pstn")

	v.SetDefault("TELNYX_API_KEY", "")
	v.SetDefault("TELNYX_API_BASE", "https://api.telnyx.com/v2")
	v.SetDefault("TELNYX_STREAM_URL", "")
	v.SetDefault("TELNYX_STREAM_TRACK", "inbound")
	v.SetDefault("TELNYX_STREAM_CODEC", "AMR-WB")
	v.SetDefault("TELNYX_TARGET_SAMPLE_RATE", 16000)
	v.SetDefault("TELNYX_AMRWB_DEFAULT_BE", true)

	v.SetDefault("AMRWB_REQUIRE_BE", true)
	v.SetDefault("AMRWB_ALLOW_OCTET_FALLBACK", false)
	v.SetDefault("AMRWB_STREAM_STRICT", false)
	v.SetDefault("AMRWB_MIN_DECODE_FRAMES", 10)
	v.SetDefault("AMRWB_MAX_BUFFER_MS", 500)
	v.SetDefault("AMRWB_DEBUG_DIR", "")
	v.SetDefault("AMRWB_RESTART_CODEC", "PCMU")
	v.SetDefault("AMRWB_MAX_RESTART_ATTEMPTS", 1)

	v.SetDefault("STT_MODE", "http_wav_json")
	v.SetDefault("STT_WHISPER_URL", "")
	v.SetDefault("STT_LANGUAGE", "")
	v.SetDefault("STT_TIMEOUT_MS", 30000)
	v.SetDefault("STT_SILENCE_MS", 900)
	v.SetDefault("STT_CHUNK_MS", 0)
	v.SetDefault("STT_EMIT_MS", 100)
	v.SetDefault("STT_PRE_ROLL_MS", 300)
	v.SetDefault("STT_POST_PLAYBACK_GRACE_MS", 0)
	v.SetDefault("STT_POST_PLAYBACK_GRACE_MIN_MS", 300)
	v.SetDefault("STT_POST_PLAYBACK_GRACE_MAX_MS", 1200)
	v.SetDefault("STT_AEC_ENABLED", true)
	v.SetDefault("STT_LATE_FINAL_GRACE_MS", 1500)
	v.SetDefault("STT_PLAYBACK_GUARD_MS", 400)
	v.SetDefault("STT_DEBUG_DIR", "")

	v.SetDefault("DEAD_AIR_MS", 9000)
	v.SetDefault("DEAD_AIR_NO_FRAMES_MS", 4000)

	v.SetDefault("LLM_URL", "")
	v.SetDefault("LLM_MODEL", "")
	v.SetDefault("LLM_SYSTEM_PROMPT", "")
	v.SetDefault("LLM_TIMEOUT_MS", 30000)

	v.SetDefault("TTS_MODE", "kokoro_http")
	v.SetDefault("TTS_KOKORO_URL", "")
	v.SetDefault("TTS_VOICE", "af_heart")
	v.SetDefault("TTS_SAMPLE_RATE", 24000)
	v.SetDefault("TTS_TIMEOUT_MS", 30000)

	v.SetDefault("GLOBAL_CONCURRENCY_CAP", 50)
	v.SetDefault("TENANT_CONCURRENCY_CAP_DEFAULT", 5)
	v.SetDefault("TENANT_CALLS_PER_MIN_CAP_DEFAULT", 30)
	v.SetDefault("CAPACITY_TTL_SECONDS", 3600)
	v.SetDefault("CAP_PREFIX", "vbcap")
	v.SetDefault("TENANTMAP_PREFIX", "tenantmap")
	v.SetDefault("TENANTCFG_PREFIX", "tenantcfg")
	v.SetDefault("DEFAULT_TENANT", "default")

	v.SetDefault("PLAYBACK_PROFILE", "wideband")
	v.SetDefault("PLAYBACK_PSTN_SAMPLE_RATE", 16000)
	v.SetDefault("PLAYBACK_ENABLE_HIGHPASS", false)
	v.SetDefault("PLAYBACK_WATCHDOG_MS", 8000)

	v.SetDefault("AUDIO_STORAGE_DIR", "/tmp/voxbridge-audio")
	v.SetDefault("AUDIO_PUBLIC_BASE", "")
	v.SetDefault("GREETING_TEXT", "Hello! How can I help you today?")
	v.SetDefault("REPROMPT_TEXT", "Are you still there?")

	v.SetDefault("OFFER_ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("STUN_SERVER", "stun:stun.l.google.com:19302")

	v.SetDefault("SESSION_IDLE_TTL_SECONDS", 600)
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
