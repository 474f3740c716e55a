// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_tenantcfg holds the per-tenant configuration contract:
// the v1 schema, its validation rules, the Redis-backed store and the
// document edit operations the admin CLI exposes.
package internal_tenantcfg

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ContractV1 is the only contract version this build understands.
const ContractV1 = "v1"

// Config is the v1 tenant configuration document.
type Config struct {
	ContractVersion string   `json:"contractVersion" validate:"required,eq=v1"`
	TenantID        string   `json:"tenantId" validate:"required"`
	DIDs            []string `json:"dids,omitempty" validate:"omitempty,dive,e164"`

	// Exactly one of the two secret fields may be present.
	WebhookSecretRef string `json:"webhookSecretRef,omitempty"`
	WebhookSecret    string `json:"webhookSecret,omitempty"`

	Caps  *Caps  `json:"caps,omitempty"`
	STT   *STT   `json:"stt,omitempty"`
	TTS   *TTS   `json:"tts,omitempty"`
	Audio *Audio `json:"audio,omitempty"`
}

// Caps overrides the admission defaults for one tenant.
type Caps struct {
	MaxConcurrentCallsTenant int `json:"maxConcurrentCallsTenant,omitempty" validate:"omitempty,gte=0"`
	MaxCallsPerMinuteTenant  int `json:"maxCallsPerMinuteTenant,omitempty" validate:"omitempty,gte=0"`
	MaxConcurrentCallsGlobal int `json:"maxConcurrentCallsGlobal,omitempty" validate:"omitempty,gte=0"`
}

// STT selects and tunes the tenant's transcription backend.
type STT struct {
	Mode       string         `json:"mode,omitempty" validate:"omitempty,oneof=disabled http_wav_json"`
	WhisperURL string         `json:"whisperUrl,omitempty" validate:"omitempty,url"`
	ChunkMs    int            `json:"chunkMs,omitempty" validate:"omitempty,gte=0"`
	Language   string         `json:"language,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
}

// TTS selects and tunes the tenant's synthesis backend.
type TTS struct {
	Mode       string `json:"mode,omitempty" validate:"omitempty,oneof=kokoro_http"`
	KokoroURL  string `json:"kokoroUrl,omitempty" validate:"omitempty,url"`
	Voice      string `json:"voice,omitempty"`
	Format     string `json:"format,omitempty" validate:"omitempty,oneof=wav"`
	SampleRate int    `json:"sampleRate,omitempty" validate:"omitempty,oneof=8000 16000 22050 24000 48000"`
}

// Audio configures where synthesized segments are stored and served from.
type Audio struct {
	PublicBaseURL  string `json:"publicBaseUrl,omitempty" validate:"omitempty,url"`
	StorageDir     string `json:"storageDir,omitempty"`
	RuntimeManaged bool   `json:"runtimeManaged,omitempty"`
}

var validate = validator.New()

// Validate checks the struct tags plus the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("tenantcfg: %w", err)
	}
	if c.WebhookSecret != "" && c.WebhookSecretRef != "" {
		return fmt.Errorf("tenantcfg: webhookSecret and webhookSecretRef are mutually exclusive")
	}
	if c.TTS != nil && c.TTS.Mode == "kokoro_http" && c.TTS.KokoroURL == "" {
		return fmt.Errorf("tenantcfg: tts.kokoroUrl is required for mode kokoro_http")
	}
	if c.STT != nil && c.STT.Mode == "http_wav_json" && c.STT.WhisperURL == "" {
		return fmt.Errorf("tenantcfg: stt.whisperUrl is required for mode http_wav_json")
	}
	return nil
}

// Parse decodes and validates a raw document.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("tenantcfg: invalid json: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateDocument round-trips an untyped document through the schema. The
// CLI edits untyped maps; this is the gate before anything is written.
func ValidateDocument(doc map[string]any) (*Config, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("tenantcfg: marshal: %w", err)
	}
	return Parse(raw)
}
