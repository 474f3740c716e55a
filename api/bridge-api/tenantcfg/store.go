// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_tenantcfg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/voxbridgeai/pkg/commons"
)

// ErrNotFound means no document exists for the tenant (or DID).
var ErrNotFound = errors.New("tenantcfg: not found")

// StoreConfig names the key prefixes.
type StoreConfig struct {
	// Prefix for config documents, default "tenantcfg".
	Prefix string
	// MapPrefix for DID to tenant lookups, default "tenantmap".
	MapPrefix string
}

// Store persists tenant config documents and the DID index.
type Store interface {
	// Load returns the raw document for editing.
	Load(ctx context.Context, tenantID string) (map[string]any, error)
	// Save validates and writes the document, then refreshes the DID index.
	Save(ctx context.Context, tenantID string, doc map[string]any) error
	// Get returns the typed, validated config.
	Get(ctx context.Context, tenantID string) (*Config, error)
	// TenantByDID resolves an E.164 number to the owning tenant.
	TenantByDID(ctx context.Context, did string) (string, error)
}

type store struct {
	logger commons.Logger
	client *redis.Client
	cfg    StoreConfig
}

// NewStore wires the Redis-backed store.
func NewStore(logger commons.Logger, client *redis.Client, cfg StoreConfig) Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "tenantcfg"
	}
	if cfg.MapPrefix == "" {
		cfg.MapPrefix = "tenantmap"
	}
	return &store{logger: logger, client: client, cfg: cfg}
}

func (s *store) docKey(tenantID string) string {
	return fmt.Sprintf("%s:%s", s.cfg.Prefix, tenantID)
}

func (s *store) didKey(did string) string {
	return fmt.Sprintf("%s:%s", s.cfg.MapPrefix, did)
}

func (s *store) Load(ctx context.Context, tenantID string) (map[string]any, error) {
	raw, err := s.client.Get(ctx, s.docKey(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenantcfg: load: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("tenantcfg: stored document is corrupt: %w", err)
	}
	return doc, nil
}

func (s *store) Save(ctx context.Context, tenantID string, doc map[string]any) error {
	cfg, err := ValidateDocument(doc)
	if err != nil {
		return err
	}
	if cfg.TenantID != tenantID {
		return fmt.Errorf("tenantcfg: document tenantId %q does not match key %q", cfg.TenantID, tenantID)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("tenantcfg: marshal: %w", err)
	}
	if err := s.client.Set(ctx, s.docKey(tenantID), raw, 0).Err(); err != nil {
		return fmt.Errorf("tenantcfg: save: %w", err)
	}
	for _, did := range cfg.DIDs {
		if err := s.client.Set(ctx, s.didKey(did), tenantID, 0).Err(); err != nil {
			return fmt.Errorf("tenantcfg: did index: %w", err)
		}
	}
	s.logger.Infow("tenant config saved", "tenantId", tenantID, "dids", len(cfg.DIDs))
	return nil
}

func (s *store) Get(ctx context.Context, tenantID string) (*Config, error) {
	raw, err := s.client.Get(ctx, s.docKey(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenantcfg: get: %w", err)
	}
	return Parse(raw)
}

func (s *store) TenantByDID(ctx context.Context, did string) (string, error) {
	tenantID, err := s.client.Get(ctx, s.didKey(did)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("tenantcfg: did lookup: %w", err)
	}
	return tenantID, nil
}
