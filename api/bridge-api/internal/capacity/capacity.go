// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_capacity gates call admission against global and
// per-tenant caps. All mutations run inside one server-side script so
// concurrent acquires across processes can never over-admit.
package internal_capacity

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxbridgeai/pkg/commons"
)

// Rejection reasons returned by TryAcquire.
const (
	ReasonOK               = "ok"
	ReasonGlobalAtCapacity = "global_at_capacity"
	ReasonTenantAtCapacity = "tenant_at_capacity"
	ReasonTenantRateLimit  = "tenant_rate_limited"
)

// Config carries the default caps; per-tenant overrides live in the store.
type Config struct {
	Prefix           string
	GlobalCap        int
	TenantCapDefault int
	TenantRPMDefault int
	TTLSeconds       int
}

func (c *Config) defaults() {
	if c.Prefix == "" {
		c.Prefix = "vbcap"
	}
	if c.GlobalCap <= 0 {
		c.GlobalCap = 50
	}
	if c.TenantCapDefault <= 0 {
		c.TenantCapDefault = 5
	}
	if c.TenantRPMDefault <= 0 {
		c.TenantRPMDefault = 30
	}
	if c.TTLSeconds <= 0 {
		c.TTLSeconds = 3600
	}
}

// Result is the outcome of one admission attempt.
type Result struct {
	Acquired bool
	Reason   string
}

// Controller is the admission gate used by the signalling layer.
type Controller interface {
	TryAcquire(ctx context.Context, tenantID, callID string) (Result, error)
	Release(ctx context.Context, tenantID, callID string) error
}

// tryAcquireScript implements the admission decision atomically:
// idempotent re-acquire, then global cap, tenant cap, tenant rate limit.
// KEYS: global-active, tenant-active, rpm counter, concurrency override,
// rpm override. ARGV: callId, globalCap, tenantCap, rpmCap, ttlSeconds.
var tryAcquireScript = redis.NewScript(`
local tenantCap = tonumber(ARGV[3])
local override = tonumber(redis.call('GET', KEYS[4]) or '0')
if override > 0 then tenantCap = override end
local rpmCap = tonumber(ARGV[4])
override = tonumber(redis.call('GET', KEYS[5]) or '0')
if override > 0 then rpmCap = override end

if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 or redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
  redis.call('SADD', KEYS[1], ARGV[1])
  redis.call('SADD', KEYS[2], ARGV[1])
  redis.call('EXPIRE', KEYS[1], ARGV[5])
  redis.call('EXPIRE', KEYS[2], ARGV[5])
  return 'ok'
end

if redis.call('SCARD', KEYS[1]) >= tonumber(ARGV[2]) then
  return 'global_at_capacity'
end
if redis.call('SCARD', KEYS[2]) >= tenantCap then
  return 'tenant_at_capacity'
end
if tonumber(redis.call('GET', KEYS[3]) or '0') >= rpmCap then
  return 'tenant_rate_limited'
end

redis.call('SADD', KEYS[1], ARGV[1])
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[5])
redis.call('EXPIRE', KEYS[2], ARGV[5])
local count = redis.call('INCR', KEYS[3])
if count == 1 then
  redis.call('EXPIRE', KEYS[3], 120)
end
return 'ok'
`)

var releaseScript = redis.NewScript(`
redis.call('SREM', KEYS[1], ARGV[1])
redis.call('SREM', KEYS[2], ARGV[1])
return 1
`)

type controller struct {
	logger commons.Logger
	client *redis.Client
	cfg    Config
	now    func() time.Time
}

// NewController builds the Redis-backed admission gate.
func NewController(logger commons.Logger, client *redis.Client, cfg Config) Controller {
	cfg.defaults()
	return &controller{logger: logger, client: client, cfg: cfg, now: time.Now}
}

func (c *controller) globalKey() string {
	return fmt.Sprintf("%s:global:active", c.cfg.Prefix)
}

func (c *controller) tenantKey(tenantID string) string {
	return fmt.Sprintf("%s:tenant:%s:active", c.cfg.Prefix, tenantID)
}

func (c *controller) rpmKey(tenantID string) string {
	return fmt.Sprintf("%s:tenant:%s:rpm:%s", c.cfg.Prefix, tenantID, c.now().UTC().Format("200601021504"))
}

func (c *controller) overrideKeys(tenantID string) (string, string) {
	return fmt.Sprintf("%s:tenant:%s:cap:concurrency", c.cfg.Prefix, tenantID),
		fmt.Sprintf("%s:tenant:%s:cap:rpm", c.cfg.Prefix, tenantID)
}

func (c *controller) TryAcquire(ctx context.Context, tenantID, callID string) (Result, error) {
	concKey, rpmCapKey := c.overrideKeys(tenantID)
	keys := []string{c.globalKey(), c.tenantKey(tenantID), c.rpmKey(tenantID), concKey, rpmCapKey}
	args := []interface{}{callID, c.cfg.GlobalCap, c.cfg.TenantCapDefault, c.cfg.TenantRPMDefault, c.cfg.TTLSeconds}

	// Run evaluates by SHA and re-loads on NOSCRIPT, so the script body is
	// shipped at most once per server.
	raw, err := tryAcquireScript.Run(ctx, c.client, keys, args...).Text()
	if err != nil {
		return Result{}, fmt.Errorf("capacity: tryAcquire script: %w", err)
	}

	res := Result{Acquired: raw == ReasonOK, Reason: raw}
	if !res.Acquired {
		c.logger.Infow("call rejected by capacity gate",
			"tenantId", tenantID, "callId", callID, "reason", raw)
	}
	return res, nil
}

func (c *controller) Release(ctx context.Context, tenantID, callID string) error {
	keys := []string{c.globalKey(), c.tenantKey(tenantID)}
	if err := releaseScript.Run(ctx, c.client, keys, callID).Err(); err != nil {
		return fmt.Errorf("capacity: release script: %w", err)
	}
	return nil
}
