// Copyright 2025 James Ross
package masking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/caseworks/reportpipeline/internal/obs"
	"github.com/caseworks/reportpipeline/internal/report"
	"github.com/redis/go-redis/v9"
)

// CachedEngine fronts Engine.Resolve with a Redis cache of compiled rule
// sets keyed by (role, reportType), matching spec §4.2's "cache compiled
// rule sets keyed by (role, report-type)". Token-carried rules are never
// cached (they are already cheap to decode and are per-request); only the
// identity-provider admin API fallback is cached, since that's the
// round-trip worth avoiding.
type CachedEngine struct {
	engine *Engine
	rdb    *redis.Client
	ttl    time.Duration
}

// NewCached wraps an Engine with a Redis-backed cache for its admin-API fallback path.
func NewCached(engine *Engine, rdb *redis.Client, ttl time.Duration) *CachedEngine {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedEngine{engine: engine, rdb: rdb, ttl: ttl}
}

func cacheKey(role, reportType string) string {
	return fmt.Sprintf("maskrules:%s:%s", role, reportType)
}

// Resolve consults the cache only when the token itself carries no rules
// (spec §4.2's resolution order is unchanged: token first, always).
func (c *CachedEngine) Resolve(ctx context.Context, role, reportType string, tokenRules []report.MaskingRule) (report.RuleSet, error) {
	if len(tokenRules) > 0 {
		return compile(tokenRules), nil
	}

	key := cacheKey(role, reportType)
	if c.rdb != nil {
		if cached, err := c.rdb.Get(ctx, key).Result(); err == nil {
			var rules []report.MaskingRule
			if jsonErr := json.Unmarshal([]byte(cached), &rules); jsonErr == nil && len(rules) > 0 {
				obs.MaskingCacheHits.Inc()
				return compile(rules), nil
			}
		}
	}
	obs.MaskingCacheMisses.Inc()

	ruleSet, err := c.engine.Resolve(ctx, role, reportType, nil)
	if err != nil {
		return nil, err
	}

	if c.rdb != nil {
		rules := make([]report.MaskingRule, 0, len(ruleSet))
		for _, r := range ruleSet {
			rules = append(rules, r)
		}
		if b, marshalErr := json.Marshal(rules); marshalErr == nil {
			_ = c.rdb.Set(ctx, key, b, c.ttl).Err()
		}
	}
	return ruleSet, nil
}
