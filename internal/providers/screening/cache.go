package screening

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"brokerguard/internal/providers"
	"brokerguard/pkg/platform/kv"
	"brokerguard/pkg/platform/sentinel"
)

// CachedScreener serves repeat lookups from the KV store for TTL. Only
// successful results are cached; provider errors always pass through.
type CachedScreener struct {
	next    Screener
	store   kv.Store
	ttl     time.Duration
	logger  *slog.Logger
	metrics *providers.Metrics
}

func NewCachedScreener(next Screener, store kv.Store, ttl time.Duration, logger *slog.Logger, metrics *providers.Metrics) *CachedScreener {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedScreener{next: next, store: store, ttl: ttl, logger: logger, metrics: metrics}
}

func cacheKey(name, registrationNumber string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(name)) + "|" + strings.TrimSpace(registrationNumber)))
	return "screening:" + hex.EncodeToString(sum[:])
}

func (c *CachedScreener) Check(ctx context.Context, name, registrationNumber string) (Result, error) {
	key := cacheKey(name, registrationNumber)
	raw, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		var res Result
		if jsonErr := json.Unmarshal([]byte(raw), &res); jsonErr == nil {
			c.metrics.IncCacheLookup("screening", true)
			return res, nil
		}
	case !errors.Is(err, sentinel.ErrNotFound):
		c.logger.WarnContext(ctx, "screening cache read failed", "error", err)
	}
	c.metrics.IncCacheLookup("screening", false)

	res, err := c.next.Check(ctx, name, registrationNumber)
	if err != nil {
		return Result{}, err
	}
	if encoded, jsonErr := json.Marshal(res); jsonErr == nil {
		if setErr := c.store.Set(ctx, key, string(encoded), c.ttl); setErr != nil {
			c.logger.WarnContext(ctx, "screening cache write failed", "error", setErr)
		}
	}
	return res, nil
}
