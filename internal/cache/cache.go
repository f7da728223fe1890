// Package cache memoizes model responses so repeated prompts are served
// without a network call, including while the portal is offline.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store is the memo contract the AI gateway consumes. Get never blocks
// on the network and a miss is a normal, silent outcome. Put overwrites
// on key collision (last write wins).
type Store interface {
	Get(ctx context.Context, key string) (string, bool)
	Put(ctx context.Context, key, value string)
}

// Key builds the deterministic fingerprint for a generation request.
// Everything that determines the response participates: language code,
// prompt text and system instruction.
func Key(language, prompt, systemInstruction string) string {
	return "gen:" + language + "\x1f" + prompt + "\x1f" + systemInstruction
}

// ResponseCache is a two-tier memo store:
//   - L1: in-memory Ristretto cache with TTL eviction
//   - L2: optional Redis, shared across instances and restarts
//
// The L2 tier is what lets a fresh process keep serving previously seen
// answers in degraded/offline villages with flaky uplinks.
type ResponseCache struct {
	l1     *ristretto.Cache[string, string]
	l2     *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	hits    int64
	misses  int64
	l2Hits  int64
	entries int64
}

// Options configures a ResponseCache.
type Options struct {
	// MaxCost bounds the L1 tier, counted in response bytes. Zero means
	// 32 MiB.
	MaxCost int64
	// TTL bounds entry lifetime. Zero means 24 hours.
	TTL time.Duration
	// Redis enables the L2 tier when non-nil.
	Redis  *redis.Client
	Logger *zap.Logger
}

// New creates a ResponseCache.
func New(opts Options) (*ResponseCache, error) {
	if opts.MaxCost == 0 {
		opts.MaxCost = 32 << 20
	}
	if opts.TTL == 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	l1, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 100_000,
		MaxCost:     opts.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	return &ResponseCache{
		l1:     l1,
		l2:     opts.Redis,
		ttl:    opts.TTL,
		logger: opts.Logger.Named("respcache"),
	}, nil
}

// Get looks up a memoized response, consulting L1 then L2. An L2 hit is
// promoted into L1.
func (c *ResponseCache) Get(ctx context.Context, key string) (string, bool) {
	if val, found := c.l1.Get(key); found {
		c.record(&c.hits)
		return val, true
	}

	if c.l2 != nil {
		val, err := c.l2.Get(ctx, key).Result()
		if err == nil && val != "" {
			c.record(&c.l2Hits)
			c.l1.SetWithTTL(key, val, int64(len(val)), c.ttl)
			return val, true
		}
	}

	c.record(&c.misses)
	return "", false
}

// Put stores a response in both tiers. Callers must only pass real model
// output; failure placeholders would poison retries and are filtered out
// upstream by the gateway.
func (c *ResponseCache) Put(ctx context.Context, key, value string) {
	if value == "" {
		return
	}
	c.l1.SetWithTTL(key, value, int64(len(value)), c.ttl)
	// Flush the set buffer so an immediately repeated request hits.
	c.l1.Wait()
	c.record(&c.entries)

	if c.l2 != nil {
		go func() {
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := c.l2.Set(wctx, key, value, c.ttl).Err(); err != nil {
				c.logger.Warn("L2 cache write failed",
					zap.String("key", truncateKey(key)),
					zap.Error(err))
			}
		}()
	}
}

// Stats returns cache counters for the diagnostics endpoint.
func (c *ResponseCache) Stats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]interface{}{
		"hits":         c.hits,
		"misses":       c.misses,
		"l2_hits":      c.l2Hits,
		"entries":      c.entries,
		"ttl_seconds":  c.ttl.Seconds(),
		"l2_available": c.l2 != nil,
	}
}

// Close releases the L1 tier.
func (c *ResponseCache) Close() {
	c.l1.Close()
}

func (c *ResponseCache) record(counter *int64) {
	c.mu.Lock()
	*counter++
	c.mu.Unlock()
}

func truncateKey(key string) string {
	if i := strings.IndexByte(key, '\x1f'); i > 0 {
		return key[:i]
	}
	if len(key) > 48 {
		return key[:48]
	}
	return key
}
