// Package tiered implements a two-level (L1 + L2) cache adapter.
package tiered

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Strob0t/agentgate/internal/port/cache"
)

// Cache puts a short-lived local L1 in front of a shared L2. L2 is the
// source of truth: it is written first, and an L1 entry never outlives
// l1Expire so a peer evicted from L2 drops out of every agent within that
// bound.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
}

// New creates a tiered cache. A nil l2 degrades to L1 only.
func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire}
}

// Get checks L1, then L2, backfilling L1 on an L2 hit.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found || c.l2 == nil {
		return val, found, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	if err := c.l1.Set(ctx, key, val, c.l1Expire); err != nil {
		slog.DebugContext(ctx, "l1 backfill failed", "key", key, "error", err)
	}
	return val, true, nil
}

// Set writes L2, then L1 with a TTL capped at l1Expire.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}
	return c.l1.Set(ctx, key, value, c.l1TTL(ttl))
}

// Delete removes key from both levels, attempting both even if one fails.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.l1.Delete(ctx, key)
	if c.l2 != nil {
		err = errors.Join(err, c.l2.Delete(ctx, key))
	}
	return err
}

func (c *Cache) l1TTL(ttl time.Duration) time.Duration {
	switch {
	case c.l2 == nil || c.l1Expire <= 0:
		return ttl
	case ttl <= 0 || ttl > c.l1Expire:
		return c.l1Expire
	default:
		return ttl
	}
}
