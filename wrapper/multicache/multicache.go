// Package multicache provides a multi-tiered httpcache.Backend that cascades
// through multiple backends with automatic fallback and promotion.
package multicache

import (
	"context"

	"github.com/rfc9111/httpcache"
)

// MultiCache implements a multi-tiered caching strategy where tiers are
// ordered from fastest/smallest (first) to slowest/largest (last). Reads
// search each tier in order and promote a found entry to every faster tier.
// Writes go to every tier, so each can apply its own eviction policy
// independently.
//
// Example tiering:
//   - Tier 1: in-memory (fast, small, volatile)
//   - Tier 2: Redis (medium speed, larger, persistent)
//   - Tier 3: PostgreSQL (slower, largest, highly persistent)
type MultiCache struct {
	tiers []httpcache.Backend
}

// New creates a MultiCache with the given tiers, ordered fastest-first. At
// least one tier is required, and all tiers must be non-nil and unique.
// Returns nil otherwise.
func New(tiers ...httpcache.Backend) *MultiCache {
	if len(tiers) == 0 {
		return nil
	}
	seen := make(map[httpcache.Backend]bool)
	for _, tier := range tiers {
		if tier == nil || seen[tier] {
			return nil
		}
		seen[tier] = true
	}
	return &MultiCache{tiers: tiers}
}

// Get searches each tier in order. When found in a slower tier, the entry
// is promoted (written) to every faster tier for subsequent quick access.
func (c *MultiCache) Get(ctx context.Context, key string) (*httpcache.Entry, error) {
	for i, tier := range c.tiers {
		entry, err := tier.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			_ = c.promoteToFasterTiers(ctx, key, entry, i) //nolint:errcheck // promotion is best-effort
			return entry, nil
		}
	}
	return nil, nil
}

// Put stores entry in every tier.
func (c *MultiCache) Put(ctx context.Context, key string, entry *httpcache.Entry) error {
	for _, tier := range c.tiers {
		if err := tier.Put(ctx, key, entry); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes key from every tier.
func (c *MultiCache) Remove(ctx context.Context, key string) error {
	for _, tier := range c.tiers {
		if err := tier.Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Update applies fn against the fastest tier's current value and then
// fans the result out to every tier. The fastest tier is the
// compare-and-swap authority; slower tiers are overwritten unconditionally,
// matching Put's fan-out semantics.
func (c *MultiCache) Update(ctx context.Context, key string, fn httpcache.UpdateFunc) (*httpcache.Entry, error) {
	result, err := c.tiers[0].Update(ctx, key, fn)
	if err != nil {
		return nil, err
	}
	for _, tier := range c.tiers[1:] {
		if result == nil {
			_ = tier.Remove(ctx, key) //nolint:errcheck // best-effort tier sync
			continue
		}
		_ = tier.Put(ctx, key, result) //nolint:errcheck // best-effort tier sync
	}
	return result, nil
}

// BulkGet fetches keys from the fastest tier, falling back tier by tier for
// whatever the faster tiers missed, promoting anything found along the way.
func (c *MultiCache) BulkGet(ctx context.Context, keys []string) (map[string]*httpcache.Entry, error) {
	out := make(map[string]*httpcache.Entry, len(keys))
	remaining := keys

	for i, tier := range c.tiers {
		if len(remaining) == 0 {
			break
		}
		found, err := tier.BulkGet(ctx, remaining)
		if err != nil {
			return nil, err
		}
		var stillMissing []string
		for _, k := range remaining {
			entry, ok := found[k]
			if !ok {
				stillMissing = append(stillMissing, k)
				continue
			}
			out[k] = entry
			_ = c.promoteToFasterTiers(ctx, k, entry, i) //nolint:errcheck // promotion is best-effort
		}
		remaining = stillMissing
	}
	return out, nil
}

func (c *MultiCache) promoteToFasterTiers(ctx context.Context, key string, entry *httpcache.Entry, foundAtTier int) error {
	for i := 0; i < foundAtTier; i++ {
		if err := c.tiers[i].Put(ctx, key, entry); err != nil {
			return err
		}
	}
	return nil
}
