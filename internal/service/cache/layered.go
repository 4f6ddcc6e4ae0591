package cache

import (
	"context"
	"errors"
	"time"
)

// LayeredCache reads from the first tier holding the key and writes
// through to every tier.
type LayeredCache struct {
	tiers []BytesCache
}

// NewLayeredCache stacks tiers in read order. Nil tiers are skipped.
func NewLayeredCache(tiers ...BytesCache) *LayeredCache {
	lc := &LayeredCache{}
	for _, t := range tiers {
		if t != nil {
			lc.tiers = append(lc.tiers, t)
		}
	}
	return lc
}

func (lc *LayeredCache) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	var errs []error
	for _, t := range lc.tiers {
		b, ok, err := t.GetBytes(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return b, true, nil
		}
	}
	return nil, false, errors.Join(errs...)
}

// SetBytes writes every tier even when one fails.
func (lc *LayeredCache) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var errs []error
	for _, t := range lc.tiers {
		if err := t.SetBytes(ctx, key, value, ttl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
