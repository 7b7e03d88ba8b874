// Package cache holds the per-owner read-model caches and the invalidators
// that drop them when financial transactions change: Redis, an in-process
// map and PostgreSQL LISTEN/NOTIFY fan-out between instances.
package cache

import (
	"context"
	"errors"

	"larder/internal/core/id"
	"larder/internal/domain/finance"
)

// Prefix namespaces every key this service writes to a shared cache.
const Prefix = "larder"

// Key returns the owner-scoped cache key for name.
func Key(owner id.ID, name string) string {
	return Prefix + ":" + owner.String() + ":" + name
}

// Invalidator drops cached entries for an owner.
type Invalidator interface {
	Invalidate(ctx context.Context, owner id.ID, keys ...string) error
}

// Multi fans an invalidation out to every member. All members are called
// even when one fails.
type Multi []Invalidator

// Invalidate implements finance.CacheInvalidator.
func (m Multi) Invalidate(ctx context.Context, owner id.ID, keys ...string) error {
	var errs []error
	for _, inv := range m {
		if inv == nil {
			continue
		}
		if err := inv.Invalidate(ctx, owner, keys...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ finance.CacheInvalidator = Multi(nil)
	_ finance.CacheInvalidator = (*Redis)(nil)
	_ finance.CacheInvalidator = (*Local)(nil)
	_ finance.CacheInvalidator = (*NotifyInvalidator)(nil)
	_ finance.SummaryCache     = (*Redis)(nil)
	_ finance.SummaryCache     = (*Local)(nil)
)
