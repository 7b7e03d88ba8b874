package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"larder/internal/core/id"
)

type localEntry struct {
	data    []byte
	expires time.Time
}

// Local is an in-process cache used when no Redis is configured.
// Entries are stored encoded so callers never share mutable state.
// Other instances drop their copies through Listener.
type Local struct {
	mu      sync.RWMutex
	entries map[string]localEntry
	ttl     time.Duration
	now     func() time.Time

	nextSweep time.Time
}

// NewLocal creates an in-process cache. ttl <= 0 means DefaultTTL.
func NewLocal(ttl time.Duration) *Local {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Local{
		entries: make(map[string]localEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get loads a live entry into dst.
func (l *Local) Get(ctx context.Context, owner id.ID, key string, dst any) (bool, error) {
	k := Key(owner, key)
	l.mu.RLock()
	e, ok := l.entries[k]
	l.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if now := l.now(); !now.Before(e.expires) {
		l.mu.Lock()
		if cur, ok := l.entries[k]; ok && !now.Before(cur.expires) {
			delete(l.entries, k)
		}
		l.mu.Unlock()
		return false, nil
	}
	if err := json.Unmarshal(e.data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Set stores value. At most once per ttl it also drops every expired entry,
// so owners that stop reading do not keep their entries forever.
func (l *Local) Set(ctx context.Context, owner id.ID, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if !now.Before(l.nextSweep) {
		l.sweep(now)
	}
	l.entries[Key(owner, key)] = localEntry{data: data, expires: now.Add(l.ttl)}
	return nil
}

func (l *Local) sweep(now time.Time) {
	for k, e := range l.entries {
		if !now.Before(e.expires) {
			delete(l.entries, k)
		}
	}
	l.nextSweep = now.Add(l.ttl)
}

// Invalidate drops the owner's keys.
func (l *Local) Invalidate(ctx context.Context, owner id.ID, keys ...string) error {
	l.mu.Lock()
	for _, k := range keys {
		delete(l.entries, Key(owner, k))
	}
	l.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones not yet swept included.
func (l *Local) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
