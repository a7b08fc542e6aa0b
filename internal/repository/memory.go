package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryGuard is the in-process fallback when Redis is unreachable. Dedup
// marks are lost on restart, which is acceptable for a degraded mode: the
// transport retry window is short and the guard fails open by design of
// the failover wrapper, not here.
type MemoryGuard struct {
	seen       sync.Map
	rateLimits sync.Map
	ttl        time.Duration
	sweepMu    sync.Mutex
	nextSweep  time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{ttl: ttl}
}

func (m *MemoryGuard) CheckAndMark(ctx context.Context, messageID string) (bool, error) {
	now := time.Now()
	m.maybeSweep(now)
	val, loaded := m.seen.LoadOrStore(messageID, now.Add(m.ttl))
	if !loaded {
		return true, nil
	}
	expiresAt := val.(time.Time)
	if now.After(expiresAt) {
		m.seen.Store(messageID, now.Add(m.ttl))
		return true, nil
	}
	return false, nil
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func (m *MemoryGuard) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	m.maybeSweep(now)
	val, ok := m.rateLimits.Load(key)

	var entry *rateLimitEntry
	if !ok {
		entry = &rateLimitEntry{
			count:     1,
			expiresAt: now.Add(window),
		}
	} else {
		entry = val.(*rateLimitEntry)
		if now.After(entry.expiresAt) {
			entry.count = 1
			entry.expiresAt = now.Add(window)
		} else {
			entry.count++
		}
	}

	m.rateLimits.Store(key, entry)
	return entry.count <= limit, nil
}

// maybeSweep drops expired entries at most once per ttl, keeping the maps
// bounded while redis is down. Message ids that never return would
// otherwise accumulate forever.
func (m *MemoryGuard) maybeSweep(now time.Time) {
	m.sweepMu.Lock()
	if now.Before(m.nextSweep) {
		m.sweepMu.Unlock()
		return
	}
	m.nextSweep = now.Add(m.ttl)
	m.sweepMu.Unlock()

	m.seen.Range(func(key, val any) bool {
		if now.After(val.(time.Time)) {
			m.seen.Delete(key)
		}
		return true
	})
	m.rateLimits.Range(func(key, val any) bool {
		if now.After(val.(*rateLimitEntry).expiresAt) {
			m.rateLimits.Delete(key)
		}
		return true
	})
}
