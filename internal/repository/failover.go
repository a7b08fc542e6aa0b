package repository

import (
	"context"
	"sync/atomic"
	"time"

	"slotline/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverGuard routes to the primary guard and drops to the fallback when
// the primary errors. It probes the primary again a minute after the last
// failure.
type FailoverGuard struct {
	primary   domain.IdempotencyGuard
	fallback  domain.IdempotencyGuard
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64 // unix nanos of the last primary failure
}

func NewFailoverGuard(primary, fallback domain.IdempotencyGuard, logger *zerolog.Logger) *FailoverGuard {
	return &FailoverGuard{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (g *FailoverGuard) markDown(err error) {
	g.logger.Error().Err(err).Msg("Primary idempotency guard failed, falling back to memory")
	g.isDown.Store(true)
	g.lastCheck.Store(time.Now().UnixNano())
}

func (g *FailoverGuard) shouldProbe() bool {
	return time.Since(time.Unix(0, g.lastCheck.Load())) > time.Minute
}

func (g *FailoverGuard) CheckAndMark(ctx context.Context, messageID string) (bool, error) {
	if !g.isDown.Load() {
		fresh, err := g.primary.CheckAndMark(ctx, messageID)
		if err == nil {
			return fresh, nil
		}
		g.markDown(err)
	} else if g.shouldProbe() {
		fresh, err := g.primary.CheckAndMark(ctx, messageID)
		if err == nil {
			g.isDown.Store(false)
			return fresh, nil
		}
		g.lastCheck.Store(time.Now().UnixNano())
	}

	return g.fallback.CheckAndMark(ctx, messageID)
}

func (g *FailoverGuard) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if !g.isDown.Load() {
		allowed, err := g.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			return allowed, nil
		}
		g.markDown(err)
	} else if g.shouldProbe() {
		allowed, err := g.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			g.isDown.Store(false)
			return allowed, nil
		}
		g.lastCheck.Store(time.Now().UnixNano())
	}

	return g.fallback.CheckRateLimit(ctx, key, limit, window)
}
