// Package governor gates model calls behind the shared upstream rate limit
// and the per-user daily token ledger. One instance is shared by all requests
// in the process; it is injected, never ambient.
package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// ErrQuotaExhausted means the caller's daily token ceiling would be exceeded
// by the projected call.
var ErrQuotaExhausted = errors.New("daily token quota exhausted")

// Ledger is the per-user-per-day token accounting the governor checks and
// settles. Implemented by the store.
type Ledger interface {
	// Reserve atomically adds projected tokens to owner's counter for day,
	// unless the result would exceed ceiling. Returns false when denied.
	Reserve(ctx context.Context, owner, day string, projected, ceiling int64) (bool, error)
	// Adjust moves owner's counter for day by delta (negative allowed, the
	// counter never goes below zero). Used to settle a reservation to the
	// model-reported actual count.
	Adjust(ctx context.Context, owner, day string, delta int64) error
}

type Governor struct {
	limiter *rate.Limiter
	ledger  Ledger
	ceiling int64
	logger  *slog.Logger
}

// New builds a governor enforcing one upstream call per delay across the
// whole process, and dailyCeiling tokens per user per UTC day.
func New(delay time.Duration, ledger Ledger, dailyCeiling int64, logger *slog.Logger) *Governor {
	return &Governor{
		limiter: rate.NewLimiter(rate.Every(delay), 1),
		ledger:  ledger,
		ceiling: dailyCeiling,
		logger:  logger,
	}
}

// Before blocks until the shared upstream window opens, then reserves
// projected tokens against the caller's daily ledger. A denial is
// ErrQuotaExhausted; the orchestrator treats it like a failed chunk.
func (g *Governor) Before(ctx context.Context, owner string, projected int64) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate wait: %w", err)
	}

	ok, err := g.ledger.Reserve(ctx, owner, today(), projected, g.ceiling)
	if err != nil {
		return fmt.Errorf("reserve tokens: %w", err)
	}
	if !ok {
		g.logger.Warn("daily quota exhausted", "owner", owner, "projected", projected, "ceiling", g.ceiling)
		return ErrQuotaExhausted
	}
	return nil
}

// After settles a reservation to the model-reported actual token count.
// Estimates and actuals are expected to diverge; only actuals stay in the
// ledger.
func (g *Governor) After(ctx context.Context, owner string, projected, actual int64) error {
	delta := actual - projected
	if delta == 0 {
		return nil
	}
	if err := g.ledger.Adjust(ctx, owner, today(), delta); err != nil {
		return fmt.Errorf("settle tokens: %w", err)
	}
	return nil
}

// Release returns a reservation whose call never happened (skipped chunk,
// failed call after retry).
func (g *Governor) Release(ctx context.Context, owner string, projected int64) error {
	if projected == 0 {
		return nil
	}
	if err := g.ledger.Adjust(ctx, owner, today(), -projected); err != nil {
		return fmt.Errorf("release tokens: %w", err)
	}
	return nil
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}
