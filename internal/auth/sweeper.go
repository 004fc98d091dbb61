package auth

import (
	"context"
	"fmt"
	"time"

	"gatehouse.dev/internal/obs"
)

// SweepReport counts records removed by one sweep pass.
type SweepReport struct {
	Sessions      int64
	Passwords     int64
	Verifications int64
}

// Sweeper periodically removes stale sessions and expired credential and
// OTP records.
type Sweeper struct {
	store     Store
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepClock overrides the time source.
func WithSweepClock(fn func() time.Time) SweeperOption {
	return func(sw *Sweeper) {
		if fn != nil {
			sw.now = fn
		}
	}
}

// NewSweeper constructs a sweeper. Zero durations fall back to 1h interval
// and 30 day session retention.
func NewSweeper(store Store, interval, retention time.Duration, opts ...SweeperOption) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	sw := &Sweeper{store: store, interval: interval, retention: retention, now: time.Now}
	for _, opt := range opts {
		opt(sw)
	}
	return sw
}

// Run sweeps on every tick until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	log := obs.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := sw.SweepOnce(ctx); err != nil {
				log.Error("sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce runs a single pass.
func (sw *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	now := sw.now().UTC()
	var (
		rep SweepReport
		err error
	)
	if rep.Sessions, err = sw.store.Sessions(ctx).DeleteStale(ctx, now.Add(-sw.retention)); err != nil {
		return rep, fmt.Errorf("sweep sessions: %w", err)
	}
	if rep.Passwords, err = sw.store.Passwords(ctx).DeleteExpired(ctx, now); err != nil {
		return rep, fmt.Errorf("sweep passwords: %w", err)
	}
	if rep.Verifications, err = sw.store.Verifications(ctx).DeleteExpired(ctx, now); err != nil {
		return rep, fmt.Errorf("sweep verifications: %w", err)
	}
	obs.SweepDeleted("sessions", rep.Sessions)
	obs.SweepDeleted("passwords", rep.Passwords)
	obs.SweepDeleted("verifications", rep.Verifications)
	obs.FromContext(ctx).Info("sweep done",
		"sessions", rep.Sessions, "passwords", rep.Passwords, "verifications", rep.Verifications)
	return rep, nil
}
