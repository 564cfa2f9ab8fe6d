package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qrfeedback/platform/internal/metrics"
	"github.com/qrfeedback/platform/internal/profile"
)

const expireBatchSize = 100

// ExpiryTimer periodically deactivates owners whose subscription has ended.
type ExpiryTimer struct {
	profiles profile.Store
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewExpiryTimer creates a new subscription expiry timer.
func NewExpiryTimer(profiles profile.Store, interval time.Duration, logger *slog.Logger) *ExpiryTimer {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &ExpiryTimer{
		profiles: profiles,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *ExpiryTimer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *ExpiryTimer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the timer to stop. It is safe to call more than once.
func (t *ExpiryTimer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *ExpiryTimer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in expiry timer", "panic", fmt.Sprint(r))
		}
	}()
	t.Sweep(ctx)
}

// Sweep deactivates every owner whose subscription ended at or before now,
// in batches, and returns how many were deactivated.
func (t *ExpiryTimer) Sweep(ctx context.Context) int {
	now := t.now()
	total := 0
	for ctx.Err() == nil {
		ids, err := t.profiles.ExpireDue(ctx, now, expireBatchSize)
		if err != nil {
			t.logger.Warn("failed to expire subscriptions", "error", err)
			break
		}
		total += len(ids)
		metrics.SubscriptionsExpiredTotal.Add(float64(len(ids)))
		for _, id := range ids {
			t.logger.Info("subscription expired", "user_id", id)
		}
		if len(ids) < expireBatchSize {
			break
		}
	}
	return total
}
