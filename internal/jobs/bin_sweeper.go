// bin_sweeper.go implements the BinSweeper background job, which periodically
// permanently deletes recycle bin items whose retention window has passed.
// When several instances share a Redis, a lock keeps two sweeps from running
// at the same time; without Redis every instance sweeps on its own and the
// per-item delete in the store keeps the result correct.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"congregation-admin-go/internal/notify"
	"congregation-admin-go/internal/telemetry"
)

const (
	defaultSweepInterval = time.Hour
	sweepLockKey         = "locks:bin_sweep"
	sweepLockTTL         = 10 * time.Minute
)

// Purger runs one expiry sweep and reports how many items it removed.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// Locker takes a short-lived exclusive lock. ok is false when someone else holds it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Broadcaster tells subscribed admins about a sweep.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg notify.Message) (int, error)
}

// BinSweeper runs Purger on a fixed interval.
type BinSweeper struct {
	purger   Purger
	locker   Locker
	notifier Broadcaster
	interval time.Duration

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewBinSweeper creates a BinSweeper. A non-positive interval defaults to one hour.
func NewBinSweeper(purger Purger, interval time.Duration) *BinSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &BinSweeper{
		purger:   purger,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// WithLocker guards every run with l.
func (s *BinSweeper) WithLocker(l Locker) *BinSweeper {
	s.locker = l
	return s
}

// WithNotifier sends a summary through b after runs that purged something.
func (s *BinSweeper) WithNotifier(b Broadcaster) *BinSweeper {
	s.notifier = b
	return s
}

// Start runs a sweep immediately, then on every tick, until ctx is cancelled
// or Stop is called. It blocks; run it in its own goroutine.
func (s *BinSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("bin sweeper started", "interval", s.interval)

	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopChan:
			slog.Info("bin sweeper stopped")
			return
		case <-ctx.Done():
			slog.Info("bin sweeper context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (s *BinSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// RunOnce performs a single sweep and returns the number of purged items.
// A run skipped because another instance holds the lock returns 0 and no error.
func (s *BinSweeper) RunOnce(ctx context.Context) (int, error) {
	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, sweepLockKey, sweepLockTTL)
		if err != nil {
			telemetry.BinSweepRunsTotal.WithLabelValues("error").Inc()
			slog.Error("bin sweeper: failed to take lock", "error", err)
			return 0, fmt.Errorf("take sweep lock: %w", err)
		}
		if !ok {
			telemetry.BinSweepRunsTotal.WithLabelValues("skipped").Inc()
			slog.Debug("bin sweeper: another instance is sweeping, skipping")
			return 0, nil
		}
		defer release()
	}

	start := time.Now()
	n, err := s.purger.PurgeExpired(ctx)
	telemetry.ObserveSweep(n, time.Since(start), err)

	if err != nil {
		slog.Error("bin sweeper: sweep finished with errors", "purged", n, "error", err)
	} else if n > 0 {
		slog.Info("bin sweeper: purged expired items", "purged", n)
	}

	if n > 0 && s.notifier != nil {
		msg := notify.Message{
			Title: "Recycle bin",
			Body:  fmt.Sprintf("%d expired item(s) were permanently deleted.", n),
			URL:   "/admin/bin",
		}
		if _, perr := s.notifier.Broadcast(ctx, msg); perr != nil {
			slog.Warn("bin sweeper: failed to notify admins", "error", perr)
		}
	}
	return n, err
}
