package retention

import (
	"context"
	"log/slog"
	"time"
)

// SweepResult contains the results of a single retention sweep.
type SweepResult struct {
	EntriesDeleted int
	Cutoff         time.Time
	Duration       time.Duration
}

// LedgerStore is the slice of the idempotency ledger the sweeper needs.
type LedgerStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (deleted int, err error)
}

type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// Sweeper prunes processed-event ledger entries past the retention window.
// Pruned fingerprints can be reserved again, so the retention period bounds
// the deduplication horizon; keep it comfortably longer than any provider's
// retry schedule.
type Sweeper struct {
	store     LedgerStore
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

func New(store LedgerStore, retention time.Duration, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:     store,
		logger:    slog.Default(),
		interval:  time.Hour,
		retention: retention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			startTime := time.Now()
			res, err := s.RunOnce(ctx)
			duration := time.Since(startTime)

			if err != nil {
				s.logger.Error("ledger_retention_sweep_failed",
					"error", err,
					"duration_ms", duration.Milliseconds(),
				)
				continue
			}
			res.Duration = duration

			s.logger.Info("ledger_retention_sweep_completed",
				"entries_deleted", res.EntriesDeleted,
				"cutoff", res.Cutoff,
				"duration_ms", duration.Milliseconds(),
			)

		case <-ctx.Done():
			s.logger.Info("ledger retention sweeper stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce executes a single sweep. Logging is handled by the caller (Start).
func (s *Sweeper) RunOnce(ctx context.Context) (*SweepResult, error) {
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	return &SweepResult{EntriesDeleted: deleted, Cutoff: cutoff}, nil
}
