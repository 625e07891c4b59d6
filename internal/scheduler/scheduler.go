package scheduler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nightscout-labs/liveactivity/internal/metrics"
	"github.com/nightscout-labs/liveactivity/internal/store"
)

// Scheduler pops due activities off the schedule index once per second and
// hands each to the processor in its own goroutine. Ticks never wait for a
// previous tick's processors; the claim rescore keeps a slow processor from
// being picked up twice.
type Scheduler struct {
	store     *store.Client
	processor *Processor
	logger    *slog.Logger
	sem       *semaphore.Weighted
	interval  time.Duration
}

// Options configures the scheduler.
type Options struct {
	Store     *store.Client
	Processor *Processor
	Logger    *slog.Logger

	// MaxConcurrent bounds the number of processors running at once.
	// Zero means 64.
	MaxConcurrent int64

	// Interval overrides the 1 s tick, for tests.
	Interval time.Duration
}

// New creates a scheduler.
func New(opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 64
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{
		store:     opts.Store,
		processor: opts.Processor,
		logger:    logger,
		sem:       semaphore.NewWeighted(maxConcurrent),
		interval:  interval,
	}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "tick", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx, time.Now())
		}
	}
}

// tick runs one scheduling cycle: find what is due, claim it by rescoring
// to now+MaxPollInterval, and dispatch.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	start := time.Now()

	ids, err := s.store.DueBefore(ctx, now)
	if err != nil {
		s.logger.Error("due lookup failed", "error", err)
		return
	}

	if n, err := s.store.ScheduledCount(ctx); err == nil {
		metrics.ScheduledActivities.Set(float64(n))
	}

	if len(ids) == 0 {
		return
	}
	metrics.DueActivities.Observe(float64(len(ids)))

	// Claiming before dispatch reserves the ids: even if a processor
	// crashes before writing its own schedule entry, the bumped score
	// retries the activity within one MaxPollInterval.
	if err := s.store.Claim(ctx, ids, now.Add(maxIntervalDur)); err != nil {
		s.logger.Error("claim failed", "error", err)
		return
	}

	for _, id := range ids {
		if !s.sem.TryAcquire(1) {
			// Saturated. The claim score already guarantees a retry.
			s.logger.Warn("processor pool saturated, deferring", "due", len(ids))
			return
		}
		go func(id string) {
			defer s.sem.Release(1)
			s.processor.Process(ctx, id, time.Now())
		}(id)
	}

	metrics.TickDuration.Observe(time.Since(start).Seconds())
}
