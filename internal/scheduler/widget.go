package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nightscout-labs/liveactivity/internal/activity"
	"github.com/nightscout-labs/liveactivity/internal/apns"
	"github.com/nightscout-labs/liveactivity/internal/store"
)

// widgetIntervalFloor keeps the fan-out from hammering APNs when the
// configured cadence is too aggressive.
const widgetIntervalFloor = 5 * time.Minute

// WidgetTicker periodically fans out silent refresh pushes to every token in
// the widget sets, dropping tokens APNs reports as dead.
type WidgetTicker struct {
	store    *store.Client
	pusher   Pusher
	logger   *slog.Logger
	interval time.Duration
}

// NewWidgetTicker creates a widget ticker. Intervals below the five-minute
// floor are raised to it.
func NewWidgetTicker(st *store.Client, pusher Pusher, interval time.Duration, logger *slog.Logger) *WidgetTicker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval < widgetIntervalFloor {
		interval = widgetIntervalFloor
	}
	return &WidgetTicker{
		store:    st,
		pusher:   pusher,
		logger:   logger,
		interval: interval,
	}
}

// Run fans out refreshes until the context is cancelled.
func (w *WidgetTicker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("widget ticker started", "interval", w.interval.String())
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("widget ticker stopped")
			return
		case <-ticker.C:
			w.refresh(ctx)
		}
	}
}

// refresh sends one round of silent pushes across both environments.
func (w *WidgetTicker) refresh(ctx context.Context) {
	for _, env := range activity.Environments() {
		tokens, err := w.store.ListWidgetTokens(ctx, env)
		if err != nil {
			w.logger.Error("widget token list failed", "environment", string(env), "error", err)
			continue
		}

		var dropped int
		for _, deviceToken := range tokens {
			err := w.pusher.SendWidgetRefresh(ctx, env, deviceToken)
			var pushErr *apns.PushError
			if errors.As(err, &pushErr) && pushErr.Terminal() {
				if err := w.store.RemoveWidgetToken(ctx, env, deviceToken); err != nil {
					w.logger.Error("widget token removal failed", "environment", string(env), "error", err)
					continue
				}
				dropped++
			}
		}

		if len(tokens) > 0 {
			w.logger.Debug("widget refresh round done",
				"environment", string(env),
				"tokens", len(tokens),
				"dropped", dropped,
			)
		}
	}
}
