// Package scheduler drives the adaptive polling of Live Activities: a 1 Hz
// tick loop over a Redis-backed schedule index, a per-activity processor,
// and the periodic widget refresh fan-out.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/nightscout-labs/liveactivity/internal/activity"
	"github.com/nightscout-labs/liveactivity/internal/alert"
	"github.com/nightscout-labs/liveactivity/internal/apns"
	"github.com/nightscout-labs/liveactivity/internal/dexcom"
	"github.com/nightscout-labs/liveactivity/internal/metrics"
	"github.com/nightscout-labs/liveactivity/internal/store"
)

// End reasons recorded in logs and metrics when an activity terminates.
const (
	ReasonMaxDuration    = "maxDuration"
	ReasonDexcomError    = "dexcomError"
	ReasonInvalidToken   = "apnsInvalidToken"
	ReasonManualStop     = "manualStop"
	ReasonTooManyRetries = "tooManyRetries"
)

const (
	// MinPollInterval and MaxPollInterval bound the adaptive poll interval,
	// in seconds.
	MinPollInterval = 4.0
	MaxPollInterval = 60.0

	// readingInterval is the upstream's reading cadence.
	readingInterval = 300 * time.Second

	// maximumDuration caps an activity's lifetime (7 h 45 m, just under
	// the 8 h budget iOS gives a Live Activity).
	maximumDuration = 27900 * time.Second

	// backoffFactor stretches the poll interval while the upstream has
	// nothing new; errorBackoffFactor stretches it on failures.
	backoffFactor      = 1.8
	errorBackoffFactor = 3.0

	// Retry budgets: decoding failures terminate once retryCount exceeds
	// decodingRetryLimit at max interval; generic failures terminate once
	// it reaches genericRetryLimit at max interval.
	decodingRetryLimit = 5
	genericRetryLimit  = 3
)

const (
	minIntervalDur = time.Duration(MinPollInterval * float64(time.Second))
	maxIntervalDur = time.Duration(MaxPollInterval * float64(time.Second))
)

// Fetcher polls the upstream CGM provider.
type Fetcher interface {
	Fetch(ctx context.Context, req dexcom.FetchRequest) (*dexcom.FetchResult, error)
}

// Pusher sends Live Activity and widget pushes. Terminal token rejections
// surface as *apns.PushError; everything else is swallowed by the gateway.
type Pusher interface {
	SendActivityUpdate(ctx context.Context, env activity.Environment, deviceToken string, state apns.ContentState, content *alert.Content, staleDate, timestamp time.Time) error
	SendActivityEnd(ctx context.Context, env activity.Environment, deviceToken string) error
	SendWidgetRefresh(ctx context.Context, env activity.Environment, deviceToken string) error
}

// Processor runs one poll cycle for one activity. It is safe to run more
// than once per cycle: record writes are last-writer-wins and pushes carry
// the full state each time.
type Processor struct {
	store   *store.Client
	fetcher Fetcher
	pusher  Pusher
	logger  *slog.Logger

	// jitterFn returns a random int in [0, n); swapped out in tests.
	jitterFn func(n int) int
}

// NewProcessor creates a processor.
func NewProcessor(st *store.Client, fetcher Fetcher, pusher Pusher, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:    st,
		fetcher:  fetcher,
		pusher:   pusher,
		logger:   logger,
		jitterFn: rand.Intn,
	}
}

// Process drives one activity through one poll cycle: load the record,
// fetch readings, push when there is something new, and persist what to do
// next as the schedule score.
func (p *Processor) Process(ctx context.Context, id string, now time.Time) {
	rec, err := p.store.GetRecord(ctx, id)
	if err != nil {
		// Store trouble: abort without unscheduling. The claim rescore
		// retries the activity within one MaxPollInterval.
		p.logger.Error("record load failed", "error", err)
		return
	}
	if rec == nil {
		// Ended while scheduled; drop the orphaned schedule entry.
		if err := p.store.Unschedule(ctx, id); err != nil {
			p.logger.Error("unschedule of ended activity failed", "error", err)
		}
		metrics.PollCycles.WithLabelValues("skipped").Inc()
		return
	}

	if now.Sub(rec.StartDate) >= maximumDuration {
		p.terminate(ctx, rec, ReasonMaxDuration)
		return
	}

	fetchStart := time.Now()
	result, err := p.fetcher.Fetch(ctx, fetchRequest(rec))
	if err != nil {
		metrics.UpstreamFetchDuration.WithLabelValues("error").Observe(time.Since(fetchStart).Seconds())
		metrics.PollCycles.WithLabelValues("error").Inc()

		var hardErr *dexcom.HardError
		var decErr *dexcom.DecodingError
		switch {
		case errors.As(err, &hardErr):
			p.logger.Warn("upstream refused account", "user", rec.LogID(), "code", hardErr.Code)
			p.terminate(ctx, rec, ReasonDexcomError)
		case errors.As(err, &decErr):
			p.handleDecoding(ctx, rec, decErr, now)
		default:
			p.handleGeneric(ctx, rec, err, now)
		}
		return
	}
	metrics.UpstreamFetchDuration.WithLabelValues("ok").Observe(time.Since(fetchStart).Seconds())

	// Refreshed session handles must be persisted on every reschedule to
	// avoid re-login storms.
	if result.AccountID != nil {
		rec.AccountID = result.AccountID
	}
	if result.SessionID != nil {
		rec.SessionID = result.SessionID
	}

	readings := result.Readings
	if len(readings) == 0 {
		delay := secondsDur(rec.PollInterval)
		rec.PollInterval = clampInterval(rec.PollInterval * backoffFactor)
		rec.RetryCount = 0
		p.reschedule(ctx, rec, now, delay)
		metrics.PollCycles.WithLabelValues("empty").Inc()
		return
	}

	latest := readings[len(readings)-1]
	if rec.LastReadingDate != nil && !latest.Date.After(*rec.LastReadingDate) {
		p.handleStale(ctx, rec, now)
		return
	}

	content := alert.Decide(latest, rec.LastReading, rec.Preferences)
	state := apns.StateFromReadings(readings)
	staleDate := latest.Date.Add(readingInterval + maxIntervalDur)

	err = p.pusher.SendActivityUpdate(ctx, rec.Environment, rec.PushToken, state, content, staleDate, now)
	var pushErr *apns.PushError
	if errors.As(err, &pushErr) && pushErr.Terminal() {
		p.logger.Warn("device token invalid", "user", rec.LogID(), "reason", pushErr.Reason)
		p.terminate(ctx, rec, ReasonInvalidToken)
		return
	}

	// Aim the next poll just after the expected next reading.
	delay := readingInterval - now.Sub(latest.Date) + minIntervalDur
	if delay < minIntervalDur {
		delay = minIntervalDur
	}

	rec.PollInterval = MinPollInterval
	latestCopy := latest
	rec.LastReading = &latestCopy
	latestDate := latest.Date
	rec.LastReadingDate = &latestDate
	rec.RetryCount = 0
	p.reschedule(ctx, rec, now, delay)
	metrics.PollCycles.WithLabelValues("reading").Inc()
}

// handleStale reschedules when the upstream returned nothing newer than what
// the device already has. No push is sent.
func (p *Processor) handleStale(ctx context.Context, rec *activity.Record, now time.Time) {
	sinceLast := now.Sub(*rec.LastReadingDate)
	if sinceLast > readingInterval {
		// The reading is overdue; the sensor may be warming up or off.
		// Back off but keep the retry count: this is not an error cycle.
		delay := secondsDur(rec.PollInterval)
		rec.PollInterval = clampInterval(rec.PollInterval * backoffFactor)
		p.reschedule(ctx, rec, now, delay)
	} else {
		// We polled early. Sleep until just after the next expected
		// reading and reset the adaptive interval.
		delay := readingInterval - sinceLast + minIntervalDur
		if delay < minIntervalDur {
			delay = minIntervalDur
		}
		rec.PollInterval = MinPollInterval
		rec.RetryCount = 0
		p.reschedule(ctx, rec, now, delay)
	}
	metrics.PollCycles.WithLabelValues("stale").Inc()
}

// handleDecoding applies the decoding-failure backoff: exponential growth
// with a one-minute jittered cooldown when the upstream throttled us.
func (p *Processor) handleDecoding(ctx context.Context, rec *activity.Record, decErr *dexcom.DecodingError, now time.Time) {
	if rec.PollInterval >= MaxPollInterval && rec.RetryCount > decodingRetryLimit {
		p.terminate(ctx, rec, ReasonTooManyRetries)
		return
	}

	p.logger.Warn("upstream response not decodable",
		"user", rec.LogID(),
		"status", decErr.StatusCode,
		"body", string(truncate(decErr.Body, 256)),
	)

	rec.PollInterval = clampInterval(rec.PollInterval * errorBackoffFactor)
	var delay time.Duration
	if decErr.RateLimited() {
		delay = time.Duration(50+p.jitterFn(21)) * time.Second
	} else {
		delay = secondsDur(rec.PollInterval)
	}
	rec.RetryCount++
	p.reschedule(ctx, rec, now, delay)
}

// handleGeneric applies the transport-failure backoff.
func (p *Processor) handleGeneric(ctx context.Context, rec *activity.Record, err error, now time.Time) {
	if rec.PollInterval >= MaxPollInterval && rec.RetryCount >= genericRetryLimit {
		p.terminate(ctx, rec, ReasonTooManyRetries)
		return
	}

	p.logger.Warn("upstream fetch failed", "user", rec.LogID(), "error", err)

	rec.PollInterval = clampInterval(rec.PollInterval * errorBackoffFactor)
	rec.RetryCount++
	p.reschedule(ctx, rec, now, secondsDur(rec.PollInterval))
}

// reschedule persists the record and upserts the schedule index. Store
// failures are logged and left to the claim rescore.
func (p *Processor) reschedule(ctx context.Context, rec *activity.Record, now time.Time, delay time.Duration) {
	if err := p.store.PutRecord(ctx, rec); err != nil {
		p.logger.Error("record write failed", "user", rec.LogID(), "error", err)
		return
	}
	if err := p.store.Schedule(ctx, rec.ID, now.Add(delay)); err != nil {
		p.logger.Error("schedule write failed", "user", rec.LogID(), "error", err)
	}
}

// terminate sends the end event (best effort), deletes the record, and
// removes the schedule entry.
func (p *Processor) terminate(ctx context.Context, rec *activity.Record, reason string) {
	if err := p.pusher.SendActivityEnd(ctx, rec.Environment, rec.PushToken); err != nil {
		p.logger.Debug("end push not delivered", "user", rec.LogID(), "error", err)
	}
	if err := p.store.DeleteRecord(ctx, rec.ID); err != nil {
		p.logger.Error("record delete failed", "user", rec.LogID(), "error", err)
	}
	if err := p.store.Unschedule(ctx, rec.ID); err != nil {
		p.logger.Error("unschedule failed", "user", rec.LogID(), "error", err)
	}

	metrics.ActivitiesEnded.WithLabelValues(reason).Inc()
	p.logger.Info("activity ended", "user", rec.LogID(), "reason", reason)
}

func fetchRequest(rec *activity.Record) dexcom.FetchRequest {
	return dexcom.FetchRequest{
		Location:  rec.AccountLocation,
		Username:  rec.Username,
		Password:  rec.Password,
		AccountID: rec.AccountID,
		SessionID: rec.SessionID,
		Duration:  time.Duration(rec.Duration) * time.Second,
	}
}

// clampInterval bounds an interval to [MinPollInterval, MaxPollInterval] seconds.
func clampInterval(seconds float64) float64 {
	if seconds > MaxPollInterval {
		return MaxPollInterval
	}
	if seconds < MinPollInterval {
		return MinPollInterval
	}
	return seconds
}

func secondsDur(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
