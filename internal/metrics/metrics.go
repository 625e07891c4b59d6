// Package metrics exposes Prometheus instrumentation for the scheduler and
// push paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TickDuration tracks how long one scheduler tick takes, including
	// due-lookup and claim but not the dispatched processors.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "liveactivity_tick_duration_seconds",
		Help:    "Duration of one scheduler tick (due lookup + claim + dispatch)",
		Buckets: prometheus.DefBuckets,
	})

	// DueActivities tracks how many activities came due per tick.
	DueActivities = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "liveactivity_due_activities",
		Help:    "Number of activities picked up per scheduler tick",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	// ScheduledActivities tracks the current size of the schedule index.
	ScheduledActivities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "liveactivity_scheduled_activities",
		Help: "Current number of activities in the schedule index",
	})

	// PollCycles counts processor cycles by outcome.
	PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liveactivity_poll_cycles_total",
		Help: "Processor cycles by outcome",
	}, []string{"outcome"}) // reading, empty, stale, error, skipped

	// ActivitiesEnded counts terminated activities by end reason.
	ActivitiesEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liveactivity_ended_total",
		Help: "Activities terminated, by end reason",
	}, []string{"reason"})

	// PushesSent counts APNs pushes accepted by kind and environment.
	PushesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liveactivity_pushes_sent_total",
		Help: "APNs pushes accepted by Apple",
	}, []string{"kind", "environment"}) // kind: update, end, widget

	// PushFailures counts APNs rejections by reason.
	PushFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liveactivity_push_failures_total",
		Help: "APNs pushes rejected, by APNs reason",
	}, []string{"reason"})

	// UpstreamFetchDuration tracks upstream poll latency by outcome.
	UpstreamFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "liveactivity_upstream_fetch_duration_seconds",
		Help:    "Latency of upstream CGM fetches",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"outcome"}) // ok, error
)
