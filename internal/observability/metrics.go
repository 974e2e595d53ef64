package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	timerStartedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "track_rutina",
		Subsystem: "timers",
		Name:      "started_total",
		Help:      "Number of timers started, labeled by activity kind.",
	}, []string{"kind"})

	timerCompletedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "track_rutina",
		Subsystem: "timers",
		Name:      "completed_total",
		Help:      "Number of timers completed, labeled by activity kind.",
	}, []string{"kind"})

	timerDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "track_rutina",
		Subsystem: "timers",
		Name:      "duration_seconds",
		Help:      "Completed timer durations, labeled by activity kind.",
		Buckets:   prometheus.ExponentialBuckets(60, 2, 12),
	}, []string{"kind"})

	lastStartGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "track_rutina",
		Subsystem: "persistence",
		Name:      "last_timer_started_timestamp_seconds",
		Help:      "Unix timestamp of the most recent timer persisted to Postgres.",
	})
)

func init() {
	prometheus.MustRegister(timerStartedCounter, timerCompletedCounter, timerDurationHistogram, lastStartGauge)
}

// RecordTimerStarted updates the start counter and persistence watermark.
func RecordTimerStarted(kind string, startedAt time.Time) {
	timerStartedCounter.WithLabelValues(kind).Inc()
	if !startedAt.IsZero() {
		lastStartGauge.Set(float64(startedAt.Unix()))
	}
}

// RecordTimerCompleted updates the completion counter and duration histogram.
func RecordTimerCompleted(kind string, duration time.Duration) {
	timerCompletedCounter.WithLabelValues(kind).Inc()
	timerDurationHistogram.WithLabelValues(kind).Observe(duration.Seconds())
}
