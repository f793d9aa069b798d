package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muezzin_ticks_total",
		Help: "Reconciliation loop ticks grouped by the mode the engine was in",
	}, []string{"mode"})

	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muezzin_refresh_total",
		Help: "Schedule refreshes grouped by trigger and outcome",
	}, []string{"trigger", "outcome"})

	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "muezzin_refresh_duration_seconds",
		Help:    "Time spent waiting on the schedule provider",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15, 30},
	})

	staleDiscards = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muezzin_refresh_stale_discarded_total",
		Help: "Refresh results dropped because a newer refresh superseded them",
	})

	pushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muezzin_push_invalidations_total",
		Help: "Schedule invalidations received grouped by source",
	}, []string{"source"})

	sinkPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muezzin_sink_panics_total",
		Help: "Presentation sink deliveries that panicked",
	}, []string{"sink"})

	generation = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "muezzin_schedule_generation",
		Help: "Number of schedule replacements applied since start",
	})

	countdown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "muezzin_countdown_seconds",
		Help: "Seconds until the next tracked event",
	})
)

// ObserveTick counts one loop tick.
func ObserveTick(mode string) {
	ticksTotal.WithLabelValues(mode).Inc()
}

// ObserveRefresh records the outcome of a provider call.
func ObserveRefresh(trigger, outcome string, duration time.Duration) {
	if trigger == "" {
		trigger = "unknown"
	}
	refreshTotal.WithLabelValues(trigger, outcome).Inc()
	refreshDuration.Observe(duration.Seconds())
}

// ObserveStaleDiscard counts a superseded refresh result.
func ObserveStaleDiscard() {
	staleDiscards.Inc()
}

// ObservePush counts an invalidation from source.
func ObservePush(source string) {
	if source == "" {
		source = "unknown"
	}
	pushTotal.WithLabelValues(source).Inc()
}

// ObserveSinkPanic counts a panicking sink delivery.
func ObserveSinkPanic(sink string) {
	sinkPanics.WithLabelValues(sink).Inc()
}

// SetGeneration publishes the applied generation.
func SetGeneration(g uint64) {
	generation.Set(float64(g))
}

// SetCountdown publishes the remaining time to the next event.
func SetCountdown(remaining time.Duration) {
	countdown.Set(remaining.Seconds())
}
