package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service starts.",
		}, []string{"service"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of stop operations per service and mode (graceful or forced).",
		}, []string{"service", "mode"},
	)
	drainRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "drain",
			Name:      "requests_total",
			Help:      "Drain requests by result (acknowledged or unreachable).",
		}, []string{"result"},
	)
	drainOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "drain",
			Name:      "outcome_total",
			Help:      "Drain observation outcomes (completed or timed-out).",
		}, []string{"outcome"},
	)
	drainWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "stackctl",
			Subsystem: "drain",
			Name:      "wait_seconds",
			Help:      "Observed drain wait durations.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serviceStarts, serviceStops, drainRequests, drainOutcomes, drainWait}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns the /metrics handler for the default registry.
func Handler() http.Handler { return promhttp.Handler() }

func IncStart(service string)          { serviceStarts.WithLabelValues(service).Inc() }
func IncStop(service, mode string)     { serviceStops.WithLabelValues(service, mode).Inc() }
func IncDrainRequest(result string)    { drainRequests.WithLabelValues(result).Inc() }
func IncDrainOutcome(outcome string)   { drainOutcomes.WithLabelValues(outcome).Inc() }
func ObserveDrainWait(d time.Duration) { drainWait.Observe(d.Seconds()) }
