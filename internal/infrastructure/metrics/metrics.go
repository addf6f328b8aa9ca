// Package metrics exposes Prometheus counters for publication cycles.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"BlogPublisher/internal/domain"
	"BlogPublisher/internal/ports"
)

const namespace = "blogpublisher"

// Recorder implements ports.Metrics on an injected registry.
type Recorder struct {
	cycles        *prometheus.CounterVec
	records       *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
}

var _ ports.Metrics = (*Recorder)(nil)

// NewRecorder registers the collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Total number of pipeline cycles",
			},
			[]string{"mode", "result"},
		),
		records: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_total",
				Help:      "Records processed by outcome",
			},
			[]string{"mode", "outcome"},
		),
		cycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of pipeline cycles in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"mode"},
		),
	}
}

// ObserveCycle records one finished cycle.
func (r *Recorder) ObserveCycle(mode domain.Mode, err error, duration time.Duration) {
	if r == nil {
		return
	}
	r.cycles.WithLabelValues(string(mode), cycleResult(err)).Inc()
	r.cycleDuration.WithLabelValues(string(mode)).Observe(duration.Seconds())
}

// ObserveRecord counts one record outcome.
func (r *Recorder) ObserveRecord(mode domain.Mode, outcome domain.Outcome) {
	if r == nil {
		return
	}
	r.records.WithLabelValues(string(mode), string(outcome)).Inc()
}

func cycleResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}
