// Package metrics exposes prometheus collectors for sync passes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"usersync/internal/usersync/model"
)

const namespace = "usersync"

// Recorder owns the collectors. A nil *Recorder records nothing.
type Recorder struct {
	registry      *prometheus.Registry
	passes        *prometheus.CounterVec
	records       *prometheus.CounterVec
	fetchAttempts *prometheus.CounterVec
	passDuration  prometheus.Histogram
	lastSuccess   prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Sync passes by final state.",
		}, []string{"state"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Fetched records by outcome.",
		}, []string{"outcome"}),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "HTTP attempts made while fetching updates, by outcome.",
		}, []string{"outcome"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of a sync pass.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last pass that reached the done state.",
		}),
	}
	r.registry.MustRegister(r.passes, r.records, r.fetchAttempts, r.passDuration, r.lastSuccess)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) ObserveFetchAttempt(outcome string) {
	if r == nil {
		return
	}
	r.fetchAttempts.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ObservePass(result *model.SyncResult) {
	if r == nil || result == nil {
		return
	}
	r.passes.WithLabelValues(string(result.State)).Inc()
	r.records.WithLabelValues("fetched").Add(float64(result.Fetched))
	r.records.WithLabelValues(string(model.OutcomeInserted)).Add(float64(result.Inserted))
	r.records.WithLabelValues(string(model.OutcomeModified)).Add(float64(result.Modified))
	r.records.WithLabelValues(string(model.OutcomeUnchanged)).Add(float64(result.Unchanged))
	r.records.WithLabelValues("failed").Add(float64(result.Failed))
	r.passDuration.Observe(result.Duration().Seconds())
	if result.State == model.PassDone {
		r.lastSuccess.Set(float64(result.FinishedAt.Unix()))
	}
}
