// Package metrics exposes Prometheus instrumentation for the refinery.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	JobsProcessed    *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	LLMCalls         *prometheus.CounterVec
	LLMEstimatedCost prometheus.Counter
	ClustersCreated  prometheus.Counter
}

// New registers and returns the service collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		JobsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "refinery_jobs_processed_total",
			Help: "Background jobs processed, by type and outcome.",
		}, []string{"type", "status"}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "refinery_job_duration_seconds",
			Help:    "Background job execution time, by type.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"type"}),
		LLMCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "refinery_llm_calls_total",
			Help: "LLM provider calls, by provider and outcome.",
		}, []string{"provider", "status"}),
		LLMEstimatedCost: promauto.NewCounter(prometheus.CounterOpts{
			Name: "refinery_llm_estimated_cost_usd_total",
			Help: "Sum of advisory pre-flight cost estimates for dispatched LLM calls.",
		}),
		ClustersCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "refinery_clusters_created_total",
			Help: "Research clusters created.",
		}),
	}
}
