// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the search gateway.
//
// # Description
//
// Metrics cover the conversational search pipeline end to end:
//   - Request counters by endpoint and outcome
//   - Per-stage latency histograms (classify, embed, search, rerank)
//   - Embedding cache hit/miss counters
//   - Upstream error counters by collaborator
//   - Active SSE stream gauge
//
// Exposed on /metrics; scrape with Prometheus.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all gateway metrics.
const metricsNamespace = "tada"

// Subsystem for search pipeline metrics.
const searchSubsystem = "search"

// SearchMetrics holds all Prometheus metrics for the search gateway.
//
// # Fields
//
//   - RequestsTotal: Requests by endpoint (search, chat_search, chat_sse,
//     load_more) and outcome (the pipeline's dialog state, or "error").
//   - StageDurationSeconds: Pipeline stage latency by stage name.
//   - EmbeddingCacheHits / EmbeddingCacheMisses: Embedding cache traffic.
//   - UpstreamErrorsTotal: Failed upstream calls by collaborator
//     (elasticsearch, embedding, llm, tada_api).
//   - ActiveSSEStreams: Currently open event streams.
type SearchMetrics struct {
	RequestsTotal        *prometheus.CounterVec
	StageDurationSeconds *prometheus.HistogramVec
	EmbeddingCacheHits   prometheus.Counter
	EmbeddingCacheMisses prometheus.Counter
	UpstreamErrorsTotal  *prometheus.CounterVec
	ActiveSSEStreams     prometheus.Gauge
}

var (
	defaultMetrics *SearchMetrics
	metricsOnce    sync.Once
)

// InitMetrics initializes and registers the singleton metrics instance.
//
// Safe to call more than once; registration happens exactly once.
func InitMetrics() *SearchMetrics {
	metricsOnce.Do(func() {
		defaultMetrics = newSearchMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// Metrics returns the singleton, initializing it on first use.
func Metrics() *SearchMetrics {
	return InitMetrics()
}

func newSearchMetrics(reg prometheus.Registerer) *SearchMetrics {
	factory := promauto.With(reg)

	return &SearchMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "requests_total",
				Help:      "Search requests by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		),
		StageDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage latency in seconds.",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		EmbeddingCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "embedding_cache_hits_total",
				Help:      "Embedding cache hits.",
			},
		),
		EmbeddingCacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "embedding_cache_misses_total",
				Help:      "Embedding cache misses.",
			},
		),
		UpstreamErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "upstream_errors_total",
				Help:      "Failed upstream calls by collaborator.",
			},
			[]string{"upstream"},
		),
		ActiveSSEStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "active_sse_streams",
				Help:      "Currently open SSE streams.",
			},
		),
	}
}

// NewTestMetrics builds an isolated metrics instance on its own registry.
// Test hook; production code uses InitMetrics.
func NewTestMetrics() *SearchMetrics {
	return newSearchMetrics(prometheus.NewRegistry())
}
