// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package metrics holds the Prometheus instruments of the service. Each
// Metrics value owns its registry, so tests and parallel apps never share
// counters.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics is the set of instruments.
type Metrics struct {
	registry *prometheus.Registry

	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Transitions       *prometheus.CounterVec
	ConflictRetries   *prometheus.CounterVec
	RelValsGenerated  prometheus.Counter
	Submissions       *prometheus.CounterVec
	CatalogReloads    *prometheus.CounterVec
	CatalogGeneration prometheus.Gauge
	FeedEvents        *prometheus.CounterVec
}

// New creates and registers every instrument on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relval_operations_total",
				Help: "Total number of service operations by result",
			},
			[]string{"operation", "result"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relval_operation_duration_seconds",
				Help:    "Duration of service operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relval_status_transitions_total",
				Help: "Total number of RelVal status transitions",
			},
			[]string{"from", "to"},
		),
		ConflictRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relval_conflict_retries_total",
				Help: "Total number of read-modify-write cycles retried after a concurrent modification",
			},
			[]string{"operation"},
		),
		RelValsGenerated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relval_generated_total",
				Help: "Total number of RelVals generated from tickets",
			},
		),
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relval_submissions_total",
				Help: "Total number of submissions to the batch system by result",
			},
			[]string{"result"},
		),
		CatalogReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relval_catalog_reloads_total",
				Help: "Total number of catalog reloads by result",
			},
			[]string{"result"},
		),
		CatalogGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "relval_catalog_generation",
				Help: "Generation number of the active catalog snapshot",
			},
		),
		FeedEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relval_feed_events_total",
				Help: "Total number of workflow status events received by result",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Operations,
		m.OperationDuration,
		m.Transitions,
		m.ConflictRetries,
		m.RelValsGenerated,
		m.Submissions,
		m.CatalogReloads,
		m.CatalogGeneration,
		m.FeedEvents,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOperation records one finished operation.
func (m *Metrics) ObserveOperation(op string, start time.Time, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.Operations.WithLabelValues(op, result).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
