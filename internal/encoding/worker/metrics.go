// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vencode_jobs_submitted_total",
		Help: "Upload submissions by result",
	}, []string{"result"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vencode_job_queue_depth",
		Help: "Job ids waiting for a worker",
	})

	busyWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vencode_workers_busy",
		Help: "Workers currently processing a job",
	})

	jobRunSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vencode_job_run_seconds",
		Help:    "Time from dequeue to terminal state",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"status"})

	recoveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vencode_jobs_recovered_total",
		Help: "Jobs handled by the startup recovery sweep",
	}, []string{"action"})
)
