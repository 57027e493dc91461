package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skylink_pipeline_decisions_total",
		Help: "Admission decisions by terminal code and operation.",
	}, []string{"code", "operation"})

	decisionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skylink_pipeline_decision_duration_seconds",
		Help:    "Time spent resolving one admission decision.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)
