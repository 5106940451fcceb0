package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kylo_scan_seconds",
		Help:    "Time spent on one full scan invocation.",
		Buckets: prometheus.DefBuckets,
	})

	FileAuditDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kylo_file_audit_seconds",
		Help:    "Time spent auditing a single source file.",
		Buckets: prometheus.DefBuckets,
	})

	FilesScannedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kylo_files_scanned_total",
		Help: "Total number of source files audited.",
	})

	IssuesFoundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kylo_issues_found_total",
		Help: "Total number of issues reported, by severity.",
	}, []string{"severity"})

	DeepCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kylo_deep_calls_total",
		Help: "Total number of deep-analysis hook invocations, by outcome.",
	}, []string{"outcome"})

	RelayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kylo_relay_requests_total",
		Help: "Total number of relay analyze requests, by status code.",
	}, []string{"code"})

	RelayRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kylo_relay_request_seconds",
		Help:    "Latency of relay analyze requests.",
		Buckets: prometheus.DefBuckets,
	})

	RelayThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kylo_relay_throttled_total",
		Help: "Total number of relay requests rejected by client quota.",
	})
)
