package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ResponseTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	LedgerEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_entries_total",
			Help: "Ledger entries appended, by action type",
		},
		[]string{"type"},
	)

	SettledAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_amount_abs_total",
			Help: "Sum of absolute settled amounts, by action type",
		},
		[]string{"type"},
	)

	IntegrityDefects = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "referral_integrity_defects",
			Help: "Referral graph defects found by the last audit, by kind",
		},
		[]string{"kind"},
	)
)
