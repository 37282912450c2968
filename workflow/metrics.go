package workflow

import (
	"time"

	"github.com/mmdatafocus/eventchain/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventchain_operations_total",
		Help: "Engine operations by outcome (ok or the engine error kind).",
	}, []string{"operation", "result"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eventchain_operation_duration_seconds",
		Help:    "Engine operation latency including the conflict retry.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	conflictRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventchain_conflict_retries_total",
		Help: "Transactions retried after a serialization conflict.",
	}, []string{"operation"})

	outboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventchain_outbox_publish_total",
		Help: "Outbox publish attempts by result (sent, failed, dead).",
	}, []string{"result"})
)

func observeOperation(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if kind := models.KindOf(err); kind != "" {
			result = string(kind)
		}
	}
	operationsTotal.WithLabelValues(op, result).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
