package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 초당 예매 요청 횟수 (Counter: 계속 증가하는 값)
	PurchaseRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_purchase_requests_total",
		Help: "Total number of ticket purchase requests",
	})

	// 현재 Redis에 남아있는 이벤트별 잔여 수량 (Gauge)
	CapacityLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "event_capacity_level",
		Help: "Current remaining capacity per event in Redis",
	}, []string{"event_id"})

	PaymentDeclined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_payment_declined_total",
		Help: "Total number of declined or errored payment attempts",
	})

	ReconcileApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_applied_total",
		Help: "Total number of capacity deltas applied to MySQL",
	}, []string{"queue"})

	ReconcileFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_failed_total",
		Help: "Total number of message processing failures",
	}, []string{"queue"})

	DeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dead_lettered_total",
		Help: "Total number of messages routed to the dead-letter queue",
	}, []string{"queue"})

	ProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "message_processing_duration_seconds",
		Help:    "Duration of reconciliation message processing",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue"})
)
