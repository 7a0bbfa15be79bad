// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UsageChargesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_usage_charges_total",
		Help: "Usage charges applied to user balances, labeled by pricing source",
	}, []string{"source"})

	UsageCostDollars = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_usage_cost_dollars_total",
		Help: "Sum of all usage charges in dollars",
	})

	LocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_user_locks_total",
		Help: "Users locked, labeled by reason",
	}, []string{"reason"})

	UnlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_user_unlocks_total",
		Help: "Users unlocked, labeled by reason",
	}, []string{"reason"})

	PaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_payment_notifications_total",
		Help: "Payment notifications processed, labeled by outcome",
	}, []string{"status"})

	PaymentLinksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_payment_links_total",
		Help: "Payment links generated",
	})

	MonthlyResetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_monthly_resets_total",
		Help: "Monthly budget resets performed",
	})

	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_messages_total",
		Help: "Inbound messages handled, labeled by outcome",
	}, []string{"outcome"})

	ModerationFlaggedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_moderation_flagged_total",
		Help: "Messages flagged by moderation, labeled by response category",
	}, []string{"category"})

	BackendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_backend_duration_seconds",
		Help:    "Latency distribution of generative backend calls",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
	})

	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_webhook_requests_total",
		Help: "Webhook requests processed, labeled by status code",
	}, []string{"status"})

	WebhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_webhook_request_duration_seconds",
		Help:    "Latency distribution of webhook requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	StorePurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_store_purged_records_total",
		Help: "Expired locks and payments removed by the sweeper",
	})
)
