// ABOUTME: Prometheus collectors for HTTP traffic and chat relay activity
// ABOUTME: Registered on the default registry and served by the gateway's metrics path

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 30, 120},
		},
		[]string{"method", "route"},
	)

	// Chat metrics
	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_messages_appended_total",
			Help: "Messages appended to room logs",
		},
		[]string{"origin"}, // "user", "bot", "ingress"
	)

	DialogueFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_dialogue_failures_total",
			Help: "Dialogue engine calls that failed and were suppressed",
		},
	)

	DialogueLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parley_dialogue_latency_seconds",
			Help:    "Dialogue engine round trip latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_notifications_total",
			Help: "Notification attempts by outcome",
		},
		[]string{"result"}, // "sent", "no_push_id", "anonymous", "unknown_user", "failed"
	)

	OnboardingPrompts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_onboarding_prompts_total",
			Help: "Config prompts returned to clients",
		},
	)

	// Scheduler metrics
	EventsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_scheduled_events_total",
			Help: "Scheduled events executed by outcome",
		},
		[]string{"task", "result"}, // result: "fired", "dropped", "failed"
	)

	ReconcileInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_reconcile_inserted_total",
			Help: "Broadcast events inserted by schedule reconciliation",
		},
	)
)
