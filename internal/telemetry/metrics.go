package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "coverdesk",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// MessagesProcessedTotal counts inbound chat messages by platform.
var MessagesProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "coverdesk",
		Subsystem: "conversation",
		Name:      "messages_processed_total",
		Help:      "Inbound customer messages processed, by platform.",
	},
	[]string{"platform"},
)

// ConversationsEscalatedTotal counts escalations by reason.
var ConversationsEscalatedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "coverdesk",
		Subsystem: "conversation",
		Name:      "escalated_total",
		Help:      "Conversations escalated to a human agent, by reason.",
	},
	[]string{"reason"},
)

// AutomationRulesFiredTotal counts automation rule executions by trigger type and outcome.
var AutomationRulesFiredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "coverdesk",
		Subsystem: "automation",
		Name:      "rules_fired_total",
		Help:      "Automation rule send attempts, by trigger type and outcome.",
	},
	[]string{"trigger", "outcome"},
)

// CampaignMessagesSentTotal counts campaign message sends by outcome.
var CampaignMessagesSentTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "coverdesk",
		Subsystem: "campaign",
		Name:      "messages_sent_total",
		Help:      "Campaign messages dispatched, by outcome.",
	},
	[]string{"outcome"},
)

// WebhookSignatureFailuresTotal counts rejected webhook deliveries.
var WebhookSignatureFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "coverdesk",
		Subsystem: "webhook",
		Name:      "signature_failures_total",
		Help:      "Inbound webhook deliveries rejected for signature or verify-token failures.",
	},
)

// NewMetricsRegistry creates a Prometheus registry with default and custom collectors.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
		MessagesProcessedTotal,
		ConversationsEscalatedTotal,
		AutomationRulesFiredTotal,
		CampaignMessagesSentTotal,
		WebhookSignatureFailuresTotal,
	)
	return reg
}
