package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total tool invocations per tool name and outcome (success/error code)
	ToolRequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesagent_tool_requests_total",
			Help: "Total AdCP tool invocations",
		},
		[]string{"tool", "outcome"},
	)

	// tool latency in seconds per tool
	ToolRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "salesagent_tool_duration_seconds",
			Help:    "Histogram of AdCP tool latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// adapter calls per adapter, operation and outcome
	AdapterCallCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesagent_adapter_calls_total",
			Help: "Total ad server adapter calls",
		},
		[]string{"adapter", "operation", "outcome"},
	)

	// inventory rows written per tenant and inventory type
	SyncRowsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesagent_sync_rows_total",
			Help: "Total inventory rows inserted or updated by sync",
		},
		[]string{"inventory_type", "action"},
	)

	// webhook delivery attempts per outcome (sent/skipped/failed)
	WebhookDeliveryCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesagent_webhook_deliveries_total",
			Help: "Total delivery webhook attempts",
		},
		[]string{"outcome"},
	)

	// media buy status transitions applied by the scheduler
	StatusTransitionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesagent_status_transitions_total",
			Help: "Total media buy status transitions",
		},
		[]string{"to"},
	)

	// workflow steps created per step type
	WorkflowStepCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesagent_workflow_steps_total",
			Help: "Total workflow steps created",
		},
		[]string{"step_type"},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		ToolRequestCount,
		ToolRequestLatency,
		AdapterCallCount,
		SyncRowsWritten,
		WebhookDeliveryCount,
		StatusTransitionCount,
		WorkflowStepCount,
	)
}
