package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics
// This replaces direct access to global Prometheus metrics with dependency injection
type MetricsRegistry interface {
	IncrementToolRequests(tool, outcome string)
	RecordToolLatency(tool string, duration time.Duration)

	IncrementAdapterCalls(adapter, operation, outcome string)

	IncrementSyncRows(inventoryType, action string)

	IncrementWebhookDeliveries(outcome string)

	IncrementStatusTransitions(to string)

	IncrementWorkflowSteps(stepType string)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementToolRequests(tool, outcome string) {
	ToolRequestCount.WithLabelValues(tool, outcome).Inc()
}

func (r *PrometheusRegistry) RecordToolLatency(tool string, duration time.Duration) {
	ToolRequestLatency.WithLabelValues(tool).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementAdapterCalls(adapter, operation, outcome string) {
	AdapterCallCount.WithLabelValues(adapter, operation, outcome).Inc()
}

func (r *PrometheusRegistry) IncrementSyncRows(inventoryType, action string) {
	SyncRowsWritten.WithLabelValues(inventoryType, action).Inc()
}

func (r *PrometheusRegistry) IncrementWebhookDeliveries(outcome string) {
	WebhookDeliveryCount.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) IncrementStatusTransitions(to string) {
	StatusTransitionCount.WithLabelValues(to).Inc()
}

func (r *PrometheusRegistry) IncrementWorkflowSteps(stepType string) {
	WorkflowStepCount.WithLabelValues(stepType).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementToolRequests(tool, outcome string)               {}
func (r *NoOpRegistry) RecordToolLatency(tool string, duration time.Duration)    {}
func (r *NoOpRegistry) IncrementAdapterCalls(adapter, operation, outcome string) {}
func (r *NoOpRegistry) IncrementSyncRows(inventoryType, action string)           {}
func (r *NoOpRegistry) IncrementWebhookDeliveries(outcome string)                {}
func (r *NoOpRegistry) IncrementStatusTransitions(to string)                     {}
func (r *NoOpRegistry) IncrementWorkflowSteps(stepType string)                   {}
