package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PanelRequestsTotal tracks the number of outbound panel API calls.
	PanelRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_api_requests_total",
			Help: "Total number of panel API requests made (by panel, method, and status).",
		},
		[]string{"panel", "method", "status"},
	)

	// PanelRequestDuration measures the duration of outbound panel API calls.
	PanelRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panel_api_request_duration_seconds",
			Help:    "Duration of panel API requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"panel", "method"},
	)

	// CommandsTotal counts slash command invocations by outcome.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Slash command invocations by command and outcome.",
		},
		[]string{"command", "outcome"},
	)

	// AutocompleteTotal counts autocomplete requests and how many choices they returned.
	AutocompleteTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_autocomplete_requests_total",
			Help: "Autocomplete requests by command and whether any choice was returned.",
		},
		[]string{"command", "result"},
	)

	// NATSPublishErrors tracks NATS publish failures by subject.
	NATSPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_publish_errors_total",
			Help: "Number of NATS publish failures by subject.",
		},
		[]string{"subject"},
	)

	// AMQPPublishErrors tracks RabbitMQ publish failures by routing key.
	AMQPPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amqp_publish_errors_total",
			Help: "Number of RabbitMQ publish failures by routing key.",
		},
		[]string{"routing_key"},
	)

	// CredentialsPruned counts empty credential rows removed by the pruner.
	CredentialsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credential_records_pruned_total",
			Help: "Empty credential records deleted by the background pruner.",
		},
	)
)

// IncPanelRequest increments the panel API request counter.
func IncPanelRequest(panel, method, status string) {
	PanelRequestsTotal.WithLabelValues(panel, method, status).Inc()
}

// IncCommand increments the command counter.
func IncCommand(command, outcome string) {
	CommandsTotal.WithLabelValues(command, outcome).Inc()
}

// IncAutocomplete records one autocomplete request.
func IncAutocomplete(command string, choices int) {
	result := "hit"
	if choices == 0 {
		result = "empty"
	}
	AutocompleteTotal.WithLabelValues(command, result).Inc()
}

// ObserveDuration records elapsed time since start into a HistogramVec or SummaryVec.
func ObserveDuration(v any, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()
	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	}
}

// IncNATSPublishError increments the NATS publish error counter for the given subject.
func IncNATSPublishError(subject string) {
	NATSPublishErrors.WithLabelValues(subject).Inc()
}

// IncAMQPPublishError increments the RabbitMQ publish error counter.
func IncAMQPPublishError(routingKey string) {
	AMQPPublishErrors.WithLabelValues(routingKey).Inc()
}
