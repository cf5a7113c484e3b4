package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EventMetrics records consumer throughput and handler latency.
type EventMetrics struct {
	processed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewEventMetrics registers the consumer metrics on the provided registerer.
func NewEventMetrics(reg prometheus.Registerer) *EventMetrics {
	if reg == nil {
		return &EventMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "events_processed_total",
		Help: "Events successfully processed by the consumer.",
	}, []string{"event_name"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "events_failed_total",
		Help: "Events that halted the consumer.",
	}, []string{"event_name", "reason"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "event_handling_duration_seconds",
		Help:    "Duration of event handling in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_name"})
	reg.MustRegister(processed, failed, duration)
	return &EventMetrics{
		processed: processed,
		failed:    failed,
		duration:  duration,
	}
}

// IncProcessed increments the processed counter for the named event.
func (e *EventMetrics) IncProcessed(eventName string) {
	if e == nil || e.processed == nil {
		return
	}
	e.processed.WithLabelValues(normalizeLabel(eventName)).Inc()
}

// IncFailed increments the failure counter for the named event and reason.
func (e *EventMetrics) IncFailed(eventName, reason string) {
	if e == nil || e.failed == nil {
		return
	}
	e.failed.WithLabelValues(normalizeLabel(eventName), normalizeLabel(reason)).Inc()
}

// ObserveDuration records the handling duration for the named event.
func (e *EventMetrics) ObserveDuration(eventName string, duration time.Duration) {
	if e == nil || e.duration == nil {
		return
	}
	e.duration.WithLabelValues(normalizeLabel(eventName)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
