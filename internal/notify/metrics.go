package notify

import "github.com/prometheus/client_golang/prometheus"

var (
	// notificationsTotal counts emission and delivery results by kind.
	// result is one of: emitted, suppressed, emit_failed, delivered,
	// delivery_failed.
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qa_notifications_total",
			Help: "Notifications emitted, suppressed, or delivered, by kind and result.",
		},
		[]string{"kind", "result"},
	)

	// busDropped counts notifications a slow subscriber missed because its
	// buffer was full.
	busDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qa_notification_bus_dropped_total",
			Help: "Notifications dropped for subscribers whose buffer was full.",
		},
	)
)

func init() {
	prometheus.MustRegister(notificationsTotal, busDropped)
}
