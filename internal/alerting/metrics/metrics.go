package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for alerting and escalation.
type Metrics struct {
	AlertsRaised      *prometheus.CounterVec
	DeliveryFailures  *prometheus.CounterVec
	AlertTransitions  *prometheus.CounterVec
	SuspensionAdvised prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		AlertsRaised: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerguard_alerts_raised_total",
			Help: "Alerts raised by severity and type",
		}, []string{"severity", "type"}),

		DeliveryFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerguard_alert_delivery_failures_total",
			Help: "Alert deliveries that failed, by channel",
		}, []string{"channel"}),

		AlertTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerguard_alert_transitions_total",
			Help: "Alert lifecycle transitions by target status",
		}, []string{"status"}),

		SuspensionAdvised: promauto.NewCounter(prometheus.CounterOpts{
			Name: "brokerguard_suspension_recommendations_total",
			Help: "CRITICAL alerts that recommended considering suspension",
		}),
	}
}

func (m *Metrics) IncRaised(severity, alertType string) {
	if m != nil {
		m.AlertsRaised.WithLabelValues(severity, alertType).Inc()
	}
}

func (m *Metrics) IncDeliveryFailure(channel string) {
	if m != nil {
		m.DeliveryFailures.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) IncTransition(status string) {
	if m != nil {
		m.AlertTransitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncSuspensionAdvised() {
	if m != nil {
		m.SuspensionAdvised.Inc()
	}
}
