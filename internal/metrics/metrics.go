package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the counters exported at /metrics.
type Metrics struct {
	Escalations        *prometheus.CounterVec
	RemindersSent      *prometheus.CounterVec
	MarkedUnresponsive prometheus.Counter
	InboundEmails      *prometheus.CounterVec
	PushMessages       *prometheus.CounterVec
	SweepSeconds       prometheus.Histogram
}

// New registers the metric set on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Escalations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "case_escalations_total",
				Help: "Escalation attempts by result",
			},
			[]string{"result"},
		),
		RemindersSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "case_escalation_reminders_total",
				Help: "Reminder emails sent by tier",
			},
			[]string{"tier"},
		),
		MarkedUnresponsive: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "case_marked_unresponsive_total",
				Help: "Cases marked unresponsive after the final reminder",
			},
		),
		InboundEmails: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "case_inbound_emails_total",
				Help: "Inbound webhook deliveries by result",
			},
			[]string{"result"},
		),
		PushMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "case_push_messages_total",
				Help: "Push messages handed to the push transport by action",
			},
			[]string{"action"},
		),
		SweepSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "case_escalation_sweep_seconds",
				Help:    "Duration of reminder sweeps",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
	}
}

// Noop returns metrics registered on a throwaway registry.
func Noop() *Metrics {
	return New(prometheus.NewRegistry())
}
