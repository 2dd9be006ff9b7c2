// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	BookingsCreated   prometheus.Counter
	BookingConflicts  prometheus.Counter
	AttendanceMarks   *prometheus.CounterVec
	BillingCharges    *prometheus.CounterVec
	BillingRunSeconds prometheus.Histogram
}

// New registers the collectors on reg. A nil reg gives unregistered
// collectors, which is what tests use.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BookingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tutorhub",
			Name:      "bookings_created_total",
			Help:      "Bookings committed.",
		}),
		BookingConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tutorhub",
			Name:      "booking_conflicts_total",
			Help:      "Booking requests rejected because the slot was taken.",
		}),
		AttendanceMarks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutorhub",
			Name:      "attendance_marks_total",
			Help:      "Attendance attempts by party and outcome.",
		}, []string{"party", "outcome"}),
		BillingCharges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutorhub",
			Name:      "billing_charges_total",
			Help:      "Subscription charge results.",
		}, []string{"status"}),
		BillingRunSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tutorhub",
			Name:      "billing_run_duration_seconds",
			Help:      "Wall time of one billing batch.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.BookingsCreated, m.BookingConflicts, m.AttendanceMarks, m.BillingCharges, m.BillingRunSeconds)
	}
	return m
}
