package appointment

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the scheduling counters. A nil *Metrics records nothing.
type Metrics struct {
	bookings          *prometheus.CounterVec
	bookingDuration   prometheus.Histogram
	transitions       *prometheus.CounterVec
	slotsMaterialized *prometheus.CounterVec
	lockFallbacks     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pms_bookings_total",
				Help: "Booking attempts by outcome",
			},
			[]string{"outcome"},
		),
		bookingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pms_booking_duration_seconds",
				Help:    "Duration of booking attempts in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pms_appointment_transitions_total",
				Help: "Appointment status transitions by target status",
			},
			[]string{"status"},
		),
		slotsMaterialized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pms_slots_materialized_total",
				Help: "Materialized slot rows written by change",
			},
			[]string{"change"},
		),
		lockFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pms_booking_lock_fallbacks_total",
				Help: "Bookings that ran without the distributed lock",
			},
		),
	}

	reg.MustRegister(
		m.bookings,
		m.bookingDuration,
		m.transitions,
		m.slotsMaterialized,
		m.lockFallbacks,
	)
	return m
}

func (m *Metrics) recordBooking(err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "booked"
	if err != nil {
		outcome = strings.ToLower(Code(err))
	}
	m.bookings.WithLabelValues(outcome).Inc()
	m.bookingDuration.Observe(d.Seconds())
}

func (m *Metrics) recordTransition(to Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) recordMaterialized(r MaterializeResult) {
	if m == nil {
		return
	}
	m.slotsMaterialized.WithLabelValues("inserted").Add(float64(r.Inserted))
	m.slotsMaterialized.WithLabelValues("booked").Add(float64(r.Booked))
	m.slotsMaterialized.WithLabelValues("blocked").Add(float64(r.Blocked))
	m.slotsMaterialized.WithLabelValues("reopened").Add(float64(r.Reopened))
}

func (m *Metrics) recordLockFallback() {
	if m == nil {
		return
	}
	m.lockFallbacks.Inc()
}
