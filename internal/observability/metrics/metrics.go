package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics counts booking and transition outcomes.
type BookingMetrics struct {
	bookingsTotal    *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	sweptTotal       prometheus.Counter
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "booking",
			Name:      "bookings_total",
			Help:      "Total booking attempts by outcome",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Total slot state transitions by operation and outcome",
		}, []string{"operation", "outcome"}),
		sweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "booking",
			Name:      "swept_no_show_total",
			Help:      "Slots moved to no-show by the past-due sweep",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.transitionsTotal, m.sweptTotal)
	return m
}

func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveTransition(operation, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *BookingMetrics) ObserveSwept(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.sweptTotal.Add(float64(count))
}

// GeneratorMetrics counts slot generation results.
type GeneratorMetrics struct {
	slotsTotal *prometheus.CounterVec
}

func NewGeneratorMetrics(reg prometheus.Registerer) *GeneratorMetrics {
	m := &GeneratorMetrics{
		slotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "generator",
			Name:      "slots_total",
			Help:      "Slot generation results (created, duplicate, failed)",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.slotsTotal)
	return m
}

func (m *GeneratorMetrics) ObserveSlots(result string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.slotsTotal.WithLabelValues(result).Add(float64(count))
}

// NotifyMetrics instruments the dispatch loop.
type NotifyMetrics struct {
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	cyclesTotal      prometheus.Counter
}

func NewNotifyMetrics(reg prometheus.Registerer) *NotifyMetrics {
	m := &NotifyMetrics{
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "notify",
			Name:      "dispatch_total",
			Help:      "Dispatch outcomes (sent, retry, failed, error)",
		}, []string{"kind", "outcome"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agenda",
			Subsystem: "notify",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of one dispatch including channel send",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "notify",
			Name:      "poll_cycles_total",
			Help:      "Completed scheduler poll cycles",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.dispatchTotal, m.dispatchDuration, m.cyclesTotal)
	return m
}

func (m *NotifyMetrics) ObserveDispatch(kind, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(kind, outcome).Inc()
	m.dispatchDuration.WithLabelValues(kind).Observe(seconds)
}

func (m *NotifyMetrics) ObserveCycle() {
	if m == nil {
		return
	}
	m.cyclesTotal.Inc()
}
