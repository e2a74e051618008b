package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "relayd"

// Metrics 中继服务的 Prometheus 指标
type Metrics struct {
	reservations  *prometheus.CounterVec
	circuits      *prometheus.CounterVec
	closes        *prometheus.CounterVec
	bytesRelayed  prometheus.Counter
	droppedEvents prometheus.Counter
}

// NewMetrics 创建并注册指标
//
// reg 为 nil 时不注册（测试中可以只读取计数器）。
// active 返回当前预留数和电路数，用于两个 GaugeFunc。
func NewMetrics(reg prometheus.Registerer, activeReservations, activeCircuits func() int) *Metrics {
	m := &Metrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "reservations_total",
			Help:      "Reservation requests by result.",
		}, []string{"result"}),
		circuits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "circuits_total",
			Help:      "Circuit requests by result.",
		}, []string{"result"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "circuit_closes_total",
			Help:      "Closed circuits by reason.",
		}, []string{"reason"}),
		bytesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "relayed_bytes_total",
			Help:      "Bytes relayed by closed circuits.",
		}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "dropped_events_total",
			Help:      "Events dropped because a subscriber was slow.",
		}),
	}

	if reg == nil {
		return m
	}

	reg.MustRegister(
		m.reservations, m.circuits, m.closes, m.bytesRelayed, m.droppedEvents,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "active_reservations",
			Help:      "Reservations currently held.",
		}, func() float64 { return float64(activeReservations()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "active_circuits",
			Help:      "Circuits currently open.",
		}, func() float64 { return float64(activeCircuits()) }),
	)
	return m
}

// observe 根据事件更新计数器
func (m *Metrics) observe(ev Event) {
	switch ev.Type {
	case EventReservationAccepted:
		if ev.Renewed {
			m.reservations.WithLabelValues("renewed").Inc()
		} else {
			m.reservations.WithLabelValues("accepted").Inc()
		}
	case EventReservationDenied:
		m.reservations.WithLabelValues(ev.Deny.String()).Inc()
	case EventCircuitEstablished:
		m.circuits.WithLabelValues("established").Inc()
	case EventCircuitDenied:
		m.circuits.WithLabelValues(ev.Deny.String()).Inc()
	case EventCircuitClosed:
		m.closes.WithLabelValues(ev.Close.String()).Inc()
		m.bytesRelayed.Add(float64(ev.BytesRelayed))
	}
}

func (m *Metrics) eventDropped() {
	m.droppedEvents.Inc()
}
