package modbus

import "github.com/prometheus/client_golang/prometheus"

// PortMetrics counts traffic through a Port. A nil *PortMetrics is valid and
// records nothing.
type PortMetrics struct {
	frames          *prometheus.CounterVec
	bytesSent       prometheus.Counter
	bytesReceived   prometheus.Counter
	envelopeErrors  prometheus.Counter
	crcFailures     prometheus.Counter
	transportClosed *prometheus.CounterVec
}

// NewPortMetrics creates the port collectors, labelled with port, and
// registers them on reg when reg is not nil.
func NewPortMetrics(reg prometheus.Registerer, port string) *PortMetrics {
	labels := prometheus.Labels{"port": port}
	m := &PortMetrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "rtubuffered",
			Subsystem:   "port",
			Name:        "frames_total",
			Help:        "Complete response frames emitted, by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "rtubuffered",
			Subsystem:   "port",
			Name:        "sent_bytes_total",
			Help:        "Bytes written to the transport, envelope included.",
			ConstLabels: labels,
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "rtubuffered",
			Subsystem:   "port",
			Name:        "received_bytes_total",
			Help:        "Payload bytes fed to the reassembler.",
			ConstLabels: labels,
		}),
		envelopeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "rtubuffered",
			Subsystem:   "port",
			Name:        "envelope_errors_total",
			Help:        "Deliveries too short to carry an envelope header.",
			ConstLabels: labels,
		}),
		crcFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "rtubuffered",
			Subsystem:   "port",
			Name:        "crc_failures_total",
			Help:        "Complete frames dropped because of a CRC mismatch.",
			ConstLabels: labels,
		}),
		transportClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "rtubuffered",
			Subsystem:   "port",
			Name:        "transport_closed_total",
			Help:        "Transport sessions that ended under an open port, by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
	}
	for _, kind := range []string{"normal", "exception"} {
		m.frames.WithLabelValues(kind)
	}
	for _, reason := range []string{"closed", "error"} {
		m.transportClosed.WithLabelValues(reason)
	}
	if reg != nil {
		reg.MustRegister(m.frames, m.bytesSent, m.bytesReceived, m.envelopeErrors, m.crcFailures, m.transportClosed)
	}
	return m
}

func (m *PortMetrics) frame(frame []byte) {
	if m == nil {
		return
	}
	if IsException(frame) {
		m.frames.WithLabelValues("exception").Inc()
		return
	}
	m.frames.WithLabelValues("normal").Inc()
}

func (m *PortMetrics) sent(n int) {
	if m != nil {
		m.bytesSent.Add(float64(n))
	}
}

func (m *PortMetrics) received(n int) {
	if m != nil {
		m.bytesReceived.Add(float64(n))
	}
}

func (m *PortMetrics) envelopeError() {
	if m != nil {
		m.envelopeErrors.Inc()
	}
}

func (m *PortMetrics) crcFailure() {
	if m != nil {
		m.crcFailures.Inc()
	}
}

func (m *PortMetrics) closed(reason string) {
	if m != nil {
		m.transportClosed.WithLabelValues(reason).Inc()
	}
}

// BridgeMetrics counts exchanges relayed by a Bridge.
type BridgeMetrics struct {
	exchanges   *prometheus.CounterVec
	connections prometheus.Gauge
}

// NewBridgeMetrics creates the bridge collectors and registers them on reg
// when reg is not nil.
func NewBridgeMetrics(reg prometheus.Registerer) *BridgeMetrics {
	m := &BridgeMetrics{
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtubuffered",
			Subsystem: "bridge",
			Name:      "exchanges_total",
			Help:      "Requests relayed to the device, by result.",
		}, []string{"result"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtubuffered",
			Subsystem: "bridge",
			Name:      "connections",
			Help:      "Client connections currently open.",
		}),
	}
	for _, result := range []string{"ok", "exception", "error"} {
		m.exchanges.WithLabelValues(result)
	}
	if reg != nil {
		reg.MustRegister(m.exchanges, m.connections)
	}
	return m
}

func (m *BridgeMetrics) exchange(result string) {
	if m != nil {
		m.exchanges.WithLabelValues(result).Inc()
	}
}

func (m *BridgeMetrics) connectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *BridgeMetrics) connectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}
