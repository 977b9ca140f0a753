package lowpan

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricNamespace = "lowpan"

// Drop reasons
const (
	dropHeaderLength   = "header_length"
	dropUnsupported    = "unsupported_transport"
	dropTooLarge       = "too_large"
	dropFrameTooSmall  = "frame_too_small"
	dropNoBuffer       = "no_buffer"
	dropBadDestination = "bad_destination"
	dropOther          = "other"
)

// Metrics counts adaptation layer activity.  A nil *Metrics is valid and counts nothing.
type Metrics struct {
	packets         *prometheus.CounterVec
	frames          *prometheus.CounterVec
	drops           *prometheus.CounterVec
	reassembled     prometheus.Counter
	reassemblyDrops *prometheus.CounterVec
}

// NewMetrics creates the adaptation layer metrics and registers them with reg, if reg is not nil.  If
// the metrics are already registered with reg, the registered collectors are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		packets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "packets_total",
				Help:      "Outbound packets accepted for transmission",
			},
			[]string{"path"},
		),
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "frames_total",
				Help:      "Frames handed to the MAC",
			},
			[]string{"result"},
		),
		drops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "dropped_packets_total",
				Help:      "Outbound packets dropped before any frame was submitted",
			},
			[]string{"reason"},
		),
		reassembled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "reassembled_packets_total",
				Help:      "Inbound datagrams delivered",
			},
		),
		reassemblyDrops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "reassembly_drops_total",
				Help:      "Inbound frames or partial datagrams discarded",
			},
			[]string{"reason"},
		),
	}
	if reg == nil {
		return m
	}
	m.packets = register(reg, m.packets)
	m.frames = register(reg, m.frames)
	m.drops = register(reg, m.drops)
	m.reassembled = register(reg, m.reassembled)
	m.reassemblyDrops = register(reg, m.reassemblyDrops)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(err)
}

func (m *Metrics) packet(path string) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(path).Inc()
}

func (m *Metrics) frame(result string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(result).Inc()
}

func (m *Metrics) drop(reason string) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(reason).Inc()
}

func (m *Metrics) delivered() {
	if m == nil {
		return
	}
	m.reassembled.Inc()
}

func (m *Metrics) reassemblyDrop(reason string) {
	if m == nil {
		return
	}
	m.reassemblyDrops.WithLabelValues(reason).Inc()
}

// dropReason maps an error returned by QueueFrames to a metrics label
func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrHeaderLength):
		return dropHeaderLength
	case errors.Is(err, ErrUnsupportedTransport):
		return dropUnsupported
	case errors.Is(err, ErrTooLarge):
		return dropTooLarge
	case errors.Is(err, ErrFrameTooSmall), errors.Is(err, ErrNoRoom):
		return dropFrameTooSmall
	case errors.Is(err, ErrBadDestination):
		return dropBadDestination
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return dropNoBuffer
	}
	return dropOther
}
