package stream

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	framesReceived     *prometheus.CounterVec
	decodeErrors       *prometheus.CounterVec
	coercedFields      *prometheus.CounterVec
	handlerErrors      *prometheus.CounterVec
	subscriptionFrames *prometheus.CounterVec
	sessionsConnected  *prometheus.GaugeVec
}

// newMetrics creates the stream collectors and registers them with reg if it
// is not nil. Collectors already registered by another client are reused.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webull",
			Subsystem: "stream",
			Name:      "frames_received_total",
			Help:      "Frames received from the push gateway.",
		}, []string{"session"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webull",
			Subsystem: "stream",
			Name:      "decode_errors_total",
			Help:      "Frames dropped because they could not be decoded.",
		}, []string{"session"}),
		coercedFields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webull",
			Subsystem: "stream",
			Name:      "coerced_fields_total",
			Help:      "Decoded fields whose json kind was converted, e.g. numbers sent as strings.",
		}, []string{"session"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webull",
			Subsystem: "stream",
			Name:      "handler_errors_total",
			Help:      "Handler invocations that returned an error or panicked.",
		}, []string{"slot"}),
		subscriptionFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webull",
			Subsystem: "stream",
			Name:      "subscription_frames_total",
			Help:      "Subscribe and unsubscribe frames sent.",
		}, []string{"op"}),
		sessionsConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "webull",
			Subsystem: "stream",
			Name:      "sessions_connected",
			Help:      "Whether the session of each purpose is connected.",
		}, []string{"session"}),
	}
	if reg == nil {
		return m
	}
	m.framesReceived = register(reg, m.framesReceived)
	m.decodeErrors = register(reg, m.decodeErrors)
	m.coercedFields = register(reg, m.coercedFields)
	m.handlerErrors = register(reg, m.handlerErrors)
	m.subscriptionFrames = register(reg, m.subscriptionFrames)
	m.sessionsConnected = register(reg, m.sessionsConnected)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}
