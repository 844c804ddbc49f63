// Package diagnostics exposes Prometheus metrics for the sync client. It
// only observes; nothing in the sync path reads these values back.
package diagnostics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/hellotoday/hellotoday-client/internal/errors"
)

const namespace = "hellotoday"

// connectionStates lists every label value of the connection_state gauge.
var connectionStates = []string{"disconnected", "connecting", "connected"}

// Metrics owns a private registry. It implements the observer interfaces
// of the api, realtime and store packages.
type Metrics struct {
	registry *prometheus.Registry

	connectionState    *prometheus.GaugeVec
	reconnects         prometheus.Counter
	reconnectDelay     prometheus.Gauge
	reconnectExhausted prometheus.Counter
	framesReceived     *prometheus.CounterVec
	framesDropped      *prometheus.CounterVec
	messagesAppended   prometheus.Counter
	duplicatesIgnored  prometheus.Counter
	dailyResets        prometheus.Counter
	apiRequests        *prometheus.CounterVec
}

// New creates Metrics with Go runtime and process collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current realtime connection state, 0 otherwise.",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Automatic reconnect attempts scheduled.",
		}),
		reconnectDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconnect_delay_seconds",
			Help:      "Delay of the most recently scheduled reconnect.",
		}),
		reconnectExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_exhausted_total",
			Help:      "Times automatic reconnection gave up after the maximum attempts.",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Realtime frames received by channel.",
		}, []string{"channel"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Realtime frames dropped as malformed.",
		}, []string{"channel", "reason"}),
		messagesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Realtime messages appended to today's set.",
		}),
		duplicatesIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_ignored_total",
			Help:      "Realtime messages ignored because their id was already present.",
		}),
		dailyResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daily_resets_total",
			Help:      "Daily reset notifications applied.",
		}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "REST requests by operation and outcome.",
		}, []string{"op", "outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectionState,
		m.reconnects,
		m.reconnectDelay,
		m.reconnectExhausted,
		m.framesReceived,
		m.framesDropped,
		m.messagesAppended,
		m.duplicatesIgnored,
		m.dailyResets,
		m.apiRequests,
	)

	m.ObserveConnectionState("disconnected")

	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveConnectionState(state string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}

		m.connectionState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) ObserveReconnectScheduled(_ int, delay time.Duration) {
	m.reconnects.Inc()
	m.reconnectDelay.Set(delay.Seconds())
}

func (m *Metrics) ObserveMaxAttempts() { m.reconnectExhausted.Inc() }

func (m *Metrics) ObserveFrame(channel string) {
	m.framesReceived.WithLabelValues(channel).Inc()
}

func (m *Metrics) ObserveDroppedFrame(channel, reason string) {
	m.framesDropped.WithLabelValues(channel, reason).Inc()
}

func (m *Metrics) ObserveAppend(duplicate bool) {
	if duplicate {
		m.duplicatesIgnored.Inc()
		return
	}

	m.messagesAppended.Inc()
}

func (m *Metrics) ObserveReset() { m.dailyResets.Inc() }

// ObserveRequest counts one REST call under an outcome derived from err.
func (m *Metrics) ObserveRequest(op string, err error) {
	m.apiRequests.WithLabelValues(op, Outcome(err)).Inc()
}

// Outcome maps a request error onto a short label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperrors.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, apperrors.ErrNetworkTimeout):
		return "timeout"
	case errors.Is(err, apperrors.ErrNetworkUnreachable):
		return "unreachable"
	case errors.Is(err, apperrors.ErrServerError):
		return "server_error"
	case errors.Is(err, apperrors.ErrClientError):
		return "client_error"
	default:
		return "error"
	}
}
