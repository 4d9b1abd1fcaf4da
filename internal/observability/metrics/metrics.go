// Package metrics holds the Prometheus collectors for the push pipeline.
//
// Collectors live on a dedicated registry so tests and embedders never touch
// the global default registry. A nil *Metrics is a valid no-op.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cub3dnotify"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

type Metrics struct {
	Registry *prometheus.Registry

	frames        *prometheus.CounterVec
	decodeErrors  prometheus.Counter
	notifications *prometheus.CounterVec
	connects      *prometheus.CounterVec
	streamState   prometheus.Gauge
}

// New registers all collectors (plus Go/process collectors) on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames received from the push stream, by kind.",
		}, []string{"kind"}),
		decodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Text frames dropped because they were not a valid envelope.",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification requests handed to the sink, by rule and result.",
		}, []string{"rule", "result"}),
		connects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_connects_total",
			Help:      "Stream connection attempts, by result.",
		}, []string{"result"}),
		streamState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_state",
			Help:      "Connection loop state: 0 idle, 1 connecting, 2 reading, 3 terminated.",
		}),
	}
}

func (m *Metrics) Frame(kind string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(kind).Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) Notification(rule string, err error) {
	if m == nil {
		return
	}
	res := ResultOK
	if err != nil {
		res = ResultError
	}
	m.notifications.WithLabelValues(rule, res).Inc()
}

func (m *Metrics) Connect(err error) {
	if m == nil {
		return
	}
	res := ResultOK
	if err != nil {
		res = ResultError
	}
	m.connects.WithLabelValues(res).Inc()
}

func (m *Metrics) StreamState(v int) {
	if m == nil {
		return
	}
	m.streamState.Set(float64(v))
}
