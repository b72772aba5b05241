package overlay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are shared by every loop of a process.
// A nil *Metrics is valid, and records nothing.
type Metrics struct {
	Ticks        prometheus.Counter
	Skipped      *prometheus.CounterVec
	ObjectsDrawn prometheus.Counter
	ObjectErrors prometheus.Counter
	TickSeconds  prometheus.Histogram
}

// NewMetrics creates the overlay metrics and registers them with 'reg'
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlay_ticks_total",
			Help: "Number of render loop ticks",
		}),
		Skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overlay_ticks_skipped_total",
			Help: "Number of ticks that drew nothing",
		}, []string{"reason"}),
		ObjectsDrawn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlay_objects_drawn_total",
			Help: "Number of detection boxes drawn",
		}),
		ObjectErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlay_object_errors_total",
			Help: "Number of detection boxes that failed to draw",
		}),
		TickSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "overlay_tick_seconds",
			Help:    "Time spent drawing one tick",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}
	reg.MustRegister(m.Ticks, m.Skipped, m.ObjectsDrawn, m.ObjectErrors, m.TickSeconds)
	return m
}

func (m *Metrics) observe(info *FrameInfo) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	if info.Skip != SkipNone {
		m.Skipped.WithLabelValues(info.Skip.String()).Inc()
	}
	m.ObjectsDrawn.Add(float64(info.Objects))
	m.ObjectErrors.Add(float64(info.Failed))
	m.TickSeconds.Observe(info.Elapsed.Seconds())
}
