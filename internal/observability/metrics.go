package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ent0n29/callcaster/internal/session"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveCall          prometheus.Gauge
	CallEvents          *prometheus.CounterVec
	Playbacks           *prometheus.CounterVec
	IngestEvents        *prometheus.CounterVec
	AcquireLatency      *prometheus.HistogramVec
	StreamChangeLatency prometheus.Histogram
	ReaperFiles         *prometheus.CounterVec

	registry *prometheus.Registry
	window   *LatencyWindow
}

// NewMetrics registers the instruments on a fresh registry so several instances can coexist in tests.
func NewMetrics(namespace string, window *LatencyWindow) *Metrics {
	if window == nil {
		window = NewLatencyWindow(0)
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		ActiveCall: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_call",
			Help:      "1 while a voice call is joined.",
		}),
		CallEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Join and leave operations by outcome.",
		}, []string{"op", "outcome"}),
		Playbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playbacks_total",
			Help:      "Playback requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		IngestEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_events_total",
			Help:      "Control-channel messages by kind and outcome.",
		}, []string{"kind", "outcome"}),
		AcquireLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "acquire_latency_ms",
			Help:      "Time to synthesize or download a message's audio in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}, []string{"kind"}),
		StreamChangeLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_change_latency_ms",
			Help:      "Latency of stream changes on the call service in milliseconds.",
			Buckets:   []float64{50, 100, 200, 500, 1000, 2000, 5000},
		}),
		ReaperFiles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_files_total",
			Help:      "Temporary file deletions by result.",
		}, []string{"result"}),
		registry: reg,
		window:   window,
	}
}

// RegisterGaugeFunc exposes a value sampled at scrape time, such as the reaper backlog.
func (m *Metrics) RegisterGaugeFunc(namespace, name, help string, fn func() float64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

// ObserveSession records one controller operation.
func (m *Metrics) ObserveSession(e session.Event) {
	switch e.Op {
	case session.OpJoin, session.OpLeave:
		m.CallEvents.WithLabelValues(string(e.Op), e.Outcome).Inc()
		if e.Outcome == session.OutcomeOK {
			if e.Op == session.OpJoin {
				m.ActiveCall.Set(1)
				m.window.Observe(StageJoin, e.Duration)
			} else {
				m.ActiveCall.Set(0)
				m.window.Observe(StageLeave, e.Duration)
			}
		} else if e.Outcome == session.OutcomeFailed {
			// A failed join or leave always leaves us outside any call.
			m.ActiveCall.Set(0)
		}
	case session.OpPlay:
		m.Playbacks.WithLabelValues(string(e.Kind), e.Outcome).Inc()
		if e.Outcome == session.OutcomeOK || e.Outcome == session.OutcomeFailed {
			m.StreamChangeLatency.Observe(float64(e.Duration.Milliseconds()))
			m.window.Observe(StageStreamChange, e.Duration)
		}
		if e.Outcome != session.OutcomeOK {
			m.window.ObserveIndicator("play_" + e.Outcome)
		}
	}
}

// ObserveIngest records how a control-channel message was handled.
func (m *Metrics) ObserveIngest(kind session.Kind, outcome string, took time.Duration) {
	m.IngestEvents.WithLabelValues(string(kind), outcome).Inc()
	if took > 0 {
		m.AcquireLatency.WithLabelValues(string(kind)).Observe(float64(took.Milliseconds()))
		stage := StageSynthesize
		if kind == session.KindAudio {
			stage = StageDownload
		}
		m.window.Observe(stage, took)
	}
}

// ObserveReaper records one temp file deletion attempt.
func (m *Metrics) ObserveReaper(_ string, result string) {
	m.ReaperFiles.WithLabelValues(result).Inc()
}

func (m *Metrics) Window() *LatencyWindow { return m.window }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
