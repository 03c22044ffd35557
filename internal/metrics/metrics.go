package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voxscribe"

// Recorder implements session.Observer on a private prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	requestTime   prometheus.Histogram
	loads         *prometheus.CounterVec
	loadTime      prometheus.Histogram
	unloads       *prometheus.CounterVec
	decodeLatency *prometheus.HistogramVec
	queueDepth    prometheus.Gauge
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Finished transcription requests by outcome.",
		}, []string{"outcome"}),
		requestTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "Time from submission to result, including queueing.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_loads_total",
			Help:      "Successful model loads.",
		}, []string{"model"}),
		loadTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_load_duration_seconds",
			Help:      "Model load latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		unloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_unloads_total",
			Help:      "Model unloads.",
		}, []string{"model"}),
		decodeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_duration_seconds",
			Help:      "Decode latency per model.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"model"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Requests waiting for the execution slot.",
		}),
	}

	r.registry.MustRegister(
		r.requests,
		r.requestTime,
		r.loads,
		r.loadTime,
		r.unloads,
		r.decodeLatency,
		r.queueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) RequestFinished(kind string, elapsed time.Duration) {
	if kind == "" {
		kind = "ok"
	}
	r.requests.WithLabelValues(kind).Inc()
	r.requestTime.Observe(elapsed.Seconds())
}

func (r *Recorder) ModelLoaded(model string, elapsed time.Duration) {
	r.loads.WithLabelValues(model).Inc()
	r.loadTime.Observe(elapsed.Seconds())
}

func (r *Recorder) ModelUnloaded(model string) {
	r.unloads.WithLabelValues(model).Inc()
}

func (r *Recorder) DecodeFinished(model string, elapsed time.Duration) {
	r.decodeLatency.WithLabelValues(model).Observe(elapsed.Seconds())
}

func (r *Recorder) QueueDepth(depth int) {
	r.queueDepth.Set(float64(depth))
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
