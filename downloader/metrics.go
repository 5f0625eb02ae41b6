package downloader

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "headersync"

type metrics struct {
	requests   prometheus.Counter
	reports    prometheus.Counter
	retries    prometheus.Counter
	downloaded prometheus.Counter
	failures   *prometheus.CounterVec
	duration   prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "downloader",
			Name:      "requests_total",
			Help:      "Header requests sent to peers.",
		}),
		reports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "downloader",
			Name:      "bad_responses_total",
			Help:      "Peer responses rejected and reported.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "downloader",
			Name:      "retries_total",
			Help:      "Header spans requested again after a failure.",
		}),
		downloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "downloader",
			Name:      "headers_total",
			Help:      "Headers downloaded and validated.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "downloader",
			Name:      "failures_total",
			Help:      "Failed downloads by reason.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "downloader",
			Name:      "download_duration_seconds",
			Help:      "Time spent in a single Download call.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.reports, m.retries, m.downloaded, m.failures, m.duration)
	}
	return m
}
