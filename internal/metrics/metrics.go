// Package metrics exposes Prometheus counters/histograms for the WebDAV
// dispatcher. The teacher had no metrics story at all; this is wired
// through webdav.Server.SetObserver rather than the server package
// importing client_golang directly, so the engine stays free of any
// particular metrics backend.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder implements webdav.RequestObserver.
type Recorder struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRecorder registers its metrics against reg. Pass
// prometheus.DefaultRegisterer for the global registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webdavd",
			Name:      "requests_total",
			Help:      "Total WebDAV requests by method and status code.",
		}, []string{"method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "webdavd",
			Name:      "request_duration_seconds",
			Help:      "WebDAV request latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	reg.MustRegister(r.requests, r.duration)
	return r
}

// ObserveRequest implements webdav.RequestObserver.
func (r *Recorder) ObserveRequest(method string, status int, dur time.Duration) {
	r.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	r.duration.WithLabelValues(method).Observe(dur.Seconds())
}
