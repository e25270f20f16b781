// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesTotal           *prometheus.CounterVec
	bytesTotal           *prometheus.CounterVec
	fetchRetriesTotal    prometheus.Counter
	fetchDurationSeconds *prometheus.HistogramVec
	politenessWaitSecs   prometheus.Histogram
	activeWorkers        prometheus.Gauge

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_pages_total",
				Help: "Pages processed, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_bytes_total",
				Help: "Bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitewatch_fetch_retries_total",
				Help: "Fetch attempts beyond the first.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitewatch_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by site.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)

		politenessWaitSecs = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitewatch_politeness_wait_seconds",
				Help:    "Histogram of time spent waiting on the politeness gate.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitewatch_active_workers",
				Help: "Workers currently processing a page.",
			},
		)
	})
}

// SanitizeSite reduces a URL to a lowercase hostname label, or "unknown"
// when the URL cannot be parsed.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObservePage counts one processed page and its payload size.
func ObservePage(site, outcome string, bytesFetched int) {
	if pagesTotal == nil {
		return
	}
	label := SanitizeSite(site)
	pagesTotal.WithLabelValues(label, outcome).Inc()
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(label).Add(float64(bytesFetched))
	}
}

// ObserveFetch records one fetch attempt's latency and retry count.
func ObserveFetch(site string, duration time.Duration, retries int) {
	if fetchDurationSeconds == nil {
		return
	}
	fetchDurationSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
	if retries > 0 {
		fetchRetriesTotal.Add(float64(retries))
	}
}

// ObservePolitenessWait records time spent blocked on the rate gate.
func ObservePolitenessWait(d time.Duration) {
	if politenessWaitSecs == nil || d < time.Millisecond {
		return
	}
	politenessWaitSecs.Observe(d.Seconds())
}

// WorkerStarted and WorkerStopped track pool occupancy.
func WorkerStarted() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// WorkerStopped decrements the active worker gauge.
func WorkerStopped() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}
