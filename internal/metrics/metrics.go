// Package metrics exposes storage statistics and request metrics for
// Prometheus.
package metrics

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pastebin"

// Unavailable is reported by the storage gauges when the root directory
// cannot be read.
const Unavailable = -1.0

// Collector computes storage statistics by scanning the paste root on every
// observation. Nothing is cached between scrapes.
type Collector struct {
	root string
}

func NewCollector(root string) *Collector {
	return &Collector{root: root}
}

// StoredItemCount returns the number of entries in the root directory.
func (c *Collector) StoredItemCount() float64 {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return Unavailable
	}
	return float64(len(entries))
}

// TotalStoredBytes returns the summed size of all entries in the root
// directory. Entries whose metadata cannot be read are left out.
func (c *Collector) TotalStoredBytes() float64 {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return Unavailable
	}

	var total int64
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return float64(total)
}

// Gauge is a named value recomputed on every scrape.
type Gauge struct {
	Name  string
	Help  string
	Value func() float64
}

// Gauges returns the storage gauges backed by c.
func (c *Collector) Gauges() []Gauge {
	return []Gauge{
		{
			Name:  "stored_item_count",
			Help:  "Number of pastes currently stored.",
			Value: c.StoredItemCount,
		},
		{
			Name:  "total_stored_bytes",
			Help:  "Total size of stored pastes, in bytes.",
			Value: c.TotalStoredBytes,
		},
	}
}

// RegisterGauges registers every gauge as a pull based GaugeFunc.
func RegisterGauges(reg prometheus.Registerer, gauges []Gauge) error {
	for _, g := range gauges {
		gf := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      g.Name,
			Help:      g.Help,
		}, g.Value)

		if err := reg.Register(gf); err != nil {
			return fmt.Errorf("register gauge %s: %w", g.Name, err)
		}
	}
	return nil
}

// RequestMetrics tracks HTTP traffic by route pattern.
type RequestMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewRequestMetrics(reg prometheus.Registerer) (*RequestMetrics, error) {
	m := &RequestMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	for _, c := range []prometheus.Collector{m.requestsTotal, m.requestDuration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register request metrics: %w", err)
		}
	}
	return m, nil
}

// Observe records one finished request.
func (m *RequestMetrics) Observe(method string, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
