// Package metrics exposes Prometheus collectors and the HTTP endpoint that
// serves them while a scan runs.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/bangumi-scanner/internal/resolver"
)

// Collectors groups the request-level collectors registered by New.
type Collectors struct {
	fetchTotal       *prometheus.CounterVec
	fetchDuration    prometheus.Histogram
	httpRequests     *prometheus.CounterVec
	httpRequestsTime *prometheus.HistogramVec
}

// NewCollectors registers the fetch and endpoint collectors with reg.
func NewCollectors(reg prometheus.Registerer) (*Collectors, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collectors{
		fetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bangumi_fetch_requests_total",
				Help: "Total number of upstream fetches, labeled by status code or error.",
			},
			[]string{"code"},
		),
		fetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bangumi_fetch_duration_seconds",
				Help:    "Histogram of upstream fetch latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestsTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		),
	}
	for _, collector := range []prometheus.Collector{c.fetchTotal, c.fetchDuration, c.httpRequests, c.httpRequestsTime} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveFetch records one upstream fetch.
func (c *Collectors) ObserveFetch(code string, duration time.Duration) {
	c.fetchTotal.WithLabelValues(code).Inc()
	c.fetchDuration.Observe(duration.Seconds())
}

// ObserveHTTPRequest records one request served by the metrics endpoint.
func (c *Collectors) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	c.httpRequestsTime.WithLabelValues(method, route).Observe(duration.Seconds())
}

// InstrumentFetcher wraps next so every fetch is counted by status code.
func (c *Collectors) InstrumentFetcher(next resolver.Fetcher) resolver.Fetcher {
	return resolver.FetcherFunc(func(ctx context.Context, url string) (resolver.Response, error) {
		start := time.Now()
		resp, err := next.Fetch(ctx, url)
		code := "error"
		if err == nil {
			code = strconv.Itoa(resp.StatusCode)
		}
		c.ObserveFetch(code, time.Since(start))
		return resp, err
	})
}

// statusWriter captures the response code for the request middleware.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (rw *statusWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
