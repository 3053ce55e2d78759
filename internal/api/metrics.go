package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "secretplane_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "secretplane_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	secretsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "secretplane_secrets_total",
		Help: "Number of live secrets.",
	})

	commitsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "secretplane_commits_total",
		Help: "Number of recorded folder commits.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, secretsTotal, commitsTotal)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(dur)
	})
}

// collectGauges refreshes the resource-count gauges from storage.
func (s *Server) collectGauges(ctx context.Context) {
	if n, err := s.store.CountSecrets(ctx); err == nil {
		secretsTotal.Set(float64(n))
	}
	if n, err := s.store.CountCommits(ctx); err == nil {
		commitsTotal.Set(float64(n))
	}
}

// startGaugeLoop refreshes resource gauges until ctx is canceled.
func (s *Server) startGaugeLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.collectGauges(ctx)
			}
		}
	}()
}
