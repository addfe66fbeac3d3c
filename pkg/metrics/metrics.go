// Package metrics exposes operation counters for the federation as
// Prometheus collectors, plus a decorator that feeds them.
//
// Observability is deliberately out of the core: the decorator attaches at
// the outermost position of the stack (around the guard), so it observes
// exactly what the FUSE adapter observes and the core stays unaware of it.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/spanfs/internal/logger"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spanfs_operations_total",
		Help: "Filesystem operations processed, by operation name.",
	}, []string{"op"})

	operationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spanfs_operation_errors_total",
		Help: "Filesystem operations that returned an error, by operation name.",
	}, []string{"op"})

	operationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spanfs_operation_duration_seconds",
		Help:    "Latency of filesystem operations, by operation name.",
		Buckets: prometheus.ExponentialBuckets(50e-6, 4, 10),
	}, []string{"op"})

	bytesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spanfs_read_bytes_total",
		Help: "Bytes returned by read operations.",
	})

	bytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spanfs_written_bytes_total",
		Help: "Bytes accepted by write operations.",
	})
)

// observe records one completed operation.
func observe(op string, start time.Time, err error) {
	operationsTotal.WithLabelValues(op).Inc()
	operationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		operationErrors.WithLabelValues(op).Inc()
	}
}

// Serve exposes the default registry on addr under /metrics. It returns the
// server so the caller can shut it down.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener failed: %v", err)
		}
	}()
	logger.Info("metrics listening on %s", addr)
	return srv
}
