// Package metrics defines the Prometheus collectors shared by the expansion
// engine and the scoring pass.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "compsearch"

// Batch results.
const (
	ResultApplied = "applied"
	ResultRetried = "retried"
	ResultFailed  = "failed"
)

// Metrics holds the collectors for one process.
type Metrics struct {
	// Expanded counts compositions marked expanded.
	Expanded prometheus.Counter
	// Children counts children produced by the expansion rule, before dedup.
	Children prometheus.Counter
	// Inserted counts children that were new to the store.
	Inserted prometheus.Counter
	// Batches counts batch attempts by result.
	Batches *prometheus.CounterVec
	// BatchDuration tracks how long one Apply call takes.
	BatchDuration prometheus.Histogram
	// PageSize tracks how many pending compositions each fetch returned.
	PageSize prometheus.Histogram
	// State is the engine state as a number (see engine.State).
	State prometheus.Gauge
	// Scored counts scores written.
	Scored prometheus.Counter
}

// New creates the collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Expanded: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "expanded_total",
			Help:      "Compositions marked expanded",
		}),
		Children: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "children_total",
			Help:      "Children produced by the expansion rule before deduplication",
		}),
		Inserted: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "inserted_total",
			Help:      "Compositions newly inserted into the store",
		}),
		Batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "batches_total",
			Help:      "Batch apply attempts by result",
		}, []string{"result"}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of one batch apply",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		}),
		PageSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "page_size",
			Help:      "Pending compositions returned per fetch",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		State: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "engine_state",
			Help:      "Expansion engine state (0 idle, 1 seeding, 2 draining, 3 done)",
		}),
		Scored: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "scored_total",
			Help:      "Scores written",
		}),
	}
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
// It returns once the listener is bound; serve errors are logged.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen metrics %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}
