// Package metrics exposes Prometheus collectors for patch operations on a
// dedicated registry, so embedding programs can mount them without
// inheriting the default global registry.
package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "patchforge"

var (
	// Registry is a dedicated Prometheus registry for all PatchForge metrics.
	Registry = prometheus.NewRegistry()

	// OperationDuration measures end-to-end create/apply/verify latency.
	OperationDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_ms",
			Help:      "Duration of patch operations in milliseconds",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"operation"}, // create | apply | verify
	)

	// OperationTotal counts operations by type and outcome.
	OperationTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_total",
			Help:      "Total number of patch operations",
		},
		[]string{"operation", "outcome"},
	)

	// ChunkTotal counts chunk records processed, by stage and kind.
	ChunkTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_total",
			Help:      "Total chunk records processed",
		},
		[]string{"stage", "kind"}, // stage: create | apply
	)

	// PatchBytesTotal accumulates bytes of patch artifacts written.
	PatchBytesTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patch_bytes_total",
			Help:      "Cumulative size of patch artifacts written",
		},
	)

	// SavedBytesTotal accumulates bytes saved versus shipping whole files.
	SavedBytesTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saved_bytes_total",
			Help:      "Cumulative bytes saved by shipping deltas instead of full files",
		},
	)

	// CompressionRatio tracks the running patch-size/new-size ratio.
	CompressionRatio = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "compression_ratio",
			Help:      "Running ratio of patch bytes to new-file bytes (lower is better)",
		},
	)

	// BatchOutcomeTotal counts per-pair batch outcomes.
	BatchOutcomeTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_outcome_total",
			Help:      "Per-pair outcomes across batch runs",
		},
		[]string{"outcome"}, // success | error | skipped
	)

	// Up is a liveness gauge.
	Up = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "1 if the process is running",
		},
	)
)

var (
	totalNewBytes   atomic.Int64
	totalPatchBytes atomic.Int64
)

func init() {
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	Registry.MustRegister(prometheus.NewGoCollector())
	Up.Set(1)
}

// ObserveOperation records timing and outcome for a top-level operation.
func ObserveOperation(start time.Time, operation, outcome string) {
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	OperationDuration.WithLabelValues(operation).Observe(elapsed)
	OperationTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveChunk counts one processed chunk record.
func ObserveChunk(stage, kind string) {
	ChunkTotal.WithLabelValues(stage, kind).Inc()
}

// ObservePatch updates byte counters and the running compression ratio
// after a successful create.
func ObservePatch(newBytes, patchBytes int64) {
	if newBytes <= 0 || patchBytes < 0 {
		return
	}

	PatchBytesTotal.Add(float64(patchBytes))
	if saved := newBytes - patchBytes; saved > 0 {
		SavedBytesTotal.Add(float64(saved))
	}

	newTotal := totalNewBytes.Add(newBytes)
	patchTotal := totalPatchBytes.Add(patchBytes)
	if newTotal > 0 {
		CompressionRatio.Set(float64(patchTotal) / float64(newTotal))
	}
}

// ObserveBatchOutcome counts one batch pair outcome.
func ObserveBatchOutcome(outcome string) {
	BatchOutcomeTotal.WithLabelValues(outcome).Inc()
}

// Serve exposes the registry over HTTP until ctx is done. Intended for
// long-running batch or watch sessions.
func Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("[metrics] server stopped: %v", err)
	}
}
