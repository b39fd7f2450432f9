// Package metrics provides Prometheus metrics for the translation server:
// translations, engines, detection, cache and model downloads.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Translation ────────────────────────────────────────────────────────────

// TranslationLatency tracks end-to-end translateWithPivot duration in seconds.
var TranslationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "mtran",
	Name:      "translation_latency_seconds",
	Help:      "Translation request duration in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route"})

// TranslationsTotal counts translations by route (identity, direct, pivot, segmented).
var TranslationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mtran",
	Name:      "translations_total",
	Help:      "Total translation requests by route.",
}, []string{"route"})

// TranslationErrors counts failed translations by reason.
var TranslationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mtran",
	Name:      "translation_errors_total",
	Help:      "Total failed translations by reason.",
}, []string{"reason"})

// SegmentFallbacks counts segments returned untranslated after a failure.
var SegmentFallbacks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "mtran",
	Name:      "segment_fallbacks_total",
	Help:      "Segments copied verbatim after a translation failure.",
})

// CrashRetries counts retries after a backend memory fault.
var CrashRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mtran",
	Name:      "crash_retries_total",
	Help:      "Translation retries after a backend memory fault.",
}, []string{"pair"})

// ─── Engines ────────────────────────────────────────────────────────────────

// EnginesLoaded tracks currently registered engines.
var EnginesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "mtran",
	Name:      "engines_loaded",
	Help:      "Number of engines currently registered.",
})

// EngineLoads counts engine creations per language pair.
var EngineLoads = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mtran",
	Name:      "engine_loads_total",
	Help:      "Total engine creations per language pair.",
}, []string{"pair"})

// EngineLoadLatency tracks model download plus initialization time.
var EngineLoadLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "mtran",
	Name:      "engine_load_latency_seconds",
	Help:      "Time to prepare and initialize an engine.",
	Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
})

// EngineEvictions counts engine removals by reason (idle, fault, shutdown).
var EngineEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mtran",
	Name:      "engine_evictions_total",
	Help:      "Total engine evictions by reason.",
}, []string{"reason"})

// ─── Detection ──────────────────────────────────────────────────────────────

// Detections counts detector calls by kind (single, confidence, segments).
var Detections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mtran",
	Name:      "detections_total",
	Help:      "Total language detections by kind.",
}, []string{"kind"})

// DetectorResets counts language identifier reinitializations after a fault.
var DetectorResets = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "mtran",
	Name:      "detector_resets_total",
	Help:      "Language identifier resets after a runtime fault.",
})

// ─── Cache ──────────────────────────────────────────────────────────────────

// CacheLookups counts translation cache lookups by result (hit, miss).
var CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mtran",
	Name:      "cache_lookups_total",
	Help:      "Translation cache lookups by result.",
}, []string{"result"})

// ─── Models ─────────────────────────────────────────────────────────────────

// ModelDownloads counts artifact downloads by result (ok, error, skipped).
var ModelDownloads = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mtran",
	Name:      "model_downloads_total",
	Help:      "Model artifact downloads by result.",
}, []string{"result"})

// ModelDownloadBytes counts downloaded artifact bytes.
var ModelDownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "mtran",
	Name:      "model_download_bytes_total",
	Help:      "Total bytes of model artifacts downloaded.",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "mtran",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries tracks auto-recovery attempts.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mtran",
	Name:      "health_recoveries_total",
	Help:      "Total auto-recovery attempts per check.",
}, []string{"check"})
