package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestTranslationMetrics(t *testing.T) {
	TranslationLatency.WithLabelValues("direct").Observe(0.25)
	TranslationsTotal.WithLabelValues("pivot").Inc()
	TranslationErrors.WithLabelValues("engine_init").Inc()
	SegmentFallbacks.Inc()
	CrashRetries.WithLabelValues("en-de").Inc()

	names := gatheredNames(t)
	expected := []string{
		"mtran_translation_latency_seconds",
		"mtran_translations_total",
		"mtran_translation_errors_total",
		"mtran_segment_fallbacks_total",
		"mtran_crash_retries_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestEngineMetrics(t *testing.T) {
	EnginesLoaded.Set(2)
	EngineLoads.WithLabelValues("en-zh-Hans").Inc()
	EngineLoadLatency.Observe(1.2)
	EngineEvictions.WithLabelValues("idle").Inc()

	names := gatheredNames(t)
	for _, name := range []string{
		"mtran_engines_loaded",
		"mtran_engine_loads_total",
		"mtran_engine_load_latency_seconds",
		"mtran_engine_evictions_total",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestDetectionAndCacheMetrics(t *testing.T) {
	Detections.WithLabelValues("segments").Inc()
	DetectorResets.Inc()
	CacheLookups.WithLabelValues("hit").Inc()
	ModelDownloads.WithLabelValues("ok").Inc()
	ModelDownloadBytes.Add(1024)
	HealthCheckStatus.WithLabelValues("records").Set(1)
	HealthRecoveries.WithLabelValues("records").Inc()

	names := gatheredNames(t)
	for _, name := range []string{
		"mtran_detections_total",
		"mtran_detector_resets_total",
		"mtran_cache_lookups_total",
		"mtran_model_downloads_total",
		"mtran_model_download_bytes_total",
		"mtran_health_check_status",
		"mtran_health_recoveries_total",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}
