package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ClipfetchMetrics struct {
	RequestCount        *prometheus.CounterVec
	RequestDurationSec  *prometheus.SummaryVec
	CacheHitCount       *prometheus.CounterVec
	RateLimitedCount    prometheus.Counter
	BusyRejectedCount   prometheus.Counter
	DownloadBytes       prometheus.Counter
	DownloadDurationSec *prometheus.HistogramVec
	DownloadFallbacks   prometheus.Counter
	UploadDurationSec   *prometheus.HistogramVec
	StaleHandleCount    prometheus.Counter
	ActiveTasks         prometheus.Gauge
}

func NewMetrics() *ClipfetchMetrics {
	m := &ClipfetchMetrics{
		RequestCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parse_request_count",
			Help: "The total number of parse requests broken up by platform and success",
		}, []string{"platform", "success"}),
		RequestDurationSec: promauto.NewSummaryVec(prometheus.SummaryOpts{
			Name: "parse_request_duration_seconds",
			Help: "The end to end latency of parse requests broken up by platform and cache hit",
		}, []string{"platform", "cache_hit"}),
		CacheHitCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "handle_cache_hit_count",
			Help: "The number of deliveries answered from the handle cache",
		}, []string{"platform"}),
		RateLimitedCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rate_limited_request_count",
			Help: "The number of requests dropped by the per-user rate limiter",
		}),
		BusyRejectedCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "busy_rejected_request_count",
			Help: "The number of requests rejected because the user already had a task in flight",
		}),
		DownloadBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "download_bytes_total",
			Help: "Total bytes fetched by the segmented downloader",
		}),
		DownloadDurationSec: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "download_duration_seconds",
			Help:    "Time taken to download one artifact",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"mode"}),
		DownloadFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "download_fallback_count",
			Help: "The number of segmented downloads that fell back to a single stream",
		}),
		UploadDurationSec: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "upload_duration_seconds",
			Help:    "Time taken to deliver one artifact, broken up by delivery mode",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"mode"}),
		StaleHandleCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stale_handle_count",
			Help: "The number of cached handles rejected by the transport and evicted",
		}),
		ActiveTasks: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "active_task_count",
			Help: "The number of users with a task currently in flight",
		}),
	}

	return m
}

var Metrics = NewMetrics()
