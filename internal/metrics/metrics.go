package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediacache_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediacache_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	BytesServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacache_audio_bytes_served_total",
		Help: "Audio bytes written to clients",
	})
)

// 单飞解析
var (
	// ResolveTotal outcome: hit / joined / started
	ResolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacache_resolve_total",
		Help: "Resolve calls by kind and outcome",
	}, []string{"kind", "outcome"})

	ResolveFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacache_resolve_failures_total",
		Help: "Resolve jobs that ended without promotion",
	}, []string{"kind"})

	InflightJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediacache_inflight_jobs",
		Help: "Resolve jobs currently in flight",
	})
)

// 下载队列
var (
	QueueEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mediacache_download_queue_entries",
		Help: "Download queue entries by status",
	}, []string{"status"})

	DownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacache_downloads_total",
		Help: "Finished downloads by kind and result",
	}, []string{"kind", "result"})

	DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mediacache_download_duration_seconds",
		Help:    "Time from admission to completion of a download",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	DownloadAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacache_ytdlp_attempts_total",
		Help: "yt-dlp invocations by ladder step",
	}, []string{"step"})
)

// 存储
var StoreSaves = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediacache_store_saves_total",
	Help: "Store writes by result",
}, []string{"result"})
