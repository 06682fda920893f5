package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Messages committed to the store",
	}, []string{"has_image"})

	TranslationRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_translation_requests_total",
		Help: "Translation requests by outcome",
	}, []string{"outcome"}) // cache_hit, translated, rate_limited, provider_error

	SmartReplyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_smart_reply_requests_total",
		Help: "Smart reply generations by outcome",
	}, []string{"outcome"})

	RateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_rate_limit_rejections_total",
		Help: "Requests rejected by the per-user limiter",
	}, []string{"feature"})

	AIProviderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_ai_provider_duration_seconds",
		Help:    "Latency of AI provider calls",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"feature", "status"})

	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_jobs_processed_total",
		Help: "Background jobs by kind and final status",
	}, []string{"kind", "status"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_job_duration_seconds",
		Help:    "Background job execution time",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"kind"})

	JobsEnqueueFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_jobs_enqueue_failed_total",
		Help: "Jobs that could not be handed to the queue",
	})

	RealtimeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_realtime_subscriptions",
		Help: "Active topic subscriptions",
	})

	RealtimeDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_realtime_dropped_total",
		Help: "Events dropped because a subscriber was too slow",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
