package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fusionbot_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fusionbot_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// Pipeline metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fusionbot_events_total",
			Help: "Inbound Slack events by classification",
		},
		[]string{"decision"}, // ignore, challenge, refuse, process
	)

	StageDegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fusionbot_stage_degraded_total",
			Help: "Pipeline stages replaced by a fallback",
		},
		[]string{"stage"},
	)

	PipelineFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fusionbot_pipeline_failures_total",
			Help: "Requests that failed without a reply",
		},
		[]string{"stage"}, // synthesis, publish
	)

	RepliesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fusionbot_replies_published_total",
			Help: "Replies posted to Slack",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fusionbot_stage_duration_seconds",
			Help:    "Pipeline stage duration",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
)
