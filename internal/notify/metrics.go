package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_events_total",
		Help: "Notification events by kind and result",
	}, []string{"kind", "result"})
	channelOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_channel_outcomes_total",
		Help: "Channel delivery outcomes",
	}, []string{"channel", "status"})
	channelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notify_channel_duration_seconds",
		Help:    "Time spent delivering on each channel",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})
	documentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_documents_total",
		Help: "Document artifacts by kind and status",
	}, []string{"kind", "status"})
)
