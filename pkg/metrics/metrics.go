package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlobIngests counts ingestion attempts by tier (inline|disk) and result
	// (created|deduplicated|rejected|error).
	BlobIngests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediavault_blob_ingests_total",
			Help: "Total number of blob ingestion attempts",
		},
		[]string{"tier", "result"},
	)

	// BlobBytesStored accumulates the bytes persisted per storage tier.
	BlobBytesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediavault_blob_bytes_stored_total",
			Help: "Total bytes written to blob storage",
		},
		[]string{"tier"},
	)

	// ChannelConnections tracks currently open persistent channel connections.
	ChannelConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediavault_channel_connections",
			Help: "Number of open persistent channel connections",
		},
	)

	// ChannelMessages counts processed channel messages by kind and result (ok|error).
	ChannelMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediavault_channel_messages_total",
			Help: "Total number of channel messages processed",
		},
		[]string{"kind", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediavault_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
