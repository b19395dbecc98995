package telemetry

// Fan-out latency profile: in-process dispatch plus socket buffer writes
var FanoutBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5}

// Listener metrics
var (
	// NotificationsTotal counts raw notifications by channel (interaction_changes, status_changes)
	NotificationsTotal CounterVec = noopCounterVec{}

	// DecodeFailuresTotal counts dropped malformed payloads
	DecodeFailuresTotal Counter = NoopStat{}

	// SourceReconnectsTotal counts reconnect attempts to the notification source
	SourceReconnectsTotal Counter = NoopStat{}

	// SourceConnected indicates listener state (1=listening, 0=disconnected)
	SourceConnected Gauge = NoopStat{}
)

// Delivery queue metrics
var (
	// QueueDepth tracks the current number of queued events
	QueueDepth Gauge = NoopStat{}

	// QueueEvictionsTotal counts events dropped under queue pressure
	QueueEvictionsTotal Counter = NoopStat{}
)

// Fan-out metrics
var (
	// FanoutSendsTotal counts per-subscriber sends by tenant and result (ok, failed)
	FanoutSendsTotal CounterVec = noopCounterVec{}

	// FanoutDurationSeconds measures per-event fan-out latency
	FanoutDurationSeconds Histogram = NoopStat{}

	// SubscribersActive tracks joined subscriptions per tenant
	SubscribersActive GaugeVec = noopGaugeVec{}

	// SinkPublishTotal counts mirror publishes by sink and result (ok, failed, filtered)
	SinkPublishTotal CounterVec = noopCounterVec{}
)

// Transport metrics
var (
	// WSConnections tracks open WebSocket connections
	WSConnections Gauge = NoopStat{}

	// WSDroppedMessagesTotal counts messages dropped on slow client send paths
	WSDroppedMessagesTotal Counter = NoopStat{}
)

func registerRelayMetrics() {
	NotificationsTotal = NewCounterVec("notifications_total",
		"Raw notifications received from the source", []string{"channel"})
	DecodeFailuresTotal = NewCounter("decode_failures_total",
		"Malformed notification payloads dropped")
	SourceReconnectsTotal = NewCounter("source_reconnects_total",
		"Reconnect attempts to the notification source")
	SourceConnected = NewGauge("source_connected",
		"Listener connection state (1=listening)")

	QueueDepth = NewGauge("queue_depth",
		"Events currently in the delivery queue")
	QueueEvictionsTotal = NewCounter("queue_evictions_total",
		"Events evicted from the delivery queue under pressure")

	FanoutSendsTotal = NewCounterVec("fanout_sends_total",
		"Per-subscriber event sends", []string{"tenant", "result"})
	FanoutDurationSeconds = NewHistogram("fanout_duration_seconds",
		"Per-event fan-out latency", FanoutBuckets)
	SubscribersActive = NewGaugeVec("subscribers_active",
		"Joined subscriptions", []string{"tenant"})
	SinkPublishTotal = NewCounterVec("sink_publish_total",
		"Mirror sink publishes", []string{"sink", "result"})

	WSConnections = NewGauge("ws_connections",
		"Open WebSocket connections")
	WSDroppedMessagesTotal = NewCounter("ws_dropped_messages_total",
		"Messages dropped on slow client send paths")
}
