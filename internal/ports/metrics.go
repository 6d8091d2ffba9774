package ports

// Metric names emitted through Observability.
const (
	MetricTicks              = "metricflow_ticks_total"
	MetricSamplesCollected   = "metricflow_samples_collected_total"
	MetricCollectFailures    = "metricflow_collect_failures_total"
	MetricEnvelopesPublished = "metricflow_envelopes_published_total"
	MetricPublishFailures    = "metricflow_publish_failures_total"
	MetricPublisherQueueLen  = "metricflow_publisher_queue_length"

	MetricMessagesConsumed   = "metricflow_messages_consumed_total"
	MetricMessagesProcessed  = "metricflow_messages_processed_total"
	MetricMessagesFailed     = "metricflow_messages_failed_total"
	MetricCommitFailures     = "metricflow_commit_failures_total"
	MetricStoreRetries       = "metricflow_store_retries_total"
	MetricEnvelopesDropped   = "metricflow_envelopes_dropped_total"
	MetricSubscriberQueueLen = "metricflow_subscriber_queue_length"
	MetricAgentRunSeconds    = "metricflow_agent_run_seconds"
	MetricDiagnosticMessages = "metricflow_diagnostic_messages_total"
)

// Common field keys. LabelAgent and LabelKind double as metric labels.
const (
	LabelAgent = "agent"
	LabelKind  = "kind"
	FieldTopic = "topic"
)
