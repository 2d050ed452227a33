package core

import "time"

// EpochSentinel is returned for a watermark that was never recorded.
const EpochSentinel = "1970-01-01T00:00:00Z"

// WatermarkKey is the natural composite key of a watermark.
type WatermarkKey struct {
	SourceName      string `json:"source_name"`
	TableName       string `json:"table_name"`
	WatermarkColumn string `json:"watermark_column"`
}

// Watermark is the high-water mark of an incrementing column.
// WatermarkValue is opaque to the store.
type Watermark struct {
	WatermarkKey
	WatermarkValue     string    `json:"watermark_value"`
	WatermarkTimestamp time.Time `json:"watermark_timestamp"`
	PartitionKey       string    `json:"partition_key,omitempty"`
	JobRunID           string    `json:"job_run_id,omitempty"`
	RowsProcessed      int64     `json:"rows_processed"`
}

// Freshness classifies how far a watermark lags behind its SLA.
type Freshness string

// Freshness levels.
const (
	FreshnessFresh   Freshness = "fresh"
	FreshnessWarning Freshness = "warning"
	FreshnessStale   Freshness = "stale"
)
