package core

import "time"

// ViolationType classifies what kind of rule a ViolationRecord reports on.
type ViolationType string

// Violation types.
const (
	ViolationSchema       ViolationType = "schema"
	ViolationDataQuality  ViolationType = "data_quality"
	ViolationBusinessRule ViolationType = "business_rule"
	ViolationSLA          ViolationType = "sla"

	// ViolationExecutionError marks diagnostics: a rule could not be
	// evaluated. Consumers must not treat it as an anomaly signal.
	ViolationExecutionError ViolationType = "execution_error"
)

// Entry kinds carried in ViolationEntry.Kind.
const (
	EntryNoContract      = "no_contract"
	EntryMissingRequired = "missing_required"
	EntryBatchSize       = "batch_size"
	EntryNullPercentage  = "null_percentage"
	EntryBusinessRule    = "business_rule"
	EntryCheckSample     = "check_sample"
	EntryCheckTimeout    = "check_timeout"
	EntryCheckError      = "check_error"
	EntryStaleSource     = "stale_source"
)

// ViolationEntry is one finding inside a ViolationRecord.
type ViolationEntry struct {
	Kind        string         `json:"kind"`
	Error       string         `json:"error"`
	RecordIndex *int           `json:"record_index,omitempty"`
	Fields      []string       `json:"fields,omitempty"`
	Sample      map[string]any `json:"sample,omitempty"`
}

// ViolationRecord aggregates the findings of one batch validation or one
// check execution. Entries is a capped sample; ViolationCount is the total.
type ViolationRecord struct {
	ID             int64            `json:"id"`
	SourceName     string           `json:"source_name,omitempty"`
	TableName      string           `json:"table_name,omitempty"`
	ColumnName     string           `json:"column_name,omitempty"`
	CheckType      CheckType        `json:"check_type,omitempty"`
	ObservedAt     time.Time        `json:"observed_at"`
	PartitionKey   string           `json:"partition_key,omitempty"`
	RowCount       int64            `json:"row_count"`
	ViolationCount int64            `json:"violation_count"`
	ViolationType  ViolationType    `json:"violation_type"`
	Severity       Severity         `json:"severity"`
	Entries        []ViolationEntry `json:"entries"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`

	Resolved       bool       `json:"resolved"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
}

// ViolationFilter narrows ListViolations. Zero values match everything.
type ViolationFilter struct {
	SourceName    string
	TableName     string
	ViolationType ViolationType
	Unresolved    bool
	Since         time.Time
	Limit         int
}
