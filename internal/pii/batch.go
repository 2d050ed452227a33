package pii

import (
	"github.com/leapstack-labs/leapguard/pkg/core"
)

// BatchResult is the outcome of masking a batch.
type BatchResult struct {
	Records []map[string]any `json:"records"`
	// Masked counts replaced occurrences per PII type.
	Masked map[string]int `json:"masked"`
}

// BatchMasker masks PII in ingested records before they land.
type BatchMasker struct {
	detector *Detector
	masker   *Masker
}

// NewBatchMasker combines a detector and a masker.
func NewBatchMasker(d *Detector, m *Masker) *BatchMasker {
	if m == nil {
		m = NewMasker("")
	}
	return &BatchMasker{detector: d, masker: m}
}

// MaskForContract masks records only when the contract declares PII. The
// returned records are always copies.
func (b *BatchMasker) MaskForContract(c *core.Contract, records []map[string]any) *BatchResult {
	if c == nil || !c.ContainsPII {
		return &BatchResult{Records: copyRecords(records), Masked: map[string]int{}}
	}
	return b.MaskRecords(records)
}

// MaskRecords returns copies of records where every occurrence of every
// enabled rule's pattern inside string values is replaced by the rule's
// masking strategy. Nested maps and lists are walked. Input is not modified.
func (b *BatchMasker) MaskRecords(records []map[string]any) *BatchResult {
	res := &BatchResult{Records: make([]map[string]any, len(records)), Masked: map[string]int{}}
	for i, rec := range records {
		res.Records[i] = b.maskMap(rec, res.Masked)
	}
	return res
}

func (b *BatchMasker) maskMap(in map[string]any, counts map[string]int) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = b.maskValue(v, counts)
	}
	return out
}

func (b *BatchMasker) maskValue(v any, counts map[string]int) any {
	switch val := v.(type) {
	case string:
		return b.maskString(val, counts)
	case map[string]any:
		return b.maskMap(val, counts)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = b.maskValue(item, counts)
		}
		return out
	default:
		return v
	}
}

func (b *BatchMasker) maskString(s string, counts map[string]int) string {
	if s == "" {
		return s
	}
	for _, cr := range b.detector.rules {
		rule := cr.rule
		s = cr.re.ReplaceAllStringFunc(s, func(m string) string {
			masked := b.masker.Apply(m, rule.PIIType, rule.MaskingStrategy)
			if masked != m {
				counts[rule.PIIType]++
			}
			return masked
		})
	}
	return s
}

func copyRecords(records []map[string]any) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, r := range records {
		out[i] = copyValue(r).(map[string]any)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
