package core

// MaskingStrategy selects how a detected value is obfuscated.
type MaskingStrategy string

// Masking strategies.
const (
	MaskHash     MaskingStrategy = "hash"
	MaskRedact   MaskingStrategy = "redact"
	MaskPartial  MaskingStrategy = "partial"
	MaskTokenize MaskingStrategy = "tokenize"
)

// Valid reports whether s is a known strategy.
func (s MaskingStrategy) Valid() bool {
	switch s {
	case MaskHash, MaskRedact, MaskPartial, MaskTokenize:
		return true
	}
	return false
}

// Well-known PII types with dedicated partial masks.
const (
	PIIEmail      = "email"
	PIIPhone      = "phone"
	PIISSN        = "ssn"
	PIICreditCard = "credit_card"
)

// PIIDetectionRule is a regex classifier for one kind of PII.
type PIIDetectionRule struct {
	Name                string          `yaml:"name" json:"name"`
	PIIType             string          `yaml:"pii_type" json:"pii_type"`
	DetectionPattern    string          `yaml:"pattern" json:"detection_pattern"`
	ConfidenceThreshold float64         `yaml:"confidence" json:"confidence_threshold"`
	MaskingStrategy     MaskingStrategy `yaml:"masking_strategy" json:"masking_strategy"`
	Enabled             *bool           `yaml:"enabled,omitempty" json:"enabled"`
}

// IsEnabled reports whether the rule participates in detection.
func (r *PIIDetectionRule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// PIIMatch is one detection result.
type PIIMatch struct {
	PIIType    string  `json:"pii_type"`
	Confidence float64 `json:"confidence"`
	Rule       string  `json:"rule,omitempty"`
}
