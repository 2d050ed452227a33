// Package pii detects and masks personally identifiable information.
//
// Masking is display obfuscation, not secure erasure. Every mask function
// is pure and stable under re-application: masking an already masked value
// returns it unchanged.
package pii

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/leapstack-labs/leapguard/pkg/core"
)

// Fixed mask literals.
const (
	Redacted  = "***REDACTED***"
	SSNMask   = "XXX-XX-XXXX"
	maskStars = "****"
)

const (
	hashPrefix  = "sha256:"
	hashLen     = 16
	tokenPrefix = "tok_"
	tokenLen    = 12
)

// Mask obfuscates text according to its PII type. Empty text stays empty.
func Mask(text, piiType string) string {
	if text == "" {
		return ""
	}
	switch piiType {
	case core.PIIEmail:
		return maskEmail(text)
	case core.PIIPhone:
		return "XXX-XXX-" + lastDigits(text, 4)
	case core.PIISSN:
		return SSNMask
	case core.PIICreditCard:
		return "XXXX-XXXX-XXXX-" + lastDigits(text, 4)
	default:
		return Redacted
	}
}

func maskEmail(text string) string {
	local, domain, ok := strings.Cut(text, "@")
	if !ok {
		return Redacted
	}
	if isMaskedLocal(local) {
		return local + "@" + domain
	}
	_, size := utf8.DecodeRuneInString(local)
	return local[:size] + maskStars + "@" + domain
}

// isMaskedLocal reports whether local is "****" or one character followed
// by "****".
func isMaskedLocal(local string) bool {
	if local == maskStars {
		return true
	}
	head, found := strings.CutSuffix(local, maskStars)
	return found && utf8.RuneCountInString(head) == 1
}

// lastDigits returns the last n ASCII digits of s, fewer if s has fewer.
func lastDigits(s string, n int) string {
	digits := make([]byte, 0, n)
	for i := len(s) - 1; i >= 0 && len(digits) < n; i-- {
		if s[i] >= '0' && s[i] <= '9' {
			digits = append(digits, s[i])
		}
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}

// Masker applies masking strategies. The token key keys the HMAC behind
// the tokenize strategy.
type Masker struct {
	tokenKey []byte
}

// NewMasker creates a masker. An empty key still tokenizes deterministically.
func NewMasker(tokenKey string) *Masker {
	return &Masker{tokenKey: []byte(tokenKey)}
}

// Apply masks text with strategy. Unknown strategies redact.
func (m *Masker) Apply(text, piiType string, strategy core.MaskingStrategy) string {
	if text == "" {
		return ""
	}
	switch strategy {
	case core.MaskPartial:
		return Mask(text, piiType)
	case core.MaskHash:
		if isDigest(text, hashPrefix, hashLen) {
			return text
		}
		sum := sha256.Sum256([]byte(text))
		return hashPrefix + hex.EncodeToString(sum[:])[:hashLen]
	case core.MaskTokenize:
		if isDigest(text, tokenPrefix, tokenLen) {
			return text
		}
		mac := hmac.New(sha256.New, m.tokenKey)
		_, _ = mac.Write([]byte(piiType))
		_, _ = mac.Write([]byte{0})
		_, _ = mac.Write([]byte(text))
		return tokenPrefix + hex.EncodeToString(mac.Sum(nil))[:tokenLen]
	default:
		return Redacted
	}
}

// MaskWithStrategy is Apply on a masker without a token key.
func MaskWithStrategy(text, piiType string, strategy core.MaskingStrategy) string {
	return (&Masker{}).Apply(text, piiType, strategy)
}

func isDigest(s, prefix string, n int) bool {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok || len(rest) != n {
		return false
	}
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
