package pii

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/leapstack-labs/leapguard/pkg/core"
)

// DefaultScanLimit is the number of leading bytes of a text that are scanned.
const DefaultScanLimit = 10 * 1024

type compiledRule struct {
	rule *core.PIIDetectionRule
	re   *regexp.Regexp
}

// Detector classifies text with the enabled detection rules.
type Detector struct {
	rules     []compiledRule
	scanLimit int
}

// NewDetector compiles the enabled rules in order. scanLimit <= 0 uses
// DefaultScanLimit.
func NewDetector(rules []*core.PIIDetectionRule, scanLimit int) (*Detector, error) {
	if scanLimit <= 0 {
		scanLimit = DefaultScanLimit
	}
	d := &Detector{scanLimit: scanLimit}
	for _, r := range rules {
		if !r.IsEnabled() {
			continue
		}
		re, err := regexp.Compile(r.DetectionPattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile pii rule %s: %w", r.Name, err)
		}
		d.rules = append(d.rules, compiledRule{rule: r, re: re})
	}
	return d, nil
}

// Detect returns one match per enabled rule whose pattern occurs in the
// scanned prefix of text, in rule order. Empty text yields no matches.
func (d *Detector) Detect(text string) []core.PIIMatch {
	matches := []core.PIIMatch{}
	if text == "" {
		return matches
	}
	scan := d.prefix(text)
	for _, cr := range d.rules {
		if cr.re.MatchString(scan) {
			matches = append(matches, core.PIIMatch{
				PIIType:    cr.rule.PIIType,
				Confidence: cr.rule.ConfidenceThreshold,
				Rule:       cr.rule.Name,
			})
		}
	}
	return matches
}

// Rules returns the number of enabled rules.
func (d *Detector) Rules() int {
	return len(d.rules)
}

// prefix cuts text at the scan limit without splitting a UTF-8 sequence.
func (d *Detector) prefix(text string) string {
	if len(text) <= d.scanLimit {
		return text
	}
	cut := d.scanLimit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
