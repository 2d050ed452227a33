// Package loader reads governance definitions from YAML files.
//
// A governance directory holds any number of *.yaml / *.yml files. Each file
// may declare contracts, quality checks, monitors, PII rules and the tables
// rules are allowed to reference. Files are read in lexical order and their
// entries concatenated in declaration order.
package loader

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapguard/pkg/core"
	"gopkg.in/yaml.v3"
)

// Document is the content of one governance file, or of a whole directory
// after merging.
type Document struct {
	Contracts     []core.Contract               `yaml:"contracts"`
	QualityChecks []core.QualityCheckDefinition `yaml:"quality_checks"`
	Monitors      []core.MonitorDefinition      `yaml:"monitors"`
	PIIRules      []core.PIIDetectionRule       `yaml:"pii_rules"`
	AllowedTables []string                      `yaml:"allowed_tables"`
}

// Bundle is a merged directory with provenance.
type Bundle struct {
	Document
	Files []string
	// Hash is a sha256 over file names and contents.
	Hash string
}

// ParseError is returned for a file that is not valid governance YAML.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Parse decodes one governance file. Unknown fields are rejected.
func Parse(path string, data []byte) (*Document, error) {
	doc := &Document{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(doc); err != nil {
		if errors.Is(err, io.EOF) {
			return doc, nil
		}
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) {
			return nil, &ParseError{Path: path, Message: strings.Join(typeErr.Errors, "; ")}
		}
		return nil, &ParseError{Path: path, Message: err.Error()}
	}
	return doc, nil
}

// LoadDir reads every governance file under dir. A missing directory yields
// an empty bundle.
func LoadDir(dir string) (*Bundle, error) {
	files, err := governanceFiles(dir)
	if err != nil {
		return nil, err
	}

	b := &Bundle{Files: files}
	h := sha256.New()
	for _, path := range files {
		data, err := os.ReadFile(path) //nolint:gosec // operator-provided governance files
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		rel, _ := filepath.Rel(dir, path)
		_, _ = h.Write([]byte(filepath.ToSlash(rel)))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(data)
		_, _ = h.Write([]byte{0})

		doc, err := Parse(path, data)
		if err != nil {
			return nil, err
		}
		b.Merge(doc)
	}
	b.Hash = hex.EncodeToString(h.Sum(nil))
	return b, nil
}

// Merge appends the entries of doc.
func (d *Document) Merge(doc *Document) {
	d.Contracts = append(d.Contracts, doc.Contracts...)
	d.QualityChecks = append(d.QualityChecks, doc.QualityChecks...)
	d.Monitors = append(d.Monitors, doc.Monitors...)
	d.PIIRules = append(d.PIIRules, doc.PIIRules...)
	d.AllowedTables = append(d.AllowedTables, doc.AllowedTables...)
}

// IsGovernanceFile reports whether path has a YAML extension.
func IsGovernanceFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func governanceFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if IsGovernanceFile(path) && !strings.HasPrefix(d.Name(), ".") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan governance directory: %w", err)
	}
	sort.Strings(files)
	return files, nil
}
