// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// ProjectConfig is the leapguard.yaml written by SetupTestProject. The
// warehouse is an in-memory DuckDB so commands that connect never touch
// disk; the state database lives in the project directory.
const ProjectConfig = `state_path: .leapguard/state.db
governance_dir: governance
target:
  type: duckdb
  database: ""
pii:
  token_key: test-key
`

// Governance is the governance file written by SetupTestProject.
const Governance = `allowed_tables: [orders]
contracts:
  - source_name: orders
    version: 1
    required_columns: [id, amount]
    sla_minutes: 60
    rules:
      - name: positive_amount
        expr: record.amount > 0
  - source_name: crm.contacts
    version: 1
    required_columns: [id, email]
    contains_pii: true
monitors:
  - name: big_orders
    window_minutes: 5
    threshold: 100
    rule:
      select: [id, amount]
      from: orders
      where: amount > @threshold
pii_rules:
  - name: email
    pii_type: email
    pattern: '[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}'
    confidence: 0.9
    masking_strategy: partial
`

// SetupTestProject creates a temporary project with a config file and one
// governance file, and returns its directory.
func SetupTestProject(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	govDir := filepath.Join(tmpDir, "governance")
	if err := os.MkdirAll(govDir, 0o750); err != nil {
		t.Fatalf("failed to create directory %s: %v", govDir, err)
	}

	WriteFile(t, filepath.Join(tmpDir, "leapguard.yaml"), ProjectConfig)
	WriteFile(t, filepath.Join(govDir, "governance.yaml"), Governance)

	return tmpDir
}

// WriteFile writes content to path or fails the test.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// DecodeJSON unmarshals command output into v or fails the test.
func DecodeJSON(t *testing.T, s string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(s), v); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, s)
	}
}
