package core

// CheckType is the kind of declarative quality check.
type CheckType string

// Check types.
const (
	CheckNotNull  CheckType = "not_null"
	CheckPositive CheckType = "positive"
	CheckUnique   CheckType = "unique"
	CheckCustom   CheckType = "custom"
)

// Valid reports whether t is a known check type.
func (t CheckType) Valid() bool {
	switch t {
	case CheckNotNull, CheckPositive, CheckUnique, CheckCustom:
		return true
	}
	return false
}

// QualityCheckDefinition is an operator-authored rule run against a landed
// table. CustomExpression is only meaningful for CheckCustom and is a
// predicate selecting the violating rows.
type QualityCheckDefinition struct {
	ID               int64     `yaml:"-" json:"id"`
	Name             string    `yaml:"name,omitempty" json:"name,omitempty"`
	TableName        string    `yaml:"table" json:"table_name"`
	ColumnName       string    `yaml:"column,omitempty" json:"column_name,omitempty"`
	CheckType        CheckType `yaml:"check" json:"check_type"`
	CustomExpression string    `yaml:"expression,omitempty" json:"custom_expression,omitempty"`
	Severity         Severity  `yaml:"severity,omitempty" json:"severity"`
	Active           *bool     `yaml:"active,omitempty" json:"active"`
}

// IsActive reports whether the check runs. Checks are active unless
// explicitly disabled.
func (d *QualityCheckDefinition) IsActive() bool {
	return d.Active == nil || *d.Active
}

// Label returns a human readable identifier for logs.
func (d *QualityCheckDefinition) Label() string {
	if d.Name != "" {
		return d.Name
	}
	if d.ColumnName != "" {
		return string(d.CheckType) + ":" + d.TableName + "." + d.ColumnName
	}
	return string(d.CheckType) + ":" + d.TableName
}
