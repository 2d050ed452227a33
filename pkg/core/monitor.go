package core

import "time"

// MonitorRule is the structured query template of a monitor. Each clause is
// an expression fragment checked by the restricted expression guard before
// it reaches the warehouse.
type MonitorRule struct {
	Select  []string `yaml:"select" json:"select"`
	From    string   `yaml:"from" json:"from"`
	Where   string   `yaml:"where,omitempty" json:"where,omitempty"`
	GroupBy []string `yaml:"group_by,omitempty" json:"group_by,omitempty"`
	Having  string   `yaml:"having,omitempty" json:"having,omitempty"`
	OrderBy []string `yaml:"order_by,omitempty" json:"order_by,omitempty"`
	Limit   int      `yaml:"limit,omitempty" json:"limit,omitempty"`
}

// MonitorDefinition is an operator-authored anomaly rule. A run that returns
// rows is a signal.
type MonitorDefinition struct {
	Name          string      `yaml:"name" json:"name"`
	Description   string      `yaml:"description,omitempty" json:"description,omitempty"`
	Rule          MonitorRule `yaml:"rule" json:"rule"`
	Threshold     float64     `yaml:"threshold,omitempty" json:"threshold"`
	WindowMinutes int         `yaml:"window_minutes" json:"window_minutes"`
	Enabled       *bool       `yaml:"enabled,omitempty" json:"enabled"`
	Severity      Severity    `yaml:"severity,omitempty" json:"severity,omitempty"`
}

// IsEnabled reports whether the monitor is scheduled. Monitors are enabled
// unless explicitly disabled.
func (m *MonitorDefinition) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Window returns the run cadence as a duration.
func (m *MonitorDefinition) Window() time.Duration {
	return time.Duration(m.WindowMinutes) * time.Minute
}

// MonitorState is the position of a monitor in its run cycle.
type MonitorState string

// Monitor states. Idle -> Running -> (EventEmitted | NoSignal) -> Idle.
const (
	MonitorIdle         MonitorState = "idle"
	MonitorRunning      MonitorState = "running"
	MonitorEventEmitted MonitorState = "event_emitted"
	MonitorNoSignal     MonitorState = "no_signal"
	MonitorErrored      MonitorState = "errored"
)

// MonitorRunState is the persisted bookkeeping of a monitor.
type MonitorRunState struct {
	Name        string       `json:"name"`
	LastRunAt   time.Time    `json:"last_run_at"`
	LastOutcome MonitorState `json:"last_outcome"`
	LastError   string       `json:"last_error,omitempty"`
	RunCount    int64        `json:"run_count"`
}

// MonitorEventKind separates anomaly signals from runner diagnostics.
type MonitorEventKind string

// Monitor event kinds.
const (
	EventSignal       MonitorEventKind = "signal"
	EventMonitorError MonitorEventKind = "monitor_error"
)

// MonitorEvent is emitted once per monitor run that returned signal rows,
// or once per failed run as a diagnostic.
type MonitorEvent struct {
	ID           int64            `json:"id"`
	MonitorName  string           `json:"monitor_name"`
	Kind         MonitorEventKind `json:"kind"`
	OccurredAt   time.Time        `json:"occurred_at"`
	Payload      []map[string]any `json:"payload"`
	Severity     Severity         `json:"severity"`
	Acknowledged bool             `json:"acknowledged"`
}

// EventFilter narrows ListMonitorEvents. Zero values match everything.
type EventFilter struct {
	MonitorName    string
	Kind           MonitorEventKind
	Unacknowledged bool
	Limit          int
}
