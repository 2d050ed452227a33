// Package output renders command results as go-pretty tables or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Mode selects how results are written.
type Mode string

// Output modes.
const (
	ModeText Mode = "text"
	ModeJSON Mode = "json"
)

// Renderer writes results to out and diagnostics to errOut.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	mode   Mode
}

// NewRenderer creates a renderer. Unknown modes render text.
func NewRenderer(out, errOut io.Writer, mode Mode) *Renderer {
	if mode != ModeJSON {
		mode = ModeText
	}
	return &Renderer{out: out, errOut: errOut, mode: mode}
}

// Mode returns the output mode.
func (r *Renderer) Mode() Mode {
	return r.mode
}

// Out returns the result writer.
func (r *Renderer) Out() io.Writer {
	return r.out
}

// JSON writes v as indented JSON.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table is a header plus rows of cells.
type Table struct {
	Title  string
	Header []string
	Rows   [][]any
}

// Render writes v as JSON in JSON mode, otherwise the table.
func (r *Renderer) Render(v any, t Table) error {
	if r.mode == ModeJSON {
		return r.JSON(v)
	}
	r.Table(t)
	return nil
}

// Table writes t with the light box style.
func (r *Renderer) Table(t Table) {
	if len(t.Rows) == 0 {
		if t.Title != "" {
			_, _ = fmt.Fprintf(r.out, "%s: (0 rows)\n", t.Title)
			return
		}
		_, _ = fmt.Fprintln(r.out, "(0 rows)")
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(r.out)
	tw.SetStyle(table.StyleLight)
	if t.Title != "" {
		tw.SetTitle(t.Title)
	}

	header := make(table.Row, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	tw.AppendHeader(header)
	for _, row := range t.Rows {
		cells := make(table.Row, len(row))
		for i, c := range row {
			cells[i] = FormatValue(c)
		}
		tw.AppendRow(cells)
	}
	tw.Render()
}

// Success prints a confirmation line in text mode.
func (r *Renderer) Success(format string, args ...any) {
	if r.mode == ModeJSON {
		return
	}
	_, _ = fmt.Fprintf(r.out, format+"\n", args...)
}

// Warning prints to the diagnostic writer in every mode.
func (r *Renderer) Warning(format string, args ...any) {
	_, _ = fmt.Fprintf(r.errOut, "Warning: "+format+"\n", args...)
}

// FormatValue renders one table cell.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		if val.IsZero() {
			return "-"
		}
		return val.UTC().Format(time.RFC3339)
	case *time.Time:
		if val == nil || val.IsZero() {
			return "-"
		}
		return val.UTC().Format(time.RFC3339)
	case time.Duration:
		return val.Truncate(time.Second).String()
	case fmt.Stringer:
		return val.String()
	case map[string]any, []any, []map[string]any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}
