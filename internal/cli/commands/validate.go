package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapguard/internal/cli/output"
)

// ValidateOptions holds options for the validate command.
type ValidateOptions struct {
	File      string
	Partition string
	Strict    bool
	Mask      bool
}

// errBatchInvalid is returned by validate --strict for a failing batch.
var errBatchInvalid = errors.New("batch failed validation")

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	opts := &ValidateOptions{}
	cmd := &cobra.Command{
		Use:   "validate <source>",
		Short: "Validate a batch of records against the active contract",
		Long: `Validate a batch against the active contract of a source.

Records are read as a JSON array or as newline-delimited JSON objects.
A failing batch is recorded as one violation; the same batch for the same
partition is only recorded once.`,
		Example: `  # Validate a landed batch
  leapguard validate orders --file batch.json --partition 2024-06-01

  # Read NDJSON from stdin and fail the pipeline on violations
  cat batch.ndjson | leapguard validate orders --file - --strict`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "-", "Batch file (JSON array or NDJSON); - for stdin")
	cmd.Flags().StringVarP(&opts.Partition, "partition", "p", "", "Partition key of the batch")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "Exit non-zero when the batch is invalid")
	cmd.Flags().BoolVar(&opts.Mask, "mask", false, "Print the PII-masked batch when the contract declares PII")

	return cmd
}

func runValidate(cmd *cobra.Command, source string, opts *ValidateOptions) error {
	cctx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	records, err := readRecords(cmd.InOrStdin(), opts.File)
	if err != nil {
		return err
	}

	res, err := cctx.Engine.Validator().ValidateBatch(cmd.Context(), source, records, opts.Partition)
	if err != nil {
		return err
	}

	r := cctx.Renderer
	if opts.Mask {
		masked, err := cctx.Engine.MaskBatch(source, records)
		if err != nil {
			return err
		}
		if err := r.JSON(map[string]any{"result": res, "records": masked.Records, "masked": masked.Masked}); err != nil {
			return err
		}
	} else {
		rows := make([][]any, 0, len(res.Violations))
		for _, v := range res.Violations {
			idx := "-"
			if v.RecordIndex != nil {
				idx = fmt.Sprint(*v.RecordIndex)
			}
			rows = append(rows, []any{v.Kind, idx, v.Error})
		}
		status := "valid"
		if !res.IsValid {
			status = fmt.Sprintf("invalid (%s, %s)", res.Severity, res.ViolationType)
		}
		r.Success("%s: %s, %d valid, %d invalid", source, status, res.ValidCount, res.InvalidCount)
		if res.Duplicate {
			r.Success("batch already recorded as violation %d", res.RecordID)
		}
		if err := r.Render(res, output.Table{Header: []string{"kind", "record", "error"}, Rows: rows}); err != nil {
			return err
		}
	}

	if opts.Strict && !res.IsValid {
		return errBatchInvalid
	}
	return nil
}
