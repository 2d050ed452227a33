package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapguard/internal/cli/output"
	"github.com/leapstack-labs/leapguard/internal/pii"
	"github.com/leapstack-labs/leapguard/internal/registry"
	"github.com/leapstack-labs/leapguard/pkg/core"
)

// NewPIICommand creates the pii command group.
func NewPIICommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pii",
		Short: "Detect and mask personally identifiable information",
	}
	cmd.AddCommand(newPIIDetectCommand(), newPIIMaskCommand())
	return cmd
}

// inputText returns the positional text or the content of file ("-" for stdin).
func inputText(cmd *cobra.Command, args []string, file string) (string, error) {
	switch {
	case len(args) > 0 && file != "":
		return "", fmt.Errorf("pass either text or --file, not both")
	case len(args) > 0:
		return args[0], nil
	case file == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(b), nil
	case file != "":
		b, err := os.ReadFile(file) //nolint:gosec // operator-provided input file
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", file, err)
		}
		return string(b), nil
	}
	return "", fmt.Errorf("text or --file is required")
}

func newPIIDetectCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "detect [text]",
		Short: "Classify text with the governance PII rules",
		Long: `Classify text with the enabled PII rules of the governance directory.

Only the first pii.scan_limit bytes are scanned. Each rule reports at most
one match.`,
		Example: `  leapguard pii detect "contact me at jane@example.com"
  leapguard pii detect --file notes.txt`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx, err := NewCommandContextWithoutEngine(cmd)
			if err != nil {
				return err
			}
			text, err := inputText(cmd, args, file)
			if err != nil {
				return err
			}

			reg, err := registry.Open(cctx.Cfg.GovernanceDir, nil, cctx.Logger)
			if err != nil {
				return fmt.Errorf("failed to load governance: %w", err)
			}
			det, err := pii.NewDetector(reg.Current().PIIRules(), cctx.Cfg.PII.ScanLimit)
			if err != nil {
				return err
			}

			matches := det.Detect(text)
			if matches == nil {
				matches = []core.PIIMatch{}
			}
			t := output.Table{Title: "PII matches", Header: []string{"type", "confidence", "rule"}}
			for _, m := range matches {
				t.Rows = append(t.Rows, []any{m.PIIType, fmt.Sprintf("%.2f", m.Confidence), m.Rule})
			}
			return cctx.Renderer.Render(matches, t)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read text from file (- for stdin)")

	return cmd
}

func newPIIMaskCommand() *cobra.Command {
	var (
		file     string
		piiType  string
		strategy string
	)
	cmd := &cobra.Command{
		Use:   "mask [text]",
		Short: "Mask a value with a masking strategy",
		Long: `Mask a value with one of the strategies hash, redact, partial or tokenize.

Partial masks keep a recognizable shape for email, phone, ssn and
credit_card values. Tokenize uses pii.token_key.`,
		Example: `  leapguard pii mask jane@example.com --type email
  leapguard pii mask 555-12-3456 --type ssn --strategy hash`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx, err := NewCommandContextWithoutEngine(cmd)
			if err != nil {
				return err
			}
			text, err := inputText(cmd, args, file)
			if err != nil {
				return err
			}
			s := core.MaskingStrategy(strategy)
			if !s.Valid() {
				return fmt.Errorf("unknown masking strategy %q", strategy)
			}

			masked := pii.NewMasker(cctx.Cfg.PII.TokenKey).Apply(strings.TrimRight(text, "\n"), piiType, s)
			if cctx.Renderer.Mode() == output.ModeJSON {
				return cctx.Renderer.JSON(map[string]string{"masked": masked})
			}
			_, err = fmt.Fprintln(cctx.Renderer.Out(), masked)
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the value from file (- for stdin)")
	cmd.Flags().StringVar(&piiType, "type", "", "PII type of the value (email, phone, ssn, credit_card)")
	cmd.Flags().StringVar(&strategy, "strategy", string(core.MaskPartial), "Masking strategy")
	_ = cmd.RegisterFlagCompletionFunc("strategy", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{string(core.MaskHash), string(core.MaskRedact), string(core.MaskPartial), string(core.MaskTokenize)}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}
