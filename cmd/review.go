package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/record-review/internal/model"
	"github.com/sells-group/record-review/internal/review"
)

var (
	reviewFile       string
	reviewDocumentID string
	reviewChanges    string
	reviewPolicy     string
	reviewFormat     string
	reviewStrict     bool
	reviewFilters    filterFlags
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Compute the review view model for an interpretation payload",
	Long:  "Reads an interpretation payload from a file (or stdin with --file -), optionally applies reviewer changes locally, and prints the view model.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		filters, err := reviewFilters.filters()
		if err != nil {
			return err
		}

		var engineOpts []review.Option
		if reviewPolicy != "" {
			raw, err := os.ReadFile(reviewPolicy)
			if err != nil {
				return eris.Wrapf(err, "read policy %s", reviewPolicy)
			}
			engineOpts = append(engineOpts, review.WithPolicy(raw))
		}

		env, err := initEnv(ctx, "review", envOptions{engineOpts: engineOpts})
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		data, err := readInput(cmd.InOrStdin(), reviewFile)
		if err != nil {
			return err
		}
		p, err := model.ParsePayload(data)
		if err != nil {
			return err
		}
		if reviewDocumentID != "" {
			p.DocumentID = reviewDocumentID
		}

		if reviewChanges != "" {
			raw, err := readInput(cmd.InOrStdin(), reviewChanges)
			if err != nil {
				return err
			}
			changes, err := decodeChanges(raw)
			if err != nil {
				return err
			}
			if p, err = model.ApplyChanges(*p, changes); err != nil {
				return eris.Wrap(err, "apply changes")
			}
		}

		vm, err := env.Engine.ComputeView(ctx, *p, filters)
		if err != nil {
			return eris.Wrap(err, "compute view")
		}

		if cerr := review.ContractErr(vm); cerr != nil {
			zap.L().Warn("review: canonical contract broken",
				zap.String("document_id", vm.DocumentID),
				zap.String("code", vm.ContractError.Code),
			)
			if reviewStrict {
				return cerr
			}
		}

		return writeView(cmd.OutOrStdout(), vm, reviewFormat)
	},
}

func init() {
	reviewCmd.Flags().StringVar(&reviewFile, "file", "", "interpretation payload JSON file (- for stdin)")
	reviewCmd.Flags().StringVar(&reviewDocumentID, "document", "", "document id, overrides the payload's document_id")
	reviewCmd.Flags().StringVar(&reviewChanges, "changes", "", "JSON file of reviewer changes to apply before review")
	reviewCmd.Flags().StringVar(&reviewPolicy, "policy", "", "confidence policy JSON file, overrides the payload policy")
	reviewCmd.Flags().StringVar(&reviewFormat, "format", "json", "output format (json, table)")
	reviewCmd.Flags().BoolVar(&reviewStrict, "strict", false, "fail when the canonical contract is malformed")
	reviewFilters.register(reviewCmd)
	_ = reviewCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(reviewCmd)
}

func writeView(out io.Writer, vm *model.ViewModel, format string) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(vm)
	case "table":
		formatView(out, vm)
		return nil
	default:
		return eris.Errorf("unknown output format %q", format)
	}
}

// formatView writes a compact, human-readable rendering of the view model.
func formatView(out io.Writer, vm *model.ViewModel) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Document:\t%s\n", vm.DocumentID)
	_, _ = fmt.Fprintf(w, "Detected:\t%d of %d (%s)\n", vm.Summary.Detected, vm.Summary.Total, vm.Summary.Mode)
	_, _ = fmt.Fprintf(w, "Confidence:\tlow %d, medium %d, high %d, unknown %d\n",
		vm.Summary.Low, vm.Summary.Medium, vm.Summary.High, vm.Summary.Unknown)
	if vm.PolicyDegradedReason != "" {
		_, _ = fmt.Fprintf(w, "Policy:\tdegraded (%s)\n", vm.PolicyDegradedReason)
	}
	if vm.ContractError != nil {
		_, _ = fmt.Fprintf(w, "Contract:\t%s\n", vm.ContractError.Message)
	}

	for _, s := range vm.Sections {
		_, _ = fmt.Fprintf(w, "\n[%s]\n", s.Label)
		formatFields(w, s.Fields)
	}
	for _, ep := range vm.Episodes {
		_, _ = fmt.Fprintf(w, "\n[Visit %d %s]\n", ep.Number, ep.VisitDate)
		formatFields(w, ep.Fields)
	}
	if vm.Unassigned != nil {
		_, _ = fmt.Fprintln(w, "\n[Unassigned]")
		formatFields(w, vm.Unassigned.Fields)
	}
	_ = w.Flush()
}

func formatFields(w io.Writer, fields []model.DisplayField) {
	for _, f := range fields {
		label := f.Label
		if f.IsCritical {
			label += " *"
		}
		values := make([]string, 0, len(f.Items))
		bands := make([]string, 0, len(f.Items))
		for _, it := range f.Items {
			if it.IsMissing {
				values = append(values, "-")
			} else {
				values = append(values, it.DisplayValue)
			}
			if it.ConfidenceBand != nil {
				bands = append(bands, string(*it.ConfidenceBand))
			}
		}
		if len(values) == 0 {
			values = append(values, "-")
		}
		_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\n", label, strings.Join(values, "; "), strings.Join(bands, ","))
	}
}
