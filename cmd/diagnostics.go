package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/record-review/internal/store"
)

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "List persisted diagnostic events",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("diagnostics"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		document, _ := cmd.Flags().GetString("document")
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		asJSON, _ := cmd.Flags().GetBool("json")

		diags, err := st.ListDiagnostics(ctx, store.DiagnosticFilter{
			DocumentID: document,
			Kind:       kind,
			Limit:      limit,
			Offset:     offset,
		})
		if err != nil {
			return eris.Wrap(err, "diagnostics list")
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(diags)
		}
		if len(diags) == 0 {
			fmt.Fprintln(os.Stderr, "No diagnostics found.")
			return nil
		}
		formatDiagnostics(cmd.OutOrStdout(), diags)
		return nil
	},
}

func init() {
	diagnosticsCmd.Flags().String("document", "", "filter by document id")
	diagnosticsCmd.Flags().String("kind", "", "filter by kind (confidence_policy, visit_grouping, contract)")
	diagnosticsCmd.Flags().Int("limit", 50, "max number of events to display")
	diagnosticsCmd.Flags().Int("offset", 0, "number of events to skip")
	diagnosticsCmd.Flags().Bool("json", false, "print events as JSON")
	rootCmd.AddCommand(diagnosticsCmd)
}

// formatDiagnostics writes a tabular list of diagnostic events to w.
func formatDiagnostics(out io.Writer, diags []store.Diagnostic) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CREATED\tDOCUMENT\tKIND\tSEVERITY\tREASON\tMESSAGE")
	_, _ = fmt.Fprintln(w, "-------\t--------\t----\t--------\t------\t-------")

	for _, d := range diags {
		doc := d.DocumentID
		if len(doc) > 24 {
			doc = doc[:21] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.CreatedAt.Format("2006-01-02 15:04"),
			doc,
			d.Kind,
			d.Severity,
			d.Reason,
			d.Message,
		)
	}
	_ = w.Flush()
}
