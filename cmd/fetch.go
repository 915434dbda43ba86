package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/record-review/internal/model"
	"github.com/sells-group/record-review/pkg/interpretation"
)

var (
	fetchDocumentID string
	fetchChanges    string
	fetchView       bool
	fetchFormat     string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch a document's interpretation from the extraction service",
	Long:  "Fetches the latest interpretation payload for a document, or submits reviewer changes and receives the refreshed payload, and stores it as a snapshot.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "fetch", envOptions{requireStore: true, requireClient: true})
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		var it *interpretation.Interpretation
		if fetchChanges != "" {
			raw, err := readInput(cmd.InOrStdin(), fetchChanges)
			if err != nil {
				return err
			}
			changes, err := decodeChanges(raw)
			if err != nil {
				return err
			}
			it, err = env.Client.ApplyChanges(ctx, fetchDocumentID, changes)
			if err != nil {
				return err
			}
		} else {
			it, err = env.Client.FetchInterpretation(ctx, fetchDocumentID)
			if err != nil {
				return err
			}
		}

		snap, err := env.Store.SaveSnapshot(ctx, fetchDocumentID, it.Raw)
		if err != nil {
			return eris.Wrap(err, "save snapshot")
		}
		zap.L().Info("fetch: snapshot saved",
			zap.String("document_id", fetchDocumentID),
			zap.String("snapshot_id", snap.ID),
			zap.Int("fields", len(it.Payload.Fields)),
			zap.Int("visits", len(it.Payload.Visits)),
		)

		if !fetchView {
			return nil
		}
		if it.Payload.DocumentID == "" {
			it.Payload.DocumentID = fetchDocumentID
		}
		vm, err := env.Engine.ComputeView(ctx, *it.Payload, model.Filters{})
		if err != nil {
			return eris.Wrap(err, "compute view")
		}
		return writeView(cmd.OutOrStdout(), vm, fetchFormat)
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchDocumentID, "document", "", "document id")
	fetchCmd.Flags().StringVar(&fetchChanges, "changes", "", "JSON file of reviewer changes to submit")
	fetchCmd.Flags().BoolVar(&fetchView, "view", false, "print the view model after fetching")
	fetchCmd.Flags().StringVar(&fetchFormat, "format", "json", "output format for --view (json, table)")
	_ = fetchCmd.MarkFlagRequired("document")
	rootCmd.AddCommand(fetchCmd)
}
