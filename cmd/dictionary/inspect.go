package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/aaronlee0321/unified-rag/internal/runtime"
)

func inspectCMD(load configLoader) *cobra.Command {
	var docID string
	var limit int

	var inspect = &cobra.Command{
		Use:   "inspect",
		Short: "Show a document's references grouped by component",
		RunE: func(cmd *cobra.Command, args []string) error {
			if docID == "" {
				return errors.New("--doc-id is required")
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			app, err := runtime.NewReadOnlyApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			groups, err := app.Catalog.Inspect(ctx, docID, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, groups)
		},
	}
	inspect.Flags().StringVar(&docID, "doc-id", "", "document to inspect")
	inspect.Flags().IntVar(&limit, "limit", 200, "max references")
	return inspect
}
