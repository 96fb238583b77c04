package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/aaronlee0321/unified-rag/internal/runtime"
)

func queryCMD(load configLoader) *cobra.Command {
	var q, key string
	var limit int
	var list bool

	var query = &cobra.Command{
		Use:   "query",
		Short: "Look up a component by key or free-text query",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !list && q == "" && key == "" {
				return errors.New("one of --q, --key or --list is required")
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

			switch {
			case list:
				comps, err := app.Catalog.ListComponents(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd, comps)
			case key != "":
				res, err := app.Catalog.Lookup(ctx, key, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			default:
				res, err := app.Catalog.Search(ctx, q, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			}
		},
	}
	query.Flags().StringVar(&q, "q", "", "free-text query")
	query.Flags().StringVar(&key, "key", "", "exact component key")
	query.Flags().BoolVar(&list, "list", false, "list components instead of looking one up")
	query.Flags().IntVar(&limit, "limit", 20, "max references (or components with --list)")
	return query
}
