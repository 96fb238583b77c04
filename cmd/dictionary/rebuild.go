package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aaronlee0321/unified-rag/internal/runtime"
)

func rebuildCMD(load configLoader) *cobra.Command {
	var docID string
	var timeout time.Duration

	var rebuild = &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the dictionary from one document's chunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if docID == "" {
				return errors.New("--doc-id is required")
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, cancel := runtime.SignalContext(cmd.Context(), "rebuild")
			defer cancel()
			if timeout > 0 {
				var cancelTimeout context.CancelFunc
				ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
				defer cancelTimeout()
			}

			app, err := runtime.NewApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			res, rerr := app.Builder.Rebuild(ctx, docID)
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if rerr != nil {
				return fmt.Errorf("rebuild failed: %w", rerr)
			}
			return nil
		},
	}
	rebuild.Flags().StringVar(&docID, "doc-id", "", "document to rebuild")
	rebuild.Flags().DurationVar(&timeout, "timeout", 0, "overall deadline (0 = none)")
	return rebuild
}
