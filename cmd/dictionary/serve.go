package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/aaronlee0321/unified-rag/internal/runtime"
	srv "github.com/aaronlee0321/unified-rag/internal/server"
)

func serveCMD(load configLoader) *cobra.Command {
	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, cancel := runtime.SignalContext(cmd.Context(), "serve")
			defer cancel()

			app, err := runtime.NewApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := app.Close(closeCtx); err != nil {
					app.Logger.Printf("close: %v", err)
				}
			}()

			var secret []byte
			if cfg.Server.JWTSecret != "" {
				if secret, err = runtime.LoadJWTSecret(cfg); err != nil {
					return err
				}
			}
			e := srv.New(srv.Options{
				Rebuilder:   app.Builder,
				Catalog:     app.Catalog,
				Gatherer:    app.Registry,
				Secret:      secret,
				RequireAuth: cfg.Server.RequireAuth,
				Ping:        app.Store.Ping,
			})
			addr := serveAddr
			if addr == "" {
				addr = cfg.Server.Address
			}
			return srv.Run(ctx, e, addr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")
	return serve
}
