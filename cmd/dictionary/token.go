package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aaronlee0321/unified-rag/internal/runtime"
)

func tokenCMD(load configLoader) *cobra.Command {
	var subject string
	var ttl time.Duration
	var scopes []string

	var token = &cobra.Command{
		Use:   "token",
		Short: "Mint a signed API token for the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			secret, err := runtime.LoadJWTSecret(cfg)
			if err != nil {
				return err
			}
			tok, err := runtime.SignJWT(subject, secret, ttl, scopes...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "sub", "ops", "token subject")
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	token.Flags().StringSliceVar(&scopes, "scope", []string{runtime.ScopeRebuild, runtime.ScopeRead}, "granted scopes")
	return token
}
