package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/aaronlee0321/unified-rag/config"
)

func main() {
	var cfgPath string
	var root = &cobra.Command{
		Use:           "dictionary",
		Short:         "Build and query the semantic component dictionary",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config.yaml)")

	load := func() (*config.Config, error) { return config.Load(cfgPath) }
	root.AddCommand(
		serveCMD(load),
		migrateCMD(load),
		rebuildCMD(load),
		queryCMD(load),
		inspectCMD(load),
		tokenCMD(load),
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type configLoader func() (*config.Config, error)

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
