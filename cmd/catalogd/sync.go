package main

import (
	"github.com/spf13/cobra"

	"github.com/secflow/catalogd/internal/fetcher"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch the upstream catalog archive once",
	Long:  "Download the upstream catalog archive, store it if its content changed, and exit.",
	RunE:  runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := setupEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	f := fetcher.New(e.store, e.objects, e.cfg.SourceURL, e.cfg.SourceBucket)
	return f.Sync(ctx)
}
