package main

import (
	"github.com/spf13/cobra"

	"github.com/secflow/catalogd/internal/rebuilder"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Package grouped catalog entries once",
	Long:  "Run one packaging pass for the configured grouping strategy and exit.",
	RunE:  runRebuild,
}

var rebuildStrategy string

func init() {
	rebuildCmd.Flags().StringVar(&rebuildStrategy, "strategy", "", "Grouping strategy (overrides config)")
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := setupEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	strategy := rebuildStrategy
	if strategy == "" {
		strategy = e.cfg.GroupStrategy
	}

	r := rebuilder.New(e.store, e.objects, e.cfg.PackagedBucket)
	return r.Rebuild(ctx, strategy)
}
