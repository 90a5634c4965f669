package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/secflow/catalogd/internal/observability"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent pipeline activity",
	Long:  "Print the latest source archive, recent stage runs, and the packaged archives on record.",
	RunE:  runStatus,
}

var statusRunLimit int

func init() {
	statusCmd.Flags().IntVar(&statusRunLimit, "runs", 20, "Number of recent runs to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := setupEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	latest, err := e.store.LatestSourceArchive(ctx)
	if err != nil {
		return err
	}
	runs, err := e.store.RecentRuns(ctx, statusRunLimit)
	if err != nil {
		return err
	}
	archives, err := e.store.ListPackagedArchives(ctx)
	if err != nil {
		return err
	}

	p := observability.NewPrinter(os.Stdout)
	p.PrintLatestSource(latest)
	p.PrintRuns(runs)
	p.PrintPackagedArchives(archives)
	return nil
}
