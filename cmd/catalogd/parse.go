package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/secflow/catalogd/internal/parser"
)

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Ingest pending source archives once",
	Long:  "Process every stored source archive that has not been ingested yet, or a single archive by id, and exit.",
	RunE:  runParse,
}

var parseSourceID string

func init() {
	parseCmd.Flags().StringVar(&parseSourceID, "source-id", "", "Ingest only this source archive id")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := setupEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	p := parser.New(e.store, e.objects, e.cfg.SourceBucket)
	if parseSourceID == "" {
		return p.ProcessPending(ctx)
	}

	id, err := uuid.Parse(parseSourceID)
	if err != nil {
		return fmt.Errorf("invalid source-id: %w", err)
	}
	return p.ProcessOne(ctx, id)
}
