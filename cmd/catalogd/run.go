package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/secflow/catalogd/internal/fetcher"
	"github.com/secflow/catalogd/internal/parser"
	"github.com/secflow/catalogd/internal/rebuilder"
	"github.com/secflow/catalogd/internal/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline daemon with all three stage schedulers",
	Long:  "Run the fetch, parse, and rebuild stages on their configured intervals until interrupted.",
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := setupEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	f := fetcher.New(e.store, e.objects, e.cfg.SourceURL, e.cfg.SourceBucket)
	p := parser.New(e.store, e.objects, e.cfg.SourceBucket)
	r := rebuilder.New(e.store, e.objects, e.cfg.PackagedBucket)

	jobs := []*scheduler.Job{
		{Name: "fetch", Interval: e.cfg.FetchInterval, Run: f.Sync},
		{Name: "parse", Interval: e.cfg.ParseInterval, Run: p.ProcessPending},
		{Name: "rebuild", Interval: e.cfg.RebuildInterval, Run: func(ctx context.Context) error {
			return r.Rebuild(ctx, e.cfg.GroupStrategy)
		}},
	}

	log.Printf("catalogd starting, strategy %s", rebuilder.Normalize(e.cfg.GroupStrategy))

	g, ctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			job.Start(ctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Printf("catalogd stopped")
	return nil
}
