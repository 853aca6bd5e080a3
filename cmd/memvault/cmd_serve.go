package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/memoryvault/memoryvault/internal/api"
	"github.com/memoryvault/memoryvault/internal/health"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and background schedulers",
	Long: `serve starts the HTTP transport (store_memory, get_memory,
update_memory, delete_memory, search_memory, get_statistics, plus
/health and /metrics) and the background cron jobs: the scoring
engine's flush, the tier manager's migration cycle, and the
repository's compaction sweep.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(cfg)
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.start(ctx); err != nil {
		return err
	}

	poller := health.NewPoller(a.metrics, func(ctx context.Context) (health.Snapshot, error) {
		c, err := a.repo.Statistics(ctx)
		if err != nil {
			return health.Snapshot{}, err
		}
		return health.Snapshot{
			ByTier:                c.ByTier,
			ActiveCount:           c.ActiveCount,
			DeletedCount:          c.DeletedCount,
			DedupIndexSize:        c.DedupIndexSize,
			AvgQueryLatencyMS:     c.AvgQueryLatencyMS,
			AvgEmbeddingLatencyMS: c.AvgEmbeddingLatencyMS,
			PendingScoreFlushes:   c.PendingScoreFlushes,
		}, nil
	}, 15*time.Second)
	if err := poller.Start(ctx); err != nil {
		return fmt.Errorf("starting metrics poller: %w", err)
	}
	defer poller.Stop()

	server := api.NewServer(a.repo, a.embed, cfg)

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !quiet {
		fmt.Printf("memvault serving on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	}
	if err := server.StartWithContext(sigCtx, cfg.Shutdown.Deadline); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
