package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reviewforge/reviews-cli/internal/aiprovider"
	"github.com/reviewforge/reviews-cli/internal/analysis"
	"github.com/reviewforge/reviews-cli/internal/config"
	"github.com/reviewforge/reviews-cli/internal/ingest"
	"github.com/reviewforge/reviews-cli/internal/scrape"
	"github.com/reviewforge/reviews-cli/internal/usage"
	"github.com/reviewforge/reviews-cli/pkg/apify"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "reviews-cli",
	Short: "Customer review orchestration engine",
	Long:  "Triggers review scraping runs, ingests and dedupes results, drives AI topic/sentiment analysis batches, and accounts token usage. Designed to be invoked by an external scheduler.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func dbPool(ctx context.Context) (*pgxpool.Pool, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("no database_url configured (set store.database_url or REVIEWS_STORE_DATABASE_URL)")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "parse database url")
	}
	if cfg.Store.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Store.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "ping database")
	}

	return pool, nil
}

func apifyClient() apify.Client {
	return apify.NewClient(cfg.Apify.Token,
		apify.WithBaseURL(cfg.Apify.BaseURL),
		apify.WithRateLimit(cfg.Apify.RequestsPerSecond, int(cfg.Apify.RequestsPerSecond)),
		apify.WithRetry(cfg.Apify.MaxRetries, time.Duration(cfg.Apify.RetryBaseDelayMS)*time.Millisecond),
	)
}

func scrapeMachine(pool *pgxpool.Pool) *scrape.Machine {
	pipeline := ingest.NewPipeline(ingest.NewPostgresStore(pool), ingest.Options{
		ExistsChunkSize: cfg.Ingest.ExistsChunkSize,
		InsertChunkSize: cfg.Ingest.InsertChunkSize,
	})
	return scrape.NewMachine(apifyClient(), scrape.NewPostgresStore(pool), pipeline, cfg.Analysis.Workers)
}

func analysisOptions() analysis.Options {
	return analysis.Options{
		ChunkSize:       cfg.Analysis.ChunkSize,
		IDChunkSize:     cfg.Analysis.IDChunkSize,
		Workers:         cfg.Analysis.Workers,
		StaleAfter:      time.Duration(cfg.Analysis.StaleAfterHours) * time.Hour,
		MaxBatchItems:   cfg.Analysis.MaxBatchItems,
		MaxTokens:       cfg.Analysis.MaxTokens,
		SWOTReviewLimit: cfg.Analysis.SWOTReviewLimit,
	}
}

func providerFactory(pool *pgxpool.Pool) *aiprovider.Factory {
	return aiprovider.NewFactory(cfg, aiprovider.NewPostgresConfigStore(pool))
}

func analysisSubmitter(pool *pgxpool.Pool) *analysis.Submitter {
	return analysis.NewSubmitter(providerFactory(pool), analysis.NewPostgresStore(pool),
		usage.NewPostgresStore(pool), analysisOptions())
}

func analysisProcessor(pool *pgxpool.Pool) *analysis.Processor {
	return analysis.NewProcessor(providerFactory(pool), analysis.NewPostgresStore(pool),
		usage.NewPostgresStore(pool), analysisOptions())
}
