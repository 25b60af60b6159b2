package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reviewforge/reviews-cli/pkg/apify"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Delete old finished provider runs",
	Long: `Sweeps the provider's run listing and deletes finished runs older than
the retention window to keep storage billing down. Running and recent runs
are never touched.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		stats, err := apify.ArchiveSweep(ctx, apifyClient(), apify.ArchiveOptions{
			RetentionDays: cfg.Apify.RetentionDays,
			BatchSize:     cfg.Apify.ArchiveBatchSize,
			Delay:         time.Duration(cfg.Apify.ArchiveDelayMS) * time.Millisecond,
			Pause:         time.Duration(cfg.Apify.ArchivePauseMS) * time.Millisecond,
			PageSize:      cfg.Apify.ArchivePageSize,
		})
		if err != nil {
			return err
		}
		zap.L().Info("archive sweep finished",
			zap.Int("scanned", stats.Scanned),
			zap.Int("archived", stats.Archived),
			zap.Int("failed", stats.Failed),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(archiveCmd)
}
