package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Manage AI review analysis batches",
}

var analyzeSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit pending reviews for analysis",
	Long: `Collects pending reviews plus analyzing reviews stuck past the staleness
threshold, settles no-content reviews immediately, and submits the rest to
the active AI provider grouped by sector. Providers without batch support
are driven synchronously instead.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := dbPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		stats, err := analysisSubmitter(pool).Submit(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("submission finished",
			zap.Int("no_content", stats.NoContent),
			zap.Int("submitted", stats.Submitted),
			zap.Int("direct_completed", stats.Direct.Completed),
			zap.Strings("batch_ids", stats.BatchIDs),
		)
		return nil
	},
}

var analyzeProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Advance analysis batches by reconciling provider results",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := dbPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		processor := analysisProcessor(pool)
		batchID, _ := cmd.Flags().GetString("batch")
		if batchID != "" {
			done, err := processor.Process(ctx, batchID)
			if err != nil {
				return err
			}
			zap.L().Info("batch advanced", zap.String("batch_id", batchID), zap.Bool("done", done))
			return nil
		}
		return processor.ProcessAll(ctx)
	},
}

var analyzeSWOTCmd = &cobra.Command{
	Use:   "swot",
	Short: "Submit per-location SWOT analysis",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := dbPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		stats, err := analysisSubmitter(pool).SubmitSWOT(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("swot submission finished",
			zap.Int("submitted", stats.Submitted),
			zap.Int("direct_completed", stats.Direct.Completed),
			zap.Strings("batch_ids", stats.BatchIDs),
		)
		return nil
	},
}

var analyzeStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Cancel an analysis batch",
	Long: `Cancels the batch at the provider when supported and marks the local
batch row cancelled regardless of provider acknowledgment.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		batchID, _ := cmd.Flags().GetString("batch")
		if batchID == "" {
			return eris.New("--batch is required")
		}

		pool, err := dbPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		return analysisProcessor(pool).Stop(ctx, batchID)
	},
}

func init() {
	analyzeProcessCmd.Flags().String("batch", "", "advance only this batch id")
	analyzeStopCmd.Flags().String("batch", "", "batch id to cancel")

	analyzeCmd.AddCommand(analyzeSubmitCmd, analyzeProcessCmd, analyzeSWOTCmd, analyzeStopCmd)
	rootCmd.AddCommand(analyzeCmd)
}
