package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reviewforge/reviews-cli/internal/scrape"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Manage review scraping jobs",
}

var scrapeTriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Trigger a scraping run for one job or one location",
	Long: `Starts a provider run for a single job (--job) or for every job of a
location (--location). A job that is already elaborating or checking is
rejected as a conflict.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := dbPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		store := scrape.NewPostgresStore(pool)
		machine := scrapeMachine(pool)

		jobID, _ := cmd.Flags().GetString("job")
		locationID, _ := cmd.Flags().GetString("location")

		if jobID != "" {
			jobCfg, err := store.GetConfig(ctx, jobID)
			if err != nil {
				return err
			}
			return machine.Trigger(ctx, jobCfg)
		}
		if locationID != "" {
			configs, err := store.ConfigsForLocation(ctx, locationID)
			if err != nil {
				return err
			}
			for i := range configs {
				if err := machine.Trigger(ctx, &configs[i]); err != nil {
					zap.L().Error("trigger failed",
						zap.String("job_id", configs[i].ID), zap.Error(err))
				}
			}
			return nil
		}
		return eris.New("either --job or --location is required")
	},
}

var scrapePollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll busy scraping jobs and ingest finished results",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := dbPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		store := scrape.NewPostgresStore(pool)
		machine := scrapeMachine(pool)

		configs, err := store.BusyConfigs(ctx)
		if err != nil {
			return err
		}
		locationID, _ := cmd.Flags().GetString("location")
		for i := range configs {
			if locationID != "" && configs[i].LocationID != locationID {
				continue
			}
			if err := machine.Poll(ctx, &configs[i]); err != nil {
				zap.L().Error("poll failed",
					zap.String("job_id", configs[i].ID), zap.Error(err))
			}
		}
		return nil
	},
}

var scrapeSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Trigger every due recurring scraping job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := dbPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		triggered, failed, err := scrapeMachine(pool).TriggerDue(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("sweep finished",
			zap.Int("triggered", triggered), zap.Int("failed", failed))
		return nil
	},
}

func init() {
	scrapeTriggerCmd.Flags().String("job", "", "scraping job config id")
	scrapeTriggerCmd.Flags().String("location", "", "trigger all jobs of this location")
	scrapePollCmd.Flags().String("location", "", "only poll jobs of this location")

	scrapeCmd.AddCommand(scrapeTriggerCmd, scrapePollCmd, scrapeSweepCmd)
	rootCmd.AddCommand(scrapeCmd)
}
