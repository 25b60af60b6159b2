package apify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ArchiveOptions tunes the bulk archival sweep. The delays exist purely to
// respect provider rate limits; archival is not correctness-critical.
type ArchiveOptions struct {
	RetentionDays int           // delete finished runs older than this (default 14)
	BatchSize     int           // runs deleted per batch (default 10)
	Delay         time.Duration // pause between deletes within a batch
	Pause         time.Duration // longer pause between batches
	PageSize      int           // run-listing page size (default 100)
}

func (o ArchiveOptions) withDefaults() ArchiveOptions {
	if o.RetentionDays <= 0 {
		o.RetentionDays = 14
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	return o
}

// ArchiveStats summarizes one archival sweep. Failures are counted, never
// retried.
type ArchiveStats struct {
	Scanned  int
	Archived int
	Failed   int
}

// ArchiveSweep iterates the paginated run listing and deletes finished runs
// older than the retention threshold, in small batches with an inter-request
// delay and a longer inter-batch pause.
func ArchiveSweep(ctx context.Context, client Client, opts ArchiveOptions) (*ArchiveStats, error) {
	opts = opts.withDefaults()
	log := zap.L().With(zap.String("component", "apify.archive"))
	cutoff := time.Now().Add(-time.Duration(opts.RetentionDays) * 24 * time.Hour)

	stats := &ArchiveStats{}
	var due []string

	offset := 0
	for {
		page, err := client.ListRuns(ctx, offset, opts.PageSize)
		if err != nil {
			return stats, eris.Wrap(err, "apify: archive sweep list runs")
		}

		for _, run := range page.Items {
			stats.Scanned++
			if run.Finished() && run.FinishedAt != nil && run.FinishedAt.Before(cutoff) {
				due = append(due, run.ID)
			}
		}

		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.Total {
			break
		}
	}

	log.Info("archive sweep scanned runs",
		zap.Int("scanned", stats.Scanned),
		zap.Int("due", len(due)),
		zap.Time("cutoff", cutoff),
	)

	for i, runID := range due {
		if i > 0 && i%opts.BatchSize == 0 && opts.Pause > 0 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(opts.Pause):
			}
		}

		if err := client.DeleteRun(ctx, runID); err != nil {
			stats.Failed++
			log.Warn("archive delete failed", zap.String("run_id", runID), zap.Error(err))
		} else {
			stats.Archived++
		}

		if opts.Delay > 0 && i < len(due)-1 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(opts.Delay):
			}
		}
	}

	log.Info("archive sweep complete",
		zap.Int("archived", stats.Archived),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}
