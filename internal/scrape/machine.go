// Package scrape drives the scraping job state machine: trigger a run on the
// external provider, poll it, and hand finished results to ingestion.
package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/reviewforge/reviews-cli/internal/ingest"
	"github.com/reviewforge/reviews-cli/internal/model"
	"github.com/reviewforge/reviews-cli/internal/normalize"
	"github.com/reviewforge/reviews-cli/pkg/apify"
)

// ErrJobRunning is returned by Trigger when the job already has a run in
// flight. At most one non-terminal run per (location, platform) pair.
var ErrJobRunning = errors.New("scrape: job already running")

// Store is the persistence surface of the state machine.
type Store interface {
	// GetConfig loads one job config by id.
	GetConfig(ctx context.Context, id string) (*model.ScrapingJobConfig, error)
	// DueConfigs returns recurring-enabled configs whose initial scrape
	// finished, whose frequency interval has elapsed, and that are not
	// currently busy.
	DueConfigs(ctx context.Context, now time.Time) ([]model.ScrapingJobConfig, error)
	// MarkTriggered records the external run id and moves the job to elaborating.
	MarkTriggered(ctx context.Context, id, externalJobID string) error
	// MarkChecking moves the job to checking while results are awaited.
	MarkChecking(ctx context.Context, id string) error
	// MarkCompleted finishes the job. initialDone is sticky once true.
	MarkCompleted(ctx context.Context, id string, initialDone bool) error
	// MarkFailed records the failure reason and bumps the retry counter.
	MarkFailed(ctx context.Context, id, reason string) error
	// ClearReportSent resets the location's report flag so the next report
	// picks up the fresh reviews.
	ClearReportSent(ctx context.Context, locationID string) error
}

// Ingestor hands scraped payloads to the ingestion pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, cfg *model.ScrapingJobConfig, raws []normalize.RawPayload) (ingest.Result, error)
}

// providerParams is the per-job blob stored in provider_config: which actor
// to run and its base input, before depth fields are merged in.
type providerParams struct {
	ActorID string         `json:"actor_id"`
	Input   map[string]any `json:"input"`
}

// Machine coordinates provider runs with the job config rows.
type Machine struct {
	client  apify.Client
	store   Store
	ingest  Ingestor
	workers int
}

// NewMachine creates a scraping state machine. workers bounds TriggerDue
// concurrency.
func NewMachine(client apify.Client, store Store, ingestor Ingestor, workers int) *Machine {
	if workers <= 0 {
		workers = 4
	}
	return &Machine{client: client, store: store, ingest: ingestor, workers: workers}
}

// Trigger starts a provider run for the job. A busy job is rejected with
// ErrJobRunning before any provider call. A provider rejection marks the job
// failed and surfaces the error.
func (m *Machine) Trigger(ctx context.Context, cfg *model.ScrapingJobConfig) error {
	log := zap.L().With(
		zap.String("component", "scrape"),
		zap.String("job_id", cfg.ID),
		zap.String("platform", string(cfg.Platform)),
	)

	if cfg.Status.Busy() {
		return eris.Wrapf(ErrJobRunning, "job %s is %s", cfg.ID, cfg.Status)
	}

	var params providerParams
	if err := json.Unmarshal(cfg.ProviderConfig, &params); err != nil {
		return eris.Wrapf(err, "scrape: decode provider config for job %s", cfg.ID)
	}
	if params.ActorID == "" {
		return eris.Errorf("scrape: job %s has no actor configured", cfg.ID)
	}

	depth, newestOnly := cfg.Depth()
	input := make(map[string]any, len(params.Input)+2)
	for k, v := range params.Input {
		input[k] = v
	}
	input["maxReviews"] = depth
	input["onlyNewReviews"] = newestOnly

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return eris.Wrap(err, "scrape: encode run input")
	}

	run, err := m.client.CreateRun(ctx, params.ActorID, inputJSON)
	if err != nil {
		if markErr := m.store.MarkFailed(ctx, cfg.ID, err.Error()); markErr != nil {
			log.Error("failed to record trigger failure", zap.Error(markErr))
		}
		return eris.Wrapf(err, "scrape: trigger job %s", cfg.ID)
	}

	if err := m.store.MarkTriggered(ctx, cfg.ID, run.ID); err != nil {
		return eris.Wrapf(err, "scrape: record trigger for job %s", cfg.ID)
	}

	log.Info("scrape triggered",
		zap.String("run_id", run.ID),
		zap.Int("depth", depth),
		zap.Bool("newest_only", newestOnly),
	)
	return nil
}

// Poll checks a busy job's run and, when finished, ingests its results and
// settles the job. Polling an idle or terminal job is a no-op.
func (m *Machine) Poll(ctx context.Context, cfg *model.ScrapingJobConfig) error {
	log := zap.L().With(
		zap.String("component", "scrape"),
		zap.String("job_id", cfg.ID),
		zap.String("run_id", cfg.ExternalJobID),
	)

	if !cfg.Status.Busy() {
		return nil
	}
	if cfg.ExternalJobID == "" {
		return eris.Errorf("scrape: busy job %s has no external run id", cfg.ID)
	}

	if cfg.Status == model.ScrapeElaborating {
		if err := m.store.MarkChecking(ctx, cfg.ID); err != nil {
			return eris.Wrapf(err, "scrape: mark checking for job %s", cfg.ID)
		}
	}

	run, err := m.client.GetRun(ctx, cfg.ExternalJobID)
	if err != nil {
		return eris.Wrapf(err, "scrape: poll run for job %s", cfg.ID)
	}

	if !run.Finished() {
		log.Debug("run still in progress", zap.String("status", run.Status))
		return nil
	}

	if !run.Succeeded() {
		if err := m.store.MarkFailed(ctx, cfg.ID, "run finished with status "+run.Status); err != nil {
			return eris.Wrapf(err, "scrape: record run failure for job %s", cfg.ID)
		}
		log.Warn("run failed", zap.String("status", run.Status))
		return nil
	}

	items, err := m.client.GetDatasetItems(ctx, run.DefaultDatasetID)
	if err != nil {
		return eris.Wrapf(err, "scrape: fetch results for job %s", cfg.ID)
	}

	raws := make([]normalize.RawPayload, len(items))
	for i, it := range items {
		raws[i] = normalize.RawPayload(it)
	}

	res, err := m.ingest.Ingest(ctx, cfg, raws)
	if err != nil {
		if markErr := m.store.MarkFailed(ctx, cfg.ID, err.Error()); markErr != nil {
			log.Error("failed to record ingest failure", zap.Error(markErr))
		}
		return eris.Wrapf(err, "scrape: ingest results for job %s", cfg.ID)
	}

	// Zero parsed items means the scrape produced nothing usable, so the
	// initial backfill is not considered done yet.
	initialDone := cfg.InitialScrapeDone || res.Parsed > 0
	if err := m.store.MarkCompleted(ctx, cfg.ID, initialDone); err != nil {
		return eris.Wrapf(err, "scrape: complete job %s", cfg.ID)
	}

	log.Info("scrape completed",
		zap.Int("parsed", res.Parsed),
		zap.Int("inserted", res.Inserted),
		zap.Bool("initial_done", initialDone),
	)
	return nil
}

// TriggerDue triggers every due recurring job with bounded concurrency. A
// failing job is logged and counted; it never stops the sweep.
func (m *Machine) TriggerDue(ctx context.Context) (triggered int, failed int, err error) {
	due, err := m.store.DueConfigs(ctx, time.Now().UTC())
	if err != nil {
		return 0, 0, eris.Wrap(err, "scrape: list due jobs")
	}

	var ok, ko int
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)

	results := make([]error, len(due))
	for i := range due {
		i := i
		cfg := due[i]
		g.Go(func() error {
			if err := m.Trigger(gctx, &cfg); err != nil {
				results[i] = err
				return nil
			}
			if err := m.store.ClearReportSent(gctx, cfg.LocationID); err != nil {
				zap.L().Warn("failed to clear report flag",
					zap.String("location_id", cfg.LocationID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		if res != nil {
			ko++
			zap.L().Error("recurring trigger failed",
				zap.String("job_id", due[i].ID),
				zap.Error(res),
			)
		} else {
			ok++
		}
	}

	zap.L().Info("recurring sweep done",
		zap.Int("due", len(due)),
		zap.Int("triggered", ok),
		zap.Int("failed", ko),
	)
	return ok, ko, nil
}
