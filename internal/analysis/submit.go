// Package analysis drives the AI batch state machine: submit pending reviews
// for topic and sentiment analysis, reconcile batch results resumably, and
// build per-location SWOT summaries.
package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/reviewforge/reviews-cli/internal/aiprovider"
	"github.com/reviewforge/reviews-cli/internal/db"
	"github.com/reviewforge/reviews-cli/internal/model"
	"github.com/reviewforge/reviews-cli/internal/usage"
)

// ProviderFactory resolves AI providers. Satisfied by aiprovider.Factory.
type ProviderFactory interface {
	Active(ctx context.Context) (aiprovider.Provider, *model.ProviderConfig, error)
	ByName(name string) (aiprovider.Provider, error)
}

// Submitter collects analyzable reviews and submits them to the active
// provider, one batch per sector scope.
type Submitter struct {
	factory ProviderFactory
	store   Store
	applier applier
	opts    Options
}

// NewSubmitter creates a Submitter.
func NewSubmitter(factory ProviderFactory, store Store, usageStore usage.Store, opts Options) *Submitter {
	opts = opts.withDefaults()
	return &Submitter{
		factory: factory,
		store:   store,
		applier: applier{store: store, usageStore: usageStore, opts: opts},
		opts:    opts,
	}
}

// SubmitStats summarizes one submission pass.
type SubmitStats struct {
	NoContent int
	Submitted int
	Direct    ChunkStats
	BatchIDs  []string
}

// Submit gathers pending reviews plus stale analyzing ones (reclaimed as
// abandoned), settles no-content reviews immediately, and submits the rest
// grouped by sector. Providers without batch support are driven in direct
// mode instead.
func (s *Submitter) Submit(ctx context.Context) (SubmitStats, error) {
	var stats SubmitStats
	log := zap.L().With(zap.String("component", "analysis"))

	staleBefore := time.Now().UTC().Add(-s.opts.StaleAfter)
	reviews, err := s.store.AnalyzableReviews(ctx, staleBefore, s.opts.MaxBatchItems)
	if err != nil {
		return stats, eris.Wrap(err, "analysis: collect reviews")
	}
	if len(reviews) == 0 {
		log.Info("nothing to analyze")
		return stats, nil
	}

	// No-content reviews never reach the provider.
	var noContent []string
	var analyzable []model.Review
	for i := range reviews {
		if !reviews[i].HasContent() {
			noContent = append(noContent, reviews[i].ID)
			continue
		}
		analyzable = append(analyzable, reviews[i])
	}
	for _, chunk := range db.Chunk(noContent, s.opts.IDChunkSize) {
		if err := s.store.CompleteWithoutContent(ctx, chunk); err != nil {
			return stats, eris.Wrap(err, "analysis: settle no-content reviews")
		}
	}
	stats.NoContent = len(noContent)

	if len(analyzable) == 0 {
		return stats, nil
	}

	// Group by sector scope.
	locIDs := make([]string, 0, len(analyzable))
	seen := make(map[string]bool)
	for i := range analyzable {
		if !seen[analyzable[i].LocationID] {
			seen[analyzable[i].LocationID] = true
			locIDs = append(locIDs, analyzable[i].LocationID)
		}
	}
	sectors := make(map[string]string)
	for _, chunk := range db.Chunk(locIDs, s.opts.IDChunkSize) {
		m, err := s.store.SectorsForLocations(ctx, chunk)
		if err != nil {
			return stats, eris.Wrap(err, "analysis: resolve sectors")
		}
		for k, v := range m {
			sectors[k] = v
		}
	}
	bySector := make(map[string][]model.Review)
	for i := range analyzable {
		sector, found := sectors[analyzable[i].LocationID]
		if !found {
			log.Warn("review location has no sector",
				zap.String("review_id", analyzable[i].ID),
				zap.String("location_id", analyzable[i].LocationID))
			continue
		}
		bySector[sector] = append(bySector[sector], analyzable[i])
	}

	provider, pc, err := s.factory.Active(ctx)
	if err != nil {
		return stats, err
	}

	for sector, group := range bySector {
		if err := s.submitSector(ctx, provider, pc, sector, group, &stats); err != nil {
			// One sector's failure never blocks the others.
			log.Error("sector submission failed",
				zap.String("sector", sector), zap.Error(err))
		}
	}
	return stats, nil
}

func (s *Submitter) submitSector(ctx context.Context, provider aiprovider.Provider, pc *model.ProviderConfig, sector string, group []model.Review, stats *SubmitStats) error {
	log := zap.L().With(
		zap.String("component", "analysis"),
		zap.String("sector", sector),
		zap.String("provider", provider.Name()),
	)

	active, err := s.store.ActiveBatchExists(ctx, model.KindReviewAnalysis, sector)
	if err != nil {
		return eris.Wrap(err, "analysis: check scope guard")
	}
	if active {
		log.Info("batch already in flight for scope, skipping")
		return nil
	}

	tax, err := loadTaxonomy(ctx, s.store, sector)
	if err != nil {
		return eris.Wrapf(err, "analysis: load taxonomy for sector %s", sector)
	}

	if len(group) > s.opts.MaxBatchItems {
		group = group[:s.opts.MaxBatchItems]
	}
	reqs := make([]aiprovider.Request, len(group))
	ids := make([]string, len(group))
	for i := range group {
		system, prompt := buildReviewPrompt(sector, tax.catNames, &group[i])
		reqs[i] = aiprovider.Request{
			CustomID:  group[i].ID,
			System:    system,
			Prompt:    prompt,
			MaxTokens: s.opts.MaxTokens,
		}
		ids[i] = group[i].ID
	}

	handle, err := provider.SubmitBatch(ctx, pc.Model, reqs)
	if eris.Is(err, aiprovider.ErrBatchUnsupported) {
		return s.submitDirect(ctx, provider, pc, tax, reqs, ids, stats)
	}
	if err != nil {
		return eris.Wrap(err, "analysis: submit batch")
	}

	for _, chunk := range db.Chunk(ids, s.opts.IDChunkSize) {
		if err := s.store.MarkAnalyzing(ctx, chunk); err != nil {
			return eris.Wrap(err, "analysis: mark analyzing")
		}
	}

	batch := &model.AnalysisBatch{
		ID:         uuid.NewString(),
		ExternalID: handle.ExternalID,
		Provider:   provider.Name(),
		Model:      pc.Model,
		Kind:       model.KindReviewAnalysis,
		Scope:      sector,
		Status:     model.BatchInProgress,
		Checkpoint: model.BatchCheckpoint{Scope: sector},
	}
	if err := s.store.CreateBatch(ctx, batch); err != nil {
		return eris.Wrap(err, "analysis: create batch row")
	}
	stats.Submitted += len(group)
	stats.BatchIDs = append(stats.BatchIDs, batch.ID)

	log.Info("batch submitted",
		zap.String("batch_id", batch.ID),
		zap.String("external_id", handle.ExternalID),
		zap.Int("items", len(group)),
	)
	return nil
}

// submitDirect analyzes items synchronously with bounded concurrency and
// applies the results through the same reconciliation path as batch results.
func (s *Submitter) submitDirect(ctx context.Context, provider aiprovider.Provider, pc *model.ProviderConfig, tax *taxonomy, reqs []aiprovider.Request, ids []string, stats *SubmitStats) error {
	for _, chunk := range db.Chunk(ids, s.opts.IDChunkSize) {
		if err := s.store.MarkAnalyzing(ctx, chunk); err != nil {
			return eris.Wrap(err, "analysis: mark analyzing")
		}
	}

	responses := make([]aiprovider.Response, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i := range reqs {
		i := i
		g.Go(func() error {
			resp, err := provider.Analyze(gctx, pc.Model, reqs[i])
			if err != nil {
				responses[i] = aiprovider.Response{CustomID: reqs[i].CustomID, Err: err.Error()}
				return nil
			}
			responses[i] = *resp
			return nil
		})
	}
	_ = g.Wait()

	for _, chunk := range db.Chunk(responses, s.opts.ChunkSize) {
		cs, err := s.applier.applyReviewChunk(ctx, tax, provider.Name(), pc.Model, chunk)
		stats.Direct.Completed += cs.Completed
		stats.Direct.Failed += cs.Failed
		stats.Direct.Skipped += cs.Skipped
		if err != nil {
			return eris.Wrap(err, "analysis: apply direct results")
		}
	}
	return nil
}
