package analysis

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/reviewforge/reviews-cli/internal/aiprovider"
	"github.com/reviewforge/reviews-cli/internal/db"
	"github.com/reviewforge/reviews-cli/internal/model"
)

// swotScope is the single scope SWOT batches run under: one item per
// location, all locations in one batch.
const swotScope = "all"

// SubmitSWOT builds one SWOT item per location with completed reviews and
// submits them as a batch, or analyzes directly when the provider has no
// batch support. Results land in location_swot via the processor.
func (s *Submitter) SubmitSWOT(ctx context.Context) (SubmitStats, error) {
	var stats SubmitStats
	log := zap.L().With(zap.String("component", "analysis"))

	active, err := s.store.ActiveBatchExists(ctx, model.KindSWOTAnalysis, swotScope)
	if err != nil {
		return stats, eris.Wrap(err, "analysis: check swot scope guard")
	}
	if active {
		log.Info("swot batch already in flight, skipping")
		return stats, nil
	}

	locs, err := s.store.LocationsWithCompletedReviews(ctx)
	if err != nil {
		return stats, eris.Wrap(err, "analysis: list swot locations")
	}
	if len(locs) == 0 {
		log.Info("no locations ready for swot")
		return stats, nil
	}

	locBiz := make(map[string]string, len(locs))
	var reqs []aiprovider.Request
	for _, loc := range locs {
		texts, err := s.store.CompletedReviewTexts(ctx, loc.ID, s.opts.SWOTReviewLimit)
		if err != nil {
			log.Warn("skipping location, review fetch failed",
				zap.String("location_id", loc.ID), zap.Error(err))
			continue
		}
		if len(texts) == 0 {
			continue
		}
		system, prompt := buildSWOTPrompt(loc.Name, texts)
		reqs = append(reqs, aiprovider.Request{
			CustomID:  loc.ID,
			System:    system,
			Prompt:    prompt,
			MaxTokens: s.opts.MaxTokens,
		})
		locBiz[loc.ID] = loc.BusinessID
	}
	if len(reqs) == 0 {
		return stats, nil
	}

	provider, pc, err := s.factory.Active(ctx)
	if err != nil {
		return stats, err
	}

	handle, err := provider.SubmitBatch(ctx, pc.Model, reqs)
	if eris.Is(err, aiprovider.ErrBatchUnsupported) {
		err := s.swotDirect(ctx, provider, pc, reqs, locBiz, &stats)
		return stats, err
	}
	if err != nil {
		return stats, eris.Wrap(err, "analysis: submit swot batch")
	}

	batch := &model.AnalysisBatch{
		ID:         uuid.NewString(),
		ExternalID: handle.ExternalID,
		Provider:   provider.Name(),
		Model:      pc.Model,
		Kind:       model.KindSWOTAnalysis,
		Scope:      swotScope,
		Status:     model.BatchInProgress,
		Checkpoint: model.BatchCheckpoint{Scope: swotScope},
	}
	if err := s.store.CreateBatch(ctx, batch); err != nil {
		return stats, eris.Wrap(err, "analysis: create swot batch row")
	}
	stats.Submitted = len(reqs)
	stats.BatchIDs = append(stats.BatchIDs, batch.ID)

	log.Info("swot batch submitted",
		zap.String("batch_id", batch.ID),
		zap.Int("locations", len(reqs)),
	)
	return stats, nil
}

func (s *Submitter) swotDirect(ctx context.Context, provider aiprovider.Provider, pc *model.ProviderConfig, reqs []aiprovider.Request, locBiz map[string]string, stats *SubmitStats) error {
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
		cs, err := s.applier.applySWOTChunk(ctx, provider.Name(), pc.Model, chunk, locBiz)
		stats.Direct.Completed += cs.Completed
		stats.Direct.Failed += cs.Failed
		stats.Direct.Skipped += cs.Skipped
		if err != nil {
			return eris.Wrap(err, "analysis: apply direct swot results")
		}
	}
	return nil
}
