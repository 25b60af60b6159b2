package analysis

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/reviewforge/reviews-cli/internal/aiprovider"
	"github.com/reviewforge/reviews-cli/internal/model"
	"github.com/reviewforge/reviews-cli/internal/usage"
)

// Processor reconciles asynchronous batch results against the store.
// Processing is resumable: each invocation handles at most one chunk of
// result lines and persists the new offset only after the chunk's phases
// complete, so a crash never loses or repeats committed progress.
type Processor struct {
	factory ProviderFactory
	store   Store
	applier applier
	opts    Options
}

// NewProcessor creates a Processor.
func NewProcessor(factory ProviderFactory, store Store, usageStore usage.Store, opts Options) *Processor {
	opts = opts.withDefaults()
	return &Processor{
		factory: factory,
		store:   store,
		applier: applier{store: store, usageStore: usageStore, opts: opts},
		opts:    opts,
	}
}

// Process advances one batch by at most one chunk. done reports whether the
// batch reached a terminal state.
func (p *Processor) Process(ctx context.Context, batchID string) (done bool, err error) {
	b, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		return false, err
	}
	log := zap.L().With(
		zap.String("component", "analysis"),
		zap.String("batch_id", b.ID),
		zap.String("provider", b.Provider),
	)

	if b.Status.Terminal() {
		return true, nil
	}

	// The batch is settled with the provider that created it, which may no
	// longer be the active one.
	provider, err := p.factory.ByName(b.Provider)
	if err != nil {
		return false, err
	}

	// A cached artifact handle means the provider already reported
	// completion; skip the status round trip.
	handle := &aiprovider.BatchHandle{
		ExternalID:     b.ExternalID,
		ArtifactHandle: b.Checkpoint.ArtifactHandle,
	}
	if handle.ArtifactHandle == "" {
		h, err := provider.CheckBatch(ctx, b.ExternalID)
		if err != nil {
			return false, eris.Wrapf(err, "analysis: check batch %s", b.ID)
		}
		switch h.Status {
		case model.BatchValidating, model.BatchInProgress:
			log.Debug("batch still running", zap.String("status", string(h.Status)))
			return false, nil
		case model.BatchFailed, model.BatchExpired, model.BatchCancelled:
			// Reviews stay as-is: completed ones keep their state, the
			// rest are reclaimed by the staleness sweep.
			if err := p.store.UpdateBatch(ctx, b.ID, h.Status, b.Checkpoint); err != nil {
				return false, err
			}
			log.Warn("batch ended without results", zap.String("status", string(h.Status)))
			return true, nil
		}
		handle.ArtifactHandle = h.ArtifactHandle
		b.Checkpoint.ArtifactHandle = h.ArtifactHandle
		if err := p.store.UpdateBatch(ctx, b.ID, b.Status, b.Checkpoint); err != nil {
			return false, err
		}
	}

	results, err := provider.BatchResults(ctx, handle)
	if err != nil {
		// Offset untouched: a failed download never corrupts progress.
		return false, eris.Wrapf(err, "analysis: retrieve results for batch %s", b.ID)
	}

	total := len(results)
	if b.Checkpoint.Total == 0 {
		b.Checkpoint.Total = total
	}
	offset := b.Checkpoint.ProcessedOffset
	if offset >= total {
		return true, p.store.UpdateBatch(ctx, b.ID, model.BatchCompleted, b.Checkpoint)
	}

	end := offset + p.opts.ChunkSize
	if end > total {
		end = total
	}
	chunk := results[offset:end]

	var stats ChunkStats
	switch b.Kind {
	case model.KindSWOTAnalysis:
		locBiz, err := p.locationBusinesses(ctx, chunk)
		if err != nil {
			return false, err
		}
		stats, err = p.applier.applySWOTChunk(ctx, b.Provider, b.Model, chunk, locBiz)
		if err != nil {
			return false, err
		}
	default:
		tax, err := loadTaxonomy(ctx, p.store, b.Scope)
		if err != nil {
			return false, eris.Wrapf(err, "analysis: load taxonomy for scope %s", b.Scope)
		}
		stats, err = p.applier.applyReviewChunk(ctx, tax, b.Provider, b.Model, chunk)
		if err != nil {
			return false, err
		}
	}

	// Phase 9: offset advances only now that the chunk is fully applied.
	b.Checkpoint.ProcessedOffset = end
	status := model.BatchInProgress
	if end >= total {
		status = model.BatchCompleted
	}
	if err := p.store.UpdateBatch(ctx, b.ID, status, b.Checkpoint); err != nil {
		return false, err
	}

	log.Info("chunk processed",
		zap.Int("offset", end),
		zap.Int("total", total),
		zap.Int("completed", stats.Completed),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
	)
	return status == model.BatchCompleted, nil
}

// ProcessAll advances every active batch until each is drained or blocked on
// the provider.
func (p *Processor) ProcessAll(ctx context.Context) error {
	batches, err := p.store.ActiveBatches(ctx)
	if err != nil {
		return eris.Wrap(err, "analysis: list active batches")
	}
	for _, b := range batches {
		lastOffset := -1
		for {
			done, err := p.Process(ctx, b.ID)
			if err != nil {
				// One stuck batch never blocks the rest.
				zap.L().Error("batch processing failed",
					zap.String("batch_id", b.ID), zap.Error(err))
				break
			}
			if done {
				break
			}
			// No offset progress means the provider is still running
			// the batch; move on and let the next invocation retry.
			cur, err := p.store.GetBatch(ctx, b.ID)
			if err != nil || cur.Checkpoint.ProcessedOffset == lastOffset {
				break
			}
			lastOffset = cur.Checkpoint.ProcessedOffset
		}
	}
	return nil
}

// Stop cancels a batch. The provider cancel is best effort; the local row is
// marked cancelled regardless, since local state must not depend on a remote
// call succeeding.
func (p *Processor) Stop(ctx context.Context, batchID string) error {
	b, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if b.Status.Terminal() {
		return nil
	}

	if provider, err := p.factory.ByName(b.Provider); err == nil {
		if err := provider.CancelBatch(ctx, b.ExternalID); err != nil {
			zap.L().Warn("provider cancel failed",
				zap.String("batch_id", b.ID), zap.Error(err))
		}
	}

	return p.store.UpdateBatch(ctx, b.ID, model.BatchCancelled, b.Checkpoint)
}

// locationBusinesses resolves the owning business of each SWOT item.
func (p *Processor) locationBusinesses(ctx context.Context, responses []aiprovider.Response) (map[string]string, error) {
	locs, err := p.store.LocationsWithCompletedReviews(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: resolve swot businesses")
	}
	byID := make(map[string]string, len(locs))
	for _, l := range locs {
		byID[l.ID] = l.BusinessID
	}
	out := make(map[string]string, len(responses))
	for _, r := range responses {
		if biz, found := byID[r.CustomID]; found {
			out[r.CustomID] = biz
		}
	}
	return out, nil
}
