// Package ingest turns raw scraped payloads into deduplicated, persisted
// review rows.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/reviewforge/reviews-cli/internal/db"
	"github.com/reviewforge/reviews-cli/internal/model"
	"github.com/reviewforge/reviews-cli/internal/normalize"
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	// ExistingHashes returns which of the given content hashes are already stored.
	ExistingHashes(ctx context.Context, hashes []string) (map[string]bool, error)
	// InsertReviews bulk-inserts new reviews with status pending.
	InsertReviews(ctx context.Context, reviews []model.Review) (int, error)
}

// Result reports how many payloads parsed and how many survived dedup.
// A zero Inserted with a positive Parsed is a normal outcome, not a failure:
// callers still mark scrape progress on it.
type Result struct {
	Parsed   int
	Inserted int
}

// Options tunes the pipeline's chunk sizes around backend query limits.
type Options struct {
	ExistsChunkSize int
	InsertChunkSize int
}

func (o Options) withDefaults() Options {
	if o.ExistsChunkSize <= 0 {
		o.ExistsChunkSize = 500
	}
	if o.InsertChunkSize <= 0 {
		o.InsertChunkSize = 200
	}
	return o
}

// Pipeline ingests raw scraped payloads. Side effects are strictly additive:
// existing reviews are never updated or deleted here.
type Pipeline struct {
	store Store
	opts  Options
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(store Store, opts Options) *Pipeline {
	return &Pipeline{store: store, opts: opts.withDefaults()}
}

// Ingest maps, hashes, dedupes, and inserts the raw payloads for one
// (location, platform) scraping job. Ingesting the same logical review twice
// is a no-op; a single call containing exact duplicates (provider pagination
// overlap) inserts one row.
func (p *Pipeline) Ingest(ctx context.Context, cfg *model.ScrapingJobConfig, raws []normalize.RawPayload) (Result, error) {
	log := zap.L().With(
		zap.String("component", "ingest"),
		zap.String("location_id", cfg.LocationID),
		zap.String("platform", string(cfg.Platform)),
	)

	var res Result
	var candidates []model.Review
	for _, raw := range raws {
		rec, ok := normalize.MapReview(cfg.Platform, raw)
		if !ok {
			continue
		}
		res.Parsed++

		dateStr := ""
		if rec.ReviewDate != nil {
			dateStr = rec.ReviewDate.Format("2006-01-02")
		}
		hash := normalize.ContentHash(normalize.Projection{
			Author:     rec.Author,
			BusinessID: cfg.BusinessID,
			LocationID: cfg.LocationID,
			Rating:     rec.Rating,
			ReviewDate: dateStr,
			Text:       rec.Text,
			URL:        rec.URL,
			Source:     string(cfg.Platform),
			Title:      rec.Title,
		})

		rawJSON, err := json.Marshal(raw)
		if err != nil {
			log.Warn("skipping unmarshalable payload", zap.Error(err))
			continue
		}

		candidates = append(candidates, model.Review{
			ID:          uuid.NewString(),
			LocationID:  cfg.LocationID,
			BusinessID:  cfg.BusinessID,
			Platform:    cfg.Platform,
			ContentHash: hash,
			Title:       rec.Title,
			Text:        rec.Text,
			Rating:      rec.Rating,
			Author:      rec.Author,
			ReviewDate:  rec.ReviewDate,
			URL:         rec.URL,
			Raw:         rawJSON,
			Status:      model.ReviewPending,
		})
	}

	if len(candidates) == 0 {
		return res, nil
	}

	hashes := make([]string, len(candidates))
	for i, r := range candidates {
		hashes[i] = r.ContentHash
	}

	existing := make(map[string]bool)
	for _, chunk := range db.Chunk(hashes, p.opts.ExistsChunkSize) {
		found, err := p.store.ExistingHashes(ctx, chunk)
		if err != nil {
			return res, eris.Wrap(err, "ingest: check existing hashes")
		}
		for h := range found {
			existing[h] = true
		}
	}

	// Drop hashes already stored or already seen earlier in this same call.
	seen := make(map[string]bool, len(candidates))
	var survivors []model.Review
	for _, r := range candidates {
		if existing[r.ContentHash] || seen[r.ContentHash] {
			continue
		}
		seen[r.ContentHash] = true
		survivors = append(survivors, r)
	}

	for _, chunk := range db.Chunk(survivors, p.opts.InsertChunkSize) {
		n, err := p.store.InsertReviews(ctx, chunk)
		if err != nil {
			return res, eris.Wrap(err, "ingest: insert reviews")
		}
		res.Inserted += n
	}

	log.Info("ingest complete",
		zap.Int("raw", len(raws)),
		zap.Int("parsed", res.Parsed),
		zap.Int("inserted", res.Inserted),
	)
	return res, nil
}

// insertDate substitutes the insert-time date when the normalizer could not
// recognize the review date. The substitution happens only here.
func insertDate(d *time.Time) time.Time {
	if d != nil {
		return *d
	}
	return time.Now().UTC()
}
