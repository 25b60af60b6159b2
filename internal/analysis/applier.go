package analysis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/reviewforge/reviews-cli/internal/aiprovider"
	"github.com/reviewforge/reviews-cli/internal/db"
	"github.com/reviewforge/reviews-cli/internal/model"
	"github.com/reviewforge/reviews-cli/internal/usage"
)

// Options tunes submission and reconciliation. All values are policy.
type Options struct {
	ChunkSize       int
	IDChunkSize     int
	Workers         int
	StaleAfter      time.Duration
	MaxBatchItems   int
	MaxTokens       int64
	SWOTReviewLimit int
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 200
	}
	if o.IDChunkSize <= 0 {
		o.IDChunkSize = 500
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 24 * time.Hour
	}
	if o.MaxBatchItems <= 0 {
		o.MaxBatchItems = 1000
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = defaultMaxTokens
	}
	if o.SWOTReviewLimit <= 0 {
		o.SWOTReviewLimit = 200
	}
	return o
}

// taxonomy is the per-invocation cache of one sector's categories and topics.
// Topic creation goes through it serialized; parallel creation would race on
// duplicate names.
type taxonomy struct {
	store    Store
	catIDs   map[string]int64
	topicIDs map[string]int64
	catNames []string
}

func loadTaxonomy(ctx context.Context, store Store, sector string) (*taxonomy, error) {
	cats, err := store.CategoriesForSector(ctx, sector)
	if err != nil {
		return nil, err
	}
	topics, err := store.TopicsForSector(ctx, sector)
	if err != nil {
		return nil, err
	}

	t := &taxonomy{
		store:    store,
		catIDs:   make(map[string]int64, len(cats)),
		topicIDs: make(map[string]int64, len(topics)),
	}
	catByID := make(map[int64]string, len(cats))
	for _, c := range cats {
		t.catIDs[strings.ToLower(c.Name)] = c.ID
		catByID[c.ID] = strings.ToLower(c.Name)
		t.catNames = append(t.catNames, c.Name)
	}
	for _, tp := range topics {
		t.topicIDs[topicKey(catByID[tp.CategoryID], tp.Name)] = tp.ID
	}
	return t, nil
}

func topicKey(category, topic string) string {
	return strings.ToLower(category) + "\x00" + strings.ToLower(topic)
}

func (t *taxonomy) categoryID(name string) (int64, bool) {
	id, ok := t.catIDs[strings.ToLower(name)]
	return id, ok
}

// topicID resolves a topic, creating it on demand.
func (t *taxonomy) topicID(ctx context.Context, category, topic string) (int64, error) {
	catID, ok := t.categoryID(category)
	if !ok {
		return 0, eris.Errorf("analysis: unknown category %q", category)
	}
	key := topicKey(category, topic)
	if id, ok := t.topicIDs[key]; ok {
		return id, nil
	}
	id, err := t.store.CreateTopic(ctx, topic, catID)
	if err != nil {
		return 0, err
	}
	t.topicIDs[key] = id
	return id, nil
}

// applier turns a chunk of provider responses into persisted review state.
// Shared by the batch processor and the direct mode.
type applier struct {
	store      Store
	usageStore usage.Store
	opts       Options
}

// ChunkStats summarizes one applied chunk.
type ChunkStats struct {
	Completed int
	Failed    int
	Skipped   int
}

// applyReviewChunk runs the reconciliation phases for one chunk of review
// analysis responses. Per-item failures are isolated; a bad item never stops
// the chunk.
func (a *applier) applyReviewChunk(ctx context.Context, tax *taxonomy, providerName, aiModel string, responses []aiprovider.Response) (ChunkStats, error) {
	var stats ChunkStats
	log := zap.L().With(zap.String("component", "analysis"))

	// Phase 1: separate provider-reported failures from parsed successes.
	type okItem struct {
		reviewID string
		result   *model.AnalysisResult
		raw      json.RawMessage
		usage    model.TokenUsage
	}
	var failedIDs []string
	var ok []okItem
	for _, r := range responses {
		if r.Err != "" {
			failedIDs = append(failedIDs, r.CustomID)
			continue
		}
		res, err := parseResult(r.Text)
		if err != nil {
			// Data error: leave the review in its prior state for a
			// future sweep.
			stats.Skipped++
			log.Warn("unparseable analysis result",
				zap.String("review_id", r.CustomID), zap.Error(err))
			continue
		}
		raw, err := json.Marshal(res)
		if err != nil {
			stats.Skipped++
			continue
		}
		ok = append(ok, okItem{reviewID: r.CustomID, result: res, raw: raw, usage: r.Usage})
	}

	// Phase 2: settle failures.
	for _, chunk := range db.Chunk(failedIDs, a.opts.IDChunkSize) {
		if err := a.store.MarkFailed(ctx, chunk); err != nil {
			return stats, eris.Wrap(err, "analysis: mark failed items")
		}
	}
	stats.Failed = len(failedIDs)

	// Phase 3: owning scope per review.
	okIDs := make([]string, len(ok))
	for i, item := range ok {
		okIDs[i] = item.reviewID
	}
	meta := make(map[string]ReviewMeta, len(okIDs))
	for _, chunk := range db.Chunk(okIDs, a.opts.IDChunkSize) {
		m, err := a.store.ReviewMeta(ctx, chunk)
		if err != nil {
			return stats, eris.Wrap(err, "analysis: fetch review meta")
		}
		for k, v := range m {
			meta[k] = v
		}
	}

	var known []okItem
	for _, item := range ok {
		if _, found := meta[item.reviewID]; !found {
			stats.Skipped++
			log.Warn("result for unknown review", zap.String("review_id", item.reviewID))
			continue
		}
		known = append(known, item)
	}

	// Phase 4: clear prior derived facts before rebuilding them.
	knownIDs := make([]string, len(known))
	for i, item := range known {
		knownIDs[i] = item.reviewID
	}
	for _, chunk := range db.Chunk(knownIDs, a.opts.IDChunkSize) {
		if err := a.store.DeleteDerived(ctx, chunk); err != nil {
			return stats, eris.Wrap(err, "analysis: delete derived facts")
		}
	}

	// Phase 5: resolve topics serially against the invocation cache.
	type resolved struct {
		topicIDs []int64
		scores   []int
		catIDs   []int64
	}
	resolvedByReview := make(map[string]resolved, len(known))
	for _, item := range known {
		var r resolved
		for _, tj := range item.result.Topics {
			id, err := tax.topicID(ctx, tj.Category, tj.Topic)
			if err != nil {
				log.Warn("topic resolution failed",
					zap.String("review_id", item.reviewID),
					zap.String("topic", tj.Topic), zap.Error(err))
				continue
			}
			r.topicIDs = append(r.topicIDs, id)
			r.scores = append(r.scores, tj.Score)
		}
		for _, cat := range item.result.Categories {
			if id, found := tax.categoryID(cat); found {
				r.catIDs = append(r.catIDs, id)
			}
		}
		resolvedByReview[item.reviewID] = r
	}

	// Phase 6: per-review updates with bounded concurrency.
	applied := make([]bool, len(known))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Workers)
	for i := range known {
		i := i
		item := known[i]
		g.Go(func() error {
			err := a.store.ApplyResult(gctx, item.reviewID, item.raw,
				item.result.TranslatedTitle, item.result.TranslatedText)
			if err != nil {
				log.Warn("apply result failed",
					zap.String("review_id", item.reviewID), zap.Error(err))
				return nil
			}
			applied[i] = true
			return nil
		})
	}
	_ = g.Wait()

	// Phase 7: derived facts for the reviews that actually updated.
	var scores []model.TopicScore
	var links []CategoryLink
	for i, item := range known {
		if !applied[i] {
			stats.Skipped++
			continue
		}
		stats.Completed++
		m := meta[item.reviewID]
		r := resolvedByReview[item.reviewID]
		for j, tid := range r.topicIDs {
			scores = append(scores, model.TopicScore{
				ReviewID:   item.reviewID,
				TopicID:    tid,
				BusinessID: m.BusinessID,
				LocationID: m.LocationID,
				Score:      r.scores[j],
			})
		}
		for _, cid := range r.catIDs {
			links = append(links, CategoryLink{ReviewID: item.reviewID, CategoryID: cid})
		}
	}
	if err := a.store.InsertTopicScores(ctx, scores); err != nil {
		return stats, eris.Wrap(err, "analysis: insert topic scores")
	}
	if err := a.store.InsertCategoryLinks(ctx, links); err != nil {
		return stats, eris.Wrap(err, "analysis: insert category links")
	}

	// Phase 8: one usage flush per business for the whole chunk.
	agg := usage.NewAggregator(providerName, aiModel, model.KindReviewAnalysis)
	for i, item := range known {
		if !applied[i] {
			continue
		}
		agg.Add(meta[item.reviewID].BusinessID, item.usage)
	}
	if err := agg.Flush(ctx, a.usageStore); err != nil {
		return stats, eris.Wrap(err, "analysis: flush usage")
	}

	return stats, nil
}

// applySWOTChunk persists SWOT responses. CustomID is the location id;
// locBiz maps it to the owning business for usage attribution.
func (a *applier) applySWOTChunk(ctx context.Context, providerName, aiModel string, responses []aiprovider.Response, locBiz map[string]string) (ChunkStats, error) {
	var stats ChunkStats
	log := zap.L().With(zap.String("component", "analysis"))

	agg := usage.NewAggregator(providerName, aiModel, model.KindSWOTAnalysis)
	for _, r := range responses {
		if r.Err != "" {
			stats.Failed++
			log.Warn("swot item failed",
				zap.String("location_id", r.CustomID), zap.String("error", r.Err))
			continue
		}
		var swot struct {
			Strengths     []string `json:"strengths"`
			Weaknesses    []string `json:"weaknesses"`
			Opportunities []string `json:"opportunities"`
			Threats       []string `json:"threats"`
		}
		if err := unmarshalModelJSON(r.Text, &swot); err != nil {
			stats.Skipped++
			log.Warn("unparseable swot result",
				zap.String("location_id", r.CustomID), zap.Error(err))
			continue
		}
		raw, err := json.Marshal(swot)
		if err != nil {
			stats.Skipped++
			continue
		}
		if err := a.store.SaveLocationSWOT(ctx, r.CustomID, raw); err != nil {
			stats.Skipped++
			log.Warn("save swot failed",
				zap.String("location_id", r.CustomID), zap.Error(err))
			continue
		}
		stats.Completed++
		if biz, found := locBiz[r.CustomID]; found {
			agg.Add(biz, r.Usage)
		}
	}
	if err := agg.Flush(ctx, a.usageStore); err != nil {
		return stats, eris.Wrap(err, "analysis: flush swot usage")
	}
	return stats, nil
}
