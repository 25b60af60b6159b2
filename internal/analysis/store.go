package analysis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/reviewforge/reviews-cli/internal/db"
	"github.com/reviewforge/reviews-cli/internal/model"
)

// ReviewMeta is the owning scope of one review, fetched in bulk during
// reconciliation.
type ReviewMeta struct {
	LocationID string
	BusinessID string
}

// CategoryLink ties a review to one taxonomy category.
type CategoryLink struct {
	ReviewID   string
	CategoryID int64
}

// Store is the persistence surface of submission and reconciliation.
// Callers chunk id lists around the backend query-size limit.
type Store interface {
	AnalyzableReviews(ctx context.Context, staleBefore time.Time, limit int) ([]model.Review, error)
	SectorsForLocations(ctx context.Context, locationIDs []string) (map[string]string, error)
	MarkAnalyzing(ctx context.Context, ids []string) error
	CompleteWithoutContent(ctx context.Context, ids []string) error
	MarkFailed(ctx context.Context, ids []string) error
	ReviewMeta(ctx context.Context, ids []string) (map[string]ReviewMeta, error)
	ApplyResult(ctx context.Context, reviewID string, result json.RawMessage, translatedTitle, translatedText string) error
	DeleteDerived(ctx context.Context, reviewIDs []string) error
	InsertTopicScores(ctx context.Context, rows []model.TopicScore) error
	InsertCategoryLinks(ctx context.Context, links []CategoryLink) error

	CategoriesForSector(ctx context.Context, sector string) ([]model.Category, error)
	TopicsForSector(ctx context.Context, sector string) ([]model.Topic, error)
	CreateTopic(ctx context.Context, name string, categoryID int64) (int64, error)

	ActiveBatchExists(ctx context.Context, kind model.BatchKind, scope string) (bool, error)
	CreateBatch(ctx context.Context, b *model.AnalysisBatch) error
	GetBatch(ctx context.Context, id string) (*model.AnalysisBatch, error)
	ActiveBatches(ctx context.Context) ([]model.AnalysisBatch, error)
	UpdateBatch(ctx context.Context, id string, status model.BatchStatus, cp model.BatchCheckpoint) error

	LocationsWithCompletedReviews(ctx context.Context) ([]model.Location, error)
	CompletedReviewTexts(ctx context.Context, locationID string, limit int) ([]string, error)
	SaveLocationSWOT(ctx context.Context, locationID string, swot json.RawMessage) error
}

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// AnalyzableReviews returns pending reviews plus analyzing rows whose batch
// submission is older than staleBefore. The latter were abandoned by a dead
// batch and are reclaimed into the pool.
func (s *PostgresStore) AnalyzableReviews(ctx context.Context, staleBefore time.Time, limit int) ([]model.Review, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, location_id, business_id, title, text, rating
		 FROM reviews
		 WHERE status = $1
		    OR (status = $2 AND batched_at < $3)
		 ORDER BY created_at
		 LIMIT $4`,
		string(model.ReviewPending), string(model.ReviewAnalyzing), staleBefore, limit)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: query analyzable reviews")
	}
	defer rows.Close()

	var reviews []model.Review
	for rows.Next() {
		var r model.Review
		if err := rows.Scan(&r.ID, &r.LocationID, &r.BusinessID, &r.Title, &r.Text, &r.Rating); err != nil {
			return nil, eris.Wrap(err, "analysis: scan review")
		}
		reviews = append(reviews, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "analysis: iterate reviews")
	}
	return reviews, nil
}

// SectorsForLocations maps location ids to their sector.
func (s *PostgresStore) SectorsForLocations(ctx context.Context, locationIDs []string) (map[string]string, error) {
	if len(locationIDs) == 0 {
		return map[string]string{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, sector FROM locations WHERE id = ANY($1)`, locationIDs)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: query location sectors")
	}
	defer rows.Close()

	sectors := make(map[string]string)
	for rows.Next() {
		var id, sector string
		if err := rows.Scan(&id, &sector); err != nil {
			return nil, eris.Wrap(err, "analysis: scan sector")
		}
		sectors[id] = sector
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "analysis: iterate sectors")
	}
	return sectors, nil
}

// MarkAnalyzing moves reviews into the analyzing state and stamps batched_at.
func (s *PostgresStore) MarkAnalyzing(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE reviews SET status = $1, batched_at = now(), updated_at = now() WHERE id = ANY($2)`,
		string(model.ReviewAnalyzing), ids)
	if err != nil {
		return eris.Wrap(err, "analysis: mark analyzing")
	}
	return nil
}

// CompleteWithoutContent settles no-content reviews with the neutral
// placeholder, bypassing the provider entirely.
func (s *PostgresStore) CompleteWithoutContent(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE reviews SET status = $1, ai_result = $2, updated_at = now() WHERE id = ANY($3)`,
		string(model.ReviewCompleted), model.NeutralResult(), ids)
	if err != nil {
		return eris.Wrap(err, "analysis: complete without content")
	}
	return nil
}

// MarkFailed records provider-reported per-item failures.
func (s *PostgresStore) MarkFailed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE reviews SET status = $1, updated_at = now() WHERE id = ANY($2)`,
		string(model.ReviewFailed), ids)
	if err != nil {
		return eris.Wrap(err, "analysis: mark failed")
	}
	return nil
}

// ReviewMeta bulk-fetches the owning location and business per review.
func (s *PostgresStore) ReviewMeta(ctx context.Context, ids []string) (map[string]ReviewMeta, error) {
	if len(ids) == 0 {
		return map[string]ReviewMeta{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, location_id, business_id FROM reviews WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: query review meta")
	}
	defer rows.Close()

	meta := make(map[string]ReviewMeta)
	for rows.Next() {
		var id string
		var m ReviewMeta
		if err := rows.Scan(&id, &m.LocationID, &m.BusinessID); err != nil {
			return nil, eris.Wrap(err, "analysis: scan review meta")
		}
		meta[id] = m
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "analysis: iterate review meta")
	}
	return meta, nil
}

// ApplyResult stores the analysis payload and completes the review. A
// non-empty translation overwrites the original title/text.
func (s *PostgresStore) ApplyResult(ctx context.Context, reviewID string, result json.RawMessage, translatedTitle, translatedText string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE reviews
		 SET status = $1, ai_result = $2,
		     title = CASE WHEN $3 <> '' THEN $3 ELSE title END,
		     text = CASE WHEN $4 <> '' THEN $4 ELSE text END,
		     updated_at = now()
		 WHERE id = $5`,
		string(model.ReviewCompleted), result, translatedTitle, translatedText, reviewID)
	if err != nil {
		return eris.Wrapf(err, "analysis: apply result for review %s", reviewID)
	}
	return nil
}

// DeleteDerived removes prior topic scores and category links so re-analysis
// never leaves stale derived facts.
func (s *PostgresStore) DeleteDerived(ctx context.Context, reviewIDs []string) error {
	if len(reviewIDs) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM topic_scores WHERE review_id = ANY($1)`, reviewIDs); err != nil {
		return eris.Wrap(err, "analysis: delete topic scores")
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM review_categories WHERE review_id = ANY($1)`, reviewIDs); err != nil {
		return eris.Wrap(err, "analysis: delete category links")
	}
	return nil
}

// InsertTopicScores bulk-inserts topic scores via COPY.
func (s *PostgresStore) InsertTopicScores(ctx context.Context, scores []model.TopicScore) error {
	if len(scores) == 0 {
		return nil
	}
	rows := make([][]any, len(scores))
	for i, ts := range scores {
		rows[i] = []any{ts.ReviewID, ts.TopicID, ts.BusinessID, ts.LocationID, ts.Score}
	}
	_, err := db.CopyFrom(ctx, s.pool, "topic_scores",
		[]string{"review_id", "topic_id", "business_id", "location_id", "score"}, rows)
	if err != nil {
		return eris.Wrap(err, "analysis: insert topic scores")
	}
	return nil
}

// InsertCategoryLinks bulk-inserts review-category links via COPY.
func (s *PostgresStore) InsertCategoryLinks(ctx context.Context, links []CategoryLink) error {
	if len(links) == 0 {
		return nil
	}
	rows := make([][]any, len(links))
	for i, l := range links {
		rows[i] = []any{l.ReviewID, l.CategoryID}
	}
	_, err := db.CopyFrom(ctx, s.pool, "review_categories",
		[]string{"review_id", "category_id"}, rows)
	if err != nil {
		return eris.Wrap(err, "analysis: insert category links")
	}
	return nil
}

// CategoriesForSector returns the fixed category taxonomy of a sector.
func (s *PostgresStore) CategoriesForSector(ctx context.Context, sector string) ([]model.Category, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, sector FROM categories WHERE sector = $1 ORDER BY name`, sector)
	if err != nil {
		return nil, eris.Wrapf(err, "analysis: query categories for sector %s", sector)
	}
	defer rows.Close()

	var cats []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Sector); err != nil {
			return nil, eris.Wrap(err, "analysis: scan category")
		}
		cats = append(cats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "analysis: iterate categories")
	}
	return cats, nil
}

// TopicsForSector returns all topics under the sector's categories.
func (s *PostgresStore) TopicsForSector(ctx context.Context, sector string) ([]model.Topic, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, t.name, t.category_id
		 FROM topics t JOIN categories c ON c.id = t.category_id
		 WHERE c.sector = $1`, sector)
	if err != nil {
		return nil, eris.Wrapf(err, "analysis: query topics for sector %s", sector)
	}
	defer rows.Close()

	var topics []model.Topic
	for rows.Next() {
		var t model.Topic
		if err := rows.Scan(&t.ID, &t.Name, &t.CategoryID); err != nil {
			return nil, eris.Wrap(err, "analysis: scan topic")
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "analysis: iterate topics")
	}
	return topics, nil
}

// CreateTopic inserts a topic, tolerating a concurrent insert of the same
// name: the no-op update makes RETURNING yield the surviving row's id.
func (s *PostgresStore) CreateTopic(ctx context.Context, name string, categoryID int64) (int64, error) {
	var id int64
	row := s.pool.QueryRow(ctx,
		`INSERT INTO topics (name, category_id) VALUES ($1, $2)
		 ON CONFLICT (name, category_id) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		name, categoryID)
	if err := row.Scan(&id); err != nil {
		return 0, eris.Wrapf(err, "analysis: create topic %q", name)
	}
	return id, nil
}

// ActiveBatchExists reports whether a non-terminal batch of the same kind and
// scope already exists. Read-then-decide; rare races are tolerated and fixed
// by the next reconciliation.
func (s *PostgresStore) ActiveBatchExists(ctx context.Context, kind model.BatchKind, scope string) (bool, error) {
	var exists bool
	row := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM analysis_batches
		   WHERE kind = $1 AND scope = $2 AND status IN ($3, $4)
		 )`,
		string(kind), scope, string(model.BatchValidating), string(model.BatchInProgress))
	if err := row.Scan(&exists); err != nil {
		return false, eris.Wrap(err, "analysis: check active batch")
	}
	return exists, nil
}

// CreateBatch inserts a new batch row.
func (s *PostgresStore) CreateBatch(ctx context.Context, b *model.AnalysisBatch) error {
	cp, err := json.Marshal(b.Checkpoint)
	if err != nil {
		return eris.Wrap(err, "analysis: encode checkpoint")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO analysis_batches (id, external_id, provider, model, kind, scope, status, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.ExternalID, b.Provider, b.Model, string(b.Kind), b.Scope, string(b.Status), cp)
	if err != nil {
		return eris.Wrapf(err, "analysis: create batch %s", b.ID)
	}
	return nil
}

// GetBatch loads one batch by id.
func (s *PostgresStore) GetBatch(ctx context.Context, id string) (*model.AnalysisBatch, error) {
	var b model.AnalysisBatch
	var cp []byte
	row := s.pool.QueryRow(ctx,
		`SELECT id, external_id, provider, model, kind, scope, status, metadata, created_at, updated_at
		 FROM analysis_batches WHERE id = $1`, id)
	if err := row.Scan(&b.ID, &b.ExternalID, &b.Provider, &b.Model, &b.Kind, &b.Scope,
		&b.Status, &cp, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, eris.Wrapf(err, "analysis: get batch %s", id)
	}
	if len(cp) > 0 {
		if err := json.Unmarshal(cp, &b.Checkpoint); err != nil {
			return nil, eris.Wrapf(err, "analysis: decode checkpoint for batch %s", id)
		}
	}
	return &b, nil
}

// ActiveBatches returns all non-terminal batches, oldest first.
func (s *PostgresStore) ActiveBatches(ctx context.Context) ([]model.AnalysisBatch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, external_id, provider, model, kind, scope, status, metadata, created_at, updated_at
		 FROM analysis_batches WHERE status IN ($1, $2) ORDER BY created_at`,
		string(model.BatchValidating), string(model.BatchInProgress))
	if err != nil {
		return nil, eris.Wrap(err, "analysis: query active batches")
	}
	defer rows.Close()

	var batches []model.AnalysisBatch
	for rows.Next() {
		var b model.AnalysisBatch
		var cp []byte
		if err := rows.Scan(&b.ID, &b.ExternalID, &b.Provider, &b.Model, &b.Kind, &b.Scope,
			&b.Status, &cp, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "analysis: scan batch")
		}
		if len(cp) > 0 {
			if err := json.Unmarshal(cp, &b.Checkpoint); err != nil {
				return nil, eris.Wrapf(err, "analysis: decode checkpoint for batch %s", b.ID)
			}
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "analysis: iterate batches")
	}
	return batches, nil
}

// UpdateBatch persists the batch status and checkpoint together. The
// checkpoint only ever advances here; rewind is an explicit operator action.
func (s *PostgresStore) UpdateBatch(ctx context.Context, id string, status model.BatchStatus, cp model.BatchCheckpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return eris.Wrap(err, "analysis: encode checkpoint")
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE analysis_batches SET status = $1, metadata = $2, updated_at = now() WHERE id = $3`,
		string(status), raw, id)
	if err != nil {
		return eris.Wrapf(err, "analysis: update batch %s", id)
	}
	return nil
}

// LocationsWithCompletedReviews lists locations holding at least one
// completed review, the population for SWOT analysis.
func (s *PostgresStore) LocationsWithCompletedReviews(ctx context.Context) ([]model.Location, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT l.id, l.business_id, l.name, l.sector
		 FROM locations l
		 JOIN reviews r ON r.location_id = l.id AND r.status = $1`,
		string(model.ReviewCompleted))
	if err != nil {
		return nil, eris.Wrap(err, "analysis: query locations for swot")
	}
	defer rows.Close()

	var locs []model.Location
	for rows.Next() {
		var l model.Location
		if err := rows.Scan(&l.ID, &l.BusinessID, &l.Name, &l.Sector); err != nil {
			return nil, eris.Wrap(err, "analysis: scan location")
		}
		locs = append(locs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "analysis: iterate locations")
	}
	return locs, nil
}

// CompletedReviewTexts returns the newest completed review texts of a
// location for the SWOT prompt.
func (s *PostgresStore) CompletedReviewTexts(ctx context.Context, locationID string, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT text FROM reviews
		 WHERE location_id = $1 AND status = $2 AND text <> ''
		 ORDER BY review_date DESC LIMIT $3`,
		locationID, string(model.ReviewCompleted), limit)
	if err != nil {
		return nil, eris.Wrapf(err, "analysis: query review texts for location %s", locationID)
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, eris.Wrap(err, "analysis: scan review text")
		}
		texts = append(texts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "analysis: iterate review texts")
	}
	return texts, nil
}

// SaveLocationSWOT upserts the SWOT payload for one location.
func (s *PostgresStore) SaveLocationSWOT(ctx context.Context, locationID string, swot json.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO location_swot (location_id, swot, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (location_id) DO UPDATE SET swot = EXCLUDED.swot, updated_at = now()`,
		locationID, swot)
	if err != nil {
		return eris.Wrapf(err, "analysis: save swot for location %s", locationID)
	}
	return nil
}
