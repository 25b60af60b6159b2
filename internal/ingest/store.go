package ingest

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/reviewforge/reviews-cli/internal/db"
	"github.com/reviewforge/reviews-cli/internal/model"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ExistingHashes returns which of the given content hashes are already
// stored. Callers chunk the hash list around the backend query-size limit.
func (s *PostgresStore) ExistingHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	if len(hashes) == 0 {
		return map[string]bool{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT content_hash FROM reviews WHERE content_hash = ANY($1)`,
		hashes,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: query existing hashes")
	}
	defer rows.Close()

	found := make(map[string]bool)
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, eris.Wrap(err, "ingest: scan hash")
		}
		found[h] = true
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "ingest: iterate hashes")
	}

	return found, nil
}

// InsertReviews bulk-inserts reviews via COPY. A review with no recognized
// date gets the insert date (see insertDate).
func (s *PostgresStore) InsertReviews(ctx context.Context, reviews []model.Review) (int, error) {
	if len(reviews) == 0 {
		return 0, nil
	}

	columns := []string{
		"id", "location_id", "business_id", "platform", "content_hash",
		"title", "text", "rating", "author", "review_date", "url", "raw", "status",
	}
	rows := make([][]any, len(reviews))
	for i, r := range reviews {
		rows[i] = []any{
			r.ID, r.LocationID, r.BusinessID, string(r.Platform), r.ContentHash,
			r.Title, r.Text, r.Rating, r.Author, insertDate(r.ReviewDate), r.URL, r.Raw, string(r.Status),
		}
	}

	n, err := db.CopyFrom(ctx, s.pool, "reviews", columns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: bulk insert reviews")
	}
	return int(n), nil
}
