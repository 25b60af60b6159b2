package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewforge/reviews-cli/internal/model"
	"github.com/reviewforge/reviews-cli/internal/normalize"
)

// fakeStore keeps inserted reviews in memory, keyed by content hash.
type fakeStore struct {
	byHash      map[string]model.Review
	existsCalls [][]string
	insertCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{byHash: make(map[string]model.Review)}
}

func (f *fakeStore) ExistingHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	f.existsCalls = append(f.existsCalls, hashes)
	found := make(map[string]bool)
	for _, h := range hashes {
		if _, ok := f.byHash[h]; ok {
			found[h] = true
		}
	}
	return found, nil
}

func (f *fakeStore) InsertReviews(ctx context.Context, reviews []model.Review) (int, error) {
	f.insertCalls++
	for _, r := range reviews {
		f.byHash[r.ContentHash] = r
	}
	return len(reviews), nil
}

func testJobConfig() *model.ScrapingJobConfig {
	return &model.ScrapingJobConfig{
		ID:         "job-1",
		LocationID: "loc-1",
		BusinessID: "biz-1",
		Platform:   model.PlatformGoogle,
	}
}

func googlePayload(author string) normalize.RawPayload {
	return normalize.RawPayload{
		"text":         "Ottimo",
		"rating":       float64(5),
		"time":         "2024-01-15",
		"profile_name": author,
	}
}

func TestIngest_IdempotentAcrossCalls(t *testing.T) {
	store := newFakeStore()
	p := NewPipeline(store, Options{})
	cfg := testJobConfig()

	res1, err := p.Ingest(context.Background(), cfg, []normalize.RawPayload{googlePayload("Mario")})
	require.NoError(t, err)
	assert.Equal(t, 1, res1.Parsed)
	assert.Equal(t, 1, res1.Inserted)

	res2, err := p.Ingest(context.Background(), cfg, []normalize.RawPayload{googlePayload("Mario")})
	require.NoError(t, err)
	assert.Equal(t, 1, res2.Parsed)
	assert.Equal(t, 0, res2.Inserted)
	assert.Len(t, store.byHash, 1)
}

func TestIngest_InBatchDedup(t *testing.T) {
	store := newFakeStore()
	p := NewPipeline(store, Options{})

	res, err := p.Ingest(context.Background(), testJobConfig(), []normalize.RawPayload{
		googlePayload("Mario"),
		googlePayload("Mario"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Parsed)
	assert.Equal(t, 1, res.Inserted)
}

func TestIngest_SkipsEmptyPayloads(t *testing.T) {
	store := newFakeStore()
	p := NewPipeline(store, Options{})

	res, err := p.Ingest(context.Background(), testJobConfig(), []normalize.RawPayload{
		{},
		googlePayload("Mario"),
		{},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Parsed)
	assert.Equal(t, 1, res.Inserted)
}

func TestIngest_UnrelatedFieldsDoNotAffectDedup(t *testing.T) {
	store := newFakeStore()
	p := NewPipeline(store, Options{})
	cfg := testJobConfig()

	first := googlePayload("Mario")
	first["likes"] = 10
	second := googlePayload("Mario")
	second["likes"] = 999
	second["owner_reply"] = "thanks"

	res, err := p.Ingest(context.Background(), cfg, []normalize.RawPayload{first, second})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	// Changing a canonical field produces a distinct review.
	third := googlePayload("Luigi")
	res, err = p.Ingest(context.Background(), cfg, []normalize.RawPayload{third})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
}

func TestIngest_ChunksExistenceChecks(t *testing.T) {
	store := newFakeStore()
	p := NewPipeline(store, Options{ExistsChunkSize: 2, InsertChunkSize: 2})

	payloads := []normalize.RawPayload{
		googlePayload("A"), googlePayload("B"), googlePayload("C"),
		googlePayload("D"), googlePayload("E"),
	}
	res, err := p.Ingest(context.Background(), testJobConfig(), payloads)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Inserted)
	assert.Len(t, store.existsCalls, 3) // ceil(5/2)
	assert.Equal(t, 3, store.insertCalls)
}

func TestIngest_ZeroResultsIsNotAnError(t *testing.T) {
	store := newFakeStore()
	p := NewPipeline(store, Options{})

	res, err := p.Ingest(context.Background(), testJobConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestIngest_PendingStatus(t *testing.T) {
	store := newFakeStore()
	p := NewPipeline(store, Options{})

	_, err := p.Ingest(context.Background(), testJobConfig(), []normalize.RawPayload{googlePayload("Mario")})
	require.NoError(t, err)

	for _, r := range store.byHash {
		assert.Equal(t, model.ReviewPending, r.Status)
		assert.NotEmpty(t, r.ID)
		assert.Equal(t, "loc-1", r.LocationID)
	}
}
