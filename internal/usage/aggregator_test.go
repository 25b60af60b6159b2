package usage

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewforge/reviews-cli/internal/model"
)

type fakeUsageStore struct {
	calls [][]model.TokenUsageRecord
}

func (f *fakeUsageStore) RecordUsage(ctx context.Context, records []model.TokenUsageRecord) error {
	f.calls = append(f.calls, records)
	return nil
}

func TestAggregator_AccumulatesPerBusiness(t *testing.T) {
	agg := NewAggregator("anthropic", "claude-sonnet-4-5", model.KindReviewAnalysis)
	agg.Add("biz-1", model.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	agg.Add("biz-1", model.TokenUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5})
	agg.Add("biz-2", model.TokenUsage{PromptTokens: 1, TotalTokens: 1})

	store := &fakeUsageStore{}
	require.NoError(t, agg.Flush(context.Background(), store))

	require.Len(t, store.calls, 1)
	byBiz := make(map[string]model.TokenUsage)
	for _, r := range store.calls[0] {
		byBiz[r.BusinessID] = r.Usage
		assert.Equal(t, "anthropic", r.Provider)
		assert.Equal(t, model.KindReviewAnalysis, r.Kind)
	}
	assert.Equal(t, model.TokenUsage{PromptTokens: 13, CompletionTokens: 7, TotalTokens: 20}, byBiz["biz-1"])
	assert.Equal(t, model.TokenUsage{PromptTokens: 1, TotalTokens: 1}, byBiz["biz-2"])
}

func TestAggregator_FlushResetsState(t *testing.T) {
	agg := NewAggregator("openai", "gpt-5", model.KindSWOTAnalysis)
	agg.Add("biz-1", model.TokenUsage{TotalTokens: 10})

	store := &fakeUsageStore{}
	require.NoError(t, agg.Flush(context.Background(), store))
	require.NoError(t, agg.Flush(context.Background(), store))

	// Second flush has nothing to write.
	assert.Len(t, store.calls, 1)
}

func TestAggregator_EmptyFlushIsNoop(t *testing.T) {
	agg := NewAggregator("openai", "gpt-5", model.KindReviewAnalysis)
	store := &fakeUsageStore{}
	require.NoError(t, agg.Flush(context.Background(), store))
	assert.Empty(t, store.calls)
}

func TestPostgresStore_RecordUsage_AdditiveUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_token_usage"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_token_usage"}, []string{
		"business_id", "provider", "model", "kind", "usage_date",
		"prompt_tokens", "completion_tokens", "cached_tokens", "total_tokens",
	}).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "token_usage" .+ ON CONFLICT .+ "prompt_tokens" = "token_usage"\."prompt_tokens" \+ EXCLUDED\."prompt_tokens"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	store := NewPostgresStore(mock)
	err = store.RecordUsage(context.Background(), []model.TokenUsageRecord{
		{
			BusinessID: "biz-1",
			Provider:   "anthropic",
			Model:      "claude-sonnet-4-5",
			Kind:       model.KindReviewAnalysis,
			Usage:      model.TokenUsage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
		},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordUsage_Empty(t *testing.T) {
	store := NewPostgresStore(nil)
	require.NoError(t, store.RecordUsage(context.Background(), nil))
}
