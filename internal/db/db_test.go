package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "reviews", []string{"a", "b"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"topic_scores"}, []string{"review_id", "topic_id"}).WillReturnResult(3)

	rows := [][]any{{"r1", 1}, {"r2", 2}, {"r3", 3}}
	n, err := CopyFrom(context.Background(), mock, "topic_scores", []string{"review_id", "topic_id"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"reviews"}, []string{"id"}).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "reviews", []string{"id"}, [][]any{{"r1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO reviews")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
		size int
		want [][]string
	}{
		{name: "empty", ids: nil, size: 2, want: nil},
		{name: "exact multiple", ids: []string{"a", "b", "c", "d"}, size: 2, want: [][]string{{"a", "b"}, {"c", "d"}}},
		{name: "remainder", ids: []string{"a", "b", "c"}, size: 2, want: [][]string{{"a", "b"}, {"c"}}},
		{name: "oversized chunk", ids: []string{"a"}, size: 100, want: [][]string{{"a"}}},
		{name: "zero size keeps all", ids: []string{"a", "b"}, size: 0, want: [][]string{{"a", "b"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Chunk(tt.ids, tt.size))
		})
	}
}

func TestBulkUpsert_Additive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_token_usage"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_token_usage"},
		[]string{"business_id", "usage_date", "prompt_tokens"}).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "token_usage" .+ ON CONFLICT .+ "prompt_tokens" = "token_usage"\."prompt_tokens" \+ EXCLUDED\."prompt_tokens"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "token_usage",
		Columns:      []string{"business_id", "usage_date", "prompt_tokens"},
		ConflictKeys: []string{"business_id", "usage_date"},
		AddCols:      []string{"prompt_tokens"},
	}, [][]any{{"b1", "2024-01-15", 100}})

	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "token_usage",
		Columns: []string{"a"},
	}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys")
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, UpsertConfig{}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
