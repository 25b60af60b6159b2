// Package usage accounts AI token consumption per business and calendar day.
package usage

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/reviewforge/reviews-cli/internal/db"
	"github.com/reviewforge/reviews-cli/internal/model"
)

// Aggregator accumulates token deltas in memory across one processing chunk
// and flushes a single delta per business. Accumulating first is a throughput
// property: the store upsert is additive either way, but one flush per
// business avoids a round trip per review.
type Aggregator struct {
	provider string
	aiModel  string
	kind     model.BatchKind
	deltas   map[string]model.TokenUsage
}

// NewAggregator creates an aggregator for one provider/model/kind context.
func NewAggregator(provider, aiModel string, kind model.BatchKind) *Aggregator {
	return &Aggregator{
		provider: provider,
		aiModel:  aiModel,
		kind:     kind,
		deltas:   make(map[string]model.TokenUsage),
	}
}

// Add accumulates a delta for the given business.
func (a *Aggregator) Add(businessID string, d model.TokenUsage) {
	cur := a.deltas[businessID]
	cur.Add(d)
	a.deltas[businessID] = cur
}

// Flush upserts one record per accumulated business for today's date and
// resets the in-memory state.
func (a *Aggregator) Flush(ctx context.Context, store Store) error {
	if len(a.deltas) == 0 {
		return nil
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	records := make([]model.TokenUsageRecord, 0, len(a.deltas))
	for businessID, delta := range a.deltas {
		records = append(records, model.TokenUsageRecord{
			BusinessID: businessID,
			Provider:   a.provider,
			Model:      a.aiModel,
			Kind:       a.kind,
			UsageDate:  today,
			Usage:      delta,
		})
	}

	if err := store.RecordUsage(ctx, records); err != nil {
		return eris.Wrap(err, "usage: flush")
	}

	zap.L().Debug("token usage flushed",
		zap.String("provider", a.provider),
		zap.String("model", a.aiModel),
		zap.Int("businesses", len(records)),
	)

	a.deltas = make(map[string]model.TokenUsage)
	return nil
}

// Store persists usage records.
type Store interface {
	RecordUsage(ctx context.Context, records []model.TokenUsageRecord) error
}

// PostgresStore implements Store with an additive bulk upsert: an existing
// (business, provider, model, kind, day) row accumulates the deltas, a
// missing one is inserted with the deltas as initial values.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// RecordUsage upserts the given records additively.
func (s *PostgresStore) RecordUsage(ctx context.Context, records []model.TokenUsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{
			r.BusinessID, r.Provider, r.Model, string(r.Kind), r.UsageDate,
			r.Usage.PromptTokens, r.Usage.CompletionTokens, r.Usage.CachedTokens, r.Usage.TotalTokens,
		}
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "token_usage",
		Columns: []string{
			"business_id", "provider", "model", "kind", "usage_date",
			"prompt_tokens", "completion_tokens", "cached_tokens", "total_tokens",
		},
		ConflictKeys: []string{"business_id", "provider", "model", "kind", "usage_date"},
		AddCols:      []string{"prompt_tokens", "completion_tokens", "cached_tokens", "total_tokens"},
	}, rows)
	if err != nil {
		return eris.Wrap(err, "usage: record usage")
	}
	return nil
}
