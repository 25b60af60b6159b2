// Package aiprovider abstracts the AI backends used for review analysis.
// The active backend is chosen per invocation from a stored configuration
// row, so an operator can switch providers without redeploying.
package aiprovider

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/reviewforge/reviews-cli/internal/config"
	"github.com/reviewforge/reviews-cli/internal/db"
	"github.com/reviewforge/reviews-cli/internal/model"
)

// ErrBatchUnsupported is returned by providers that only offer synchronous
// completion. Callers fall back to direct mode.
var ErrBatchUnsupported = errors.New("aiprovider: batch mode not supported")

// Request is one analysis prompt.
type Request struct {
	CustomID  string
	System    string
	Prompt    string
	MaxTokens int64
}

// Response is one per-item batch outcome. Err is non-empty for items the
// provider reports as failed; such items carry no text or usage.
type Response struct {
	CustomID string
	Text     string
	Usage    model.TokenUsage
	Err      string
}

// BatchHandle tracks an asynchronous batch on the provider side.
// ArtifactHandle is a provider-specific pointer to the result artifact
// (for OpenAI, the output file id) recorded as soon as it is known.
type BatchHandle struct {
	ExternalID     string
	Status         model.BatchStatus
	ArtifactHandle string
}

// Provider is one AI backend.
type Provider interface {
	Name() string
	// SubmitBatch submits requests asynchronously. Providers without batch
	// support return ErrBatchUnsupported.
	SubmitBatch(ctx context.Context, aiModel string, reqs []Request) (*BatchHandle, error)
	// CheckBatch refreshes the handle from the provider.
	CheckBatch(ctx context.Context, externalID string) (*BatchHandle, error)
	// BatchResults fetches all per-item results of a completed batch.
	BatchResults(ctx context.Context, handle *BatchHandle) ([]Response, error)
	// CancelBatch requests provider-side cancellation. Best effort.
	CancelBatch(ctx context.Context, externalID string) error
	// Analyze runs one request synchronously.
	Analyze(ctx context.Context, aiModel string, req Request) (*Response, error)
}

// ConfigStore reads the stored provider selection.
type ConfigStore interface {
	// ActiveConfig returns the single active provider configuration.
	ActiveConfig(ctx context.Context) (*model.ProviderConfig, error)
}

// Factory builds the active provider. The configuration row is read fresh on
// every call so a switch takes effect on the next operation, never mid-flight.
type Factory struct {
	cfg   *config.Config
	store ConfigStore
}

// NewFactory creates a provider factory.
func NewFactory(cfg *config.Config, store ConfigStore) *Factory {
	return &Factory{cfg: cfg, store: store}
}

// Active resolves the currently selected provider and its model.
func (f *Factory) Active(ctx context.Context) (Provider, *model.ProviderConfig, error) {
	pc, err := f.store.ActiveConfig(ctx)
	if err != nil {
		return nil, nil, eris.Wrap(err, "aiprovider: load active config")
	}

	switch pc.Provider {
	case "anthropic":
		return NewAnthropic(f.cfg.Anthropic.Key), pc, nil
	case "openai":
		return NewOpenAI(f.cfg.OpenAI.Key), pc, nil
	case "openrouter":
		return NewOpenRouter(f.cfg.OpenRouter.Key, f.cfg.OpenRouter.BaseURL), pc, nil
	default:
		return nil, nil, eris.Errorf("aiprovider: unknown provider %q", pc.Provider)
	}
}

// ByName builds a provider by name regardless of the active configuration.
// Needed when settling a batch submitted before a provider switch.
func (f *Factory) ByName(name string) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropic(f.cfg.Anthropic.Key), nil
	case "openai":
		return NewOpenAI(f.cfg.OpenAI.Key), nil
	case "openrouter":
		return NewOpenRouter(f.cfg.OpenRouter.Key, f.cfg.OpenRouter.BaseURL), nil
	default:
		return nil, eris.Errorf("aiprovider: unknown provider %q", name)
	}
}

// PostgresConfigStore implements ConfigStore using pgx.
type PostgresConfigStore struct {
	pool db.Pool
}

// NewPostgresConfigStore creates a new PostgresConfigStore.
func NewPostgresConfigStore(pool db.Pool) *PostgresConfigStore {
	return &PostgresConfigStore{pool: pool}
}

// ActiveConfig returns the single active provider row. A partial unique
// index guarantees at most one; zero rows is a setup error.
func (s *PostgresConfigStore) ActiveConfig(ctx context.Context) (*model.ProviderConfig, error) {
	var pc model.ProviderConfig
	row := s.pool.QueryRow(ctx,
		`SELECT id, provider, model, settings, is_active
		 FROM ai_provider_configs WHERE is_active LIMIT 1`)
	if err := row.Scan(&pc.ID, &pc.Provider, &pc.Model, &pc.Settings, &pc.IsActive); err != nil {
		return nil, eris.Wrap(err, "aiprovider: query active config")
	}
	return &pc, nil
}
