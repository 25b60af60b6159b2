package model

import "time"

// TokenUsage counts tokens consumed by one or more AI calls.
type TokenUsage struct {
	PromptTokens     int64
	CompletionTokens int64
	CachedTokens     int64
	TotalTokens      int64
}

// Add accumulates another delta into u.
func (u *TokenUsage) Add(d TokenUsage) {
	u.PromptTokens += d.PromptTokens
	u.CompletionTokens += d.CompletionTokens
	u.CachedTokens += d.CachedTokens
	u.TotalTokens += d.TotalTokens
}

// TokenUsageRecord is one row per (business, provider, model, kind, day).
// Counters are non-negative and monotonically increasing within a day.
type TokenUsageRecord struct {
	BusinessID string
	Provider   string
	Model      string
	Kind       BatchKind
	UsageDate  time.Time
	Usage      TokenUsage
}
