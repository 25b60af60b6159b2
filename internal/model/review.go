// Package model defines the persistent entities of the review orchestration
// engine and their status enums.
package model

import (
	"encoding/json"
	"time"
)

// ReviewStatus tracks a review through the analysis lifecycle.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewAnalyzing ReviewStatus = "analyzing"
	ReviewCompleted ReviewStatus = "completed"
	ReviewFailed    ReviewStatus = "failed"
)

// Review is a deduplicated, normalized customer review. The content hash is
// globally unique; re-ingesting the same logical review is a no-op. Title and
// text are mutable because analysis may overwrite them with a translation.
type Review struct {
	ID          string
	LocationID  string
	BusinessID  string
	Platform    Platform
	ContentHash string
	Title       string
	Text        string
	Rating      int
	Author      string
	ReviewDate  *time.Time
	URL         string
	Raw         json.RawMessage
	Status      ReviewStatus
	AIResult    json.RawMessage
	BatchedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasContent reports whether the review carries any analyzable text. Reviews
// without content are completed with a placeholder result and never sent to
// the AI provider.
func (r *Review) HasContent() bool {
	return r.Text != "" || r.Title != ""
}

// AnalysisResult is the structured outcome of AI analysis for one review.
type AnalysisResult struct {
	Sentiment       string           `json:"sentiment"`
	Topics          []TopicJudgement `json:"topics"`
	Categories      []string         `json:"categories"`
	TranslatedTitle string           `json:"translated_title,omitempty"`
	TranslatedText  string           `json:"translated_text,omitempty"`
	Skipped         string           `json:"skipped,omitempty"`
}

// TopicJudgement scores one topic mentioned by a review on a 1-5 scale.
type TopicJudgement struct {
	Topic    string `json:"topic"`
	Category string `json:"category"`
	Score    int    `json:"score"`
}

// NeutralResult is the placeholder stored for reviews with no usable content.
func NeutralResult() json.RawMessage {
	return json.RawMessage(`{"skipped":"no_content"}`)
}

// TopicScore links a review to a topic with a 1-5 score, denormalized to
// business/location for aggregation. Rebuilt whenever the review is re-analyzed.
type TopicScore struct {
	ReviewID   string
	TopicID    int64
	BusinessID string
	LocationID string
	Score      int
}

// Topic is a taxonomy entry created on demand during reconciliation.
type Topic struct {
	ID         int64
	Name       string
	CategoryID int64
}

// Category is a fixed taxonomy entry scoped to a sector.
type Category struct {
	ID     int64
	Name   string
	Sector string
}
