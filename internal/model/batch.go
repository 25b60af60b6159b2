package model

import (
	"time"
)

// BatchKind is the purpose of an asynchronous AI job.
type BatchKind string

const (
	KindReviewAnalysis BatchKind = "review_analysis"
	KindSWOTAnalysis   BatchKind = "swot_analysis"
)

// BatchStatus mirrors the provider-side lifecycle of an asynchronous batch.
// Transitions are monotonic toward a terminal state except for explicit
// operator resets.
type BatchStatus string

const (
	BatchValidating BatchStatus = "validating"
	BatchInProgress BatchStatus = "in_progress"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchExpired    BatchStatus = "expired"
	BatchCancelled  BatchStatus = "cancelled"
)

// Terminal reports whether no further reconciliation is possible.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchExpired, BatchCancelled:
		return true
	}
	return false
}

// BatchCheckpoint is the resumption state carried in the batch metadata blob.
// ProcessedOffset is append-only progress: it is advanced only after a chunk's
// phases complete, and rewound only by an explicit operator reprocess.
type BatchCheckpoint struct {
	Scope           string `json:"scope"`
	ProcessedOffset int    `json:"processed_offset"`
	Total           int    `json:"total,omitempty"`
	ArtifactHandle  string `json:"artifact_handle,omitempty"`
}

// AnalysisBatch represents one outstanding call to an asynchronous AI
// provider. Retained indefinitely for audit.
type AnalysisBatch struct {
	ID         string
	ExternalID string
	Provider   string
	Model      string
	Kind       BatchKind
	Scope      string
	Status     BatchStatus
	Checkpoint BatchCheckpoint
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ProviderConfig is the externally stored "active configuration" row that
// selects the AI provider. Exactly one active row exists; uniqueness is
// enforced by a partial unique index, not in code.
type ProviderConfig struct {
	ID       string
	Provider string
	Model    string
	Settings map[string]any
	IsActive bool
}
