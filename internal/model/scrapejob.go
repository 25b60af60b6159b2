package model

import (
	"encoding/json"
	"time"
)

// Platform identifies a review source.
type Platform string

const (
	PlatformGoogle      Platform = "google"
	PlatformTripAdvisor Platform = "tripadvisor"
	PlatformBooking     Platform = "booking"
	PlatformTrustpilot  Platform = "trustpilot"
	PlatformFacebook    Platform = "facebook"
)

// ScrapeJobStatus is the scraping state machine status.
//
//	idle → elaborating → completed
//
// with checking as an alternate post-trigger polling state and failed
// reachable from any non-terminal state.
type ScrapeJobStatus string

const (
	ScrapeIdle        ScrapeJobStatus = "idle"
	ScrapeElaborating ScrapeJobStatus = "elaborating"
	ScrapeChecking    ScrapeJobStatus = "checking"
	ScrapeCompleted   ScrapeJobStatus = "completed"
	ScrapeFailed      ScrapeJobStatus = "failed"
)

// Busy reports whether a trigger must be rejected as a conflict.
func (s ScrapeJobStatus) Busy() bool {
	return s == ScrapeElaborating || s == ScrapeChecking
}

// ScrapeFrequency is how often a recurring scrape is due.
type ScrapeFrequency string

const (
	FrequencyDaily  ScrapeFrequency = "daily"
	FrequencyWeekly ScrapeFrequency = "weekly"
)

// ScrapingJobConfig identifies a (location, platform) scraping job and its
// state machine row. At most one non-terminal job exists per pair; rows are
// never deleted.
type ScrapingJobConfig struct {
	ID                string
	LocationID        string
	BusinessID        string
	Platform          Platform
	ProviderConfig    json.RawMessage
	InitialDepth      int
	RecurringDepth    int
	Frequency         ScrapeFrequency
	Status            ScrapeJobStatus
	ExternalJobID     string
	RetryCount        int
	LastError         string
	LastScrapedAt     *time.Time
	InitialScrapeDone bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Depth returns the item depth and newest-only flag for the next trigger.
// The first run backfills everything; later runs only pull new items.
func (c *ScrapingJobConfig) Depth() (depth int, newestOnly bool) {
	if c.InitialScrapeDone {
		return c.RecurringDepth, true
	}
	return c.InitialDepth, false
}

// Location is the owning entity of reviews and scraping jobs. Sector is the
// taxonomy scope that groups analysis batches.
type Location struct {
	ID               string
	BusinessID       string
	Name             string
	Sector           string
	RecurringEnabled bool
	ReportSent       bool
}
