package normalize

import (
	"math"
	"strconv"
	"time"

	"github.com/reviewforge/reviews-cli/internal/model"
)

// RawPayload is one platform-specific review object as returned by the
// scraping provider.
type RawPayload map[string]any

// NormalizedReview is the canonical record extracted from a raw payload.
type NormalizedReview struct {
	Title      string
	Rating     int
	Author     string
	Text       string
	ReviewDate *time.Time
	URL        string
}

// fieldCandidates lists, per logical field, the raw keys tried in order.
// The first present, non-empty value wins; absent fields resolve to typed
// defaults ("" for strings, 1 for rating).
type fieldCandidates struct {
	title  []string
	rating []string
	author []string
	text   []string
	date   []string
	url    []string

	// tenScale platforms aggregate two sub-ratings into a 0-10 score that is
	// floor-divided by 2 (a raw 1 is floored to 1, not divided to 0).
	tenScale bool
	// dayFirst platforms emit DD-MM-YYYY dates.
	dayFirst bool
}

var platformFields = map[model.Platform]fieldCandidates{
	model.PlatformGoogle: {
		title:  []string{"title"},
		rating: []string{"rating", "stars", "review_rating"},
		author: []string{"profile_name", "author_name", "reviewer"},
		text:   []string{"text", "review_text", "snippet"},
		date:   []string{"time", "date", "published_at"},
		url:    []string{"review_url", "url", "review_link"},
	},
	model.PlatformTripAdvisor: {
		title:  []string{"review_title", "title"},
		rating: []string{"rating", "bubbles"},
		author: []string{"user_name", "username", "author"},
		text:   []string{"review_text", "text", "description"},
		date:   []string{"review_date", "published_date", "date"},
		url:    []string{"review_url", "url"},
	},
	model.PlatformBooking: {
		title:    []string{"review_title", "title", "headline"},
		rating:   []string{"review_score", "rating", "score"},
		author:   []string{"guest_name", "author", "reviewer_name"},
		text:     []string{"liked", "review_text", "positive", "text"},
		date:     []string{"review_date", "date"},
		url:      []string{"review_url", "url"},
		tenScale: true,
		dayFirst: true,
	},
	model.PlatformTrustpilot: {
		title:  []string{"review_title", "title"},
		rating: []string{"review_rating", "rating", "stars"},
		author: []string{"consumer_name", "author", "reviewer"},
		text:   []string{"review_text", "text", "body"},
		date:   []string{"review_date", "published_date", "date"},
		url:    []string{"review_url", "url"},
	},
	model.PlatformFacebook: {
		title:  []string{"title"},
		rating: []string{"rating", "recommendation_score"},
		author: []string{"user_name", "author", "name"},
		text:   []string{"text", "review_text", "post_text"},
		date:   []string{"date", "created_time", "time"},
		url:    []string{"url", "post_url"},
	},
}

// MapReview extracts a canonical review record from a raw payload. Returns
// false when the payload is empty or the platform is unknown.
func MapReview(platform model.Platform, raw RawPayload) (NormalizedReview, bool) {
	fields, ok := platformFields[platform]
	if !ok || len(raw) == 0 {
		return NormalizedReview{}, false
	}

	rec := NormalizedReview{
		Title:  SanitizeText(firstString(raw, fields.title)),
		Author: SanitizeText(firstString(raw, fields.author)),
		Text:   SanitizeText(firstString(raw, fields.text)),
		URL:    firstString(raw, fields.url),
		Rating: mapRating(firstNumber(raw, fields.rating), fields.tenScale),
	}

	if rawDate := firstString(raw, fields.date); rawDate != "" {
		rec.ReviewDate = ParseReviewDate(rawDate, fields.dayFirst)
	}

	return rec, true
}

// mapRating normalizes a raw rating to the 1-5 scale.
func mapRating(raw float64, tenScale bool) int {
	if raw <= 0 {
		return 1
	}

	r := int(math.Floor(raw))
	if tenScale && r > 1 {
		r = r / 2
	}

	if r < 1 {
		r = 1
	}
	if r > 5 {
		r = 5
	}
	return r
}

// firstString returns the first present, non-empty candidate value as a string.
func firstString(raw RawPayload, keys []string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if s := asString(v); s != "" {
			return s
		}
	}
	return ""
}

// firstNumber returns the first present candidate value as a float, or 0.
func firstNumber(raw RawPayload, keys []string) float64 {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case int64:
			return float64(n)
		case string:
			if f, err := strconv.ParseFloat(n, 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		if s == math.Trunc(s) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	}
	return ""
}
