package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewforge/reviews-cli/internal/model"
)

func TestMapReview_GoogleExample(t *testing.T) {
	raw := RawPayload{
		"text":         "Ottimo",
		"rating":       float64(5),
		"time":         "2024-01-15",
		"profile_name": "Mario",
	}

	rec, ok := MapReview(model.PlatformGoogle, raw)
	require.True(t, ok)

	assert.Equal(t, "", rec.Title)
	assert.Equal(t, 5, rec.Rating)
	assert.Equal(t, "Mario", rec.Author)
	assert.Equal(t, "Ottimo", rec.Text)
	assert.Equal(t, "", rec.URL)
	require.NotNil(t, rec.ReviewDate)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), *rec.ReviewDate)
}

func TestMapReview_EmptyPayload(t *testing.T) {
	_, ok := MapReview(model.PlatformGoogle, RawPayload{})
	assert.False(t, ok)
}

func TestMapReview_UnknownPlatform(t *testing.T) {
	_, ok := MapReview(model.Platform("myspace"), RawPayload{"text": "hi"})
	assert.False(t, ok)
}

func TestMapReview_CandidateKeyOrder(t *testing.T) {
	// "profile_name" outranks "author_name"; the first present, non-empty
	// value wins.
	raw := RawPayload{
		"profile_name": "Mario",
		"author_name":  "Luigi",
		"text":         "ok",
	}
	rec, ok := MapReview(model.PlatformGoogle, raw)
	require.True(t, ok)
	assert.Equal(t, "Mario", rec.Author)

	// Empty first candidate falls through to the next.
	raw["profile_name"] = ""
	rec, ok = MapReview(model.PlatformGoogle, raw)
	require.True(t, ok)
	assert.Equal(t, "Luigi", rec.Author)
}

func TestMapReview_MissingFieldsDefault(t *testing.T) {
	rec, ok := MapReview(model.PlatformGoogle, RawPayload{"text": "just text"})
	require.True(t, ok)
	assert.Equal(t, "", rec.Title)
	assert.Equal(t, "", rec.Author)
	assert.Equal(t, 1, rec.Rating)
	assert.Nil(t, rec.ReviewDate)
}

func TestMapRating(t *testing.T) {
	tests := []struct {
		name     string
		raw      float64
		tenScale bool
		want     int
	}{
		{name: "five stars", raw: 5, want: 5},
		{name: "zero clamps to one", raw: 0, want: 1},
		{name: "negative clamps to one", raw: -3, want: 1},
		{name: "fraction floors", raw: 4.7, want: 4},
		{name: "over five caps", raw: 9, want: 5},
		{name: "ten scale halves", raw: 8, tenScale: true, want: 4},
		{name: "ten scale ten", raw: 10, tenScale: true, want: 5},
		{name: "ten scale one floors not divides", raw: 1, tenScale: true, want: 1},
		{name: "ten scale three", raw: 3, tenScale: true, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mapRating(tt.raw, tt.tenScale))
		})
	}
}

func TestMapReview_SanitizesText(t *testing.T) {
	raw := RawPayload{
		"text":         "bad\x00chars\x01here\nbut newlines\tand tabs stay",
		"profile_name": "Ma\x02rio",
	}
	rec, ok := MapReview(model.PlatformGoogle, raw)
	require.True(t, ok)
	assert.Equal(t, "badcharshere\nbut newlines\tand tabs stay", rec.Text)
	assert.Equal(t, "Mario", rec.Author)
}

func TestMapReview_EpochDate(t *testing.T) {
	raw := RawPayload{
		"text": "ok",
		"time": float64(1705276800), // 2024-01-15 UTC
	}
	rec, ok := MapReview(model.PlatformGoogle, raw)
	require.True(t, ok)
	require.NotNil(t, rec.ReviewDate)
	assert.Equal(t, "2024-01-15", rec.ReviewDate.Format("2006-01-02"))
}
