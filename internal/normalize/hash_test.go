package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseProjection() Projection {
	return Projection{
		Author:     "Mario",
		BusinessID: "biz-1",
		LocationID: "loc-1",
		Rating:     5,
		ReviewDate: "2024-01-15",
		Text:       "Ottimo",
		URL:        "",
		Source:     "google",
		Title:      "",
	}
}

func TestContentHash_Deterministic(t *testing.T) {
	h1 := ContentHash(baseProjection())
	h2 := ContentHash(baseProjection())
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestContentHash_ChangesWithCanonicalFields(t *testing.T) {
	base := ContentHash(baseProjection())

	mutations := map[string]func(*Projection){
		"author":   func(p *Projection) { p.Author = "Luigi" },
		"business": func(p *Projection) { p.BusinessID = "biz-2" },
		"location": func(p *Projection) { p.LocationID = "loc-2" },
		"rating":   func(p *Projection) { p.Rating = 4 },
		"date":     func(p *Projection) { p.ReviewDate = "2024-01-16" },
		"text":     func(p *Projection) { p.Text = "Pessimo" },
		"url":      func(p *Projection) { p.URL = "https://example.com" },
		"source":   func(p *Projection) { p.Source = "tripadvisor" },
		"title":    func(p *Projection) { p.Title = "Great" },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			p := baseProjection()
			mutate(&p)
			assert.NotEqual(t, base, ContentHash(p))
		})
	}
}

func TestContentHash_NoFieldBleed(t *testing.T) {
	// Adjacent fields must not be confusable: moving a suffix of one field
	// to the prefix of the next has to change the digest.
	a := baseProjection()
	a.Author = "MarioX"
	b := baseProjection()
	b.Author = "Mario"
	b.BusinessID = "Xbiz-1"
	assert.NotEqual(t, ContentHash(a), ContentHash(b))
}
