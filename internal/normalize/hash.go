// Package normalize turns raw, platform-specific review payloads into
// canonical review records and computes the dedup content hash.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Projection is the canonical, ordered subset of review fields hashed for
// dedup. The serialization order is part of the storage contract: changing it
// changes every existing hash and silently disables dedup.
type Projection struct {
	Author     string
	BusinessID string
	LocationID string
	Rating     int
	ReviewDate string // YYYY-MM-DD, empty when unknown
	Text       string
	URL        string
	Source     string
	Title      string
}

// ContentHash returns the SHA-256 hex digest of the projection's
// deterministic serialization. One algorithm is used system-wide.
func ContentHash(p Projection) string {
	var b strings.Builder
	b.WriteString("author=")
	b.WriteString(p.Author)
	b.WriteString("|business=")
	b.WriteString(p.BusinessID)
	b.WriteString("|location=")
	b.WriteString(p.LocationID)
	b.WriteString("|rating=")
	b.WriteString(strconv.Itoa(p.Rating))
	b.WriteString("|date=")
	b.WriteString(p.ReviewDate)
	b.WriteString("|text=")
	b.WriteString(p.Text)
	b.WriteString("|url=")
	b.WriteString(p.URL)
	b.WriteString("|source=")
	b.WriteString(p.Source)
	b.WriteString("|title=")
	b.WriteString(p.Title)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
