package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/reviewforge/reviews-cli/internal/model"
)

const defaultMaxTokens = 1024

const reviewSystemPrompt = `You analyze customer reviews for businesses in the %q sector.
Respond with a single JSON object and nothing else:
{"sentiment":"positive|neutral|negative",
 "topics":[{"topic":"...","category":"...","score":1-5}],
 "categories":["..."],
 "translated_title":"english title if the original is not english, else omit",
 "translated_text":"english text if the original is not english, else omit"}
Use only these categories: %s.`

const swotSystemPrompt = `You produce a SWOT analysis of a business location from its customer reviews.
Respond with a single JSON object and nothing else:
{"strengths":["..."],"weaknesses":["..."],"opportunities":["..."],"threats":["..."]}`

// buildReviewPrompt renders one review into an analysis prompt.
func buildReviewPrompt(sector string, categories []string, r *model.Review) (system, prompt string) {
	system = fmt.Sprintf(reviewSystemPrompt, sector, strings.Join(categories, ", "))
	var b strings.Builder
	if r.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", r.Title)
	}
	fmt.Fprintf(&b, "Rating: %d/5\n", r.Rating)
	if r.Text != "" {
		fmt.Fprintf(&b, "Review: %s\n", r.Text)
	}
	return system, b.String()
}

// buildSWOTPrompt renders a location's review corpus into one SWOT prompt.
func buildSWOTPrompt(locationName string, texts []string) (system, prompt string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Location: %s\n\nReviews:\n", locationName)
	for _, t := range texts {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	return swotSystemPrompt, b.String()
}

// parseResult decodes a model response into an AnalysisResult. Models wrap
// JSON in markdown fences often enough that stripping them first is cheaper
// than a retry.
func parseResult(raw string) (*model.AnalysisResult, error) {
	var res model.AnalysisResult
	if err := unmarshalModelJSON(raw, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func unmarshalModelJSON(raw string, out any) error {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```JSON")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if err := json.Unmarshal([]byte(cleaned), out); err == nil {
		return nil
	}

	// Salvage the outermost object from surrounding prose.
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), out); err == nil {
			return nil
		}
	}

	return eris.New("analysis: response is not valid JSON")
}
