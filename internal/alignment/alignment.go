// Package alignment scores how well a brief fits its brand's stated strategy.
package alignment

import (
	"sort"
	"strings"

	"briefline/internal/config"
)

const baseScore = 50

// Match is a keyword found in the brief text.
type Match struct {
	Keyword string `json:"keyword"`
	Weight  int    `json:"weight"`
}

// Result is the scorer output. When Applicable is false the brand has no
// strategy to score against and Score carries no meaning.
type Result struct {
	Applicable  bool    `json:"applicable"`
	Score       int     `json:"score"`
	Label       string  `json:"label,omitempty"`
	Description string  `json:"description,omitempty"`
	Matches     []Match `json:"matches,omitempty"`
}

type band struct {
	min         int
	label       string
	description string
}

var bands = []band{
	{80, "high", "Strong fit with the brand strategy"},
	{60, "good", "Fits the brand strategy with minor gaps"},
	{40, "medium", "Partial fit; review the angle against the strategy"},
	{20, "low", "Weak fit; the brief pulls against the strategy"},
	{0, "very low", "Conflicts with the brand strategy"},
}

// Label returns the qualitative label and description for a score.
func Label(score int) (string, string) {
	for _, b := range bands {
		if score >= b.min {
			return b.label, b.description
		}
	}
	last := bands[len(bands)-1]
	return last.label, last.description
}

// Scorer computes alignment against brand keyword tables.
type Scorer struct {
	Config *config.Config
}

// Score returns the alignment of title+context for the brand.
func (s Scorer) Score(brandID, title, context string) Result {
	brand, ok := s.Config.Brand(brandID)
	if !ok || strings.TrimSpace(brand.Strategy) == "" {
		return Result{}
	}
	if len(brand.Alignment.Positive)+len(brand.Alignment.Negative) == 0 {
		return Result{}
	}
	text := strings.ToLower(title + " " + context)
	score := baseScore
	var matches []Match
	for _, table := range []map[string]int{brand.Alignment.Positive, brand.Alignment.Negative} {
		for kw, weight := range table {
			// a keyword counts once however often it appears
			if strings.Contains(text, kw) {
				score += weight
				matches = append(matches, Match{Keyword: kw, Weight: weight})
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Keyword < matches[j].Keyword })
	score = clamp(score, 0, 100)
	label, desc := Label(score)
	return Result{
		Applicable:  true,
		Score:       score,
		Label:       label,
		Description: desc,
		Matches:     matches,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
