package alignment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"briefline/internal/config"
)

func newScorer() Scorer {
	return Scorer{Config: config.Default()}
}

func TestScoreHighForRetentionCampaign(t *testing.T) {
	res := newScorer().Score("harmony", "Yoga retention campaign", "Yoga retention campaign for loyal members")
	require.True(t, res.Applicable)
	assert.GreaterOrEqual(t, res.Score, 80)
	assert.Equal(t, "high", res.Label)
	assert.NotEmpty(t, res.Description)
}

func TestScoreLowForDiscountAcquisition(t *testing.T) {
	res := newScorer().Score("harmony", "", "Black Friday -50% acquisition flash sale")
	require.True(t, res.Applicable)
	assert.LessOrEqual(t, res.Score, 20)
	assert.Contains(t, []string{"low", "very low"}, res.Label)
}

func TestScoreNotApplicable(t *testing.T) {
	res := newScorer().Score("unknown", "Yoga", "retention")
	assert.False(t, res.Applicable)
	assert.Empty(t, res.Label)

	cfg := config.Default()
	b := cfg.Brands["harmony"]
	b.Strategy = "  "
	cfg.Brands["nostrategy"] = b
	res = Scorer{Config: cfg}.Score("nostrategy", "Yoga", "retention")
	assert.False(t, res.Applicable, "keywords without a strategy document do not score")
}

func TestScoreCountsKeywordOnce(t *testing.T) {
	s := newScorer()
	once := s.Score("harmony", "", "yoga")
	many := s.Score("harmony", "", "yoga yoga YOGA yoga")
	assert.Equal(t, once.Score, many.Score)
	assert.Equal(t, 65, once.Score)
}

func TestScoreIsClamped(t *testing.T) {
	s := newScorer()
	high := s.Score("harmony", "yoga retention wellness mindfulness pilates", "loyal community member recovery")
	assert.Equal(t, 100, high.Score)
	low := s.Score("harmony", "acquisition black friday discount flash sale", "hiit promo cheap")
	assert.Equal(t, 0, low.Score)
	assert.Equal(t, "very low", low.Label)
}

func TestScoreWithinBoundsForArbitraryText(t *testing.T) {
	s := newScorer()
	texts := []string{"", "hello", strings.Repeat("discount ", 50), "Yoga & HIIT", "WELLNESS retention sale"}
	for _, txt := range texts {
		res := s.Score("harmony", txt, txt)
		assert.True(t, res.Applicable)
		assert.GreaterOrEqual(t, res.Score, 0)
		assert.LessOrEqual(t, res.Score, 100)
	}
}

func TestMatchesAreSorted(t *testing.T) {
	res := newScorer().Score("harmony", "Wellness", "yoga sale")
	require.Len(t, res.Matches, 3)
	assert.Equal(t, "sale", res.Matches[0].Keyword)
	assert.Equal(t, "wellness", res.Matches[1].Keyword)
	assert.Equal(t, "yoga", res.Matches[2].Keyword)
}

func TestLabelBands(t *testing.T) {
	cases := map[int]string{100: "high", 80: "high", 79: "good", 60: "good", 59: "medium", 40: "medium", 39: "low", 20: "low", 19: "very low", 0: "very low"}
	for score, want := range cases {
		got, _ := Label(score)
		assert.Equal(t, want, got, "score %d", score)
	}
}
