package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	b, ok := cfg.Brand("harmony")
	require.True(t, ok)
	assert.NotEmpty(t, b.Strategy)
	assert.Equal(t, 15, b.Alignment.Positive["yoga"])
}

func TestRulesForMergesBrandOverrides(t *testing.T) {
	cfg := Default()

	harmony := cfg.RulesFor("harmony")
	assert.Equal(t, 15.0, harmony.MaxDiscountPercent["flagship"])
	assert.Equal(t, 30.0, harmony.MaxDiscountPercent["standard"], "unset tiers keep the default")
	assert.Equal(t, 45, harmony.MinAlignmentScore)
	assert.Equal(t, 15000.0, harmony.CostLimits["flagship"])

	other := cfg.RulesFor("unknown-brand")
	assert.Equal(t, 20.0, other.MaxDiscountPercent["flagship"])
	assert.Equal(t, 40, other.MinAlignmentScore)
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cases := map[string]string{
		"positive weight": `
defaults:
  rules:
    cost_limits: {standard: 1, flagship: 1, vip: 1}
    max_discount_percent: {standard: 1, flagship: 1, vip: 1}
brands:
  b1:
    alignment:
      positive: {yoga: -3}
`,
		"negative weight": `
defaults:
  rules:
    cost_limits: {standard: 1, flagship: 1, vip: 1}
    max_discount_percent: {standard: 1, flagship: 1, vip: 1}
brands:
  b1:
    alignment:
      negative: {sale: 4}
`,
		"upper case keyword": `
defaults:
  rules:
    cost_limits: {standard: 1, flagship: 1, vip: 1}
    max_discount_percent: {standard: 1, flagship: 1, vip: 1}
brands:
  b1:
    alignment:
      positive: {Yoga: 4}
`,
		"missing tier": `
defaults:
  rules:
    cost_limits: {standard: 1}
    max_discount_percent: {standard: 1, flagship: 1, vip: 1}
`,
		"unknown tier": `
defaults:
  rules:
    cost_limits: {standard: 1, flagship: 1, vip: 1, gold: 3}
    max_discount_percent: {standard: 1, flagship: 1, vip: 1}
`,
		"webhook url": `
defaults:
  rules:
    cost_limits: {standard: 1, flagship: 1, vip: 1}
    max_discount_percent: {standard: 1, flagship: 1, vip: 1}
webhooks:
  - events: [approval.recorded]
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "briefline.yml")
	require.NoError(t, os.WriteFile(path, []byte(DefaultYAML()), 0o644))
	cfg, err := FromFile(path)
	require.NoError(t, err)
	assert.Contains(t, cfg.Brands, "harmony")

	_, err = FromFile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
