package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"briefline/internal/domain"
)

// Config models the brand strategy document (briefline.yml).
type Config struct {
	Brands   map[string]BrandStrategy `yaml:"brands" json:"brands"`
	Defaults struct {
		Rules RuleSet `yaml:"rules" json:"rules"`
	} `yaml:"defaults" json:"defaults"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

// BrandStrategy carries everything the scorer and policy engine know about a brand.
type BrandStrategy struct {
	Name      string   `yaml:"name" json:"name,omitempty"`
	Strategy  string   `yaml:"strategy" json:"strategy,omitempty"`
	Alignment Keywords `yaml:"alignment" json:"alignment"`
	Rules     *RuleSet `yaml:"rules" json:"rules,omitempty"`
}

// Keywords maps lower-case keywords to score weights.
type Keywords struct {
	Positive map[string]int `yaml:"positive" json:"positive,omitempty"`
	Negative map[string]int `yaml:"negative" json:"negative,omitempty"`
}

// RuleSet holds the thresholds of the policy rules. Zero values fall back to defaults.
type RuleSet struct {
	CostLimits         map[string]float64 `yaml:"cost_limits" json:"cost_limits,omitempty"`
	MaxDiscountPercent map[string]float64 `yaml:"max_discount_percent" json:"max_discount_percent,omitempty"`
	ProhibitedClaims   []string           `yaml:"prohibited_claims" json:"prohibited_claims,omitempty"`
	MinAlignmentScore  int                `yaml:"min_alignment_score" json:"min_alignment_score,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"secret,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := c.Defaults.Rules.validate("defaults.rules"); err != nil {
		return err
	}
	for _, tier := range domain.Tiers {
		if _, ok := c.Defaults.Rules.CostLimits[tier]; !ok {
			return fmt.Errorf("defaults.rules.cost_limits.%s is required", tier)
		}
		if _, ok := c.Defaults.Rules.MaxDiscountPercent[tier]; !ok {
			return fmt.Errorf("defaults.rules.max_discount_percent.%s is required", tier)
		}
	}
	for id, b := range c.Brands {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("brands contains empty brand id")
		}
		for kw, w := range b.Alignment.Positive {
			if kw == "" || kw != strings.ToLower(kw) {
				return fmt.Errorf("brand %s: positive keyword %q must be non-empty lower case", id, kw)
			}
			if w <= 0 {
				return fmt.Errorf("brand %s: positive keyword %q must have a weight > 0", id, kw)
			}
		}
		for kw, w := range b.Alignment.Negative {
			if kw == "" || kw != strings.ToLower(kw) {
				return fmt.Errorf("brand %s: negative keyword %q must be non-empty lower case", id, kw)
			}
			if w >= 0 {
				return fmt.Errorf("brand %s: negative keyword %q must have a weight < 0", id, kw)
			}
		}
		if b.Rules != nil {
			if err := b.Rules.validate("brands." + id + ".rules"); err != nil {
				return err
			}
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

func (r RuleSet) validate(path string) error {
	for tier, limit := range r.CostLimits {
		if !domain.Contains(domain.Tiers, tier) {
			return fmt.Errorf("%s.cost_limits: unknown tier %s", path, tier)
		}
		if limit < 0 {
			return fmt.Errorf("%s.cost_limits.%s must be >= 0", path, tier)
		}
	}
	for tier, pct := range r.MaxDiscountPercent {
		if !domain.Contains(domain.Tiers, tier) {
			return fmt.Errorf("%s.max_discount_percent: unknown tier %s", path, tier)
		}
		if pct < 0 || pct > 100 {
			return fmt.Errorf("%s.max_discount_percent.%s must be within 0..100", path, tier)
		}
	}
	for _, claim := range r.ProhibitedClaims {
		if strings.TrimSpace(claim) == "" {
			return fmt.Errorf("%s.prohibited_claims contains an empty entry", path)
		}
	}
	if r.MinAlignmentScore < 0 || r.MinAlignmentScore > 100 {
		return fmt.Errorf("%s.min_alignment_score must be within 0..100", path)
	}
	return nil
}

// Brand returns the strategy for a brand, if one is configured.
func (c *Config) Brand(id string) (BrandStrategy, bool) {
	if c == nil {
		return BrandStrategy{}, false
	}
	b, ok := c.Brands[id]
	return b, ok
}

// RulesFor merges a brand's rule overrides over the defaults.
func (c *Config) RulesFor(brandID string) RuleSet {
	if c == nil {
		return RuleSet{}
	}
	out := c.Defaults.Rules
	b, ok := c.Brands[brandID]
	if !ok || b.Rules == nil {
		return out
	}
	if len(b.Rules.CostLimits) > 0 {
		out.CostLimits = mergeTiers(out.CostLimits, b.Rules.CostLimits)
	}
	if len(b.Rules.MaxDiscountPercent) > 0 {
		out.MaxDiscountPercent = mergeTiers(out.MaxDiscountPercent, b.Rules.MaxDiscountPercent)
	}
	if len(b.Rules.ProhibitedClaims) > 0 {
		out.ProhibitedClaims = append(append([]string{}, out.ProhibitedClaims...), b.Rules.ProhibitedClaims...)
	}
	if b.Rules.MinAlignmentScore > 0 {
		out.MinAlignmentScore = b.Rules.MinAlignmentScore
	}
	return out
}

func mergeTiers(base, over map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// DefaultYAML returns the built-in configuration document.
func DefaultYAML() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `defaults:
  rules:
    cost_limits:
      standard: 5000
      flagship: 15000
      vip: 25000
    max_discount_percent:
      standard: 30
      flagship: 20
      vip: 15
    prohibited_claims:
      - guaranteed weight loss
      - guaranteed results
      - miracle
      - lose 10kg
      - free forever
    min_alignment_score: 40

brands:
  harmony:
    name: Harmony Clubs
    strategy: |
      Harmony grows by keeping members, not by buying them. Campaigns should
      deepen loyalty through wellness, mind-body classes and community, and
      avoid price-led acquisition pushes.
    alignment:
      positive:
        yoga: 15
        retention: 12
        wellness: 10
        mindfulness: 10
        pilates: 8
        loyal: 8
        community: 8
        member: 6
        recovery: 6
      negative:
        acquisition: -15
        black friday: -15
        discount: -12
        flash sale: -12
        hiit: -8
        promo: -6
        sale: -5
        cheap: -3
    rules:
      max_discount_percent:
        flagship: 15
        vip: 10
      min_alignment_score: 45
`
