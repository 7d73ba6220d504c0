package policy

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"briefline/internal/config"
	"briefline/internal/domain"
)

var now = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

func float(v float64) *float64 { return &v }

// cleanSnapshot passes every rule.
func cleanSnapshot() Snapshot {
	return Snapshot{
		BriefID:                "b1",
		BrandID:                "harmony",
		Title:                  "Spring yoga week",
		Context:                "Yoga retention campaign for loyal members",
		Objective:              "retention",
		KPITarget:              float(120),
		CustomFields:           map[string]any{"channel": "email"},
		ClubTier:               domain.TierStandard,
		ClubHasContext:         true,
		EstimatedCost:          1200,
		TemplateRequiredFields: []string{"channel"},
		TemplateSLADays:        10,
		TemplatePriority:       domain.PriorityMedium,
		Deadline:               now.Add(30 * 24 * time.Hour),
		Now:                    now,
	}
}

func newEngine() Engine {
	return Engine{Config: config.Default()}
}

func ruleByID(t *testing.T, res Result, id string) RuleResult {
	t.Helper()
	for _, r := range res.Rules {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("rule %s not reported", id)
	return RuleResult{}
}

func TestCleanBriefCanAutoApprove(t *testing.T) {
	res := newEngine().Check(cleanSnapshot())
	require.Len(t, res.Rules, RuleCount())
	for _, r := range res.Rules {
		assert.True(t, r.Passed, "rule %s: %s", r.ID, r.Message)
	}
	assert.True(t, res.CanAutoApprove)
	assert.False(t, res.RequiresOwnerApproval)
	assert.Empty(t, res.EscalationType)
	assert.Empty(t, res.AutoRejectReasons)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, domain.PriorityMedium, res.SuggestedPriority)
	assert.Equal(t, 10, res.SuggestedSLA)
	assert.True(t, res.Alignment.Applicable)
	assert.Equal(t, "high", res.Alignment.Label)
}

func TestCheckIsIdempotent(t *testing.T) {
	e := newEngine()
	s := cleanSnapshot()
	s.Crisis = true
	s.CustomFields["discount_percent"] = 40
	first := e.Check(s)
	second := e.Check(s)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("policy result changed between calls (-first +second):\n%s", diff)
	}
}

func TestRuleCountIsFixed(t *testing.T) {
	e := newEngine()
	snapshots := []Snapshot{cleanSnapshot(), {}, {Crisis: true, Deadline: now.Add(-time.Hour), Now: now}}
	for _, s := range snapshots {
		assert.Len(t, e.Check(s).Rules, RuleCount())
	}
	assert.Equal(t, 11, RuleCount())
}

func TestPastDeadlineAutoRejects(t *testing.T) {
	s := cleanSnapshot()
	s.Deadline = now.Add(-48 * time.Hour)
	res := newEngine().Check(s)
	assert.False(t, ruleByID(t, res, "deadline_future").Passed)
	require.Len(t, res.AutoRejectReasons, 1)
	assert.Contains(t, res.AutoRejectReasons[0], "in the past")
	assert.False(t, res.CanAutoApprove)
	assert.True(t, ruleByID(t, res, "lead_time").Passed, "lead time defers to the deadline rule")
}

func TestProhibitedClaimsAutoReject(t *testing.T) {
	s := cleanSnapshot()
	s.Context += " with Guaranteed Weight Loss"
	res := newEngine().Check(s)
	r := ruleByID(t, res, "prohibited_claims")
	assert.False(t, r.Passed)
	assert.Equal(t, SeverityError, r.Severity)
	assert.Contains(t, res.AutoRejectReasons, r.Message)
}

func TestRegulatedOfferNeedsLegalCopy(t *testing.T) {
	s := cleanSnapshot()
	s.CustomFields["offer_type"] = "membership discount"
	res := newEngine().Check(s)
	assert.False(t, ruleByID(t, res, "legal_copy").Passed)
	assert.Len(t, res.AutoRejectReasons, 1)

	s.CustomFields["legal_copy"] = "Offer valid for new 12-month contracts only."
	res = newEngine().Check(s)
	assert.True(t, ruleByID(t, res, "legal_copy").Passed)
	assert.Empty(t, res.AutoRejectReasons)
}

func TestMissingRequiredFieldsBlockAutoApprove(t *testing.T) {
	s := cleanSnapshot()
	s.CustomFields = map[string]any{"channel": "  "}
	res := newEngine().Check(s)
	r := ruleByID(t, res, "required_fields")
	assert.False(t, r.Passed)
	assert.Contains(t, r.Message, "channel")
	assert.Empty(t, res.AutoRejectReasons)
	assert.False(t, res.RequiresOwnerApproval)
	assert.False(t, res.CanAutoApprove)
}

func TestFlagshipDiscountIsException(t *testing.T) {
	s := cleanSnapshot()
	s.ClubTier = domain.TierFlagship
	s.CustomFields["discount_percent"] = 18.0
	s.CustomFields["legal_copy"] = "T&Cs apply."
	res := newEngine().Check(s)
	assert.False(t, ruleByID(t, res, "discount_threshold").Passed, "harmony caps flagship discounts at 15%")
	assert.True(t, res.RequiresOwnerApproval)
	assert.Equal(t, EscalationException, res.EscalationType)
	require.Len(t, res.EscalationDetail, 1)
	assert.Equal(t, EscalationException, res.EscalationDetail[0].Type)
	assert.False(t, res.CanAutoApprove)

	s.ClubTier = domain.TierStandard
	res = newEngine().Check(s)
	assert.True(t, ruleByID(t, res, "discount_threshold").Passed)
}

func TestCostOverLimitIsException(t *testing.T) {
	s := cleanSnapshot()
	s.EstimatedCost = 7500
	res := newEngine().Check(s)
	assert.False(t, ruleByID(t, res, "cost_limit").Passed)
	assert.Equal(t, EscalationException, res.EscalationType)

	s.ClubTier = domain.TierVIP
	res = newEngine().Check(s)
	assert.True(t, ruleByID(t, res, "cost_limit").Passed)
}

func TestMissingClubContextIsEscalation(t *testing.T) {
	s := cleanSnapshot()
	s.ClubHasContext = false
	res := newEngine().Check(s)
	assert.True(t, res.RequiresOwnerApproval)
	assert.Equal(t, EscalationEscalation, res.EscalationType)
	assert.Equal(t, []EscalationDetail{{Type: EscalationEscalation, Reason: ruleByID(t, res, "club_context").Message}}, res.EscalationDetail)
	assert.Equal(t, []string{ruleByID(t, res, "club_context").Message}, res.OwnerApprovalReasons)
}

func TestExceptionWinsOverEscalation(t *testing.T) {
	s := cleanSnapshot()
	s.ClubHasContext = false
	s.EstimatedCost = 99999
	res := newEngine().Check(s)
	assert.Equal(t, EscalationException, res.EscalationType)
	require.Len(t, res.EscalationDetail, 2)
	assert.Equal(t, EscalationException, res.EscalationDetail[0].Type)
	assert.Equal(t, EscalationEscalation, res.EscalationDetail[1].Type)
}

func TestCrisisForcesCriticalAndShortensSLA(t *testing.T) {
	s := cleanSnapshot()
	s.Crisis = true
	res := newEngine().Check(s)
	assert.Equal(t, domain.PriorityCritical, res.SuggestedPriority)
	assert.Equal(t, 5, res.SuggestedSLA)
	assert.True(t, res.RequiresOwnerApproval)
	assert.Equal(t, EscalationEscalation, res.EscalationType)
}

func TestLowAlignmentWarns(t *testing.T) {
	s := cleanSnapshot()
	s.Title = "Black Friday"
	s.Context = "Black Friday -50% acquisition flash sale"
	res := newEngine().Check(s)
	r := ruleByID(t, res, "alignment")
	assert.False(t, r.Passed)
	assert.Equal(t, SeverityWarning, r.Severity)
	assert.Contains(t, res.Warnings, r.Message)
	assert.True(t, res.CanAutoApprove, "warnings do not block auto-approval")
}

func TestAlignmentNotApplicablePasses(t *testing.T) {
	s := cleanSnapshot()
	s.BrandID = "other"
	res := newEngine().Check(s)
	assert.False(t, res.Alignment.Applicable)
	assert.True(t, ruleByID(t, res, "alignment").Passed)
}

func TestSuggestedPriority(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*Snapshot)
		priority string
		sla      int
	}{
		{"template default", func(s *Snapshot) {}, domain.PriorityMedium, 10},
		{"low template", func(s *Snapshot) { s.TemplatePriority = domain.PriorityLow }, domain.PriorityLow, 10},
		{"flagship floor", func(s *Snapshot) { s.ClubTier = domain.TierFlagship }, domain.PriorityHigh, 10},
		{"vip keeps critical template", func(s *Snapshot) {
			s.ClubTier = domain.TierVIP
			s.TemplatePriority = domain.PriorityCritical
		}, domain.PriorityCritical, 5},
		{"near deadline bumps", func(s *Snapshot) { s.Deadline = now.Add(4 * 24 * time.Hour) }, domain.PriorityHigh, 4},
		{"near deadline flagship", func(s *Snapshot) {
			s.ClubTier = domain.TierFlagship
			s.Deadline = now.Add(6*24*time.Hour + time.Hour)
		}, domain.PriorityCritical, 5},
		{"crisis", func(s *Snapshot) { s.Crisis = true }, domain.PriorityCritical, 5},
		{"deadline today floors sla", func(s *Snapshot) { s.Deadline = now.Add(3 * time.Hour) }, domain.PriorityHigh, 1},
		{"missing template sla", func(s *Snapshot) { s.TemplateSLADays = 0 }, domain.PriorityMedium, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := cleanSnapshot()
			tc.mutate(&s)
			res := newEngine().Check(s)
			assert.Equal(t, tc.priority, res.SuggestedPriority)
			assert.Equal(t, tc.sla, res.SuggestedSLA)
		})
	}
}

func TestTightDeadlineWarns(t *testing.T) {
	s := cleanSnapshot()
	s.Deadline = now.Add(3 * 24 * time.Hour)
	res := newEngine().Check(s)
	assert.False(t, ruleByID(t, res, "lead_time").Passed)
	assert.Len(t, res.Warnings, 1)
}

func TestKPITarget(t *testing.T) {
	s := cleanSnapshot()
	s.KPITarget = nil
	res := newEngine().Check(s)
	assert.False(t, ruleByID(t, res, "kpi_target").Passed)

	s.Objective = "awareness"
	res = newEngine().Check(s)
	assert.True(t, ruleByID(t, res, "kpi_target").Passed)
}

func TestCanAutoApproveMatchesSignals(t *testing.T) {
	e := newEngine()
	mutations := []func(*Snapshot){
		func(s *Snapshot) {},
		func(s *Snapshot) { s.Crisis = true },
		func(s *Snapshot) { s.Deadline = now.Add(-time.Hour) },
		func(s *Snapshot) { s.CustomFields = nil },
		func(s *Snapshot) { s.EstimatedCost = 1e6 },
		func(s *Snapshot) { s.KPITarget = nil },
		func(s *Snapshot) { s.ClubHasContext = false },
	}
	for i, m := range mutations {
		s := cleanSnapshot()
		m(&s)
		res := e.Check(s)
		fieldsOK := ruleByID(t, res, "required_fields").Passed
		want := len(res.AutoRejectReasons) == 0 && !res.RequiresOwnerApproval && fieldsOK
		assert.Equal(t, want, res.CanAutoApprove, "mutation %d", i)
	}
}
