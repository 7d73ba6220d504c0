// Package policy evaluates a brief snapshot against the business rule set.
//
// Check is a pure function of its input: the same Snapshot always yields the
// same Result, so it can back live form feedback as well as the approval path.
package policy

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"briefline/internal/alignment"
	"briefline/internal/config"
	"briefline/internal/domain"
)

const (
	SeverityError   = "error"
	SeverityWarning = "warning"

	EscalationException  = "EXCEPTION"
	EscalationEscalation = "ESCALATION"
)

// Custom field keys the rules read.
const (
	FieldOfferType       = "offer_type"
	FieldDiscountPercent = "discount_percent"
	FieldLegalCopy       = "legal_copy"
)

type effect int

const (
	effectReject effect = iota
	effectBlock
	effectException
	effectEscalation
	effectAdvisory
)

// Snapshot is everything the rules need to know about a brief.
type Snapshot struct {
	BriefID                string         `json:"brief_id,omitempty"`
	BrandID                string         `json:"brand_id"`
	Title                  string         `json:"title"`
	Context                string         `json:"context"`
	Objective              string         `json:"objective"`
	KPITarget              *float64       `json:"kpi_target,omitempty"`
	CustomFields           map[string]any `json:"custom_fields,omitempty"`
	ClubTier               string         `json:"club_tier"`
	ClubHasContext         bool           `json:"club_has_context"`
	EstimatedCost          float64        `json:"estimated_cost"`
	Crisis                 bool           `json:"crisis"`
	TemplateCategory       string         `json:"template_category,omitempty"`
	TemplateRequiredFields []string       `json:"template_required_fields,omitempty"`
	TemplateSLADays        int            `json:"template_sla_days"`
	TemplatePriority       string         `json:"template_priority,omitempty"`
	Deadline               time.Time      `json:"deadline"`
	Now                    time.Time      `json:"now"`
}

// RuleResult is the outcome of one rule.
type RuleResult struct {
	ID       string `json:"id"`
	Message  string `json:"message"`
	Passed   bool   `json:"passed"`
	Severity string `json:"severity" enum:"error,warning"`
}

// EscalationDetail explains one reason a decision goes to an owner.
type EscalationDetail struct {
	Type   string `json:"type" enum:"EXCEPTION,ESCALATION"`
	Reason string `json:"reason"`
}

// Result is the composite policy decision for a snapshot.
type Result struct {
	Rules                 []RuleResult       `json:"rules"`
	AutoRejectReasons     []string           `json:"auto_reject_reasons"`
	RequiresOwnerApproval bool               `json:"requires_owner_approval"`
	OwnerApprovalReasons  []string           `json:"owner_approval_reasons"`
	EscalationType        string             `json:"escalation_type,omitempty"`
	EscalationDetail      []EscalationDetail `json:"escalation_detail"`
	CanAutoApprove        bool               `json:"can_auto_approve"`
	Warnings              []string           `json:"warnings"`
	SuggestedPriority     string             `json:"suggested_priority"`
	SuggestedSLA          int                `json:"suggested_sla"`
	Alignment             alignment.Result   `json:"alignment"`
}

type evaluation struct {
	passed bool
	msg    string
}

type rule struct {
	id       string
	severity string
	effect   effect
	eval     func(in *input) evaluation
}

type input struct {
	Snapshot
	rules     config.RuleSet
	alignment alignment.Result
	text      string
}

// rules is the fixed, ordered rule set.
var rules = []rule{
	{"deadline_future", SeverityError, effectReject, checkDeadline},
	{"prohibited_claims", SeverityError, effectReject, checkProhibitedClaims},
	{"legal_copy", SeverityError, effectReject, checkLegalCopy},
	{"required_fields", SeverityError, effectBlock, checkRequiredFields},
	{"cost_limit", SeverityError, effectException, checkCost},
	{"discount_threshold", SeverityError, effectException, checkDiscount},
	{"crisis_review", SeverityError, effectEscalation, checkCrisis},
	{"club_context", SeverityError, effectEscalation, checkClubContext},
	{"alignment", SeverityWarning, effectAdvisory, checkAlignment},
	{"lead_time", SeverityWarning, effectAdvisory, checkLeadTime},
	{"kpi_target", SeverityWarning, effectAdvisory, checkKPITarget},
}

// RuleCount is the size of the rule set; every Result reports exactly this many rules.
func RuleCount() int { return len(rules) }

// Engine evaluates snapshots against the configured brand rules.
type Engine struct {
	Config *config.Config
}

// Check evaluates every rule against the snapshot.
func (e Engine) Check(s Snapshot) Result {
	in := &input{
		Snapshot:  s,
		rules:     e.Config.RulesFor(s.BrandID),
		alignment: alignment.Scorer{Config: e.Config}.Score(s.BrandID, s.Title, s.Context),
		text:      strings.ToLower(s.Title + " " + s.Context),
	}
	res := Result{
		Rules:                make([]RuleResult, 0, len(rules)),
		AutoRejectReasons:    []string{},
		OwnerApprovalReasons: []string{},
		EscalationDetail:     []EscalationDetail{},
		Warnings:             []string{},
		Alignment:            in.alignment,
	}
	var blocking, exception bool
	for _, r := range rules {
		ev := r.eval(in)
		res.Rules = append(res.Rules, RuleResult{ID: r.id, Message: ev.msg, Passed: ev.passed, Severity: r.severity})
		if ev.passed {
			continue
		}
		switch r.effect {
		case effectReject:
			res.AutoRejectReasons = append(res.AutoRejectReasons, ev.msg)
		case effectBlock:
			blocking = true
		case effectException:
			exception = true
			res.OwnerApprovalReasons = append(res.OwnerApprovalReasons, ev.msg)
			res.EscalationDetail = append(res.EscalationDetail, EscalationDetail{Type: EscalationException, Reason: ev.msg})
		case effectEscalation:
			res.OwnerApprovalReasons = append(res.OwnerApprovalReasons, ev.msg)
			res.EscalationDetail = append(res.EscalationDetail, EscalationDetail{Type: EscalationEscalation, Reason: ev.msg})
		case effectAdvisory:
			res.Warnings = append(res.Warnings, ev.msg)
		}
	}
	res.RequiresOwnerApproval = len(res.EscalationDetail) > 0
	switch {
	case exception:
		res.EscalationType = EscalationException
	case res.RequiresOwnerApproval:
		res.EscalationType = EscalationEscalation
	}
	res.CanAutoApprove = len(res.AutoRejectReasons) == 0 && !res.RequiresOwnerApproval && !blocking
	res.SuggestedPriority = suggestPriority(s)
	res.SuggestedSLA = suggestSLA(s, res.SuggestedPriority)
	return res
}

func checkDeadline(in *input) evaluation {
	if in.Deadline.IsZero() {
		return evaluation{false, "Deadline is missing"}
	}
	if in.Deadline.Before(in.Now) {
		return evaluation{false, fmt.Sprintf("Deadline %s is in the past", in.Deadline.Format("2006-01-02"))}
	}
	return evaluation{true, "Deadline is in the future"}
}

func checkProhibitedClaims(in *input) evaluation {
	var found []string
	for _, claim := range in.rules.ProhibitedClaims {
		if strings.Contains(in.text, strings.ToLower(claim)) {
			found = append(found, claim)
		}
	}
	if len(found) > 0 {
		return evaluation{false, fmt.Sprintf("Contains prohibited claims: %s", strings.Join(found, ", "))}
	}
	return evaluation{true, "No prohibited claims"}
}

func checkLegalCopy(in *input) evaluation {
	discount, _ := numberField(in.CustomFields, FieldDiscountPercent)
	regulated := stringField(in.CustomFields, FieldOfferType) != "" || discount > 0
	if !regulated {
		return evaluation{true, "No regulated offer; legal copy not required"}
	}
	if stringField(in.CustomFields, FieldLegalCopy) == "" {
		return evaluation{false, "Regulated offer is missing mandatory legal copy"}
	}
	return evaluation{true, "Legal copy provided for regulated offer"}
}

func checkRequiredFields(in *input) evaluation {
	var missing []string
	for _, key := range in.TemplateRequiredFields {
		if !fieldPresent(in.CustomFields, key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return evaluation{false, fmt.Sprintf("Missing required fields: %s", strings.Join(missing, ", "))}
	}
	return evaluation{true, "All required template fields present"}
}

func checkCost(in *input) evaluation {
	limit, ok := in.rules.CostLimits[in.ClubTier]
	if !ok {
		limit = in.rules.CostLimits[domain.TierStandard]
	}
	if in.EstimatedCost > limit {
		return evaluation{false, fmt.Sprintf("Estimated cost %s exceeds the %s limit of %s", money(in.EstimatedCost), tierName(in.ClubTier), money(limit))}
	}
	return evaluation{true, fmt.Sprintf("Estimated cost within the %s limit", tierName(in.ClubTier))}
}

func checkDiscount(in *input) evaluation {
	discount, ok := numberField(in.CustomFields, FieldDiscountPercent)
	if !ok || discount <= 0 {
		return evaluation{true, "No discount offered"}
	}
	limit, found := in.rules.MaxDiscountPercent[in.ClubTier]
	if !found {
		limit = in.rules.MaxDiscountPercent[domain.TierStandard]
	}
	if discount > limit {
		return evaluation{false, fmt.Sprintf("Discount %g%% exceeds the %g%% maximum for %s clubs", discount, limit, tierName(in.ClubTier))}
	}
	return evaluation{true, fmt.Sprintf("Discount within the %g%% maximum", limit)}
}

func checkCrisis(in *input) evaluation {
	if in.Crisis {
		return evaluation{false, "Crisis communication must be reviewed by the brand owner"}
	}
	return evaluation{true, "Not a crisis communication"}
}

func checkClubContext(in *input) evaluation {
	if !in.ClubHasContext {
		return evaluation{false, "Club local context is missing; alignment cannot be judged"}
	}
	return evaluation{true, "Club local context available"}
}

func checkAlignment(in *input) evaluation {
	if !in.alignment.Applicable {
		return evaluation{true, "Alignment scoring not applicable for this brand"}
	}
	if in.alignment.Score < in.rules.MinAlignmentScore {
		return evaluation{false, fmt.Sprintf("Low brand alignment score %d (%s)", in.alignment.Score, in.alignment.Label)}
	}
	return evaluation{true, fmt.Sprintf("Brand alignment score %d (%s)", in.alignment.Score, in.alignment.Label)}
}

func checkLeadTime(in *input) evaluation {
	if in.Deadline.IsZero() || in.Deadline.Before(in.Now) {
		return evaluation{true, "Lead time checked by the deadline rule"}
	}
	sla := slaDays(in.Snapshot)
	if withinWindow(in.Snapshot, sla) {
		return evaluation{false, fmt.Sprintf("Tight deadline: fewer than %d days of lead time", sla)}
	}
	return evaluation{true, "Enough lead time for the template SLA"}
}

func checkKPITarget(in *input) evaluation {
	if in.Objective == "awareness" {
		return evaluation{true, "KPI target optional for awareness objectives"}
	}
	if in.KPITarget == nil {
		return evaluation{false, "No numeric KPI target set"}
	}
	return evaluation{true, "KPI target set"}
}

func suggestPriority(s Snapshot) string {
	if s.Crisis {
		return domain.PriorityCritical
	}
	rank := domain.PriorityRank(s.TemplatePriority)
	if s.ClubTier == domain.TierFlagship || s.ClubTier == domain.TierVIP {
		if high := domain.PriorityRank(domain.PriorityHigh); rank < high {
			rank = high
		}
	}
	if !s.Deadline.IsZero() && !s.Deadline.Before(s.Now) && withinWindow(s, slaDays(s)) {
		rank++
	}
	if rank >= len(domain.Priorities) {
		rank = len(domain.Priorities) - 1
	}
	return domain.Priorities[rank]
}

func suggestSLA(s Snapshot, priority string) int {
	sla := slaDays(s)
	if priority == domain.PriorityCritical {
		sla = int(math.Ceil(float64(sla) / 2))
	}
	if !s.Deadline.IsZero() && withinWindow(s, slaDays(s)) {
		if left := daysLeft(s); left < sla {
			sla = left
		}
	}
	if sla < 1 {
		sla = 1
	}
	return sla
}

func slaDays(s Snapshot) int {
	if s.TemplateSLADays < 1 {
		return 1
	}
	return s.TemplateSLADays
}

// withinWindow reports whether the deadline falls before Now plus sla days.
func withinWindow(s Snapshot, sla int) bool {
	return s.Deadline.Before(s.Now.Add(time.Duration(sla) * 24 * time.Hour))
}

// daysLeft is the whole number of days between Now and the deadline.
func daysLeft(s Snapshot) int {
	d := s.Deadline.Sub(s.Now)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

func fieldPresent(fields map[string]any, key string) bool {
	v, ok := fields[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return strings.TrimSpace(s)
}

func numberField(fields map[string]any, key string) (float64, bool) {
	v, ok := fields[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		return f, err == nil
	}
	return 0, false
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func tierName(tier string) string {
	if tier == "" {
		return domain.TierStandard
	}
	return tier
}
