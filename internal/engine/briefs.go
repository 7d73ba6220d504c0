package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"briefline/internal/alignment"
	"briefline/internal/domain"
	"briefline/internal/engine/auth"
	"briefline/internal/errs"
	"briefline/internal/events"
	"briefline/internal/policy"
	"briefline/internal/repo"
)

// BriefInput is the authored content of a brief.
type BriefInput struct {
	ClubID        string
	TemplateID    string
	Title         string
	Context       string
	Objective     string
	KPI           string
	KPITarget     *float64
	Priority      string
	Deadline      time.Time
	StartDate     *time.Time
	EndDate       *time.Time
	CustomFields  map[string]any
	AssetLinks    []string
	EstimatedCost float64
	Crisis        bool
	ActorID       string
}

// CreateBrief stores a new draft.
func (e Engine) CreateBrief(ctx context.Context, in BriefInput) (domain.Brief, error) {
	actor, err := e.Actor(ctx, in.ActorID)
	if err != nil {
		return domain.Brief{}, err
	}
	if in.ClubID == "" || in.TemplateID == "" {
		fe := errs.FieldErrors{}
		if in.ClubID == "" {
			fe.Add("club_id", "required")
		}
		if in.TemplateID == "" {
			fe.Add("template_id", "required")
		}
		return domain.Brief{}, fe.Err("invalid brief")
	}
	if err := auth.Check(actor, auth.Resource{ClubID: in.ClubID}, auth.BriefCreate).Err(); err != nil {
		return domain.Brief{}, err
	}
	club, err := e.loadClub(ctx, nil, in.ClubID)
	if err != nil {
		return domain.Brief{}, err
	}
	tmpl, err := e.loadTemplate(ctx, nil, in.TemplateID)
	if err != nil {
		return domain.Brief{}, err
	}
	now := e.now()
	b := domain.Brief{
		ID:            uuid.NewString(),
		Title:         strings.TrimSpace(in.Title),
		Context:       strings.TrimSpace(in.Context),
		Objective:     in.Objective,
		KPI:           in.KPI,
		KPITarget:     in.KPITarget,
		Priority:      in.Priority,
		Status:        domain.BriefDraft,
		Deadline:      in.Deadline.UTC(),
		StartDate:     in.StartDate,
		EndDate:       in.EndDate,
		CustomFields:  in.CustomFields,
		AssetLinks:    in.AssetLinks,
		EstimatedCost: in.EstimatedCost,
		Crisis:        in.Crisis,
		ClubID:        club.ID,
		BrandID:       club.BrandID,
		TemplateID:    tmpl.ID,
		CreatedBy:     actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if b.Priority == "" {
		b.Priority = tmpl.DefaultPriority
	}
	if err := validateBrief(b, tmpl); err != nil {
		return domain.Brief{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Brief{}, err
	}
	defer tx.Rollback()
	if b.Code, err = e.Repo.NextBriefCode(ctx, tx, now.Year()); err != nil {
		return domain.Brief{}, err
	}
	if err := e.Repo.InsertBrief(ctx, tx, b); err != nil {
		return domain.Brief{}, fmt.Errorf("insert brief: %w", err)
	}
	if err := e.writer().Append(ctx, tx, events.BriefCreated, "brief", b.ID, actor.ID, events.EventPayload{
		"code": b.Code, "club_id": b.ClubID, "template_id": b.TemplateID,
	}); err != nil {
		return domain.Brief{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Brief{}, err
	}
	return b, nil
}

// BriefPatch changes selected fields of a draft. Nil fields are left alone.
type BriefPatch struct {
	BriefID       string
	Title         *string
	Context       *string
	Objective     *string
	KPI           *string
	KPITarget     *float64
	Priority      *string
	Deadline      *time.Time
	StartDate     *time.Time
	EndDate       *time.Time
	CustomFields  map[string]any
	AssetLinks    []string
	EstimatedCost *float64
	Crisis        *bool
	ActorID       string
}

var editableStatuses = []string{domain.BriefDraft, domain.BriefChangesRequested}

// UpdateBrief edits a brief that is still with its author.
func (e Engine) UpdateBrief(ctx context.Context, p BriefPatch) (domain.Brief, error) {
	actor, err := e.Actor(ctx, p.ActorID)
	if err != nil {
		return domain.Brief{}, err
	}
	b, err := e.loadBrief(ctx, nil, p.BriefID)
	if err != nil {
		return domain.Brief{}, err
	}
	if err := auth.Check(actor, auth.Resource{ClubID: b.ClubID, OwnerID: b.CreatedBy}, auth.BriefEdit).Err(); err != nil {
		return domain.Brief{}, err
	}
	if !domain.Contains(editableStatuses, b.Status) {
		return domain.Brief{}, e.conflict("brief", "brief %s is %s and can no longer be edited", b.Code, b.Status)
	}
	tmpl, err := e.loadTemplate(ctx, nil, b.TemplateID)
	if err != nil {
		return domain.Brief{}, err
	}
	var changed []string
	set := func(name string, apply func()) {
		apply()
		changed = append(changed, name)
	}
	if p.Title != nil {
		set("title", func() { b.Title = strings.TrimSpace(*p.Title) })
	}
	if p.Context != nil {
		set("context", func() { b.Context = strings.TrimSpace(*p.Context) })
	}
	if p.Objective != nil {
		set("objective", func() { b.Objective = *p.Objective })
	}
	if p.KPI != nil {
		set("kpi", func() { b.KPI = *p.KPI })
	}
	if p.KPITarget != nil {
		set("kpi_target", func() { b.KPITarget = p.KPITarget })
	}
	if p.Priority != nil {
		set("priority", func() { b.Priority = *p.Priority })
	}
	if p.Deadline != nil {
		set("deadline", func() { b.Deadline = p.Deadline.UTC() })
	}
	if p.StartDate != nil {
		set("start_date", func() { b.StartDate = p.StartDate })
	}
	if p.EndDate != nil {
		set("end_date", func() { b.EndDate = p.EndDate })
	}
	if p.CustomFields != nil {
		set("custom_fields", func() { b.CustomFields = p.CustomFields })
	}
	if p.AssetLinks != nil {
		set("asset_links", func() { b.AssetLinks = p.AssetLinks })
	}
	if p.EstimatedCost != nil {
		set("estimated_cost", func() { b.EstimatedCost = *p.EstimatedCost })
	}
	if p.Crisis != nil {
		set("crisis", func() { b.Crisis = *p.Crisis })
	}
	if err := validateBrief(b, tmpl); err != nil {
		return domain.Brief{}, err
	}
	b.UpdatedAt = e.now()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Brief{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.UpdateBriefContent(ctx, tx, b, editableStatuses)
	if err != nil {
		return domain.Brief{}, fmt.Errorf("update brief: %w", err)
	}
	if !ok {
		return domain.Brief{}, e.conflict("brief", "brief %s changed status while editing", b.Code)
	}
	if err := e.writer().Append(ctx, tx, events.BriefUpdated, "brief", b.ID, actor.ID, events.EventPayload{"fields": changed}); err != nil {
		return domain.Brief{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Brief{}, err
	}
	return b, nil
}

// SubmitResult is a submitted brief with the policy evaluation validators will see.
type SubmitResult struct {
	Brief  domain.Brief  `json:"brief"`
	Policy policy.Result `json:"policy"`
}

// SubmitBrief hands a draft to the club's validators.
func (e Engine) SubmitBrief(ctx context.Context, briefID, actorID string) (SubmitResult, error) {
	actor, err := e.Actor(ctx, actorID)
	if err != nil {
		return SubmitResult{}, err
	}
	b, err := e.loadBrief(ctx, nil, briefID)
	if err != nil {
		return SubmitResult{}, err
	}
	if err := auth.Check(actor, auth.Resource{ClubID: b.ClubID, OwnerID: b.CreatedBy}, auth.BriefSubmit).Err(); err != nil {
		return SubmitResult{}, err
	}
	if !domain.Contains(editableStatuses, b.Status) {
		return SubmitResult{}, e.conflict("brief", "brief %s is %s, not draft", b.Code, b.Status)
	}
	club, err := e.loadClub(ctx, nil, b.ClubID)
	if err != nil {
		return SubmitResult{}, err
	}
	tmpl, err := e.loadTemplate(ctx, nil, b.TemplateID)
	if err != nil {
		return SubmitResult{}, err
	}
	res, err := e.evaluate(ctx, b, club, tmpl)
	if err != nil {
		return SubmitResult{}, err
	}
	now := e.now()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return SubmitResult{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.TransitionBrief(ctx, tx, b.ID, editableStatuses, domain.BriefSubmitted, now)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("submit brief: %w", err)
	}
	if !ok {
		return SubmitResult{}, e.conflict("brief", "brief %s was already submitted", b.Code)
	}
	validators, err := e.Repo.ClubValidatorIDs(ctx, tx, b.ClubID)
	if err != nil {
		return SubmitResult{}, err
	}
	msg := fmt.Sprintf("%s %q from %s is waiting for a decision", b.Code, b.Title, club.Name)
	if err := e.notify(ctx, tx, validators, NotifyBriefSubmitted, b.ID, msg); err != nil {
		return SubmitResult{}, err
	}
	if err := e.writer().Append(ctx, tx, events.BriefSubmitted, "brief", b.ID, actor.ID, events.EventPayload{
		"from":                    b.Status,
		"can_auto_approve":        res.CanAutoApprove,
		"auto_reject_reasons":     res.AutoRejectReasons,
		"requires_owner_approval": res.RequiresOwnerApproval,
		"escalation_type":         res.EscalationType,
		"alignment_score":         res.Alignment.Score,
	}); err != nil {
		return SubmitResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return SubmitResult{}, err
	}
	b.Status = domain.BriefSubmitted
	b.SubmittedAt = &now
	b.UpdatedAt = now
	e.log().Info("brief submitted", zap.String("brief", b.Code), zap.Bool("can_auto_approve", res.CanAutoApprove), zap.Int("validators", len(validators)))
	return SubmitResult{Brief: b, Policy: res}, nil
}

// CancelBrief withdraws a brief that has not been decided yet.
func (e Engine) CancelBrief(ctx context.Context, briefID, actorID string) (domain.Brief, error) {
	actor, err := e.Actor(ctx, actorID)
	if err != nil {
		return domain.Brief{}, err
	}
	b, err := e.loadBrief(ctx, nil, briefID)
	if err != nil {
		return domain.Brief{}, err
	}
	if err := auth.Check(actor, auth.Resource{ClubID: b.ClubID, OwnerID: b.CreatedBy}, auth.BriefCancel).Err(); err != nil {
		return domain.Brief{}, err
	}
	from := []string{domain.BriefDraft, domain.BriefSubmitted}
	if !domain.Contains(from, b.Status) {
		return domain.Brief{}, e.conflict("brief", "brief %s is %s and cannot be cancelled", b.Code, b.Status)
	}
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Brief{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.TransitionBrief(ctx, tx, b.ID, from, domain.BriefCancelled, now)
	if err != nil {
		return domain.Brief{}, err
	}
	if !ok {
		return domain.Brief{}, e.conflict("brief", "brief %s changed status before it could be cancelled", b.Code)
	}
	if err := e.writer().Append(ctx, tx, events.BriefCancelled, "brief", b.ID, actor.ID, events.EventPayload{"from": b.Status}); err != nil {
		return domain.Brief{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Brief{}, err
	}
	b.Status = domain.BriefCancelled
	b.UpdatedAt = now
	return b, nil
}

// GetBrief returns a brief the actor may read.
func (e Engine) GetBrief(ctx context.Context, briefID, actorID string) (domain.Brief, error) {
	actor, err := e.Actor(ctx, actorID)
	if err != nil {
		return domain.Brief{}, err
	}
	b, err := e.loadBrief(ctx, nil, briefID)
	if err != nil {
		return domain.Brief{}, err
	}
	if err := auth.Check(actor, auth.Resource{ClubID: b.ClubID}, auth.BriefRead).Err(); err != nil {
		return domain.Brief{}, err
	}
	return b, nil
}

// BriefListOptions filters ListBriefs. Results are limited to clubs the actor can see.
type BriefListOptions struct {
	Status  string
	ClubID  string
	Limit   int
	ActorID string
}

func (e Engine) ListBriefs(ctx context.Context, opts BriefListOptions) ([]domain.Brief, error) {
	actor, err := e.Actor(ctx, opts.ActorID)
	if err != nil {
		return nil, err
	}
	if opts.Status != "" && !domain.Contains(domain.BriefStatuses, opts.Status) {
		return nil, errs.Validation("invalid status filter", map[string]string{"status": "unknown status " + opts.Status})
	}
	f := repo.BriefFilter{Status: opts.Status, Limit: opts.Limit}
	allClubs := actor.Role == domain.RoleAdmin || actor.Role == domain.RoleProduction
	switch {
	case opts.ClubID != "":
		if !allClubs && !actor.HasClub(opts.ClubID) {
			return nil, errs.Forbidden("no access to club %s", opts.ClubID)
		}
		f.ClubIDs = []string{opts.ClubID}
	case !allClubs:
		f.ClubIDs = append([]string{}, actor.ClubIDs...)
	}
	return e.Repo.ListBriefs(ctx, f)
}

// ListApprovals returns the decision history of a brief.
func (e Engine) ListApprovals(ctx context.Context, briefID, actorID string) ([]domain.Approval, error) {
	if _, err := e.GetBrief(ctx, briefID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListApprovals(ctx, nil, briefID)
}

// CheckBrief evaluates the policy rules for a stored brief as of now.
func (e Engine) CheckBrief(ctx context.Context, briefID, actorID string) (policy.Result, error) {
	b, err := e.GetBrief(ctx, briefID, actorID)
	if err != nil {
		return policy.Result{}, err
	}
	club, err := e.loadClub(ctx, nil, b.ClubID)
	if err != nil {
		return policy.Result{}, err
	}
	tmpl, err := e.loadTemplate(ctx, nil, b.TemplateID)
	if err != nil {
		return policy.Result{}, err
	}
	return e.evaluate(ctx, b, club, tmpl)
}

// CheckDraft evaluates unsaved brief content, for live feedback while a form is filled in.
func (e Engine) CheckDraft(ctx context.Context, in BriefInput) (policy.Result, error) {
	actor, err := e.Actor(ctx, in.ActorID)
	if err != nil {
		return policy.Result{}, err
	}
	if err := auth.Check(actor, auth.Resource{ClubID: in.ClubID}, auth.BriefRead).Err(); err != nil {
		return policy.Result{}, err
	}
	club, err := e.loadClub(ctx, nil, in.ClubID)
	if err != nil {
		return policy.Result{}, err
	}
	tmpl, err := e.loadTemplate(ctx, nil, in.TemplateID)
	if err != nil {
		return policy.Result{}, err
	}
	b := domain.Brief{
		Title:         in.Title,
		Context:       in.Context,
		Objective:     in.Objective,
		KPITarget:     in.KPITarget,
		Deadline:      in.Deadline,
		CustomFields:  in.CustomFields,
		EstimatedCost: in.EstimatedCost,
		Crisis:        in.Crisis,
		BrandID:       club.BrandID,
	}
	return e.evaluate(ctx, b, club, tmpl)
}

// Alignment scores a stored brief against its brand strategy.
func (e Engine) Alignment(ctx context.Context, briefID, actorID string) (alignment.Result, error) {
	b, err := e.GetBrief(ctx, briefID, actorID)
	if err != nil {
		return alignment.Result{}, err
	}
	return e.score(ctx, b)
}

// validateBrief checks authored content and the template's field types.
// Missing required template fields are left to the policy rules.
func validateBrief(b domain.Brief, tmpl domain.RequestTemplate) error {
	fe := errs.FieldErrors{}
	if b.Title == "" {
		fe.Add("title", "required")
	}
	if !domain.Contains(domain.Objectives, b.Objective) {
		fe.Add("objective", fmt.Sprintf("must be one of %s", strings.Join(domain.Objectives, ", ")))
	}
	if !domain.Contains(domain.Priorities, b.Priority) {
		fe.Add("priority", fmt.Sprintf("must be one of %s", strings.Join(domain.Priorities, ", ")))
	}
	if b.Deadline.IsZero() {
		fe.Add("deadline", "required")
	}
	if b.StartDate != nil && b.EndDate != nil && b.EndDate.Before(*b.StartDate) {
		fe.Add("end_date", "before start_date")
	}
	if b.EstimatedCost < 0 || math.IsNaN(b.EstimatedCost) || math.IsInf(b.EstimatedCost, 0) {
		fe.Add("estimated_cost", "must be a non-negative amount")
	}
	if b.KPITarget != nil && (math.IsNaN(*b.KPITarget) || math.IsInf(*b.KPITarget, 0)) {
		fe.Add("kpi_target", "must be a number")
	}
	for i, link := range b.AssetLinks {
		if !validURL(link) {
			fe.Add(fmt.Sprintf("asset_links[%d]", i), "must be an http(s) URL")
		}
	}
	for _, f := range tmpl.Fields {
		v, ok := b.CustomFields[f.Key]
		if !ok || v == nil {
			continue
		}
		if reason := checkFieldType(f.Type, v); reason != "" {
			fe.Add("custom_fields."+f.Key, reason)
		}
	}
	return fe.Err("invalid brief")
}

func checkFieldType(typ string, v any) string {
	switch typ {
	case "number":
		switch n := v.(type) {
		case float64, float32, int, int64, json.Number:
			return ""
		case string:
			if _, err := json.Number(strings.TrimSuffix(strings.TrimSpace(n), "%")).Float64(); err == nil {
				return ""
			}
		}
		return "must be a number"
	case "bool":
		if _, ok := v.(bool); !ok {
			return "must be true or false"
		}
	case "date":
		s, ok := v.(string)
		if !ok {
			return "must be a date"
		}
		if _, err := time.Parse(time.DateOnly, s); err != nil {
			if _, err := time.Parse(time.RFC3339, s); err != nil {
				return "must be a date (YYYY-MM-DD)"
			}
		}
	case "url":
		s, ok := v.(string)
		if !ok || !validURL(s) {
			return "must be an http(s) URL"
		}
	default:
		if _, ok := v.(string); !ok {
			return "must be text"
		}
	}
	return ""
}

func validURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
