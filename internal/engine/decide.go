package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"briefline/internal/domain"
	"briefline/internal/engine/auth"
	"briefline/internal/errs"
	"briefline/internal/events"
	"briefline/internal/policy"
)

// DecisionInput is a validator's action on a submitted brief.
// Priority and SLADays override the policy suggestions when set.
type DecisionInput struct {
	BriefID  string
	Decision string
	Notes    string
	Priority string
	SLADays  int
	ActorID  string
}

// DecisionResult is what a recorded decision produced. Task is set only on approval.
type DecisionResult struct {
	Brief    domain.Brief           `json:"brief"`
	Approval domain.Approval        `json:"approval"`
	Task     *domain.ProductionTask `json:"task,omitempty"`
	Policy   policy.Result          `json:"policy"`
}

// Decide records a validator decision on a submitted brief. The status guard, approval
// record, production task, notifications and audit events commit together; a brief that
// is no longer submitted fails with a state conflict and leaves nothing behind.
func (e Engine) Decide(ctx context.Context, in DecisionInput) (DecisionResult, error) {
	actor, err := e.Actor(ctx, in.ActorID)
	if err != nil {
		return DecisionResult{}, err
	}
	fe := errs.FieldErrors{}
	if !domain.Contains(domain.Decisions, in.Decision) {
		fe.Add("decision", fmt.Sprintf("must be one of %s", strings.Join(domain.Decisions, ", ")))
	}
	if in.Priority != "" && !domain.Contains(domain.Priorities, in.Priority) {
		fe.Add("priority", fmt.Sprintf("must be one of %s", strings.Join(domain.Priorities, ", ")))
	}
	if in.SLADays < 0 {
		fe.Add("sla_days", "must be at least 1")
	}
	if err := fe.Err("invalid decision"); err != nil {
		return DecisionResult{}, err
	}
	b, err := e.loadBrief(ctx, nil, in.BriefID)
	if err != nil {
		return DecisionResult{}, err
	}
	if err := auth.Check(actor, auth.Resource{ClubID: b.ClubID}, auth.BriefDecide).Err(); err != nil {
		return DecisionResult{}, err
	}
	if b.Status != domain.BriefSubmitted {
		return DecisionResult{}, e.conflict("brief", "brief %s is %s, not submitted", b.Code, b.Status)
	}
	club, err := e.loadClub(ctx, nil, b.ClubID)
	if err != nil {
		return DecisionResult{}, err
	}
	tmpl, err := e.loadTemplate(ctx, nil, b.TemplateID)
	if err != nil {
		return DecisionResult{}, err
	}
	res, err := e.evaluate(ctx, b, club, tmpl)
	if err != nil {
		return DecisionResult{}, err
	}
	approve := in.Decision == domain.DecisionApproved
	if approve && len(res.AutoRejectReasons) > 0 {
		return DecisionResult{}, errs.Validation("brief fails mandatory rules and cannot be approved",
			map[string]string{"decision": strings.Join(res.AutoRejectReasons, "; ")})
	}
	if approve && res.RequiresOwnerApproval && actor.Role != domain.RoleAdmin {
		return DecisionResult{}, errs.Forbidden("owner approval required (%s): %s",
			res.EscalationType, strings.Join(res.OwnerApprovalReasons, "; "))
	}

	now := e.now()
	approval := domain.Approval{
		ID:          uuid.NewString(),
		BriefID:     b.ID,
		ValidatorID: actor.ID,
		Decision:    in.Decision,
		Notes:       strings.TrimSpace(in.Notes),
		CreatedAt:   now,
	}
	var task *domain.ProductionTask
	if approve {
		approval.Priority = firstNonEmpty(in.Priority, res.SuggestedPriority, b.Priority)
		approval.SLADays = effectiveSLA(in.SLADays, res.SuggestedSLA, tmpl.DefaultSLADays)
		task = &domain.ProductionTask{
			ID:        uuid.NewString(),
			BriefID:   b.ID,
			Status:    domain.TaskQueued,
			SLADays:   approval.SLADays,
			DueDate:   now.AddDate(0, 0, approval.SLADays),
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return DecisionResult{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.TransitionBrief(ctx, tx, b.ID, []string{domain.BriefSubmitted}, in.Decision, now)
	if err != nil {
		return DecisionResult{}, fmt.Errorf("transition brief: %w", err)
	}
	if !ok {
		return DecisionResult{}, e.conflict("brief", "brief %s was decided by someone else", b.Code)
	}
	if err := e.Repo.InsertApproval(ctx, tx, approval); err != nil {
		return DecisionResult{}, fmt.Errorf("insert approval: %w", err)
	}
	if err := e.writer().Append(ctx, tx, events.ApprovalRecorded, "brief", b.ID, actor.ID, events.EventPayload{
		"approval_id":             approval.ID,
		"decision":                approval.Decision,
		"priority":                approval.Priority,
		"sla_days":                approval.SLADays,
		"requires_owner_approval": res.RequiresOwnerApproval,
	}); err != nil {
		return DecisionResult{}, err
	}
	if approve {
		if err := e.Repo.SetBriefPriority(ctx, tx, b.ID, approval.Priority, now); err != nil {
			return DecisionResult{}, err
		}
		if err := e.Repo.InsertTask(ctx, tx, *task); err != nil {
			return DecisionResult{}, fmt.Errorf("insert task: %w", err)
		}
		if err := e.writer().Append(ctx, tx, events.TaskCreated, "task", task.ID, actor.ID, events.EventPayload{
			"brief_id": b.ID, "sla_days": task.SLADays, "due_date": task.DueDate,
		}); err != nil {
			return DecisionResult{}, err
		}
		production, err := e.Repo.UserIDsByRole(ctx, tx, domain.RoleProduction)
		if err != nil {
			return DecisionResult{}, err
		}
		due := task.DueDate.Format("2006-01-02")
		if err := e.notify(ctx, tx, production, NotifyTaskCreated, b.ID,
			fmt.Sprintf("New production task for %s %q, due %s", b.Code, b.Title, due)); err != nil {
			return DecisionResult{}, err
		}
		if err := e.notify(ctx, tx, []string{b.CreatedBy}, NotifyBriefApproved, b.ID,
			fmt.Sprintf("%s %q was approved, production due %s", b.Code, b.Title, due)); err != nil {
			return DecisionResult{}, err
		}
		b.Priority = approval.Priority
	} else {
		kind, verb := NotifyChangesRequested, "needs changes"
		if in.Decision == domain.DecisionRejected {
			kind, verb = NotifyBriefRejected, "was rejected"
		}
		msg := fmt.Sprintf("%s %q %s", b.Code, b.Title, verb)
		if approval.Notes != "" {
			msg += ": " + approval.Notes
		}
		if err := e.notify(ctx, tx, []string{b.CreatedBy}, kind, b.ID, msg); err != nil {
			return DecisionResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return DecisionResult{}, err
	}
	b.Status = in.Decision
	b.UpdatedAt = now
	e.metrics().DecisionsTotal.WithLabelValues(in.Decision).Inc()
	e.log().Info("decision recorded",
		zap.String("brief", b.Code),
		zap.String("decision", in.Decision),
		zap.String("validator", actor.ID),
		zap.Bool("task_created", task != nil))
	return DecisionResult{Brief: b, Approval: approval, Task: task, Policy: res}, nil
}

// effectiveSLA picks the override, then the policy suggestion, then the template default.
func effectiveSLA(override, suggested, templateDefault int) int {
	switch {
	case override > 0:
		return override
	case suggested > 0:
		return suggested
	case templateDefault > 0:
		return templateDefault
	}
	return 1
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
