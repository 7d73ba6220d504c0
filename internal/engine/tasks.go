package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"briefline/internal/domain"
	"briefline/internal/engine/auth"
	"briefline/internal/errs"
	"briefline/internal/events"
	"briefline/internal/repo"
)

// taskTransitions is the complete set of legal production task moves.
var taskTransitions = map[string][]string{
	domain.TaskQueued:       {domain.TaskInProgress},
	domain.TaskInProgress:   {domain.TaskInReview},
	domain.TaskInReview:     {domain.TaskNeedsChanges, domain.TaskApproved},
	domain.TaskNeedsChanges: {domain.TaskInReview},
	domain.TaskApproved:     {domain.TaskDelivered},
	domain.TaskDelivered:    {domain.TaskClosed, domain.TaskNeedsChanges},
}

func ensureTaskTransition(oldStatus, newStatus string) error {
	if domain.Contains(taskTransitions[oldStatus], newStatus) {
		return nil
	}
	return errs.Validation(fmt.Sprintf("invalid task status transition %s -> %s", oldStatus, newStatus),
		map[string]string{"status": fmt.Sprintf("cannot move from %s to %s", oldStatus, newStatus)})
}

// AllowedTaskTransitions lists the statuses reachable from status.
func AllowedTaskTransitions(status string) []string {
	return append([]string(nil), taskTransitions[status]...)
}

// TaskStatusInput moves a task along its lifecycle. AssigneeID hands the task to another
// production user; when empty the task stays with its assignee or is claimed by the actor.
type TaskStatusInput struct {
	TaskID     string
	Status     string
	Notes      string
	AssigneeID string
	ActorID    string
}

func (e Engine) UpdateTaskStatus(ctx context.Context, in TaskStatusInput) (domain.ProductionTask, error) {
	actor, err := e.Actor(ctx, in.ActorID)
	if err != nil {
		return domain.ProductionTask{}, err
	}
	if !domain.Contains(domain.TaskStatuses, in.Status) {
		return domain.ProductionTask{}, errs.Validation("invalid task status",
			map[string]string{"status": fmt.Sprintf("must be one of %s", strings.Join(domain.TaskStatuses, ", "))})
	}
	t, err := e.loadTask(ctx, nil, in.TaskID)
	if err != nil {
		return domain.ProductionTask{}, err
	}
	if err := auth.Check(actor, auth.Resource{AssigneeID: t.AssigneeID}, auth.TaskProgress).Err(); err != nil {
		return domain.ProductionTask{}, err
	}
	if err := ensureTaskTransition(t.Status, in.Status); err != nil {
		return domain.ProductionTask{}, err
	}
	assignee := firstNonEmpty(in.AssigneeID, t.AssigneeID, actor.ID)
	if assignee != actor.ID {
		u, err := e.Repo.GetUser(ctx, nil, assignee)
		if errors.Is(err, repo.ErrNotFound) || (err == nil && u.Role != domain.RoleProduction) {
			return domain.ProductionTask{}, errs.Validation("invalid assignee",
				map[string]string{"assignee_id": "must be a production user"})
		}
		if err != nil {
			return domain.ProductionTask{}, err
		}
	}
	now := e.now()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProductionTask{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.TransitionTask(ctx, tx, repo.TaskTransition{
		ID:         t.ID,
		From:       t.Status,
		To:         in.Status,
		AssigneeID: assignee,
		Notes:      strings.TrimSpace(in.Notes),
		At:         now,
	})
	if err != nil {
		return domain.ProductionTask{}, fmt.Errorf("transition task: %w", err)
	}
	if !ok {
		return domain.ProductionTask{}, e.conflict("task", "task %s is no longer %s", t.ID, t.Status)
	}
	if err := e.writer().Append(ctx, tx, events.TaskStatusChanged, "task", t.ID, actor.ID, events.EventPayload{
		"brief_id": t.BriefID, "from": t.Status, "to": in.Status, "assignee_id": assignee,
	}); err != nil {
		return domain.ProductionTask{}, err
	}
	if in.Status == domain.TaskDelivered {
		b, err := e.loadBrief(ctx, tx, t.BriefID)
		if err != nil {
			return domain.ProductionTask{}, err
		}
		if err := e.notify(ctx, tx, []string{b.CreatedBy}, NotifyTaskDelivered, b.ID,
			fmt.Sprintf("%s %q was delivered; tag the outcome once results are in", b.Code, b.Title)); err != nil {
			return domain.ProductionTask{}, err
		}
	}
	updated, err := e.Repo.GetTask(ctx, tx, t.ID)
	if err != nil {
		return domain.ProductionTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProductionTask{}, err
	}
	e.metrics().TaskTransitionsTotal.WithLabelValues(in.Status).Inc()
	e.log().Info("task status changed",
		zap.String("task", t.ID), zap.String("from", t.Status), zap.String("to", in.Status), zap.String("assignee", assignee))
	return updated, nil
}

// OutcomeInput tags the result of a delivered brief.
type OutcomeInput struct {
	BriefID string
	Outcome string
	Note    string
	ActorID string
}

// TagOutcome records the outcome once per delivery cycle. A task that goes back for rework
// and is delivered again opens a new cycle.
func (e Engine) TagOutcome(ctx context.Context, in OutcomeInput) (domain.Brief, error) {
	actor, err := e.Actor(ctx, in.ActorID)
	if err != nil {
		return domain.Brief{}, err
	}
	if !domain.Contains(domain.Outcomes, in.Outcome) {
		return domain.Brief{}, errs.Validation("invalid outcome",
			map[string]string{"outcome": fmt.Sprintf("must be one of %s", strings.Join(domain.Outcomes, ", "))})
	}
	if err := auth.Check(actor, auth.Resource{}, auth.TaskOutcome).Err(); err != nil {
		return domain.Brief{}, err
	}
	b, err := e.loadBrief(ctx, nil, in.BriefID)
	if err != nil {
		return domain.Brief{}, err
	}
	t, err := e.Repo.GetTaskByBrief(ctx, nil, b.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Brief{}, errs.Validation("brief has no production task",
			map[string]string{"brief_id": "outcome needs a delivered task"})
	}
	if err != nil {
		return domain.Brief{}, err
	}
	if t.Status != domain.TaskDelivered {
		return domain.Brief{}, errs.Validation("task is not delivered",
			map[string]string{"status": fmt.Sprintf("task is %s; outcome needs delivered", t.Status)})
	}
	if t.OutcomeCycle >= t.DeliveryCycle {
		return domain.Brief{}, e.conflict("task", "outcome already recorded for delivery %d of %s", t.DeliveryCycle, b.Code)
	}
	now := e.now()
	note := strings.TrimSpace(in.Note)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Brief{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.MarkOutcomeRecorded(ctx, tx, t.ID, now)
	if err != nil {
		return domain.Brief{}, err
	}
	if !ok {
		return domain.Brief{}, e.conflict("task", "task %s changed before the outcome was recorded", t.ID)
	}
	if err := e.Repo.SetBriefOutcome(ctx, tx, b.ID, in.Outcome, note, now); err != nil {
		return domain.Brief{}, err
	}
	if err := e.writer().Append(ctx, tx, events.OutcomeTagged, "brief", b.ID, actor.ID, events.EventPayload{
		"task_id": t.ID, "outcome": in.Outcome, "delivery_cycle": t.DeliveryCycle,
	}); err != nil {
		return domain.Brief{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Brief{}, err
	}
	e.metrics().OutcomesTotal.WithLabelValues(in.Outcome).Inc()
	b.Outcome = in.Outcome
	b.OutcomeNote = note
	b.UpdatedAt = now
	return b, nil
}

// GetTask returns a production task. Everyone who can sign in may read the production queue.
func (e Engine) GetTask(ctx context.Context, taskID, actorID string) (domain.ProductionTask, error) {
	if _, err := e.Actor(ctx, actorID); err != nil {
		return domain.ProductionTask{}, err
	}
	return e.loadTask(ctx, nil, taskID)
}

// TaskListOptions filters ListTasks. Mine restricts to the actor's own tasks.
type TaskListOptions struct {
	Status  string
	Mine    bool
	Limit   int
	ActorID string
}

func (e Engine) ListTasks(ctx context.Context, opts TaskListOptions) ([]domain.ProductionTask, error) {
	actor, err := e.Actor(ctx, opts.ActorID)
	if err != nil {
		return nil, err
	}
	if opts.Status != "" && !domain.Contains(domain.TaskStatuses, opts.Status) {
		return nil, errs.Validation("invalid status filter", map[string]string{"status": "unknown status " + opts.Status})
	}
	f := repo.TaskFilter{Status: opts.Status, Limit: opts.Limit}
	if opts.Mine {
		f.AssigneeID = actor.ID
	}
	return e.Repo.ListTasks(ctx, f)
}
