package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"briefline/internal/domain"
)

const taskColumns = `id,brief_id,status,assignee_id,sla_days,due_date,notes,delivery_cycle,outcome_cycle,created_at,updated_at`

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.ProductionTask) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO production_tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.BriefID, t.Status, nullable(t.AssigneeID), t.SLADays, formatTime(t.DueDate), nullable(t.Notes),
		t.DeliveryCycle, t.OutcomeCycle, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	return err
}

func scanTask(scan func(dest ...any) error) (domain.ProductionTask, error) {
	var t domain.ProductionTask
	var assignee, notes sql.NullString
	var due, created, updated string
	err := scan(&t.ID, &t.BriefID, &t.Status, &assignee, &t.SLADays, &due, &notes, &t.DeliveryCycle, &t.OutcomeCycle, &created, &updated)
	if err != nil {
		return t, err
	}
	t.AssigneeID = assignee.String
	t.Notes = notes.String
	if t.DueDate, err = parseTime(due); err != nil {
		return t, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return t, err
	}
	t.UpdatedAt, err = parseTime(updated)
	return t, err
}

func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id string) (domain.ProductionTask, error) {
	t, err := scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM production_tasks WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) GetTaskByBrief(ctx context.Context, tx *sql.Tx, briefID string) (domain.ProductionTask, error) {
	t, err := scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM production_tasks WHERE brief_id=?`, briefID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

// TaskFilter narrows ListTasks. Empty fields match everything.
type TaskFilter struct {
	Status     string
	AssigneeID string
	Limit      int
}

// ListTasks returns tasks ordered by due date, earliest first.
func (r Repo) ListTasks(ctx context.Context, f TaskFilter) ([]domain.ProductionTask, error) {
	query := `SELECT ` + taskColumns + ` FROM production_tasks`
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, `status=?`)
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		where = append(where, `assignee_id=?`)
		args = append(args, f.AssigneeID)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY due_date, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProductionTask
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// TaskTransition is a conditional status change on a production task.
type TaskTransition struct {
	ID         string
	From       string
	To         string
	AssigneeID string
	Notes      string
	At         time.Time
}

// TransitionTask applies t only if the task is still in t.From, writing t.AssigneeID as the new assignee.
// Entering delivered opens a new delivery cycle.
// A false result means the task moved on since it was read.
func (r Repo) TransitionTask(ctx context.Context, tx *sql.Tx, t TaskTransition) (bool, error) {
	query := `UPDATE production_tasks SET status=?, updated_at=?, assignee_id=?`
	args := []any{t.To, formatTime(t.At), nullable(t.AssigneeID)}
	if t.Notes != "" {
		query += `, notes=?`
		args = append(args, t.Notes)
	}
	if t.To == domain.TaskDelivered {
		query += `, delivery_cycle=delivery_cycle+1`
	}
	query += ` WHERE id=? AND status=?`
	args = append(args, t.ID, t.From)
	res, err := r.q(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// MarkOutcomeRecorded closes the outcome window for the task's current delivery cycle.
// It reports false when an outcome was already recorded for that cycle or the task left delivered.
func (r Repo) MarkOutcomeRecorded(ctx context.Context, tx *sql.Tx, taskID string, at time.Time) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE production_tasks SET outcome_cycle=delivery_cycle, updated_at=?
WHERE id=? AND status=? AND outcome_cycle < delivery_cycle`, formatTime(at), taskID, domain.TaskDelivered)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}
