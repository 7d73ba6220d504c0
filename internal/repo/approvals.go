package repo

import (
	"context"
	"database/sql"

	"briefline/internal/domain"
)

func (r Repo) InsertApproval(ctx context.Context, tx *sql.Tx, a domain.Approval) error {
	var sla any
	if a.SLADays > 0 {
		sla = a.SLADays
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO approvals(id,brief_id,validator_id,decision,notes,priority,sla_days,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.BriefID, a.ValidatorID, a.Decision, nullable(a.Notes), nullable(a.Priority), sla, formatTime(a.CreatedAt))
	return err
}

// ListApprovals returns the decision history of a brief, oldest first.
func (r Repo) ListApprovals(ctx context.Context, tx *sql.Tx, briefID string) ([]domain.Approval, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,brief_id,validator_id,decision,notes,priority,sla_days,created_at
FROM approvals WHERE brief_id=? ORDER BY created_at, rowid`, briefID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Approval
	for rows.Next() {
		var a domain.Approval
		var notes, priority sql.NullString
		var sla sql.NullInt64
		var created string
		if err := rows.Scan(&a.ID, &a.BriefID, &a.ValidatorID, &a.Decision, &notes, &priority, &sla, &created); err != nil {
			return nil, err
		}
		a.Notes = notes.String
		a.Priority = priority.String
		a.SLADays = int(sla.Int64)
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
