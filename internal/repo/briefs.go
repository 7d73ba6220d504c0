package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"briefline/internal/domain"
)

const briefColumns = `id,code,title,context,objective,kpi,kpi_target,priority,status,deadline,start_date,end_date,
custom_fields_json,asset_links_json,estimated_cost,crisis,outcome,outcome_note,club_id,brand_id,template_id,
created_by,created_at,updated_at,submitted_at`

func (r Repo) InsertBrief(ctx context.Context, tx *sql.Tx, b domain.Brief) error {
	fields, err := marshalJSON(b.CustomFields, "{}")
	if err != nil {
		return err
	}
	links, err := marshalJSON(b.AssetLinks, "[]")
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO briefs(`+briefColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.Code, b.Title, b.Context, b.Objective, nullable(b.KPI), nullableFloat(b.KPITarget), b.Priority, b.Status,
		formatTime(b.Deadline), nullableTime(b.StartDate), nullableTime(b.EndDate),
		fields, links, b.EstimatedCost, boolInt(b.Crisis), nullable(b.Outcome), nullable(b.OutcomeNote),
		b.ClubID, b.BrandID, b.TemplateID, b.CreatedBy, formatTime(b.CreatedAt), formatTime(b.UpdatedAt), nullableTime(b.SubmittedAt))
	return err
}

// UpdateBriefContent rewrites the editable fields of a brief still in one of the given statuses.
// It reports false when the brief moved on since it was read.
func (r Repo) UpdateBriefContent(ctx context.Context, tx *sql.Tx, b domain.Brief, statuses []string) (bool, error) {
	fields, err := marshalJSON(b.CustomFields, "{}")
	if err != nil {
		return false, err
	}
	links, err := marshalJSON(b.AssetLinks, "[]")
	if err != nil {
		return false, err
	}
	in, inArgs := inClause(statuses)
	args := []any{b.Title, b.Context, b.Objective, nullable(b.KPI), nullableFloat(b.KPITarget), b.Priority,
		formatTime(b.Deadline), nullableTime(b.StartDate), nullableTime(b.EndDate), fields, links,
		b.EstimatedCost, boolInt(b.Crisis), b.TemplateID, formatTime(b.UpdatedAt), b.ID}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE briefs SET title=?,context=?,objective=?,kpi=?,kpi_target=?,priority=?,
deadline=?,start_date=?,end_date=?,custom_fields_json=?,asset_links_json=?,estimated_cost=?,crisis=?,template_id=?,updated_at=?
WHERE id=? AND status IN (`+in+`)`, append(args, inArgs...)...)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// TransitionBrief moves a brief to `to` only if its status is still one of `from`.
// A false result means another writer got there first.
func (r Repo) TransitionBrief(ctx context.Context, tx *sql.Tx, id string, from []string, to string, at time.Time) (bool, error) {
	in, inArgs := inClause(from)
	query := `UPDATE briefs SET status=?, updated_at=?`
	args := []any{to, formatTime(at)}
	if to == domain.BriefSubmitted {
		query += `, submitted_at=?`
		args = append(args, formatTime(at))
	}
	query += ` WHERE id=? AND status IN (` + in + `)`
	args = append(args, id)
	res, err := r.q(tx).ExecContext(ctx, query, append(args, inArgs...)...)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

func (r Repo) SetBriefPriority(ctx context.Context, tx *sql.Tx, id, priority string, at time.Time) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE briefs SET priority=?, updated_at=? WHERE id=?`, priority, formatTime(at), id)
	return err
}

func (r Repo) SetBriefOutcome(ctx context.Context, tx *sql.Tx, id, outcome, note string, at time.Time) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE briefs SET outcome=?, outcome_note=?, updated_at=? WHERE id=?`,
		outcome, nullable(note), formatTime(at), id)
	if err != nil {
		return err
	}
	if ok, err := affectedOne(res); err != nil {
		return err
	} else if !ok {
		return ErrNotFound
	}
	return nil
}

// NextBriefCode returns the next BR-<year>-<seq> code. Call it inside the inserting transaction.
func (r Repo) NextBriefCode(ctx context.Context, tx *sql.Tx, year int) (string, error) {
	prefix := fmt.Sprintf("BR-%d-", year)
	var last int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COALESCE(MAX(CAST(substr(code, ?) AS INTEGER)), 0) FROM briefs WHERE code LIKE ?`,
		len(prefix)+1, prefix+"%").Scan(&last)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%04d", prefix, last+1), nil
}

func scanBrief(scan func(dest ...any) error) (domain.Brief, error) {
	var b domain.Brief
	var kpi, outcome, outcomeNote, start, end, submitted sql.NullString
	var kpiTarget sql.NullFloat64
	var deadline, fields, links, created, updated string
	var crisis int
	err := scan(&b.ID, &b.Code, &b.Title, &b.Context, &b.Objective, &kpi, &kpiTarget, &b.Priority, &b.Status,
		&deadline, &start, &end, &fields, &links, &b.EstimatedCost, &crisis, &outcome, &outcomeNote,
		&b.ClubID, &b.BrandID, &b.TemplateID, &b.CreatedBy, &created, &updated, &submitted)
	if err != nil {
		return b, err
	}
	b.KPI = kpi.String
	if kpiTarget.Valid {
		v := kpiTarget.Float64
		b.KPITarget = &v
	}
	b.Crisis = crisis != 0
	b.Outcome = outcome.String
	b.OutcomeNote = outcomeNote.String
	if err := json.Unmarshal([]byte(fields), &b.CustomFields); err != nil {
		return b, fmt.Errorf("brief %s custom fields: %w", b.ID, err)
	}
	if err := json.Unmarshal([]byte(links), &b.AssetLinks); err != nil {
		return b, fmt.Errorf("brief %s asset links: %w", b.ID, err)
	}
	if b.Deadline, err = parseTime(deadline); err != nil {
		return b, err
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return b, err
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return b, err
	}
	if b.StartDate, err = parseNullTime(start); err != nil {
		return b, err
	}
	if b.EndDate, err = parseNullTime(end); err != nil {
		return b, err
	}
	b.SubmittedAt, err = parseNullTime(submitted)
	return b, err
}

func (r Repo) GetBrief(ctx context.Context, tx *sql.Tx, id string) (domain.Brief, error) {
	b, err := scanBrief(r.q(tx).QueryRowContext(ctx, `SELECT `+briefColumns+` FROM briefs WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return b, ErrNotFound
	}
	return b, err
}

// BriefFilter narrows ListBriefs. ClubIDs, when non-nil, restricts to those clubs;
// an empty non-nil slice matches nothing.
type BriefFilter struct {
	Status    string
	ClubIDs   []string
	CreatedBy string
	Limit     int
}

func (r Repo) ListBriefs(ctx context.Context, f BriefFilter) ([]domain.Brief, error) {
	query := `SELECT ` + briefColumns + ` FROM briefs`
	var where []string
	var args []any
	if f.ClubIDs != nil {
		if len(f.ClubIDs) == 0 {
			return nil, nil
		}
		in, inArgs := inClause(f.ClubIDs)
		where = append(where, `club_id IN (`+in+`)`)
		args = append(args, inArgs...)
	}
	if f.Status != "" {
		where = append(where, `status=?`)
		args = append(args, f.Status)
	}
	if f.CreatedBy != "" {
		where = append(where, `created_by=?`)
		args = append(args, f.CreatedBy)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, code DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Brief
	for rows.Next() {
		b, err := scanBrief(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func inClause(values []string) (string, []any) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(values)), ","), args
}
