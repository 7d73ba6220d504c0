package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"briefline/internal/domain"
)

// ErrInUse is returned when deleting a row that history still references.
var ErrInUse = errors.New("in use")

func (r Repo) InsertRegion(ctx context.Context, tx *sql.Tx, reg domain.Region) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO regions(id,name,created_at) VALUES (?,?,?)`, reg.ID, reg.Name, formatTime(reg.CreatedAt))
	return err
}

func (r Repo) ListRegions(ctx context.Context) ([]domain.Region, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM regions ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Region
	for rows.Next() {
		var reg domain.Region
		var created string
		if err := rows.Scan(&reg.ID, &reg.Name, &created); err != nil {
			return nil, err
		}
		if reg.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		res = append(res, reg)
	}
	return res, rows.Err()
}

// DeleteRegion removes a region no club belongs to.
func (r Repo) DeleteRegion(ctx context.Context, id string) error {
	return r.deleteUnreferenced(ctx, "regions", id, `SELECT COUNT(*) FROM clubs WHERE region_id=?`)
}

func (r Repo) RegionExists(ctx context.Context, id string) (bool, error) {
	return r.exists(ctx, `SELECT COUNT(*) FROM regions WHERE id=?`, id)
}

func (r Repo) BrandExists(ctx context.Context, id string) (bool, error) {
	return r.exists(ctx, `SELECT COUNT(*) FROM brands WHERE id=?`, id)
}

func (r Repo) exists(ctx context.Context, query, id string) (bool, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) InsertBrand(ctx context.Context, tx *sql.Tx, b domain.Brand) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO brands(id,name,created_at) VALUES (?,?,?)`, b.ID, b.Name, formatTime(b.CreatedAt))
	return err
}

func (r Repo) ListBrands(ctx context.Context) ([]domain.Brand, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM brands ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Brand
	for rows.Next() {
		var b domain.Brand
		var created string
		if err := rows.Scan(&b.ID, &b.Name, &created); err != nil {
			return nil, err
		}
		if b.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r Repo) InsertClub(ctx context.Context, tx *sql.Tx, c domain.Club) error {
	ctxJSON, err := json.Marshal(c.Context)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO clubs(id,name,tier,brand_id,region_id,context_json,created_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.Name, c.Tier, c.BrandID, c.RegionID, string(ctxJSON), formatTime(c.CreatedAt))
	return err
}

const clubColumns = `id,name,tier,brand_id,region_id,context_json,created_at`

func scanClub(scan func(dest ...any) error) (domain.Club, error) {
	var c domain.Club
	var ctxJSON, created string
	if err := scan(&c.ID, &c.Name, &c.Tier, &c.BrandID, &c.RegionID, &ctxJSON, &created); err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(ctxJSON), &c.Context); err != nil {
		return c, fmt.Errorf("club %s context: %w", c.ID, err)
	}
	var err error
	c.CreatedAt, err = parseTime(created)
	return c, err
}

func (r Repo) GetClub(ctx context.Context, tx *sql.Tx, id string) (domain.Club, error) {
	c, err := scanClub(r.q(tx).QueryRowContext(ctx, `SELECT `+clubColumns+` FROM clubs WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListClubs(ctx context.Context) ([]domain.Club, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+clubColumns+` FROM clubs ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Club
	for rows.Next() {
		c, err := scanClub(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateClubContext(ctx context.Context, tx *sql.Tx, id string, lc domain.LocalContext) error {
	ctxJSON, err := json.Marshal(lc)
	if err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE clubs SET context_json=? WHERE id=?`, string(ctxJSON), id)
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

// DeleteClub removes a club no brief references.
func (r Repo) DeleteClub(ctx context.Context, id string) error {
	return r.deleteUnreferenced(ctx, "clubs", id, `SELECT COUNT(*) FROM briefs WHERE club_id=?`)
}

func (r Repo) InsertTemplate(ctx context.Context, tx *sql.Tx, t domain.RequestTemplate) error {
	fields, err := marshalJSON(t.Fields, "[]")
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO request_templates(id,name,category,fields_json,default_sla_days,default_priority,created_at) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.Name, t.Category, fields, t.DefaultSLADays, t.DefaultPriority, formatTime(t.CreatedAt))
	return err
}

const templateColumns = `id,name,category,fields_json,default_sla_days,default_priority,created_at`

func scanTemplate(scan func(dest ...any) error) (domain.RequestTemplate, error) {
	var t domain.RequestTemplate
	var fields, created string
	if err := scan(&t.ID, &t.Name, &t.Category, &fields, &t.DefaultSLADays, &t.DefaultPriority, &created); err != nil {
		return t, err
	}
	if err := json.Unmarshal([]byte(fields), &t.Fields); err != nil {
		return t, fmt.Errorf("template %s fields: %w", t.ID, err)
	}
	var err error
	t.CreatedAt, err = parseTime(created)
	return t, err
}

func (r Repo) GetTemplate(ctx context.Context, tx *sql.Tx, id string) (domain.RequestTemplate, error) {
	t, err := scanTemplate(r.q(tx).QueryRowContext(ctx, `SELECT `+templateColumns+` FROM request_templates WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTemplates(ctx context.Context) ([]domain.RequestTemplate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+templateColumns+` FROM request_templates ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RequestTemplate
	for rows.Next() {
		t, err := scanTemplate(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// DeleteTemplate removes a template no brief references.
func (r Repo) DeleteTemplate(ctx context.Context, id string) error {
	return r.deleteUnreferenced(ctx, "request_templates", id, `SELECT COUNT(*) FROM briefs WHERE template_id=?`)
}

// deleteUnreferenced checks and deletes in one transaction.
func (r Repo) deleteUnreferenced(ctx context.Context, table, id, refQuery string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var refs int
	if err := tx.QueryRowContext(ctx, refQuery, id).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("%s %s referenced by %d rows: %w", table, id, refs, ErrInUse)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id=?`, id)
	if err != nil {
		return err
	}
	if ok, err := affectedOne(res); err != nil {
		return err
	} else if !ok {
		return ErrNotFound
	}
	return tx.Commit()
}
