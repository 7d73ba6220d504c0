package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"briefline/internal/domain"
)

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	q := r.q(tx)
	_, err := q.ExecContext(ctx, `INSERT INTO users(id,name,email,role,created_at) VALUES (?,?,?,?,?)`,
		u.ID, u.Name, nullable(u.Email), u.Role, formatTime(u.CreatedAt))
	if err != nil {
		return err
	}
	for _, clubID := range u.ClubIDs {
		if err := r.AssignClub(ctx, tx, u.ID, clubID); err != nil {
			return err
		}
	}
	return nil
}

// AssignClub links a user to a club; repeating a link is a no-op.
func (r Repo) AssignClub(ctx context.Context, tx *sql.Tx, userID, clubID string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO user_clubs(user_id,club_id) VALUES (?,?)`, userID, clubID)
	return err
}

func (r Repo) UnassignClub(ctx context.Context, tx *sql.Tx, userID, clubID string) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM user_clubs WHERE user_id=? AND club_id=?`, userID, clubID)
	return err
}

func (r Repo) UserClubIDs(ctx context.Context, tx *sql.Tx, userID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT club_id FROM user_clubs WHERE user_id=? ORDER BY club_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) GetUser(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	var u domain.User
	var email sql.NullString
	var created string
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,name,email,role,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &email, &u.Role, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.Email = email.String
	if u.CreatedAt, err = parseTime(created); err != nil {
		return u, err
	}
	u.ClubIDs, err = r.UserClubIDs(ctx, tx, id)
	return u, err
}

// UserFilter narrows ListUsers. Empty fields match everything.
type UserFilter struct {
	Role   string
	ClubID string
}

func (r Repo) ListUsers(ctx context.Context, tx *sql.Tx, f UserFilter) ([]domain.User, error) {
	query := `SELECT u.id,u.name,u.email,u.role,u.created_at FROM users u`
	var where []string
	var args []any
	if f.ClubID != "" {
		query += ` JOIN user_clubs uc ON uc.user_id=u.id`
		where = append(where, `uc.club_id=?`)
		args = append(args, f.ClubID)
	}
	if f.Role != "" {
		where = append(where, `u.role=?`)
		args = append(args, f.Role)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY u.id`
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var users []domain.User
	for rows.Next() {
		var u domain.User
		var email sql.NullString
		var created string
		if err := rows.Scan(&u.ID, &u.Name, &email, &u.Role, &created); err != nil {
			rows.Close()
			return nil, err
		}
		u.Email = email.String
		if u.CreatedAt, err = parseTime(created); err != nil {
			rows.Close()
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range users {
		if users[i].ClubIDs, err = r.UserClubIDs(ctx, tx, users[i].ID); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// UserIDsByRole returns the ids of every user holding role, sorted.
func (r Repo) UserIDsByRole(ctx context.Context, tx *sql.Tx, role string) ([]string, error) {
	return r.stringColumn(ctx, tx, `SELECT id FROM users WHERE role=? ORDER BY id`, role)
}

// ClubValidatorIDs returns validators assigned to the club, sorted.
func (r Repo) ClubValidatorIDs(ctx context.Context, tx *sql.Tx, clubID string) ([]string, error) {
	return r.stringColumn(ctx, tx, `SELECT u.id FROM users u JOIN user_clubs uc ON uc.user_id=u.id
WHERE uc.club_id=? AND u.role=? ORDER BY u.id`, clubID, domain.RoleValidator)
}

// DeleteUser removes a user that never authored or decided anything.
func (r Repo) DeleteUser(ctx context.Context, id string) error {
	return r.deleteUnreferenced(ctx, "users", id, `SELECT
  (SELECT COUNT(*) FROM briefs WHERE created_by=?1) +
  (SELECT COUNT(*) FROM approvals WHERE validator_id=?1) +
  (SELECT COUNT(*) FROM production_tasks WHERE assignee_id=?1)`)
}

func (r Repo) stringColumn(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
