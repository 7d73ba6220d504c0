package repo

import (
	"context"
	"database/sql"
	"time"

	"briefline/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO notifications(id,user_id,kind,brief_id,message,created_at,read_at) VALUES (?,?,?,?,?,?,?)`,
		n.ID, n.UserID, n.Kind, nullable(n.BriefID), n.Message, formatTime(n.CreatedAt), nullableTime(n.ReadAt))
	return err
}

// ListNotifications returns a user's inbox, newest first.
func (r Repo) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	query := `SELECT id,user_id,kind,brief_id,message,created_at,read_at FROM notifications WHERE user_id=?`
	args := []any{userID}
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var briefID, readAt sql.NullString
		var created string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &briefID, &n.Message, &created, &readAt); err != nil {
			return nil, err
		}
		n.BriefID = briefID.String
		if n.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if n.ReadAt, err = parseNullTime(readAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// MarkNotificationRead stamps a notification owned by userID as read. Re-reading keeps the first stamp.
func (r Repo) MarkNotificationRead(ctx context.Context, userID, id string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read_at=COALESCE(read_at, ?) WHERE id=? AND user_id=?`,
		formatTime(at), id, userID)
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
