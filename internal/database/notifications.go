package database

import (
	"context"
	"fmt"
	"time"
)

// Notification records an update discovered by a merge: the thread changed
// since the last scrape.
type Notification struct {
	ID        int64     `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Title     string    `json:"title"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifications lists notifications, optionally only unread, newest first.
func (db *DB) Notifications(ctx context.Context, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `
		SELECT n.id, g.thread_id, g.title, n.kind, n.message, n.read, n.created_at
		FROM notifications n
		JOIN games g ON g.id = n.game_id`
	if unreadOnly {
		query += ` WHERE n.read = 0`
	}
	query += ` ORDER BY n.created_at DESC, n.id DESC LIMIT ?`

	rows, err := db.sql.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		var (
			n         Notification
			read      int
			createdAt int64
		)
		if err := rows.Scan(&n.ID, &n.ThreadID, &n.Title, &n.Kind, &n.Message, &read, &createdAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Read = read != 0
		n.CreatedAt = time.Unix(createdAt, 0).UTC()
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkNotificationsRead marks the given notifications (or all, when ids is
// empty) as read.
func (db *DB) MarkNotificationsRead(ctx context.Context, ids []int64) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if len(ids) == 0 {
		if _, err := db.sql.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE read = 0`); err != nil {
			return storageErr("mark notifications read", err)
		}
		return nil
	}
	for _, id := range ids {
		if _, err := db.sql.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE id = ?`, id); err != nil {
			return storageErr("mark notification read", err)
		}
	}
	return nil
}

// UnreadNotificationCount reports how many notifications await the user.
func (db *DB) UnreadNotificationCount(ctx context.Context) (int, error) {
	var count int
	err := db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE read = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}
