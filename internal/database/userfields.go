package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gameshelf/gameshelf/internal/catalog"
)

// ErrInvalidUserField rejects a patch value outside its allowed range.
var ErrInvalidUserField = errors.New("invalid user field")

// UserFieldPatch carries the user-owned fields a caller wants to change. Nil
// pointers leave the stored value alone.
type UserFieldPatch struct {
	Favorite     *bool    `json:"favorite,omitempty"`
	Rating       *float64 `json:"rating,omitempty"`
	Notes        *string  `json:"notes,omitempty"`
	PlayTimeSecs *int64   `json:"play_time_secs,omitempty"`
	Labels       []string `json:"labels,omitempty"`
	// SetLabels distinguishes "replace with empty set" from "leave alone".
	SetLabels bool `json:"set_labels,omitempty"`
}

// UpdateUserFields applies a patch to one record's user-owned fields. Scraped
// fields are untouched; a later merge can never regress these values.
func (db *DB) UpdateUserFields(ctx context.Context, threadID string, patch UserFieldPatch, now time.Time) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin user update", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	gameID, err := gameIDByThread(ctx, tx, threadID)
	if err != nil {
		return err
	}

	sets := []string{"updated_at = ?"}
	args := []any{now.Unix()}
	if patch.Favorite != nil {
		sets = append(sets, "favorite = ?")
		if *patch.Favorite {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	if patch.Rating != nil {
		if *patch.Rating < 0 || *patch.Rating > 5 {
			return fmt.Errorf("rating %v out of range [0,5]: %w", *patch.Rating, ErrInvalidUserField)
		}
		sets = append(sets, "rating = ?")
		args = append(args, *patch.Rating)
	}
	if patch.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *patch.Notes)
	}
	if patch.PlayTimeSecs != nil {
		if *patch.PlayTimeSecs < 0 {
			return fmt.Errorf("play time must be >= 0: %w", ErrInvalidUserField)
		}
		sets = append(sets, "play_time_secs = ?")
		args = append(args, *patch.PlayTimeSecs)
	}
	args = append(args, gameID)

	query := "UPDATE games SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = ?"
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return storageErr("update user fields", err)
	}

	if patch.SetLabels {
		if err := replaceLabels(ctx, tx, gameID, patch.Labels); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit user update", err)
	}
	return nil
}

// AddPlayTime increments the play-time counter.
func (db *DB) AddPlayTime(ctx context.Context, threadID string, delta time.Duration, now time.Time) error {
	if delta < 0 {
		return fmt.Errorf("play time delta must be >= 0: %w", ErrInvalidUserField)
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.sql.ExecContext(ctx, `
		UPDATE games SET play_time_secs = play_time_secs + ?, updated_at = ?
		WHERE thread_id = ? AND deleted_at IS NULL`,
		int64(delta.Seconds()), now.Unix(), threadID)
	if err != nil {
		return storageErr("add play time", err)
	}
	return requireRow(res, threadID)
}

// SoftDelete hides a record from listings and search without losing the
// user's fields; a future scrape of the same thread resurrects it.
func (db *DB) SoftDelete(ctx context.Context, threadID string, now time.Time) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.sql.ExecContext(ctx, `
		UPDATE games SET deleted_at = ?, updated_at = ?
		WHERE thread_id = ? AND deleted_at IS NULL`,
		now.Unix(), now.Unix(), threadID)
	if err != nil {
		return storageErr("soft delete", err)
	}
	return requireRow(res, threadID)
}

func replaceLabels(ctx context.Context, tx *sql.Tx, gameID int64, labels []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM game_labels WHERE game_id = ?`, gameID); err != nil {
		return storageErr("clear labels", err)
	}
	for _, label := range labels {
		if label == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO labels (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, label); err != nil {
			return storageErr("insert label", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO game_labels (game_id, label_id)
			SELECT ?, id FROM labels WHERE name = ?
			ON CONFLICT DO NOTHING`, gameID, label); err != nil {
			return storageErr("link label", err)
		}
	}
	return nil
}

func gameIDByThread(ctx context.Context, tx *sql.Tx, threadID string) (int64, error) {
	var gameID int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM games WHERE thread_id = ? AND deleted_at IS NULL`, threadID).Scan(&gameID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, catalog.ErrNotFound
		}
		return 0, storageErr("resolve thread", err)
	}
	return gameID, nil
}

func requireRow(res sql.Result, threadID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("thread %s: %w", threadID, catalog.ErrNotFound)
	}
	return nil
}
