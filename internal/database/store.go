package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gameshelf/gameshelf/internal/catalog"
)

const gameColumns = `id, thread_id, title, category, engine, status, version,
	developer, description, tags_text, changelog, source_url, cover_path,
	header_path, favorite, play_time_secs, notes, rating, last_scraped_at,
	created_at, updated_at, deleted_at`

// Upsert merges one scraped record into the catalog. The whole merge (base
// row, tag junctions, FTS via triggers, notification) is a single write
// transaction: it is either fully visible or absent. Scraped fields are
// overwritten; user-owned fields are never touched.
func (db *DB) Upsert(ctx context.Context, record catalog.PartialGameRecord, scrapedAt time.Time) (catalog.UpsertOutcome, error) {
	if record.ThreadID == "" {
		return catalog.UpsertOutcome{}, fmt.Errorf("upsert: empty thread id")
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return catalog.UpsertOutcome{}, storageErr("begin upsert", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	outcome, err := db.upsertInTx(ctx, tx, record, scrapedAt)
	if err != nil {
		return catalog.UpsertOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return catalog.UpsertOutcome{}, storageErr("commit upsert", err)
	}
	return outcome, nil
}

func (db *DB) upsertInTx(ctx context.Context, tx *sql.Tx, record catalog.PartialGameRecord, scrapedAt time.Time) (catalog.UpsertOutcome, error) {
	changelogJSON, err := json.Marshal(record.Changelog)
	if err != nil {
		return catalog.UpsertOutcome{}, fmt.Errorf("encode changelog: %w", err)
	}
	tagsText := strings.Join(record.Tags, " ")

	var (
		gameID   int64
		existing scrapedFields
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, title, category, engine, status, version, developer, tags_text, changelog
		FROM games WHERE thread_id = ?`, record.ThreadID).
		Scan(&gameID, &existing.title, &existing.category, &existing.engine,
			&existing.status, &existing.version, &existing.developer,
			&existing.tagsText, &existing.changelog)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		gameID, err = db.insertGame(ctx, tx, record, string(changelogJSON), tagsText, scrapedAt)
		if err != nil {
			return catalog.UpsertOutcome{}, err
		}
		if err := replaceTags(ctx, tx, gameID, record.Tags); err != nil {
			return catalog.UpsertOutcome{}, err
		}
		return catalog.UpsertOutcome{Inserted: true, Changed: true}, nil

	case err != nil:
		return catalog.UpsertOutcome{}, storageErr("load existing record", err)
	}

	incoming := scrapedFields{
		title:     record.Title,
		category:  string(record.Category),
		engine:    string(record.Engine),
		status:    string(record.Status),
		version:   record.Version,
		developer: record.Developer,
		tagsText:  tagsText,
		changelog: string(changelogJSON),
	}
	changed := existing.differs(incoming)

	if err := db.updateGame(ctx, tx, gameID, record, string(changelogJSON), tagsText, scrapedAt, changed); err != nil {
		return catalog.UpsertOutcome{}, err
	}
	if err := replaceTags(ctx, tx, gameID, record.Tags); err != nil {
		return catalog.UpsertOutcome{}, err
	}
	if changed {
		if err := insertNotification(ctx, tx, gameID, record, scrapedAt); err != nil {
			return catalog.UpsertOutcome{}, err
		}
	}
	return catalog.UpsertOutcome{Inserted: false, Changed: changed}, nil
}

// scrapedFields is the changed-detection comparison set. Description and
// image paths are deliberately excluded: they churn on forum cosmetics.
type scrapedFields struct {
	title     string
	category  string
	engine    string
	status    string
	version   string
	developer string
	tagsText  string
	changelog string
}

func (a scrapedFields) differs(b scrapedFields) bool {
	return a.title != b.title ||
		a.category != b.category ||
		a.engine != b.engine ||
		a.status != b.status ||
		a.version != b.version ||
		a.developer != b.developer ||
		a.tagsText != b.tagsText ||
		normalizeSpace(a.changelog) != normalizeSpace(b.changelog)
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (db *DB) insertGame(ctx context.Context, tx *sql.Tx, record catalog.PartialGameRecord, changelogJSON, tagsText string, scrapedAt time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO games (
			thread_id, title, category, engine, status, version, developer,
			description, tags_text, changelog, source_url,
			last_scraped_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ThreadID, record.Title, string(record.Category), string(record.Engine),
		string(record.Status), record.Version, record.Developer,
		record.Description, tagsText, changelogJSON, record.SourceURL,
		scrapedAt.Unix(), scrapedAt.Unix(), scrapedAt.Unix())
	if err != nil {
		return 0, storageErr("insert game", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("insert game id", err)
	}
	return id, nil
}

func (db *DB) updateGame(ctx context.Context, tx *sql.Tx, gameID int64, record catalog.PartialGameRecord, changelogJSON, tagsText string, scrapedAt time.Time, changed bool) error {
	query := `
		UPDATE games SET
			title = ?, category = ?, engine = ?, status = ?, version = ?,
			developer = ?, description = ?, tags_text = ?, changelog = ?,
			source_url = ?, last_scraped_at = ?, deleted_at = NULL`
	args := []any{
		record.Title, string(record.Category), string(record.Engine),
		string(record.Status), record.Version, record.Developer,
		record.Description, tagsText, changelogJSON,
		record.SourceURL, scrapedAt.Unix(),
	}
	if changed {
		query += `, updated_at = ?`
		args = append(args, scrapedAt.Unix())
	}
	query += ` WHERE id = ?`
	args = append(args, gameID)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return storageErr("update game", err)
	}
	return nil
}

func replaceTags(ctx context.Context, tx *sql.Tx, gameID int64, tags []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM game_tags WHERE game_id = ?`, gameID); err != nil {
		return storageErr("clear game tags", err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tags (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, tag); err != nil {
			return storageErr("insert tag", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO game_tags (game_id, tag_id)
			SELECT ?, id FROM tags WHERE name = ?
			ON CONFLICT DO NOTHING`, gameID, tag); err != nil {
			return storageErr("link tag", err)
		}
	}
	return nil
}

func insertNotification(ctx context.Context, tx *sql.Tx, gameID int64, record catalog.PartialGameRecord, at time.Time) error {
	message := fmt.Sprintf("%s updated to %s", record.Title, record.Version)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO notifications (game_id, kind, message, created_at)
		VALUES (?, 'update', ?, ?)`, gameID, message, at.Unix()); err != nil {
		return storageErr("insert notification", err)
	}
	return nil
}

// GetByThreadID loads one record including its tags and labels. Soft-deleted
// records are reported as not found.
func (db *DB) GetByThreadID(ctx context.Context, threadID string) (catalog.GameRecord, error) {
	row := db.sql.QueryRowContext(ctx, `
		SELECT `+gameColumns+` FROM games
		WHERE thread_id = ? AND deleted_at IS NULL`, threadID)
	record, err := scanGame(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.GameRecord{}, catalog.ErrNotFound
		}
		return catalog.GameRecord{}, fmt.Errorf("load record %s: %w", threadID, err)
	}
	if err := db.attachTagsAndLabels(ctx, &record); err != nil {
		return catalog.GameRecord{}, err
	}
	return record, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (catalog.GameRecord, error) {
	var (
		record        catalog.GameRecord
		category      string
		engine        string
		status        string
		tagsText      string
		changelogJSON string
		favorite      int
		lastScraped   sql.NullInt64
		createdAt     int64
		updatedAt     int64
		deletedAt     sql.NullInt64
	)
	err := row.Scan(
		&record.ID, &record.ThreadID, &record.Title, &category, &engine, &status,
		&record.Version, &record.Developer, &record.Description, &tagsText,
		&changelogJSON, &record.SourceURL, &record.CoverPath, &record.HeaderPath,
		&favorite, &record.PlayTimeSecs, &record.Notes, &record.Rating,
		&lastScraped, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		return catalog.GameRecord{}, err
	}

	record.Category = catalog.Category(category)
	record.Engine = catalog.Engine(engine)
	record.Status = catalog.Status(status)
	record.Favorite = favorite != 0
	_ = tagsText // denormalized copy for the FTS index; tags load from junctions
	if changelogJSON != "" && changelogJSON != "[]" {
		if err := json.Unmarshal([]byte(changelogJSON), &record.Changelog); err != nil {
			return catalog.GameRecord{}, fmt.Errorf("decode changelog: %w", err)
		}
	}
	if lastScraped.Valid {
		record.LastScrapedAt = time.Unix(lastScraped.Int64, 0).UTC()
	}
	record.CreatedAt = time.Unix(createdAt, 0).UTC()
	record.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if deletedAt.Valid {
		t := time.Unix(deletedAt.Int64, 0).UTC()
		record.DeletedAt = &t
	}
	return record, nil
}

func (db *DB) attachTagsAndLabels(ctx context.Context, record *catalog.GameRecord) error {
	tags, err := db.queryNames(ctx, `
		SELECT t.name FROM tags t
		JOIN game_tags gt ON gt.tag_id = t.id
		WHERE gt.game_id = ? ORDER BY t.name`, record.ID)
	if err != nil {
		return fmt.Errorf("load tags: %w", err)
	}
	record.Tags = tags

	labels, err := db.queryNames(ctx, `
		SELECT l.name FROM labels l
		JOIN game_labels gl ON gl.label_id = l.id
		WHERE gl.game_id = ? ORDER BY l.name`, record.ID)
	if err != nil {
		return fmt.Errorf("load labels: %w", err)
	}
	record.Labels = labels
	return nil
}

func (db *DB) queryNames(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, catalog.ErrStorageIntegrity)
}
