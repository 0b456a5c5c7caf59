package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// BackupInfo describes one snapshot on disk.
type BackupInfo struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	GameCount int       `json:"game_count"`
	CreatedAt time.Time `json:"created_at"`
}

const backupTimeLayout = "20060102-150405"

// Backup writes a consistent snapshot of the database into dir using
// VACUUM INTO, records it in the backups table, and applies rotation.
// In-memory databases cannot be backed up.
func (db *DB) Backup(ctx context.Context, dir string, maxCount int, maxAge time.Duration, now time.Time) (BackupInfo, error) {
	if db.path == ":memory:" || db.path == "" {
		return BackupInfo{}, fmt.Errorf("backup requires a file-backed database")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return BackupInfo{}, fmt.Errorf("create backup directory: %w", err)
	}

	filename := fmt.Sprintf("gameshelf-%s.db", now.UTC().Format(backupTimeLayout))
	target := filepath.Join(dir, filename)

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	// VACUUM INTO produces a compact, transactionally consistent copy.
	if _, err := db.sql.ExecContext(ctx, `VACUUM INTO ?`, target); err != nil {
		return BackupInfo{}, storageErr("vacuum into backup", err)
	}

	stat, err := os.Stat(target)
	if err != nil {
		return BackupInfo{}, fmt.Errorf("stat backup: %w", err)
	}

	var gameCount int
	if err := db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM games WHERE deleted_at IS NULL`).Scan(&gameCount); err != nil {
		return BackupInfo{}, fmt.Errorf("count games for backup: %w", err)
	}

	res, err := db.sql.ExecContext(ctx, `
		INSERT INTO backups (filename, size_bytes, game_count, created_at)
		VALUES (?, ?, ?, ?)`, filename, stat.Size(), gameCount, now.Unix())
	if err != nil {
		return BackupInfo{}, storageErr("record backup", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return BackupInfo{}, storageErr("backup id", err)
	}

	info := BackupInfo{
		ID: id, Filename: filename, SizeBytes: stat.Size(),
		GameCount: gameCount, CreatedAt: now.UTC(),
	}
	db.logger.Info("backup written",
		zap.String("file", target),
		zap.Int64("size", info.SizeBytes),
		zap.Int("games", gameCount))

	if err := db.rotateBackups(ctx, dir, maxCount, maxAge, now); err != nil {
		db.logger.Warn("backup rotation failed", zap.Error(err))
	}
	return info, nil
}

// Backups lists recorded snapshots, newest first.
func (db *DB) Backups(ctx context.Context) ([]BackupInfo, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT id, filename, size_bytes, game_count, created_at
		FROM backups ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var backups []BackupInfo
	for rows.Next() {
		var (
			b         BackupInfo
			createdAt int64
		)
		if err := rows.Scan(&b.ID, &b.Filename, &b.SizeBytes, &b.GameCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		b.CreatedAt = time.Unix(createdAt, 0).UTC()
		backups = append(backups, b)
	}
	return backups, rows.Err()
}

// rotateBackups deletes snapshots beyond maxCount or older than maxAge. Zero
// disables the respective bound.
func (db *DB) rotateBackups(ctx context.Context, dir string, maxCount int, maxAge time.Duration, now time.Time) error {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT id, filename, created_at FROM backups ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return fmt.Errorf("list backups for rotation: %w", err)
	}
	type entry struct {
		id        int64
		filename  string
		createdAt int64
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.filename, &e.createdAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan backup for rotation: %w", err)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].createdAt > entries[j].createdAt })

	var expired []entry
	for i, e := range entries {
		tooMany := maxCount > 0 && i >= maxCount
		tooOld := maxAge > 0 && now.Unix()-e.createdAt > int64(maxAge.Seconds())
		if tooMany || tooOld {
			expired = append(expired, e)
		}
	}

	for _, e := range expired {
		// Only remove files that look like ours.
		if strings.HasPrefix(e.filename, "gameshelf-") {
			if err := os.Remove(filepath.Join(dir, e.filename)); err != nil && !os.IsNotExist(err) {
				db.logger.Warn("remove expired backup file failed",
					zap.String("file", e.filename), zap.Error(err))
			}
		}
		if _, err := db.sql.ExecContext(ctx, `DELETE FROM backups WHERE id = ?`, e.id); err != nil {
			return storageErr("delete backup row", err)
		}
	}
	return nil
}
