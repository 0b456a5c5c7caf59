package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/gameshelf/gameshelf/internal/catalog"
)

// FilterCriteria narrows catalog listings. Zero values mean "any".
type FilterCriteria struct {
	Category catalog.Category
	Engine   catalog.Engine
	Status   catalog.Status
	Tag      string
	Favorite *bool
	Limit    int
	Offset   int
}

const defaultListLimit = 50

// Search runs a ranked full-text query over title, developer, description,
// tags, and changelog. Results order by bm25 relevance.
func (db *DB) Search(ctx context.Context, text string, limit int) ([]catalog.GameRecord, error) {
	query := buildMatchQuery(text)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := db.sql.QueryContext(ctx, `
		SELECT `+prefixedGameColumns("g")+`
		FROM games_fts f
		JOIN games g ON g.id = f.rowid
		WHERE games_fts MATCH ? AND g.deleted_at IS NULL
		ORDER BY bm25(games_fts)
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	return db.collectGames(ctx, rows)
}

// Filter lists records matching the criteria, newest updates first.
func (db *DB) Filter(ctx context.Context, criteria FilterCriteria) ([]catalog.GameRecord, error) {
	var (
		where = []string{"g.deleted_at IS NULL"}
		args  []any
	)
	if criteria.Category != "" {
		where = append(where, "g.category = ?")
		args = append(args, string(criteria.Category))
	}
	if criteria.Engine != "" {
		where = append(where, "g.engine = ?")
		args = append(args, string(criteria.Engine))
	}
	if criteria.Status != "" {
		where = append(where, "g.status = ?")
		args = append(args, string(criteria.Status))
	}
	if criteria.Favorite != nil {
		where = append(where, "g.favorite = ?")
		if *criteria.Favorite {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	if criteria.Tag != "" {
		where = append(where, `g.id IN (
			SELECT gt.game_id FROM game_tags gt
			JOIN tags t ON t.id = gt.tag_id WHERE t.name = ?)`)
		args = append(args, strings.ToLower(criteria.Tag))
	}

	limit := criteria.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit, criteria.Offset)

	rows, err := db.sql.QueryContext(ctx, `
		SELECT `+prefixedGameColumns("g")+`
		FROM games g
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY g.updated_at DESC, g.id DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("filter query: %w", err)
	}
	defer rows.Close()

	return db.collectGames(ctx, rows)
}

// CountGames returns the number of live records.
func (db *DB) CountGames(ctx context.Context) (int, error) {
	var count int
	err := db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM games WHERE deleted_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count games: %w", err)
	}
	return count, nil
}

type sqlRows interface {
	rowScanner
	Next() bool
	Err() error
}

func (db *DB) collectGames(ctx context.Context, rows sqlRows) ([]catalog.GameRecord, error) {
	var records []catalog.GameRecord
	for rows.Next() {
		record, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	for i := range records {
		if err := db.attachTagsAndLabels(ctx, &records[i]); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// buildMatchQuery turns free text into a safe FTS5 query: each term quoted
// and prefix-matched, terms ANDed together.
func buildMatchQuery(text string) string {
	terms := strings.Fields(text)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ReplaceAll(term, `"`, "")
		if term == "" {
			continue
		}
		quoted = append(quoted, `"`+term+`"*`)
	}
	return strings.Join(quoted, " AND ")
}

func prefixedGameColumns(alias string) string {
	cols := strings.Split(gameColumns, ",")
	for i, col := range cols {
		cols[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(cols, ", ")
}
