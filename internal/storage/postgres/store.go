// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/wiki-mirror/internal/mirror"
)

//go:embed schema.sql
var schemaSQL string

// StoreConfig controls the Postgres connection pool.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store relies on; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements the mirror relational store on Postgres.
type Store struct {
	pool pool
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

const upsertPageSQL = `
INSERT INTO pages (title, source_id, created, updated, image)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (source_id) DO UPDATE
SET title = EXCLUDED.title,
	updated = EXCLUDED.updated,
	image = EXCLUDED.image
RETURNING id`

// UpsertPage inserts the page or updates its mutable fields, keyed by source id.
func (s *Store) UpsertPage(ctx context.Context, page mirror.PageRecord) (int64, error) {
	if page.SourceID == "" {
		return 0, fmt.Errorf("page source id is required")
	}
	var id int64
	err := s.pool.QueryRow(ctx, upsertPageSQL,
		page.Title,
		page.SourceID,
		page.Created,
		page.Updated,
		page.Image,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert page %s: %w", page.SourceID, err)
	}
	return id, nil
}

// Duplicate titles resolve to the most recently updated page.
const resolveTitlesSQL = `
SELECT DISTINCT ON (title) title, id
FROM pages
WHERE title = ANY($1)
ORDER BY title, updated DESC, id DESC`

// ResolveTitles maps titles to page ids in one query.
func (s *Store) ResolveTitles(ctx context.Context, titles []string) (map[string]int64, error) {
	out := make(map[string]int64, len(titles))
	if len(titles) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, resolveTitlesSQL, titles)
	if err != nil {
		return nil, fmt.Errorf("resolve titles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			title string
			id    int64
		)
		if err := rows.Scan(&title, &id); err != nil {
			return nil, fmt.Errorf("scan title: %w", err)
		}
		out[title] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate titles: %w", err)
	}
	return out, nil
}

const listDayPagesSQL = `
SELECT id, title, source_id, updated
FROM pages
WHERE title ~ '^[0-9]{4}$'
	AND updated >= $1
	AND ($2 = '' OR title >= $2)
	AND ($3 = '' OR title <= $3)
ORDER BY title, id`

// ListDayPages returns day pages updated at or after the query's cutoff.
func (s *Store) ListDayPages(ctx context.Context, q mirror.DayPageQuery) ([]mirror.DayPage, error) {
	rows, err := s.pool.Query(ctx, listDayPagesSQL, q.UpdatedSince, q.Start, q.End)
	if err != nil {
		return nil, fmt.Errorf("list day pages: %w", err)
	}
	defer rows.Close()
	var out []mirror.DayPage
	for rows.Next() {
		var p mirror.DayPage
		if err := rows.Scan(&p.ID, &p.Title, &p.SourceID, &p.Updated); err != nil {
			return nil, fmt.Errorf("scan day page: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate day pages: %w", err)
	}
	return out, nil
}

const (
	deleteCrossRefsSQL = `DELETE FROM temporal_cross_references WHERE source_page_id = $1`
	insertCrossRefsSQL = `
INSERT INTO temporal_cross_references (source_page_id, target_page_id, year)
SELECT $1, t.target_page_id, t.year
FROM unnest($2::bigint[], $3::integer[]) AS t(target_page_id, year)`
)

// ReplaceCrossReferences deletes every reference owned by sourcePageID and
// inserts refs in the same transaction.
func (s *Store) ReplaceCrossReferences(ctx context.Context, sourcePageID int64, refs []mirror.TemporalCrossReference) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if _, err = tx.Exec(ctx, deleteCrossRefsSQL, sourcePageID); err != nil {
		return fmt.Errorf("delete cross references: %w", err)
	}
	if len(refs) > 0 {
		targets := make([]int64, len(refs))
		years := make([]int32, len(refs))
		for i, r := range refs {
			if r.SourcePageID != sourcePageID {
				return fmt.Errorf("cross reference owned by page %d, want %d", r.SourcePageID, sourcePageID)
			}
			targets[i] = r.TargetPageID
			years[i] = int32(r.Year) // #nosec G115 -- years are four digits.
		}
		if _, err = tx.Exec(ctx, insertCrossRefsSQL, sourcePageID, targets, years); err != nil {
			return fmt.Errorf("insert cross references: %w", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

const countByDayAndYearSQL = `
SELECT p.title, r.year, COUNT(*)
FROM temporal_cross_references r
JOIN pages p ON p.id = r.source_page_id
WHERE p.title ~ '^[0-9]{4}$'
GROUP BY p.title, r.year
ORDER BY p.title, r.year`

// CountByDayAndYear groups every cross reference by its day page title and year.
func (s *Store) CountByDayAndYear(ctx context.Context) ([]mirror.DayYearCount, error) {
	rows, err := s.pool.Query(ctx, countByDayAndYearSQL)
	if err != nil {
		return nil, fmt.Errorf("count cross references: %w", err)
	}
	defer rows.Close()
	var out []mirror.DayYearCount
	for rows.Next() {
		var (
			c     mirror.DayYearCount
			count int64
		)
		if err := rows.Scan(&c.DayKey, &c.Year, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		c.Count = int(count)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return out, nil
}

const listUnclassifiedSQL = `
SELECT p.id, p.title, p.created
FROM pages p
WHERE NOT EXISTS (SELECT 1 FROM articles a WHERE a.page_id = p.id)
	AND NOT EXISTS (SELECT 1 FROM excluded_pages e WHERE e.page_id = p.id)
	AND NOT EXISTS (SELECT 1 FROM clips c WHERE c.page_id = p.id)
	AND p.title !~ '^[0-9]{4}$'
ORDER BY p.created DESC, p.id DESC
LIMIT $1`

// ListUnclassified returns the newest pages lacking any classification record.
func (s *Store) ListUnclassified(ctx context.Context, limit int) ([]mirror.UnclassifiedPage, error) {
	rows, err := s.pool.Query(ctx, listUnclassifiedSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list unclassified: %w", err)
	}
	defer rows.Close()
	var out []mirror.UnclassifiedPage
	for rows.Next() {
		var p mirror.UnclassifiedPage
		if err := rows.Scan(&p.ID, &p.Title, &p.Created); err != nil {
			return nil, fmt.Errorf("scan unclassified: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unclassified: %w", err)
	}
	return out, nil
}
