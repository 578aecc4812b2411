package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/unpieceof/meemoo/internal/memo"
)

// pgColumns omits the embedding; similarity ranking happens in the database.
const pgColumns = `id, title, summary_bullets, category, tags, source_url, source_type, raw_content, created_at`

var _ Store = (*Postgres)(nil)

type Postgres struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPostgres(ctx context.Context, databaseURL string, dim int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	// The vector type must exist before AfterConnect can register it.
	bootstrap, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	_, err = bootstrap.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	_ = bootstrap.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("create vector extension: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	p := &Postgres{pool: pool, dim: dim}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS memos (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  summary_bullets TEXT[] NOT NULL DEFAULT '{}',
  category TEXT NOT NULL DEFAULT '',
  tags TEXT[] NOT NULL DEFAULT '{}',
  source_url TEXT NOT NULL UNIQUE,
  source_type TEXT NOT NULL DEFAULT 'web',
  raw_content TEXT NOT NULL DEFAULT '',
  embedding VECTOR(%d),
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_memos_created ON memos(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_memos_category ON memos(category);

CREATE TABLE IF NOT EXISTS users (
  chat_id BIGINT PRIMARY KEY,
  username TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`, p.dim)
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func (p *Postgres) UpsertMemo(ctx context.Context, m memo.Memo) (memo.Memo, error) {
	if strings.TrimSpace(m.SourceURL) == "" {
		return memo.Memo{}, fmt.Errorf("upsert memo: empty source_url")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	var emb any
	if len(m.Embedding) > 0 {
		if len(m.Embedding) != p.dim {
			return memo.Memo{}, fmt.Errorf("upsert memo: embedding dim %d, column dim %d", len(m.Embedding), p.dim)
		}
		emb = pgvector.NewVector(m.Embedding)
	}

	row := p.pool.QueryRow(ctx, `
INSERT INTO memos (id, title, summary_bullets, category, tags, source_url, source_type, raw_content, embedding, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (source_url) DO UPDATE SET
  title = EXCLUDED.title,
  summary_bullets = EXCLUDED.summary_bullets,
  category = EXCLUDED.category,
  tags = EXCLUDED.tags,
  source_type = EXCLUDED.source_type,
  raw_content = EXCLUDED.raw_content,
  embedding = EXCLUDED.embedding,
  created_at = EXCLUDED.created_at
RETURNING `+pgColumns,
		m.ID, m.Title, nonNil(m.SummaryBullets), m.Category, nonNil(m.Tags), m.SourceURL, m.SourceType,
		m.RawContent, emb, m.CreatedAt)
	stored, err := scanPgMemo(row)
	if err != nil {
		return memo.Memo{}, fmt.Errorf("upsert memo: %w", err)
	}
	stored.Embedding = m.Embedding
	return stored, nil
}

func (p *Postgres) FindBySourceURL(ctx context.Context, url string) (memo.Memo, error) {
	return scanPgMemo(p.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM memos WHERE source_url = $1`, url))
}

func (p *Postgres) ListMemos(ctx context.Context, limit, offset int) ([]memo.Memo, int, error) {
	total, err := p.CountMemos(ctx)
	if err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		offset = 0
	}
	memos, err := p.queryMemos(ctx, `
SELECT `+pgColumns+` FROM memos
ORDER BY created_at DESC, id DESC
LIMIT $1 OFFSET $2`, clampLimit(limit, memo.PageSize), offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list memos: %w", err)
	}
	return memos, total, nil
}

const pgKeywordMatch = `
WHERE title ILIKE $1
   OR category ILIKE $1
   OR raw_content ILIKE $1
   OR array_to_string(tags, ' ') ILIKE $1
ORDER BY created_at DESC, id DESC`

func (p *Postgres) SearchMemos(ctx context.Context, query string, limit, offset int) ([]memo.Memo, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}
	memos, err := p.queryMemos(ctx, `SELECT `+pgColumns+` FROM memos`+pgKeywordMatch+`
LIMIT $2 OFFSET $3`, likePattern(query), clampLimit(limit, 50), offset)
	if err != nil {
		return nil, fmt.Errorf("search memos: %w", err)
	}
	return memos, nil
}

func (p *Postgres) SearchIDs(ctx context.Context, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `SELECT id FROM memos`+pgKeywordMatch, likePattern(query))
	if err != nil {
		return nil, fmt.Errorf("search ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("search ids: %w", err)
	}
	return ids, nil
}

func (p *Postgres) SearchSimilar(ctx context.Context, vec []float32, limit int) ([]memo.Memo, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	memos, err := p.queryMemos(ctx, `
SELECT `+pgColumns+` FROM memos
WHERE embedding IS NOT NULL
ORDER BY embedding <=> $1
LIMIT $2`, pgvector.NewVector(vec), clampLimit(limit, 20))
	if err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}
	return memos, nil
}

func (p *Postgres) ResolveID(ctx context.Context, prefix string) (memo.Memo, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return memo.Memo{}, ErrNotFound
	}
	m, err := scanPgMemo(p.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM memos WHERE id = $1`, prefix))
	if err == nil || !errors.Is(err, ErrNotFound) {
		return m, err
	}
	matches, err := p.queryMemos(ctx, `SELECT `+pgColumns+` FROM memos WHERE id LIKE $1 LIMIT 2`, prefixPattern(prefix))
	if err != nil {
		return memo.Memo{}, fmt.Errorf("resolve id: %w", err)
	}
	switch len(matches) {
	case 0:
		return memo.Memo{}, ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return memo.Memo{}, ErrAmbiguous
	}
}

func (p *Postgres) DeleteMemo(ctx context.Context, id string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM memos WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete memo: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) CountMemos(ctx context.Context) (int, error) {
	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(1) FROM memos`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count memos: %w", err)
	}
	return total, nil
}

func (p *Postgres) CategoryCounts(ctx context.Context) ([]memo.CategoryCount, error) {
	rows, err := p.pool.Query(ctx, `
SELECT category, COUNT(1) AS n FROM memos
GROUP BY category
ORDER BY n DESC, category ASC`)
	if err != nil {
		return nil, fmt.Errorf("category counts: %w", err)
	}
	defer rows.Close()

	counts := make([]memo.CategoryCount, 0)
	for rows.Next() {
		var c memo.CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category counts: %w", err)
	}
	return counts, nil
}

func (p *Postgres) ListByCategory(ctx context.Context, name string, limit int) ([]memo.Memo, error) {
	memos, err := p.queryMemos(ctx, `
SELECT `+pgColumns+` FROM memos
WHERE category ILIKE $1
ORDER BY created_at DESC, id DESC
LIMIT $2`, likePattern(strings.TrimSpace(name)), clampLimit(limit, 10))
	if err != nil {
		return nil, fmt.Errorf("list by category: %w", err)
	}
	return memos, nil
}

func (p *Postgres) RecentMemos(ctx context.Context, limit int) ([]memo.Memo, error) {
	memos, err := p.queryMemos(ctx, `
SELECT `+pgColumns+` FROM memos
ORDER BY created_at DESC, id DESC
LIMIT $1`, clampLimit(limit, 200))
	if err != nil {
		return nil, fmt.Errorf("recent memos: %w", err)
	}
	return memos, nil
}

func (p *Postgres) UpsertUser(ctx context.Context, u memo.User) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO users (chat_id, username) VALUES ($1, $2)
ON CONFLICT (chat_id) DO UPDATE SET username = EXCLUDED.username, updated_at = NOW()`,
		u.ChatID, u.Username)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (p *Postgres) ListUsers(ctx context.Context) ([]memo.User, error) {
	rows, err := p.pool.Query(ctx, `SELECT chat_id, username FROM users ORDER BY chat_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]memo.User, 0)
	for rows.Next() {
		var u memo.User
		if err := rows.Scan(&u.ChatID, &u.Username); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (p *Postgres) queryMemos(ctx context.Context, query string, args ...any) ([]memo.Memo, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]memo.Memo, 0)
	for rows.Next() {
		m, err := scanPgMemo(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanPgMemo(row pgx.Row) (memo.Memo, error) {
	var m memo.Memo
	err := row.Scan(&m.ID, &m.Title, &m.SummaryBullets, &m.Category, &m.Tags, &m.SourceURL, &m.SourceType, &m.RawContent, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return memo.Memo{}, ErrNotFound
	}
	if err != nil {
		return memo.Memo{}, fmt.Errorf("scan memo: %w", err)
	}
	return m, nil
}
