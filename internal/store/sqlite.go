package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/unpieceof/meemoo/internal/memo"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so lexical order matches chronological order.
const timeLayout = "2006-01-02 15:04:05.000000000"

// similarityWindow bounds how many recent embedded rows are ranked in process.
const similarityWindow = 500

const memoColumns = `id, title, summary_bullets, category, tags, source_url, source_type, raw_content, embedding, created_at`

var _ Store = (*SQLite)(nil)

type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

func NewSQLite(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *SQLite) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memos (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			summary_bullets TEXT NOT NULL DEFAULT '[]',
			category TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			source_url TEXT NOT NULL UNIQUE,
			source_type TEXT NOT NULL DEFAULT 'web',
			raw_content TEXT NOT NULL DEFAULT '',
			embedding BLOB,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memos_created ON memos(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memos_category ON memos(category)`,
		`CREATE TABLE IF NOT EXISTS users (
			chat_id INTEGER PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) UpsertMemo(ctx context.Context, m memo.Memo) (memo.Memo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(m.SourceURL) == "" {
		return memo.Memo{}, fmt.Errorf("upsert memo: empty source_url")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	bullets, err := json.Marshal(nonNil(m.SummaryBullets))
	if err != nil {
		return memo.Memo{}, fmt.Errorf("marshal bullets: %w", err)
	}
	tags, err := json.Marshal(nonNil(m.Tags))
	if err != nil {
		return memo.Memo{}, fmt.Errorf("marshal tags: %w", err)
	}
	emb, err := encodeEmbedding(m.Embedding)
	if err != nil {
		return memo.Memo{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memos (`+memoColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_url) DO UPDATE SET
			title = excluded.title,
			summary_bullets = excluded.summary_bullets,
			category = excluded.category,
			tags = excluded.tags,
			source_type = excluded.source_type,
			raw_content = excluded.raw_content,
			embedding = excluded.embedding,
			created_at = excluded.created_at
	`, m.ID, m.Title, string(bullets), m.Category, string(tags), m.SourceURL, m.SourceType,
		m.RawContent, emb, m.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return memo.Memo{}, fmt.Errorf("upsert memo: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+memoColumns+` FROM memos WHERE source_url = ?`, m.SourceURL)
	return scanMemo(row)
}

func (s *SQLite) FindBySourceURL(ctx context.Context, url string) (memo.Memo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoColumns+` FROM memos WHERE source_url = ?`, url)
	return scanMemo(row)
}

func (s *SQLite) ListMemos(ctx context.Context, limit, offset int) ([]memo.Memo, int, error) {
	total, err := s.CountMemos(ctx)
	if err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoColumns+` FROM memos
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, clampLimit(limit, memo.PageSize), offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list memos: %w", err)
	}
	defer rows.Close()
	memos, err := scanMemos(rows)
	if err != nil {
		return nil, 0, err
	}
	return memos, total, nil
}

const sqliteKeywordMatch = `
		WHERE title LIKE ?1 ESCAPE '\'
		   OR category LIKE ?1 ESCAPE '\'
		   OR raw_content LIKE ?1 ESCAPE '\'
		   OR tags LIKE ?1 ESCAPE '\'
		ORDER BY created_at DESC, rowid DESC`

func (s *SQLite) SearchMemos(ctx context.Context, query string, limit, offset int) ([]memo.Memo, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+memoColumns+` FROM memos`+sqliteKeywordMatch+`
		LIMIT ?2 OFFSET ?3
	`, likePattern(query), clampLimit(limit, 50), offset)
	if err != nil {
		return nil, fmt.Errorf("search memos: %w", err)
	}
	defer rows.Close()
	return scanMemos(rows)
}

func (s *SQLite) SearchIDs(ctx context.Context, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM memos`+sqliteKeywordMatch, likePattern(query))
	if err != nil {
		return nil, fmt.Errorf("search ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

func (s *SQLite) SearchSimilar(ctx context.Context, vec []float32, limit int) ([]memo.Memo, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoColumns+` FROM memos
		WHERE embedding IS NOT NULL
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, similarityWindow)
	if err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}
	defer rows.Close()
	candidates, err := scanMemos(rows)
	if err != nil {
		return nil, err
	}
	return rankBySimilarity(vec, candidates, clampLimit(limit, 20)), nil
}

func (s *SQLite) ResolveID(ctx context.Context, prefix string) (memo.Memo, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return memo.Memo{}, ErrNotFound
	}
	m, err := scanMemo(s.db.QueryRowContext(ctx, `SELECT `+memoColumns+` FROM memos WHERE id = ?`, prefix))
	if err == nil || !errors.Is(err, ErrNotFound) {
		return m, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoColumns+` FROM memos WHERE id LIKE ? ESCAPE '\' LIMIT 2
	`, prefixPattern(prefix))
	if err != nil {
		return memo.Memo{}, fmt.Errorf("resolve id: %w", err)
	}
	defer rows.Close()
	matches, err := scanMemos(rows)
	if err != nil {
		return memo.Memo{}, err
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

func (s *SQLite) DeleteMemo(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM memos WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete memo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete memo: %w", err)
	}
	return n > 0, nil
}

func (s *SQLite) CountMemos(ctx context.Context) (int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM memos`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count memos: %w", err)
	}
	return total, nil
}

func (s *SQLite) CategoryCounts(ctx context.Context) ([]memo.CategoryCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(1) AS n FROM memos
		GROUP BY category
		ORDER BY n DESC, category ASC
	`)
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

func (s *SQLite) ListByCategory(ctx context.Context, name string, limit int) ([]memo.Memo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoColumns+` FROM memos
		WHERE category LIKE ? ESCAPE '\'
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, likePattern(strings.TrimSpace(name)), clampLimit(limit, 10))
	if err != nil {
		return nil, fmt.Errorf("list by category: %w", err)
	}
	defer rows.Close()
	return scanMemos(rows)
}

func (s *SQLite) RecentMemos(ctx context.Context, limit int) ([]memo.Memo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoColumns+` FROM memos
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, clampLimit(limit, 200))
	if err != nil {
		return nil, fmt.Errorf("recent memos: %w", err)
	}
	defer rows.Close()
	return scanMemos(rows)
}

func (s *SQLite) UpsertUser(ctx context.Context, u memo.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (chat_id, username) VALUES (?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			username = excluded.username,
			updated_at = datetime('now')
	`, u.ChatID, u.Username)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *SQLite) ListUsers(ctx context.Context) ([]memo.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id, username FROM users ORDER BY chat_id ASC`)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemo(row rowScanner) (memo.Memo, error) {
	var (
		m                 memo.Memo
		bullets, tags, ts string
		emb               []byte
	)
	err := row.Scan(&m.ID, &m.Title, &bullets, &m.Category, &tags, &m.SourceURL, &m.SourceType, &m.RawContent, &emb, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return memo.Memo{}, ErrNotFound
	}
	if err != nil {
		return memo.Memo{}, fmt.Errorf("scan memo: %w", err)
	}
	if err := json.Unmarshal([]byte(bullets), &m.SummaryBullets); err != nil {
		return memo.Memo{}, fmt.Errorf("decode bullets for %s: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return memo.Memo{}, fmt.Errorf("decode tags for %s: %w", m.ID, err)
	}
	if m.Embedding, err = decodeEmbedding(emb); err != nil {
		return memo.Memo{}, err
	}
	if m.CreatedAt, err = time.ParseInLocation(timeLayout, ts, time.UTC); err != nil {
		return memo.Memo{}, fmt.Errorf("parse created_at for %s: %w", m.ID, err)
	}
	return m, nil
}

func scanMemos(rows *sql.Rows) ([]memo.Memo, error) {
	result := make([]memo.Memo, 0)
	for rows.Next() {
		m, err := scanMemo(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memos: %w", err)
	}
	return result, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
