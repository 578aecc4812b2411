// Package store persists memos and registered users.
//
// Two backends implement Store: an embedded SQLite database for single-host
// deployments and tests, and Postgres with the pgvector extension for a hosted
// relational + vector database.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/unpieceof/meemoo/internal/config"
	"github.com/unpieceof/meemoo/internal/memo"
)

var (
	// ErrNotFound is returned when no memo matches a lookup.
	ErrNotFound = errors.New("memo not found")
	// ErrAmbiguous is returned when an id prefix matches more than one memo.
	ErrAmbiguous = errors.New("memo id prefix is ambiguous")
)

// Store is the query surface the workers need from the memo database.
// Lists are ordered newest first.
type Store interface {
	// UpsertMemo inserts m or overwrites the row with the same SourceURL,
	// returning the stored record.
	UpsertMemo(ctx context.Context, m memo.Memo) (memo.Memo, error)
	FindBySourceURL(ctx context.Context, url string) (memo.Memo, error)
	ListMemos(ctx context.Context, limit, offset int) ([]memo.Memo, int, error)
	// SearchMemos pages over keyword matches; SearchIDs lists every match's id
	// in the same order.
	SearchMemos(ctx context.Context, query string, limit, offset int) ([]memo.Memo, error)
	SearchIDs(ctx context.Context, query string) ([]string, error)
	SearchSimilar(ctx context.Context, vec []float32, limit int) ([]memo.Memo, error)
	// ResolveID maps a full id or unambiguous prefix to its memo.
	ResolveID(ctx context.Context, prefix string) (memo.Memo, error)
	DeleteMemo(ctx context.Context, id string) (bool, error)
	CountMemos(ctx context.Context) (int, error)
	CategoryCounts(ctx context.Context) ([]memo.CategoryCount, error)
	ListByCategory(ctx context.Context, name string, limit int) ([]memo.Memo, error)
	RecentMemos(ctx context.Context, limit int) ([]memo.Memo, error)

	UpsertUser(ctx context.Context, u memo.User) error
	ListUsers(ctx context.Context) ([]memo.User, error)

	Close() error
}

// Open selects the backend named by cfg.Driver. dim is the embedding
// dimension used for the Postgres vector column.
func Open(ctx context.Context, cfg config.StoreConfig, dim int) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite":
		return NewSQLite(cfg.DBPath)
	case "postgres", "postgresql":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("open store: postgres driver requires databaseUrl")
		}
		return NewPostgres(ctx, cfg.DatabaseURL, dim)
	default:
		return nil, fmt.Errorf("open store: unknown driver %q", cfg.Driver)
	}
}

// likePattern escapes LIKE metacharacters in s and wraps it for a substring match.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func prefixPattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s) + "%"
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
