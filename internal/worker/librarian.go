package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/unpieceof/meemoo/internal/embed"
	"github.com/unpieceof/meemoo/internal/format"
	"github.com/unpieceof/meemoo/internal/memo"
	"github.com/unpieceof/meemoo/internal/router"
	"github.com/unpieceof/meemoo/internal/store"
)

type LibAction string

const (
	ActionSaved        LibAction = "saved"
	ActionDuplicate    LibAction = "duplicate"
	ActionList         LibAction = "list"
	ActionSearch       LibAction = "search"
	ActionCategoryList LibAction = "category_list"
	ActionCategory     LibAction = "category"
	ActionView         LibAction = "view"
	ActionDelete       LibAction = "delete"
)

const (
	vectorPool   = 20
	categoryPool = 20
)

// LibResult is the librarian outcome. Error is set, with Action empty, for
// a soft failure such as an unknown sub-action.
type LibResult struct {
	Action LibAction   `json:"action,omitempty"`
	Memo   *memo.Memo  `json:"memo,omitempty"`
	Memos  []memo.Memo `json:"memos,omitempty"`

	// Hits parallels Memos for search results.
	Hits   []format.Display     `json:"hits,omitempty"`
	Query  string               `json:"query,omitempty"`
	Page   int                  `json:"page,omitempty"`
	Total  int                  `json:"total,omitempty"`
	Counts []memo.CategoryCount `json:"counts,omitempty"`

	Category      string `json:"category,omitempty"`
	ExistingID    string `json:"existing_id,omitempty"`
	ExistingTitle string `json:"existing_title,omitempty"`
	MemoID        string `json:"memo_id,omitempty"`
	Success       bool   `json:"success,omitempty"`
	Error         string `json:"error,omitempty"`
}

// MarshalJSON writes the fields of the result's action shape, including
// zero values such as page 0, success false and a null memo. Soft errors and
// duplicates keep the compact form.
func (r LibResult) MarshalJSON() ([]byte, error) {
	type compact LibResult
	memos := r.Memos
	if memos == nil {
		memos = []memo.Memo{}
	}
	switch r.Action {
	case ActionSaved, ActionView:
		return json.Marshal(struct {
			Action LibAction  `json:"action"`
			Memo   *memo.Memo `json:"memo"`
		}{r.Action, r.Memo})
	case ActionList:
		return json.Marshal(struct {
			Action LibAction   `json:"action"`
			Memos  []memo.Memo `json:"memos"`
			Page   int         `json:"page"`
			Total  int         `json:"total"`
		}{r.Action, memos, r.Page, r.Total})
	case ActionSearch:
		return json.Marshal(struct {
			Action LibAction        `json:"action"`
			Query  string           `json:"query"`
			Memos  []memo.Memo      `json:"memos"`
			Hits   []format.Display `json:"hits,omitempty"`
			Page   int              `json:"page"`
			Total  int              `json:"total"`
		}{r.Action, r.Query, memos, r.Hits, r.Page, r.Total})
	case ActionCategoryList:
		counts := r.Counts
		if counts == nil {
			counts = []memo.CategoryCount{}
		}
		return json.Marshal(struct {
			Action LibAction            `json:"action"`
			Counts []memo.CategoryCount `json:"counts"`
		}{r.Action, counts})
	case ActionCategory:
		return json.Marshal(struct {
			Action   LibAction   `json:"action"`
			Category string      `json:"category"`
			Memos    []memo.Memo `json:"memos"`
		}{r.Action, r.Category, memos})
	case ActionDelete:
		return json.Marshal(struct {
			Action  LibAction `json:"action"`
			MemoID  string    `json:"memo_id"`
			Success bool      `json:"success"`
		}{r.Action, r.MemoID, r.Success})
	}
	return json.Marshal(compact(r))
}

type Librarian struct {
	store    store.Store
	embedder embed.Embedder
	pageSize int
	rawCap   int
	now      func() time.Time
}

// NewLibrarian wires the store. embedder may be nil, which disables vectors.
func NewLibrarian(s store.Store, embedder embed.Embedder, pageSize, rawCap int) *Librarian {
	if pageSize <= 0 {
		pageSize = memo.PageSize
	}
	return &Librarian{store: s, embedder: embedder, pageSize: pageSize, rawCap: rawCap, now: time.Now}
}

func (l *Librarian) PageSize() int { return l.pageSize }

// Save stores an analyst draft unless a memo with the same real source URL
// exists already. The check and the upsert are not atomic; the store's
// unique source_url keeps concurrent saves to one row.
func (l *Librarian) Save(ctx context.Context, d memo.Draft) (LibResult, error) {
	if d.SourceURL != "" && !memo.IsSynthetic(d.SourceURL) {
		existing, err := l.store.FindBySourceURL(ctx, d.SourceURL)
		switch {
		case err == nil:
			return LibResult{Action: ActionDuplicate, ExistingID: existing.ID, ExistingTitle: existing.Title}, nil
		case !errors.Is(err, store.ErrNotFound):
			return LibResult{}, fmt.Errorf("librarian save: %w", err)
		}
	}

	now := l.now()
	m := d.ToMemo()
	if m.SourceURL == "" {
		m.SourceURL = memo.SyntheticURL(now)
	}
	if m.SourceType == "" {
		m.SourceType = memo.SourceWeb
	}
	m.RawContent = capRunes(m.RawContent, l.rawCap)
	m.CreatedAt = now.UTC()
	m.Embedding = l.embed(ctx, embedText(m))

	stored, err := l.store.UpsertMemo(ctx, m)
	if err != nil {
		return LibResult{}, fmt.Errorf("librarian save: %w", err)
	}
	log.Printf("[librarian] saved %s (%s)", stored.ID, stored.SourceURL)
	return LibResult{Action: ActionSaved, Memo: &stored}, nil
}

// RunPayload parses a "<sub>:<rest>" payload and runs it.
func (l *Librarian) RunPayload(ctx context.Context, payload string) (LibResult, error) {
	return l.Run(ctx, router.ParseLibrarian(payload))
}

func (l *Librarian) Run(ctx context.Context, req router.LibRequest) (LibResult, error) {
	switch req.Kind {
	case router.LibList:
		return l.list(ctx, req.Page)
	case router.LibSearch:
		return l.search(ctx, req.Query, req.Page)
	case router.LibCategory:
		return l.category(ctx, req.Name)
	case router.LibView:
		return l.view(ctx, req.ID)
	case router.LibDelete:
		return l.delete(ctx, req.ID)
	case router.LibSave:
		return LibResult{Error: "No analyst result to save"}, nil
	default:
		return LibResult{Error: "Unknown librarian action: " + string(req.Kind)}, nil
	}
}

func (l *Librarian) list(ctx context.Context, page int) (LibResult, error) {
	if page < 0 {
		page = 0
	}
	memos, total, err := l.store.ListMemos(ctx, l.pageSize, page*l.pageSize)
	if err != nil {
		return LibResult{}, fmt.Errorf("librarian list: %w", err)
	}
	return LibResult{Action: ActionList, Memos: memos, Page: page, Total: total}, nil
}

// search lists every keyword match newest first, then the vector hits that
// are not keyword matches, and pages over that combined order. Only the
// requested page of keyword rows is loaded.
func (l *Librarian) search(ctx context.Context, query string, page int) (LibResult, error) {
	if page < 0 {
		page = 0
	}
	res := LibResult{Action: ActionSearch, Query: query, Page: page}
	if strings.TrimSpace(query) == "" {
		return res, nil
	}

	ids, err := l.store.SearchIDs(ctx, query)
	if err != nil {
		return LibResult{}, fmt.Errorf("librarian search: %w", err)
	}
	extras := l.vectorOnly(ctx, query, ids)

	res.Total = len(ids) + len(extras)
	start := page * l.pageSize
	if start >= res.Total {
		return res, nil
	}
	end := min(start+l.pageSize, res.Total)

	if start < len(ids) {
		kw, err := l.store.SearchMemos(ctx, query, min(end, len(ids))-start, start)
		if err != nil {
			return LibResult{}, fmt.Errorf("librarian search: %w", err)
		}
		res.Memos = append(res.Memos, kw...)
	}
	if end > len(ids) {
		res.Memos = append(res.Memos, extras[max(start-len(ids), 0):end-len(ids)]...)
	}

	res.Hits = make([]format.Display, 0, len(res.Memos))
	for _, m := range res.Memos {
		res.Hits = append(res.Hits, format.Decorate(m))
	}
	return res, nil
}

// vectorOnly returns the similar memos that are not among the keyword ids.
func (l *Librarian) vectorOnly(ctx context.Context, query string, ids []string) []memo.Memo {
	vec := l.embed(ctx, query)
	if vec == nil {
		return nil
	}
	similar, err := l.store.SearchSimilar(ctx, vec, vectorPool)
	if err != nil {
		log.Printf("[librarian] vector search warning: %v", err)
		return nil
	}
	seen := make(map[string]struct{}, len(ids)+len(similar))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	var extras []memo.Memo
	for _, m := range similar {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		extras = append(extras, m)
	}
	return extras
}

func (l *Librarian) category(ctx context.Context, name string) (LibResult, error) {
	if name == "" {
		counts, err := l.store.CategoryCounts(ctx)
		if err != nil {
			return LibResult{}, fmt.Errorf("librarian category counts: %w", err)
		}
		return LibResult{Action: ActionCategoryList, Counts: counts}, nil
	}
	memos, err := l.store.ListByCategory(ctx, name, categoryPool)
	if err != nil {
		return LibResult{}, fmt.Errorf("librarian category: %w", err)
	}
	return LibResult{Action: ActionCategory, Category: name, Memos: memos}, nil
}

func (l *Librarian) view(ctx context.Context, id string) (LibResult, error) {
	m, err := l.resolve(ctx, id)
	if err != nil {
		return LibResult{}, fmt.Errorf("librarian view: %w", err)
	}
	return LibResult{Action: ActionView, Memo: m}, nil
}

func (l *Librarian) delete(ctx context.Context, id string) (LibResult, error) {
	m, err := l.resolve(ctx, id)
	if err != nil {
		return LibResult{}, fmt.Errorf("librarian delete: %w", err)
	}
	if m == nil {
		return LibResult{Action: ActionDelete, MemoID: id}, nil
	}
	ok, err := l.store.DeleteMemo(ctx, m.ID)
	if err != nil {
		return LibResult{}, fmt.Errorf("librarian delete: %w", err)
	}
	return LibResult{Action: ActionDelete, MemoID: m.ID, Success: ok}, nil
}

// resolve returns nil, nil when id matches no memo or more than one.
func (l *Librarian) resolve(ctx context.Context, id string) (*memo.Memo, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	m, err := l.store.ResolveID(ctx, id)
	switch {
	case err == nil:
		return &m, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, nil
	case errors.Is(err, store.ErrAmbiguous):
		log.Printf("[librarian] id prefix %q is ambiguous", id)
		return nil, nil
	default:
		return nil, err
	}
}

func (l *Librarian) embed(ctx context.Context, text string) []float32 {
	if l.embedder == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	vec, err := l.embedder.Embed(ctx, text)
	if err != nil {
		log.Printf("[librarian] embedding warning: %v", err)
		return nil
	}
	return vec
}

func embedText(m memo.Memo) string {
	parts := []string{m.Title}
	parts = append(parts, m.SummaryBullets...)
	if len(m.Tags) > 0 {
		parts = append(parts, strings.Join(m.Tags, " "))
	}
	return strings.Join(parts, "\n")
}
