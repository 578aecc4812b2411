package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/unpieceof/meemoo/internal/config"
	"github.com/unpieceof/meemoo/internal/memo"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "meemoo.db"))
	if err != nil {
		t.Fatalf("NewSQLite error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *SQLite, n int, category string) []memo.Memo {
	t.Helper()
	out := make([]memo.Memo, 0, n)
	for i := 0; i < n; i++ {
		m, err := s.UpsertMemo(context.Background(), memo.Memo{
			Title:          fmt.Sprintf("memo %d", i),
			SummaryBullets: []string{"first", "second"},
			Category:       category,
			Tags:           []string{"tag" + fmt.Sprint(i%3)},
			SourceURL:      fmt.Sprintf("https://example.com/%s/%d", category, i),
			SourceType:     memo.SourceWeb,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("UpsertMemo %d: %v", i, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNewSQLite_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "meemoo.db")
	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	s2, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite reopen error: %v", err)
	}
	defer s2.Close()
}

func TestOpen_SelectsBackend(t *testing.T) {
	st, err := Open(context.Background(), config.StoreConfig{Driver: "sqlite", DBPath: filepath.Join(t.TempDir(), "a.db")}, 8)
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	defer st.Close()
	if _, ok := st.(*SQLite); !ok {
		t.Fatalf("Open returned %T, want *SQLite", st)
	}

	if _, err := Open(context.Background(), config.StoreConfig{Driver: "postgres"}, 8); err == nil {
		t.Fatal("postgres without databaseUrl should fail")
	}
	if _, err := Open(context.Background(), config.StoreConfig{Driver: "mongo"}, 8); err == nil {
		t.Fatal("unknown driver should fail")
	}
}

func TestUpsertMemo_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := memo.Memo{
		Title:          "Go 1.24 release notes",
		SummaryBullets: []string{"a", "b", "c"},
		Category:       "배움",
		Tags:           []string{"go", "release"},
		SourceURL:      "https://go.dev/doc/go1.24",
		SourceType:     memo.SourceWeb,
		RawContent:     "body",
		Embedding:      []float32{0.1, 0.2, 0.3},
		CreatedAt:      base,
	}
	got, err := s.UpsertMemo(ctx, in)
	if err != nil {
		t.Fatalf("UpsertMemo error: %v", err)
	}
	if got.ID == "" {
		t.Fatal("expected generated id")
	}
	in.ID = got.ID
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("stored memo mismatch (-want +got):\n%s", diff)
	}

	found, err := s.FindBySourceURL(ctx, in.SourceURL)
	if err != nil {
		t.Fatalf("FindBySourceURL error: %v", err)
	}
	if found.ID != got.ID {
		t.Errorf("found id = %q, want %q", found.ID, got.ID)
	}
}

func TestUpsertMemo_SameSourceURLOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertMemo(ctx, memo.Memo{Title: "old", Category: "일", SourceURL: "https://example.com/a", CreatedAt: base})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := s.UpsertMemo(ctx, memo.Memo{Title: "new", Category: "정보", SourceURL: "https://example.com/a", CreatedAt: base})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("id changed on conflict: %q -> %q", first.ID, second.ID)
	}
	if second.Title != "new" || second.Category != "정보" {
		t.Errorf("fields not overwritten: %+v", second)
	}
	if n, _ := s.CountMemos(ctx); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestUpsertMemo_EmptySourceURL(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.UpsertMemo(context.Background(), memo.Memo{Title: "x"}); err == nil {
		t.Fatal("expected error for empty source_url")
	}
}

func TestFindBySourceURL_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.FindBySourceURL(context.Background(), "https://nowhere.example")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListMemos_Pagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seeded := seed(t, s, 12, "일")

	tests := []struct {
		page      int
		wantCount int
	}{
		{0, 5},
		{1, 5},
		{2, 2},
		{3, 0},
	}
	for _, tt := range tests {
		got, total, err := s.ListMemos(ctx, memo.PageSize, tt.page*memo.PageSize)
		if err != nil {
			t.Fatalf("ListMemos page %d: %v", tt.page, err)
		}
		if total != 12 {
			t.Errorf("page %d total = %d, want 12", tt.page, total)
		}
		if len(got) != tt.wantCount {
			t.Errorf("page %d len = %d, want %d", tt.page, len(got), tt.wantCount)
		}
	}

	first, _, _ := s.ListMemos(ctx, 1, 0)
	if first[0].ID != seeded[11].ID {
		t.Errorf("newest first: got %q, want %q", first[0].Title, seeded[11].Title)
	}
	if got := memo.TotalPages(12, memo.PageSize); got != 3 {
		t.Errorf("TotalPages = %d, want 3", got)
	}
}

func TestSearchMemos(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ctxMemos := []memo.Memo{
		{Title: "Rust ownership", Category: "배움", Tags: []string{"rust"}, SourceURL: "https://a.example/1", CreatedAt: base},
		{Title: "저녁 약속", Category: "기록", Tags: []string{"친구"}, SourceURL: "memo://1", RawContent: "강남역 7시", CreatedAt: base.Add(time.Minute)},
		{Title: "Go generics", Category: "배움", Tags: []string{"golang"}, SourceURL: "https://a.example/2", CreatedAt: base.Add(2 * time.Minute)},
		{Title: "100% juice_box", Category: "소비", SourceURL: "https://a.example/3", CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, m := range ctxMemos {
		if _, err := s.UpsertMemo(ctx, m); err != nil {
			t.Fatalf("UpsertMemo: %v", err)
		}
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"rust", []string{"Rust ownership"}},
		{"배움", []string{"Go generics", "Rust ownership"}},
		{"강남역", []string{"저녁 약속"}},
		{"golang", []string{"Go generics"}},
		{"100%", []string{"100% juice_box"}},
		{"Rust_ownership", nil},
		{"", nil},
	}
	for _, tt := range tests {
		got, err := s.SearchMemos(ctx, tt.query, 10, 0)
		if err != nil {
			t.Fatalf("SearchMemos(%q): %v", tt.query, err)
		}
		var titles []string
		for _, m := range got {
			titles = append(titles, m.Title)
		}
		if diff := cmp.Diff(tt.want, titles, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("SearchMemos(%q) mismatch (-want +got):\n%s", tt.query, diff)
		}
	}
}

func TestSearchMemos_PagesPastFifty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var want []string
	for i := range 60 {
		m, err := s.UpsertMemo(ctx, memo.Memo{
			Title:     fmt.Sprintf("golang note %02d", i),
			Category:  "배움",
			SourceURL: fmt.Sprintf("https://a.example/%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("UpsertMemo: %v", err)
		}
		want = append([]string{m.ID}, want...)
	}
	if _, err := s.UpsertMemo(ctx, memo.Memo{Title: "unrelated", SourceURL: "https://b.example"}); err != nil {
		t.Fatalf("UpsertMemo: %v", err)
	}

	ids, err := s.SearchIDs(ctx, "golang")
	if err != nil {
		t.Fatalf("SearchIDs: %v", err)
	}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("SearchIDs mismatch (-want +got):\n%s", diff)
	}

	tail, err := s.SearchMemos(ctx, "golang", 5, 55)
	if err != nil {
		t.Fatalf("SearchMemos: %v", err)
	}
	var got []string
	for _, m := range tail {
		got = append(got, m.ID)
	}
	if diff := cmp.Diff(want[55:], got); diff != "" {
		t.Errorf("last page mismatch (-want +got):\n%s", diff)
	}

	if ids, _ := s.SearchIDs(ctx, "  "); len(ids) != 0 {
		t.Errorf("blank query ids = %v, want none", ids)
	}
}

func TestSearchSimilar(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	vectors := map[string][]float32{
		"east":  {1, 0},
		"north": {0, 1},
		"ne":    {0.7, 0.7},
	}
	i := 0
	for title, v := range vectors {
		if _, err := s.UpsertMemo(ctx, memo.Memo{Title: title, SourceURL: "https://v.example/" + title, Embedding: v, CreatedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("UpsertMemo: %v", err)
		}
		i++
	}
	if _, err := s.UpsertMemo(ctx, memo.Memo{Title: "plain", SourceURL: "https://v.example/plain", CreatedAt: base}); err != nil {
		t.Fatalf("UpsertMemo: %v", err)
	}

	got, err := s.SearchSimilar(ctx, []float32{1, 0.1}, 2)
	if err != nil {
		t.Fatalf("SearchSimilar error: %v", err)
	}
	if len(got) != 2 || got[0].Title != "east" || got[1].Title != "ne" {
		t.Fatalf("unexpected ranking: %+v", got)
	}

	none, err := s.SearchSimilar(ctx, nil, 2)
	if err != nil || len(none) != 0 {
		t.Fatalf("empty query vector: %v %v", none, err)
	}
}

func TestResolveID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids := []string{"abc11111-0000", "abc22222-0000", "def33333-0000"}
	for i, id := range ids {
		if _, err := s.UpsertMemo(ctx, memo.Memo{ID: id, Title: id, SourceURL: fmt.Sprintf("https://r.example/%d", i), CreatedAt: base}); err != nil {
			t.Fatalf("UpsertMemo: %v", err)
		}
	}

	m, err := s.ResolveID(ctx, "def")
	if err != nil || m.ID != "def33333-0000" {
		t.Errorf("unique prefix: %v %v", m.ID, err)
	}
	m, err = s.ResolveID(ctx, "abc11111-0000")
	if err != nil || m.ID != "abc11111-0000" {
		t.Errorf("full id: %v %v", m.ID, err)
	}
	if _, err := s.ResolveID(ctx, "abc"); !errors.Is(err, ErrAmbiguous) {
		t.Errorf("ambiguous prefix err = %v, want ErrAmbiguous", err)
	}
	if _, err := s.ResolveID(ctx, "zzz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing prefix err = %v, want ErrNotFound", err)
	}
	if _, err := s.ResolveID(ctx, "  "); !errors.Is(err, ErrNotFound) {
		t.Errorf("blank prefix err = %v, want ErrNotFound", err)
	}
	if _, err := s.ResolveID(ctx, "%"); !errors.Is(err, ErrNotFound) {
		t.Errorf("wildcard prefix err = %v, want ErrNotFound", err)
	}
}

func TestDeleteMemo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seeded := seed(t, s, 2, "일")

	ok, err := s.DeleteMemo(ctx, seeded[0].ID)
	if err != nil || !ok {
		t.Fatalf("DeleteMemo = %v, %v", ok, err)
	}
	ok, err = s.DeleteMemo(ctx, seeded[0].ID)
	if err != nil || ok {
		t.Fatalf("second DeleteMemo = %v, %v; want false", ok, err)
	}
	if n, _ := s.CountMemos(ctx); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestCategoryCountsAndListByCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, 1, "일")
	seed(t, s, 3, "배움")
	seed(t, s, 2, "아이디어")

	counts, err := s.CategoryCounts(ctx)
	if err != nil {
		t.Fatalf("CategoryCounts error: %v", err)
	}
	want := []memo.CategoryCount{{Category: "배움", Count: 3}, {Category: "아이디어", Count: 2}, {Category: "일", Count: 1}}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}

	got, err := s.ListByCategory(ctx, "아이", 10)
	if err != nil {
		t.Fatalf("ListByCategory error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("fuzzy category len = %d, want 2", len(got))
	}
	for _, m := range got {
		if m.Category != "아이디어" {
			t.Errorf("unexpected category %q", m.Category)
		}
	}
}

func TestRecentMemos(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, 4, "일")

	got, err := s.RecentMemos(ctx, 3)
	if err != nil {
		t.Fatalf("RecentMemos error: %v", err)
	}
	if len(got) != 3 || got[0].Title != "memo 3" {
		t.Fatalf("unexpected recent memos: %+v", got)
	}
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, u := range []memo.User{{ChatID: 42, Username: "a"}, {ChatID: 7}, {ChatID: 42, Username: "renamed"}} {
		if err := s.UpsertUser(ctx, u); err != nil {
			t.Fatalf("UpsertUser: %v", err)
		}
	}
	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers error: %v", err)
	}
	want := []memo.User{{ChatID: 7}, {ChatID: 42, Username: "renamed"}}
	if diff := cmp.Diff(want, users); diff != "" {
		t.Errorf("users mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentUpsertSameURL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.UpsertMemo(ctx, memo.Memo{Title: fmt.Sprint(i), SourceURL: "https://race.example/a", CreatedAt: base})
		}(i)
	}
	wg.Wait()

	if n, _ := s.CountMemos(ctx); n != 1 {
		t.Fatalf("count = %d, want exactly one row per source_url", n)
	}
}
