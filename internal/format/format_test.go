package format

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/unpieceof/meemoo/internal/bus"
	"github.com/unpieceof/meemoo/internal/memo"
	"github.com/unpieceof/meemoo/internal/router"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"snake_case", `snake\_case`},
		{"*bold*", `\*bold\*`},
		{"`code`", "\\`code\\`"},
		{"[link](x)", `\[link](x)`},
		{"a_b*c`d[e", "a\\_b\\*c\\`d\\[e"},
		{"한글 _제목_", `한글 \_제목\_`},
		{`back\slash ] ( )`, `back\slash ] ( )`},
	}
	for _, tt := range tests {
		if got := Escape(tt.in); got != tt.want {
			t.Errorf("Escape(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEscape_EachSpecialEscapedOnce(t *testing.T) {
	in := "__**``[["
	got := Escape(in)
	if strings.Count(got, `\`) != len(in) {
		t.Fatalf("Escape(%q) = %q, want one backslash per special", in, got)
	}
	if strings.ReplaceAll(got, `\`, "") != in {
		t.Fatalf("Escape altered non-special characters: %q", got)
	}
}

func TestDecorate(t *testing.T) {
	m := memo.Memo{
		ID:             "abc",
		Title:          "Go_1.24 release",
		Category:       "배움",
		Tags:           []string{"golang", "release"},
		SummaryBullets: []string{strings.Repeat("가", 70), "second"},
		CreatedAt:      time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC),
	}
	d := Decorate(m)
	if d.Title != `📖 #golang · Go\_1.24 release` {
		t.Errorf("Title = %q", d.Title)
	}
	if d.Preview != strings.Repeat("가", PreviewLen)+"…" {
		t.Errorf("Preview = %q", d.Preview)
	}
	if d.Date == "" || d.ID != "abc" {
		t.Errorf("Display = %+v", d)
	}

	bare := Decorate(memo.Memo{Title: "t", Category: "없는분류"})
	if bare.Title != "📌 t" || bare.Preview != "" || bare.Date != "" {
		t.Errorf("bare = %+v", bare)
	}
}

func TestPageKeyboard(t *testing.T) {
	if kb := PageKeyboard(router.LibList, 0, 5, 5, ""); kb != nil {
		t.Errorf("single page should have no keyboard, got %+v", kb)
	}

	first := PageKeyboard(router.LibList, 0, 12, 5, "")
	want := &bus.Keyboard{Rows: [][]bus.Button{{
		{Text: "1/3", Data: NoopData},
		{Text: "다음 ▶", Data: "list:1"},
	}}}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Errorf("first page (-want +got):\n%s", diff)
	}

	middle := PageKeyboard(router.LibSearch, 1, 12, 5, "go:lang")
	want = &bus.Keyboard{Rows: [][]bus.Button{{
		{Text: "◀ 이전", Data: "search:go:lang:0"},
		{Text: "2/3", Data: NoopData},
		{Text: "다음 ▶", Data: "search:go:lang:2"},
	}}}
	if diff := cmp.Diff(want, middle); diff != "" {
		t.Errorf("middle page (-want +got):\n%s", diff)
	}

	last := PageKeyboard(router.LibList, 2, 12, 5, "")
	if len(last.Rows[0]) != 2 || last.Rows[0][0].Data != "list:1" {
		t.Errorf("last page = %+v", last)
	}

	if kb := PageKeyboard(router.LibSearch, 0, 12, 5, strings.Repeat("q", 80)); kb != nil {
		t.Error("oversized callback data should drop the keyboard")
	}
}

func TestPageKeyboard_DataParsesBack(t *testing.T) {
	kb := PageKeyboard(router.LibSearch, 0, 20, 5, "rust 소유권")
	next := kb.Rows[0][len(kb.Rows[0])-1].Data
	got := router.ParseLibrarian(next)
	if got.Kind != router.LibSearch || got.Query != "rust 소유권" || got.Page != 1 {
		t.Errorf("ParseLibrarian(%q) = %+v", next, got)
	}
}

func TestList(t *testing.T) {
	if got := List(nil, 0, 0, 5); !strings.Contains(got, "저장된 메모가 없습니다") {
		t.Errorf("empty list = %q", got)
	}
	memos := []memo.Memo{{ID: "0123456789abcdef", Title: "first_one", Category: "정보"}}
	got := List(memos, 1, 6, 5)
	if !strings.Contains(got, "6. 📰 *first\\_one*") {
		t.Errorf("numbering should continue across pages: %q", got)
	}
	if !strings.Contains(got, "`01234567`") {
		t.Errorf("short id missing: %q", got)
	}
	if got := List(nil, 3, 6, 5); !strings.Contains(got, "4페이지") {
		t.Errorf("out of range page = %q", got)
	}
}

func TestSearch(t *testing.T) {
	if got := Search("nothing", nil, 0, 0, 5); !strings.Contains(got, "검색 결과 없음") {
		t.Errorf("no results = %q", got)
	}
	hits := []Display{{ID: "abcdef0123", Title: "📖 t", Preview: "p", Date: "03.09"}}
	got := Search("a_b", hits, 0, 1, 5)
	for _, want := range []string{`검색: a\_b`, "1. 📖 t", "_03.09_", "`abcdef01`", "    p"} {
		if !strings.Contains(got, want) {
			t.Errorf("search output %q missing %q", got, want)
		}
	}
}

func TestView(t *testing.T) {
	if got := View(nil); !strings.Contains(got, "찾을 수 없습니다") {
		t.Errorf("nil view = %q", got)
	}
	m := &memo.Memo{ID: "id-1", Title: "T", Category: "기록", SourceURL: "memo://1", RawContent: "raw *text*"}
	got := View(m)
	if strings.Contains(got, "memo://") {
		t.Errorf("synthetic url should be hidden: %q", got)
	}
	if !strings.Contains(got, `raw \*text\*`) {
		t.Errorf("raw content should be escaped: %q", got)
	}
}

func TestDelete(t *testing.T) {
	if got := Delete("0123456789", true); got != "🗑 `01234567` 삭제 완료" {
		t.Errorf("Delete ok = %q", got)
	}
	if got := Delete("zz", false); !strings.Contains(got, "삭제 실패") {
		t.Errorf("Delete fail = %q", got)
	}
}

func TestRecommend(t *testing.T) {
	if got := Recommend(memo.Recommendation{}); !strings.Contains(got, "아직 없어요") {
		t.Errorf("empty = %q", got)
	}
	r := memo.Recommendation{Categories: []memo.RecGroup{
		{Category: "배움", Emoji: "📖", OneLiner: "공부 거리", Items: []memo.RecItem{
			{MemoID: "0123456789", Title: "Go_generics", Hook: "h", Reason: "r"},
		}},
		{Category: "빈 그룹"},
	}}
	got := Recommend(r)
	for _, want := range []string{"📖 *배움* · 공부 거리", `*Go\_generics*`, "`01234567`", "_r_"} {
		if !strings.Contains(got, want) {
			t.Errorf("recommend output %q missing %q", got, want)
		}
	}
	if strings.Contains(got, "빈 그룹") {
		t.Errorf("empty groups should be skipped: %q", got)
	}
}

func TestVerboseStep(t *testing.T) {
	got := VerboseStep("🔍 Analyst", map[string]string{"title": strings.Repeat("x", 1000)})
	if !strings.HasPrefix(got, "🔧 *[🔍 Analyst]*\n```json\n") || !strings.HasSuffix(got, "\n```") {
		t.Errorf("VerboseStep framing = %q", got)
	}
	body := strings.TrimSuffix(strings.TrimPrefix(got, "🔧 *[🔍 Analyst]*\n```json\n"), "\n```")
	if n := len([]rune(body)); n != VerboseCap+1 {
		t.Errorf("body runes = %d, want cap plus ellipsis", n)
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		d    router.Decision
		want string
	}{
		{router.Decision{Action: router.Analyst}, "🔍 분석가: 핵심 정리 중..."},
		{router.Decision{Action: router.Librarian, Payload: "search:go"}, "📚 사서: 색인 뒤지는 중..."},
		{router.Decision{Action: router.Librarian, Payload: "bogus:"}, "⏳ 처리 중..."},
		{router.Decision{Action: router.Recommender}, "💡 큐레이터: 연결 고리 탐색 중..."},
		{router.Decision{Action: router.Help}, ""},
		{router.Decision{Action: router.Unknown}, ""},
	}
	for _, tt := range tests {
		if got := Status(tt.d); got != tt.want {
			t.Errorf("Status(%+v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestAnalyst(t *testing.T) {
	got := Analyst(memo.Draft{Title: "t*", Bullets: []string{"one", "two_"}, Category: "정보", Tags: []string{"a", "#b"}})
	for _, want := range []string{`📌 *t\*`, "  • one", `  • two\_`, "카테고리: `정보`", "🏷 #a #b"} {
		if !strings.Contains(got, want) {
			t.Errorf("analyst output %q missing %q", got, want)
		}
	}
}
