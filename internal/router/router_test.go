package router

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Decision
	}{
		{"empty", "", Decision{Unknown, ""}},
		{"whitespace", "   ", Decision{Unknown, ""}},
		{"list", "/list", Decision{Librarian, "list:"}},
		{"search", "/search foo", Decision{Librarian, "search:foo"}},
		{"search keeps inner spaces", "/search  foo  bar  ", Decision{Librarian, "search:foo  bar"}},
		{"category", "/category 배움", Decision{Librarian, "category:배움"}},
		{"view", "/view abcd1234", Decision{Librarian, "view:abcd1234"}},
		{"delete", "/delete abcd", Decision{Librarian, "delete:abcd"}},
		{"save", "/save https://example.com/a", Decision{Analyst, "https://example.com/a"}},
		{"recommend", "/recommend", Decision{Recommender, ""}},
		{"verbose", "/verbose on", Decision{Setting, "on"}},
		{"sms", "/sms", Decision{SMS, ""}},
		{"help", "/help", Decision{Help, ""}},
		{"start", "/start", Decision{Help, ""}},
		{"upper case command", "/LIST", Decision{Librarian, "list:"}},
		{"bot suffix", "/list@meemoo_bot", Decision{Librarian, "list:"}},
		{"unknown command", "/bogus", Decision{Unknown, ""}},
		{"unknown command with rest", "/bogus stuff", Decision{Unknown, "stuff"}},
		{"bare slash", "/", Decision{Unknown, "/"}},
		{"bare url", "https://x.com/y", Decision{Analyst, "https://x.com/y"}},
		{"url with context", "이거 나중에 보기 https://example.com/a", Decision{Analyst, "이거 나중에 보기 https://example.com/a"}},
		{"bare domain", "griddyicons.com", Decision{Analyst, "griddyicons.com"}},
		{"free text", "오늘 회의 내용 정리했음", Decision{Analyst, "오늘 회의 내용 정리했음"}},
		{"short text", "안녕", Decision{Unknown, "안녕"}},
		{"exactly ten runes", "0123456789", Decision{Unknown, "0123456789"}},
		{"eleven runes", "01234567890", Decision{Analyst, "01234567890"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Route(tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Route(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestParseLibrarian(t *testing.T) {
	tests := []struct {
		in   string
		want LibRequest
	}{
		{"list:", LibRequest{Kind: LibList}},
		{"list:2", LibRequest{Kind: LibList, Page: 2}},
		{"list:abc", LibRequest{Kind: LibList}},
		{"search:foo", LibRequest{Kind: LibSearch, Query: "foo"}},
		{"search:foo:2", LibRequest{Kind: LibSearch, Query: "foo", Page: 2}},
		{"search:a:b", LibRequest{Kind: LibSearch, Query: "a:b"}},
		{"search:2024", LibRequest{Kind: LibSearch, Query: "2024"}},
		{"category:", LibRequest{Kind: LibCategory}},
		{"category:배움", LibRequest{Kind: LibCategory, Name: "배움"}},
		{"view:abcd", LibRequest{Kind: LibView, ID: "abcd"}},
		{"delete:abcd", LibRequest{Kind: LibDelete, ID: "abcd"}},
		{"frobnicate:x", LibRequest{Kind: "frobnicate", Query: "x"}},
	}
	for _, tt := range tests {
		got := ParseLibrarian(tt.in)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("ParseLibrarian(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestLibRequestPayloadRoundTrip(t *testing.T) {
	for _, payload := range []string{"list:3", "search:go lang:1", "view:abc", "delete:abc", "category:일"} {
		if got := ParseLibrarian(payload).Payload(); got != payload {
			t.Errorf("Payload() = %q, want %q", got, payload)
		}
	}
}

func TestRouteLibrarianPayloadParses(t *testing.T) {
	d := Route("/search golang:1")
	req := ParseLibrarian(d.Payload)
	if req.Kind != LibSearch || req.Query != "golang" || req.Page != 1 {
		t.Errorf("unexpected request: %+v", req)
	}
}
