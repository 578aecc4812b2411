package worker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unpieceof/meemoo/internal/llm"
	"github.com/unpieceof/meemoo/internal/store"
)

type fakeGenerator struct {
	mu    sync.Mutex
	fn    func(req llm.Request) (json.RawMessage, error)
	calls []llm.Request
}

func (f *fakeGenerator) Generate(_ context.Context, req llm.Request) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.fn == nil {
		return nil, errors.New("no response configured")
	}
	return f.fn(req)
}

func staticGenerator(body string) *fakeGenerator {
	return &fakeGenerator{fn: func(llm.Request) (json.RawMessage, error) {
		return json.RawMessage(body), nil
	}}
}

type fakeTexter struct {
	line   string
	err    error
	system string
	user   string
	tokens int
}

func (f *fakeTexter) Text(_ context.Context, system, user string, maxTokens int) (string, error) {
	f.system, f.user, f.tokens = system, user, maxTokens
	return f.line, f.err
}

type fakeExtractor struct {
	sourceType string
	text       string
	urls       []string
}

func (f *fakeExtractor) Extract(_ context.Context, url string) (string, string) {
	f.urls = append(f.urls, url)
	return f.sourceType, f.text
}

// fakeEmbedder maps texts to fixed vectors by keyword.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	for key, vec := range f.vectors {
		if strings.Contains(text, key) {
			return vec, nil
		}
	}
	return []float32{0, 0, 1}, nil
}

func newTestStore(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "meemoo.db"))
	if err != nil {
		t.Fatalf("NewSQLite error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// tickingClock returns a clock that advances one second per call.
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}
