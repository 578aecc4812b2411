package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/unpieceof/meemoo/internal/llm"
	"github.com/unpieceof/meemoo/internal/memo"
	"github.com/unpieceof/meemoo/internal/prompts"
	"github.com/unpieceof/meemoo/internal/store"
)

// DefaultMaxCategories is the category count for an on-demand recommendation.
const DefaultMaxCategories = 3

const perCategory = 1

type Recommender struct {
	store   store.Store
	gen     llm.Generator
	prompts *prompts.Set
	window  int

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRecommender(s store.Store, gen llm.Generator, p *prompts.Set, window int) *Recommender {
	if p == nil {
		p = prompts.Defaults()
	}
	return &Recommender{store: s, gen: gen, prompts: p, window: window, rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// WithRand replaces the sampling source.
func (r *Recommender) WithRand(rng *rand.Rand) *Recommender {
	r.mu.Lock()
	r.rng = rng
	r.mu.Unlock()
	return r
}

type recInput struct {
	MemoID   string   `json:"memo_id"`
	Title    string   `json:"title"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
	Summary  string   `json:"summary,omitempty"`
}

// Run samples up to maxCategories categories from the recent window and asks
// the model to present them. An empty store yields an empty recommendation
// without a model call. Items whose memo_id was not in the sample are dropped.
func (r *Recommender) Run(ctx context.Context, payload string, maxCategories int) (memo.Recommendation, error) {
	if maxCategories <= 0 {
		maxCategories = DefaultMaxCategories
	}
	pool, err := r.store.RecentMemos(ctx, r.window)
	if err != nil {
		return memo.Recommendation{}, fmt.Errorf("recommender sample: %w", err)
	}
	sample := r.sample(pool, maxCategories)
	if len(sample) == 0 {
		return memo.Recommendation{Categories: []memo.RecGroup{}}, nil
	}

	inputs := make([]recInput, 0, len(sample))
	known := make(map[string]memo.Memo, len(sample))
	for _, m := range sample {
		in := recInput{MemoID: m.ID, Title: m.Title, Category: m.Category, Tags: m.Tags}
		if len(m.SummaryBullets) > 0 {
			in.Summary = m.SummaryBullets[0]
		}
		inputs = append(inputs, in)
		known[m.ID] = m
	}
	data, err := json.Marshal(inputs)
	if err != nil {
		return memo.Recommendation{}, fmt.Errorf("recommender input: %w", err)
	}
	user := string(data)
	if hint := strings.TrimSpace(payload); hint != "" {
		user = "요청: " + hint + "\n" + user
	}

	raw, err := r.gen.Generate(ctx, llm.Request{
		Name:        recommenderTool,
		Description: "Present the sampled memos as grouped recommendations.",
		System:      r.prompts.System(prompts.Recommender),
		User:        user,
		Schema:      recommenderSchema,
		MaxTokens:   r.prompts.MaxTokens(prompts.Recommender, 0),
	})
	if err != nil {
		return memo.Recommendation{}, fmt.Errorf("recommender: %w", err)
	}

	var rec memo.Recommendation
	if err := json.Unmarshal(raw, &rec); err != nil {
		return memo.Recommendation{}, fmt.Errorf("recommender decode: %w", err)
	}
	return keepKnown(rec, known), nil
}

// sample shuffles the pool and keeps perCategory memos from each of the
// first maxCategories categories encountered.
func (r *Recommender) sample(pool []memo.Memo, maxCategories int) []memo.Memo {
	shuffled := append([]memo.Memo(nil), pool...)
	r.mu.Lock()
	r.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	r.mu.Unlock()

	taken := make(map[string]int)
	var out []memo.Memo
	for _, m := range shuffled {
		cat := strings.TrimSpace(m.Category)
		n, seen := taken[cat]
		if !seen && len(taken) >= maxCategories {
			continue
		}
		if n >= perCategory {
			continue
		}
		taken[cat] = n + 1
		out = append(out, m)
	}
	return out
}

func keepKnown(rec memo.Recommendation, known map[string]memo.Memo) memo.Recommendation {
	out := memo.Recommendation{Categories: make([]memo.RecGroup, 0, len(rec.Categories))}
	used := make(map[string]bool, len(known))
	for _, g := range rec.Categories {
		items := make([]memo.RecItem, 0, len(g.Items))
		for _, it := range g.Items {
			if _, ok := known[it.MemoID]; !ok {
				log.Printf("[recommender] dropping item with unknown memo_id %q", it.MemoID)
				continue
			}
			if used[it.MemoID] {
				continue
			}
			used[it.MemoID] = true
			items = append(items, it)
		}
		if len(items) == 0 {
			continue
		}
		g.Items = items
		out.Categories = append(out.Categories, g)
	}
	if missing := len(known) - len(used); missing > 0 {
		log.Printf("[recommender] %d sampled memos missing from output", missing)
	}
	return out
}
