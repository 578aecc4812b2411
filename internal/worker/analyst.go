// Package worker holds the pipeline stages: the analyst that turns a payload
// into a memo draft, the librarian that owns memo storage, the recommender,
// and the best-effort one-liner generators.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/unpieceof/meemoo/internal/llm"
	"github.com/unpieceof/meemoo/internal/memo"
	"github.com/unpieceof/meemoo/internal/prompts"
)

// ErrInvalidDraft is returned when generated output does not have the memo shape.
var ErrInvalidDraft = errors.New("invalid memo draft")

// ErrEmptyPayload is returned before any model call when there is nothing to analyse.
var ErrEmptyPayload = errors.New("empty memo payload")

// Extractor fetches readable text for a URL. It never fails; an empty text
// means nothing could be extracted.
type Extractor interface {
	Extract(ctx context.Context, url string) (sourceType, text string)
}

var (
	urlRe        = regexp.MustCompile(`https?://[^\s<>"']+`)
	bareDomainRe = regexp.MustCompile(`(?i)\b(?:[\w-]+\.)+(?:com|net|org|io|co|dev|ai|kr|me|app|xyz)\b(?:/[^\s<>"']*)?`)
)

type Analyst struct {
	extractor Extractor
	gen       llm.Generator
	prompts   *prompts.Set
	minChars  int
	rawCap    int
}

func NewAnalyst(extractor Extractor, gen llm.Generator, p *prompts.Set, minChars, rawCap int) *Analyst {
	if p == nil {
		p = prompts.Defaults()
	}
	return &Analyst{extractor: extractor, gen: gen, prompts: p, minChars: minChars, rawCap: rawCap}
}

// Run analyses payload (a URL with optional context, or free text) and
// returns a validated draft. Generation failures are returned as errors.
func (a *Analyst) Run(ctx context.Context, payload string) (memo.Draft, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return memo.Draft{}, fmt.Errorf("analyst: %w", ErrEmptyPayload)
	}
	url, userContext := LocateURL(payload)

	sourceType, extracted := memo.SourceWeb, ""
	if url != "" {
		sourceType, extracted = a.extractor.Extract(ctx, url)
		if sourceType == "" {
			sourceType = memo.SourceWeb
		}
		if utf8.RuneCountInString(strings.TrimSpace(extracted)) < a.minChars {
			log.Printf("[analyst] extracted text too short for %s, using placeholder", url)
			extracted = fmt.Sprintf("(본문을 가져오지 못했습니다: %s)", url)
		}
	}

	var parts []string
	if userContext != "" {
		parts = append(parts, "사용자 메모: "+userContext)
	}
	if extracted != "" {
		parts = append(parts, "페이지 내용: "+extracted)
	}
	composed := strings.Join(parts, "\n")
	if composed == "" {
		composed = payload
	}

	raw, err := a.gen.Generate(ctx, llm.Request{
		Name:        analystTool,
		Description: "Save the analysed memo.",
		System:      a.prompts.System(prompts.Analyst),
		User:        composed,
		Schema:      analystSchema,
		MaxTokens:   a.prompts.MaxTokens(prompts.Analyst, 0),
	})
	if err != nil {
		return memo.Draft{}, fmt.Errorf("analyst: %w", err)
	}

	draft, err := decodeDraft(raw)
	if err != nil {
		return memo.Draft{}, fmt.Errorf("analyst: %w", err)
	}
	draft.SourceURL = url
	draft.SourceType = sourceType
	draft.RawContent = capRunes(composed, a.rawCap)
	return draft, nil
}

// LocateURL finds the first URL in text, falling back to a bare domain with
// https:// prepended. The rest of text is returned as user context.
func LocateURL(text string) (url, rest string) {
	loc := urlRe.FindStringIndex(text)
	prefix := ""
	if loc == nil {
		loc = bareDomainRe.FindStringIndex(text)
		prefix = "https://"
	}
	if loc == nil {
		return "", text
	}
	match := strings.TrimRight(text[loc[0]:loc[1]], ".,;:!?)]}'\"")
	end := loc[0] + len(match)
	rest = strings.Join(strings.Fields(text[:loc[0]]+" "+text[end:]), " ")
	return prefix + match, rest
}

// decodeDraft checks the generated object key by key; nothing is defaulted.
func decodeDraft(raw json.RawMessage) (memo.Draft, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return memo.Draft{}, fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}
	for _, key := range []string{"title", "bullets", "category", "tags"} {
		if _, ok := fields[key]; !ok {
			return memo.Draft{}, fmt.Errorf("%w: missing %q", ErrInvalidDraft, key)
		}
	}

	var d memo.Draft
	if err := json.Unmarshal(fields["title"], &d.Title); err != nil {
		return memo.Draft{}, fmt.Errorf("%w: title: %v", ErrInvalidDraft, err)
	}
	if err := json.Unmarshal(fields["bullets"], &d.Bullets); err != nil {
		return memo.Draft{}, fmt.Errorf("%w: bullets: %v", ErrInvalidDraft, err)
	}
	if err := json.Unmarshal(fields["category"], &d.Category); err != nil {
		return memo.Draft{}, fmt.Errorf("%w: category: %v", ErrInvalidDraft, err)
	}
	if err := json.Unmarshal(fields["tags"], &d.Tags); err != nil {
		return memo.Draft{}, fmt.Errorf("%w: tags: %v", ErrInvalidDraft, err)
	}

	d.Title = strings.TrimSpace(d.Title)
	if d.Title == "" {
		return memo.Draft{}, fmt.Errorf("%w: empty title", ErrInvalidDraft)
	}
	if n := len(d.Bullets); n < minBullets || n > maxBullets {
		return memo.Draft{}, fmt.Errorf("%w: %d bullets, want %d-%d", ErrInvalidDraft, n, minBullets, maxBullets)
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	d.Category = strings.TrimSpace(d.Category)
	return d, nil
}

// capRunes truncates without an ellipsis; stored raw content is not display text.
func capRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
