package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/unpieceof/meemoo/internal/llm"
	"github.com/unpieceof/meemoo/internal/memo"
	"github.com/unpieceof/meemoo/internal/prompts"
)

const banterTimeout = 8 * time.Second

// Signals are the coarse facts a banter line may react to.
type Signals struct {
	Stage      string
	Intent     string
	SourceType string
	Duplicate  bool
	Category   string
	TagCount   int
	Night      bool
	Title      string
}

// DraftSignals builds signals for a stage of the save pipeline.
func DraftSignals(stage string, d memo.Draft, duplicate bool, now time.Time) Signals {
	intent := "save"
	if duplicate {
		intent = "duplicate"
	}
	return Signals{
		Stage:      stage,
		Intent:     intent,
		SourceType: d.SourceType,
		Duplicate:  duplicate,
		Category:   d.Category,
		TagCount:   len(d.Tags),
		Night:      IsNight(now),
		Title:      d.Title,
	}
}

// IsNight covers 23:00 to 08:59 in now's location.
func IsNight(now time.Time) bool {
	h := now.Hour()
	return h >= 23 || h < 9
}

type Banterer struct {
	texter  llm.Texter
	prompts *prompts.Set
}

func NewBanterer(texter llm.Texter, p *prompts.Set) *Banterer {
	if p == nil {
		p = prompts.Defaults()
	}
	return &Banterer{texter: texter, prompts: p}
}

// Banter returns one line, or false when none could be produced.
func (b *Banterer) Banter(ctx context.Context, s Signals) (string, bool) {
	if b == nil || b.texter == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, banterTimeout)
	defer cancel()

	system := b.prompts.System(prompts.Banter)
	if s.Night {
		system += "\n" + b.prompts.System(prompts.BanterNight)
	}
	user := fmt.Sprintf("stage=%s, intent=%s, source_type=%s, duplicate=%t, category=%s, tag_count=%d, title=%s",
		s.Stage, s.Intent, s.SourceType, s.Duplicate, s.Category, s.TagCount, capRunes(s.Title, 30))

	line, err := b.texter.Text(ctx, system, user, b.prompts.MaxTokens(prompts.Banter, 50))
	if err != nil {
		log.Printf("[banter] warning: %v", err)
		return "", false
	}
	return line, line != ""
}
