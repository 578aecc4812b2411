// Package format renders worker results as Telegram Markdown (V1) messages.
package format

import (
	"strings"
	"time"

	"github.com/unpieceof/meemoo/internal/memo"
)

const (
	// PreviewLen caps the first-bullet preview shown in search results.
	PreviewLen = 60
	// VerboseCap caps the JSON dump shown in verbose mode.
	VerboseCap = 500
	// ShortIDLen is how many id characters lists display.
	ShortIDLen = 8
)

var markdownEscaper = strings.NewReplacer(
	`_`, `\_`,
	`*`, `\*`,
	"`", "\\`",
	`[`, `\[`,
)

// Escape backslash-escapes the Markdown V1 control characters _ * ` [.
func Escape(s string) string {
	return markdownEscaper.Replace(s)
}

// Display holds the derived fields shown for a search hit. Title and Preview
// are already escaped.
type Display struct {
	ID      string `json:"id"`
	Title   string `json:"display_title"`
	Preview string `json:"preview"`
	Date    string `json:"date"`
}

// Decorate derives the display fields for m.
func Decorate(m memo.Memo) Display {
	title := memo.CategoryEmoji(m.Category) + " "
	if len(m.Tags) > 0 && strings.TrimSpace(m.Tags[0]) != "" {
		title += Escape("#"+strings.TrimSpace(m.Tags[0])) + " · "
	}
	title += Escape(m.Title)

	preview := ""
	if len(m.SummaryBullets) > 0 {
		preview = Escape(memo.Truncate(m.SummaryBullets[0], PreviewLen))
	}

	return Display{
		ID:      m.ID,
		Title:   title,
		Preview: preview,
		Date:    shortDate(m.CreatedAt),
	}
}

func shortDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("01.02")
}

func shortID(id string) string {
	if len(id) <= ShortIDLen {
		return id
	}
	return id[:ShortIDLen]
}
