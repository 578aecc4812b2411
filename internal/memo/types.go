package memo

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	SourceWeb       = "web"
	SourceX         = "x"
	SourceInstagram = "instagram"

	syntheticScheme = "memo://"

	// PageSize is the number of memos shown per list/search page.
	PageSize = 5
)

// Categories is the closed set the analyst is asked to choose from.
var Categories = []string{"일", "배움", "아이디어", "정보", "기록", "문화", "소비"}

var categoryEmoji = map[string]string{
	"일":    "💼",
	"배움":   "📖",
	"아이디어": "💡",
	"정보":   "📰",
	"기록":   "📝",
	"문화":   "🎬",
	"소비":   "🛒",
}

// Memo is the durable record produced from a link or a free-form note.
type Memo struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	SummaryBullets []string  `json:"summary_bullets"`
	Category       string    `json:"category"`
	Tags           []string  `json:"tags"`
	SourceURL      string    `json:"source_url"`
	SourceType     string    `json:"source_type"`
	RawContent     string    `json:"raw_content,omitempty"`
	Embedding      []float32 `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// User is a chat registered with the bot.
type User struct {
	ChatID   int64  `json:"chat_id"`
	Username string `json:"username,omitempty"`
}

// Draft is the analyst output that the librarian turns into a Memo.
type Draft struct {
	Title      string   `json:"title"`
	Bullets    []string `json:"bullets"`
	Category   string   `json:"category"`
	Tags       []string `json:"tags"`
	SourceURL  string   `json:"source_url"`
	SourceType string   `json:"source_type"`
	RawContent string   `json:"raw_content,omitempty"`
}

// CategoryCount is one row of the per-category aggregation.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// CategoryEmoji returns the display emoji for a category, with a pin for unknown ones.
func CategoryEmoji(category string) string {
	if e, ok := categoryEmoji[strings.TrimSpace(category)]; ok {
		return e
	}
	return "📌"
}

// SyntheticURL builds a placeholder source URL that is unique per call,
// even for calls sharing the same instant.
func SyntheticURL(t time.Time) string {
	return syntheticScheme + strconv.FormatInt(t.UnixNano(), 10) + "-" + uuid.NewString()
}

// IsSynthetic reports whether url is a memo:// placeholder.
func IsSynthetic(url string) bool {
	return strings.HasPrefix(url, syntheticScheme)
}

// TotalPages is the ceiling of total/size.
func TotalPages(total, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// Truncate cuts s to at most n runes, appending an ellipsis when it cut anything.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}

// ToMemo copies the draft fields into a new Memo.
func (d Draft) ToMemo() Memo {
	return Memo{
		Title:          d.Title,
		SummaryBullets: append([]string(nil), d.Bullets...),
		Category:       d.Category,
		Tags:           append([]string(nil), d.Tags...),
		SourceURL:      d.SourceURL,
		SourceType:     d.SourceType,
		RawContent:     d.RawContent,
	}
}

// Recommendation groups memos worth revisiting by category.
type Recommendation struct {
	Categories []RecGroup `json:"categories"`
}

type RecGroup struct {
	Category string    `json:"category"`
	Emoji    string    `json:"emoji"`
	OneLiner string    `json:"one_liner"`
	Items    []RecItem `json:"items"`
}

type RecItem struct {
	MemoID  string   `json:"memo_id"`
	Title   string   `json:"title"`
	Preview string   `json:"preview"`
	Hook    string   `json:"hook"`
	Reason  string   `json:"reason"`
	Tags    []string `json:"tags"`
}

// Empty reports whether the recommendation has no items at all.
func (r Recommendation) Empty() bool {
	for _, g := range r.Categories {
		if len(g.Items) > 0 {
			return false
		}
	}
	return true
}
