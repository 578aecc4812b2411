package format

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/unpieceof/meemoo/internal/memo"
	"github.com/unpieceof/meemoo/internal/router"
)

// GenericError is the only failure text users see for hard pipeline errors.
const GenericError = "처리 중 문제가 생겼어요. 잠시 후 다시 시도해 주세요."

const viewRawCap = 1500

func Analyst(d memo.Draft) string {
	var sb strings.Builder
	sb.WriteString("🔍 *분석 완료!*\n\n")
	fmt.Fprintf(&sb, "📌 *%s*\n\n", Escape(d.Title))
	for _, b := range d.Bullets {
		fmt.Fprintf(&sb, "  • %s\n", Escape(b))
	}
	fmt.Fprintf(&sb, "\n📂 카테고리: %s\n", code(d.Category))
	if tags := hashtags(d.Tags); tags != "" {
		fmt.Fprintf(&sb, "🏷 %s", tags)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func Saved(m memo.Memo) string {
	title := m.Title
	if strings.TrimSpace(title) == "" {
		title = "(제목 없음)"
	}
	return fmt.Sprintf("📚 *저장 완료!*\n%s %s", Escape(title), code(shortID(m.ID)))
}

func Duplicate(id, title string) string {
	return fmt.Sprintf("📚 이미 저장된 링크예요.\n*%s* %s", Escape(title), code(shortID(id)))
}

func List(memos []memo.Memo, page, total, size int) string {
	if total == 0 {
		return "📚 저장된 메모가 없습니다."
	}
	if len(memos) == 0 {
		return fmt.Sprintf("📚 %d페이지에는 메모가 없습니다.", page+1)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📚 *메모 목록* (%d개)\n\n", total)
	for i, m := range memos {
		fmt.Fprintf(&sb, "%d. %s *%s*  %s\n", page*size+i+1, memo.CategoryEmoji(m.Category), Escape(m.Title), code(shortID(m.ID)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func Search(query string, hits []Display, page, total, size int) string {
	if len(hits) == 0 {
		if total > 0 {
			return fmt.Sprintf("🔍 *%s* %d페이지에는 결과가 없습니다.", Escape(query), page+1)
		}
		return fmt.Sprintf("🔍 *%s* 검색 결과 없음", Escape(query))
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 *검색: %s* (%d건)\n\n", Escape(query), total)
	for i, h := range hits {
		fmt.Fprintf(&sb, "%d. %s", page*size+i+1, h.Title)
		if h.Date != "" {
			fmt.Fprintf(&sb, "  _%s_", h.Date)
		}
		fmt.Fprintf(&sb, "  %s\n", code(shortID(h.ID)))
		if h.Preview != "" {
			fmt.Fprintf(&sb, "    %s\n", h.Preview)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func CategoryList(counts []memo.CategoryCount) string {
	if len(counts) == 0 {
		return "📂 아직 분류된 메모가 없습니다."
	}
	var sb strings.Builder
	sb.WriteString("📂 *카테고리*\n\n")
	for _, c := range counts {
		fmt.Fprintf(&sb, "%s %s  %d개\n", memo.CategoryEmoji(c.Category), Escape(c.Category), c.Count)
	}
	sb.WriteString("\n`/category <이름>` 으로 모아 보기")
	return sb.String()
}

func Category(name string, memos []memo.Memo) string {
	if len(memos) == 0 {
		return fmt.Sprintf("📂 *%s* 카테고리에 메모가 없습니다.", Escape(name))
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📂 *%s*\n\n", Escape(name))
	for _, m := range memos {
		fmt.Fprintf(&sb, "  • *%s*  %s\n", Escape(m.Title), code(shortID(m.ID)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// View renders a single memo; nil means the id did not resolve.
func View(m *memo.Memo) string {
	if m == nil {
		return "🔎 해당 메모를 찾을 수 없습니다."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s *%s*\n", memo.CategoryEmoji(m.Category), Escape(m.Title))
	fmt.Fprintf(&sb, "%s · %s\n\n", code(shortID(m.ID)), code(m.Category))
	for _, b := range m.SummaryBullets {
		fmt.Fprintf(&sb, "  • %s\n", Escape(b))
	}
	if tags := hashtags(m.Tags); tags != "" {
		fmt.Fprintf(&sb, "\n🏷 %s\n", tags)
	}
	if m.SourceURL != "" && !memo.IsSynthetic(m.SourceURL) {
		fmt.Fprintf(&sb, "🔗 %s\n", Escape(m.SourceURL))
	}
	if !m.CreatedAt.IsZero() {
		fmt.Fprintf(&sb, "🗓 %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	if raw := strings.TrimSpace(m.RawContent); raw != "" {
		fmt.Fprintf(&sb, "\n📄 %s", Escape(memo.Truncate(raw, viewRawCap)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func Delete(id string, ok bool) string {
	if ok {
		return fmt.Sprintf("🗑 %s 삭제 완료", code(shortID(id)))
	}
	if id == "" {
		return "🗑 삭제할 메모 id를 알려주세요. 예: `/delete 1a2b3c4d`"
	}
	return fmt.Sprintf("🗑 %s 삭제 실패 (찾을 수 없거나 여러 개와 일치)", code(id))
}

func Recommend(r memo.Recommendation) string {
	if r.Empty() {
		return "💡 추천할 메모가 아직 없어요."
	}
	var sb strings.Builder
	sb.WriteString("💡 *다시 볼 만한 메모*\n")
	for _, g := range r.Categories {
		if len(g.Items) == 0 {
			continue
		}
		emoji := strings.TrimSpace(g.Emoji)
		if emoji == "" {
			emoji = memo.CategoryEmoji(g.Category)
		}
		fmt.Fprintf(&sb, "\n%s *%s*", emoji, Escape(g.Category))
		if g.OneLiner != "" {
			fmt.Fprintf(&sb, " · %s", Escape(g.OneLiner))
		}
		sb.WriteString("\n")
		for _, it := range g.Items {
			fmt.Fprintf(&sb, "  • *%s*  %s\n", Escape(it.Title), code(shortID(it.MemoID)))
			if it.Hook != "" {
				fmt.Fprintf(&sb, "    %s\n", Escape(it.Hook))
			}
			if it.Reason != "" {
				fmt.Fprintf(&sb, "    _%s_\n", Escape(it.Reason))
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func Help() string {
	return "📖 *사용법*\n\n" +
		"• URL이나 메모 보내기 → 자동 분석 & 저장\n" +
		"• `/save <URL 또는 메모>` → 분석 & 저장\n" +
		"• `/list` → 메모 목록\n" +
		"• `/search <키워드>` → 검색\n" +
		"• `/category [이름]` → 카테고리별 보기\n" +
		"• `/view <id>` → 메모 자세히 보기\n" +
		"• `/delete <id>` → 삭제\n" +
		"• `/recommend` → 추천\n" +
		"• `/verbose on|off` → 단계별 메시지 표시"
}

func Setting(on bool) string {
	state := "OFF"
	if on {
		state = "ON"
	}
	return fmt.Sprintf("🔧 Verbose 모드: `%s`", state)
}

func Unknown() string {
	return Error("알 수 없는 명령입니다. /help 를 확인하세요.")
}

func Error(msg string) string {
	return "⚠️ " + msg
}

// Line prefixes for the one-line auxiliary generators.
func Banter(line string) string  { return "✏️ " + line }
func SMS(line string) string     { return "🧃 " + line }
func Morning(line string) string { return "🎭 " + line }

// VerboseStep dumps a worker result as an indented JSON block.
func VerboseStep(stage string, v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	preview := string(data)
	if err != nil {
		preview = fmt.Sprintf("%+v", v)
	}
	preview = memo.Truncate(preview, VerboseCap)
	// A backtick run inside the dump would close the code block early.
	preview = strings.ReplaceAll(preview, "```", "'''")
	return fmt.Sprintf("🔧 *[%s]*\n```json\n%s\n```", stage, preview)
}

// Status is the progress line sent before pipeline work; empty for terminal actions.
func Status(d router.Decision) string {
	switch d.Action {
	case router.Analyst:
		return "🔍 분석가: 핵심 정리 중..."
	case router.Recommender:
		return "💡 큐레이터: 연결 고리 탐색 중..."
	case router.Librarian:
		switch router.ParseLibrarian(d.Payload).Kind {
		case router.LibList:
			return "📚 사서: 목록 정리해서 꺼내는 중..."
		case router.LibSearch:
			return "📚 사서: 색인 뒤지는 중..."
		case router.LibCategory:
			return "📚 사서: 분류표 확인 중..."
		case router.LibView:
			return "📚 사서: 해당 메모 찾는 중..."
		case router.LibDelete:
			return "📚 사서: 기록 정리 중..."
		default:
			return "⏳ 처리 중..."
		}
	}
	return ""
}

// code wraps s in an inline code span. Backticks cannot be escaped inside one.
func code(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "'") + "`"
}

func hashtags(tags []string) string {
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimPrefix(strings.TrimSpace(t), "#")
		if t == "" {
			continue
		}
		parts = append(parts, Escape("#"+t))
	}
	return strings.Join(parts, " ")
}
