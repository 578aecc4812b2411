package pipeline

import (
	"context"
	"encoding/json"
	"log"

	"github.com/unpieceof/meemoo/internal/bus"
	"github.com/unpieceof/meemoo/internal/format"
	"github.com/unpieceof/meemoo/internal/memo"
	"github.com/unpieceof/meemoo/internal/router"
	"github.com/unpieceof/meemoo/internal/worker"
)

// Reply is one outbound message.
type Reply struct {
	Text     string
	Markdown bool
	Keyboard *bus.Keyboard
	// Edit replaces the message that carried the pressed button.
	Edit bool
}

func md(text string) Reply    { return Reply{Text: text, Markdown: true} }
func plain(text string) Reply { return Reply{Text: text} }

// Handle routes text, emits a status line for pipeline actions, then emits
// the rendered outcome. Hard failures are logged and shown as a generic error.
func (p *Dispatcher) Handle(ctx context.Context, chatID int64, text string, emit func(Reply)) {
	d := router.Route(text)
	log.Printf("[pipeline] chat=%d action=%s payload=%s", chatID, d.Action, memo.Truncate(d.Payload, 80))

	if status := format.Status(d); status != "" {
		emit(plain(status))
	}

	out, err := p.Dispatch(ctx, chatID, d)
	if err != nil {
		log.Printf("[pipeline] chat=%d action=%s failed: %v", chatID, d.Action, err)
		emit(plain(format.Error(format.GenericError)))
		return
	}
	p.render(out, p.verbose.Get(chatID), emit)
}

// HandleAll is Handle collecting the replies into a slice.
func (p *Dispatcher) HandleAll(ctx context.Context, chatID int64, text string) []Reply {
	var replies []Reply
	p.Handle(ctx, chatID, text, func(r Reply) { replies = append(replies, r) })
	return replies
}

// HandlePage serves a list/search pagination button. ok is false for data
// that needs no reply, such as the page indicator.
func (p *Dispatcher) HandlePage(ctx context.Context, chatID int64, data string) (Reply, bool) {
	if data == "" || data == format.NoopData {
		return Reply{}, false
	}
	req := router.ParseLibrarian(data)
	if req.Kind != router.LibList && req.Kind != router.LibSearch {
		return Reply{}, false
	}

	res, err := p.librarian.Run(ctx, req)
	if err != nil {
		log.Printf("[pipeline] chat=%d page %q failed: %v", chatID, data, err)
		return Reply{Text: format.Error("페이지 이동 오류"), Edit: true}, true
	}
	reply := p.renderLibrary(res)
	reply.Edit = true
	return reply, true
}

func (p *Dispatcher) render(out *Outcome, verbose bool, emit func(Reply)) {
	switch out.Decision.Action {
	case router.Help:
		emit(md(format.Help()))

	case router.Unknown:
		emit(md(format.Unknown()))

	case router.Setting:
		emit(md(format.Setting(out.VerboseOn)))

	case router.SMS:
		if out.SMSFailed {
			emit(plain(format.Error(format.GenericError)))
			return
		}
		emit(plain(format.SMS(out.SMS)))

	case router.Analyst:
		if verbose {
			emit(md(format.VerboseStep("🔍 Analyst", out.Draft)))
			emit(md(format.Analyst(*out.Draft)))
		}
		if out.AnalysisBanter != "" {
			emit(plain(format.Banter(out.AnalysisBanter)))
		}
		if verbose {
			emit(md(format.VerboseStep("📚 Librarian", out.Lib)))
		}
		if out.Lib.Action == worker.ActionDuplicate {
			emit(md(format.Duplicate(out.Lib.ExistingID, out.Lib.ExistingTitle)))
			if out.StoreBanter != "" {
				emit(plain(format.Banter(out.StoreBanter)))
			}
			return
		}
		if out.Lib.Action != worker.ActionSaved || out.Lib.Memo == nil {
			reply := p.renderLibrary(*out.Lib)
			emit(reply)
			return
		}
		emit(md(format.Saved(*out.Lib.Memo)))
		if !verbose {
			emit(md(format.Analyst(*out.Draft)))
		}

	case router.Librarian:
		if verbose {
			emit(md(format.VerboseStep("📚 Librarian", out.Lib)))
		}
		reply := p.renderLibrary(*out.Lib)
		emit(reply)

	case router.Recommender:
		if verbose {
			emit(md(format.VerboseStep("💡 Recommender", out.Rec)))
		}
		emit(md(format.Recommend(*out.Rec)))
	}
}

// renderLibrary maps a librarian result to its presentation branch. Results
// outside the known branches are shown serialized as an error.
func (p *Dispatcher) renderLibrary(res worker.LibResult) Reply {
	size := p.librarian.PageSize()
	switch res.Action {
	case worker.ActionList:
		r := md(format.List(res.Memos, res.Page, res.Total, size))
		r.Keyboard = format.PageKeyboard(router.LibList, res.Page, res.Total, size, "")
		return r
	case worker.ActionSearch:
		r := md(format.Search(res.Query, res.Hits, res.Page, res.Total, size))
		r.Keyboard = format.PageKeyboard(router.LibSearch, res.Page, res.Total, size, res.Query)
		return r
	case worker.ActionCategoryList:
		return md(format.CategoryList(res.Counts))
	case worker.ActionCategory:
		return md(format.Category(res.Category, res.Memos))
	case worker.ActionView:
		return md(format.View(res.Memo))
	case worker.ActionDelete:
		return md(format.Delete(res.MemoID, res.Success))
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return plain(format.Error(format.GenericError))
	}
	return plain(format.Error(string(raw)))
}
