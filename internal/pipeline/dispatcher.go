// Package pipeline runs a routed message through the workers and renders
// the replies.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/unpieceof/meemoo/internal/memo"
	"github.com/unpieceof/meemoo/internal/router"
	"github.com/unpieceof/meemoo/internal/session"
	"github.com/unpieceof/meemoo/internal/worker"
)

type Analyst interface {
	Run(ctx context.Context, payload string) (memo.Draft, error)
}

type Librarian interface {
	Save(ctx context.Context, d memo.Draft) (worker.LibResult, error)
	Run(ctx context.Context, req router.LibRequest) (worker.LibResult, error)
	PageSize() int
}

type Recommender interface {
	Run(ctx context.Context, payload string, maxCategories int) (memo.Recommendation, error)
}

// Banter produces an optional one-liner; false means none.
type Banter interface {
	Banter(ctx context.Context, s worker.Signals) (string, bool)
}

type Greeter interface {
	OneLiner(ctx context.Context, now time.Time) (string, error)
}

type Deps struct {
	Analyst     Analyst
	Librarian   Librarian
	Recommender Recommender
	Banter      Banter  // optional
	Greeter     Greeter // optional
	Verbose     session.VerboseStore
	// Now returns the current time in the bot's timezone.
	Now func() time.Time
}

type Dispatcher struct {
	analyst     Analyst
	librarian   Librarian
	recommender Recommender
	banter      Banter
	greeter     Greeter
	verbose     session.VerboseStore
	now         func() time.Time
}

func New(deps Deps) *Dispatcher {
	d := &Dispatcher{
		analyst:     deps.Analyst,
		librarian:   deps.Librarian,
		recommender: deps.Recommender,
		banter:      deps.Banter,
		greeter:     deps.Greeter,
		verbose:     deps.Verbose,
		now:         deps.Now,
	}
	if d.verbose == nil {
		d.verbose = session.NewMemoryStore(false)
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Outcome is the result record of one dispatched decision.
type Outcome struct {
	Decision router.Decision

	Draft *memo.Draft
	Lib   *worker.LibResult
	Rec   *memo.Recommendation

	// AnalysisBanter follows the analyst stage, StoreBanter a duplicate save.
	AnalysisBanter string
	StoreBanter    string

	// VerboseOn is the new flag value for a setting decision.
	VerboseOn bool

	// SMS is the one-liner; SMSFailed reports a swallowed generation failure.
	SMS       string
	SMSFailed bool
}

// Dispatch runs the workers for d. Only hard pipeline failures are returned
// as errors; soft outcomes are carried in the Outcome.
func (p *Dispatcher) Dispatch(ctx context.Context, chatID int64, d router.Decision) (*Outcome, error) {
	out := &Outcome{Decision: d}

	switch d.Action {
	case router.Help, router.Unknown:
		return out, nil

	case router.Setting:
		out.VerboseOn = parseBool(d.Payload)
		p.verbose.Set(chatID, out.VerboseOn)
		return out, nil

	case router.SMS:
		if p.greeter == nil {
			out.SMSFailed = true
			return out, nil
		}
		line, err := p.greeter.OneLiner(ctx, p.now())
		if err != nil || line == "" {
			log.Printf("[pipeline] sms one-liner failed: %v", err)
			out.SMSFailed = true
			return out, nil
		}
		out.SMS = line
		return out, nil

	case router.Analyst:
		return p.analyse(ctx, out)

	case router.Librarian:
		res, err := p.librarian.Run(ctx, router.ParseLibrarian(d.Payload))
		if err != nil {
			return nil, err
		}
		out.Lib = &res
		return out, nil

	case router.Recommender:
		rec, err := p.recommender.Run(ctx, d.Payload, worker.DefaultMaxCategories)
		if err != nil {
			return nil, err
		}
		out.Rec = &rec
		return out, nil

	default:
		return nil, fmt.Errorf("dispatch: unhandled action %q", d.Action)
	}
}

// analyse runs analyst then librarian save. The save never runs when the
// analysis fails.
func (p *Dispatcher) analyse(ctx context.Context, out *Outcome) (*Outcome, error) {
	draft, err := p.analyst.Run(ctx, out.Decision.Payload)
	if err != nil {
		return nil, err
	}
	out.Draft = &draft
	now := p.now()
	out.AnalysisBanter = p.banterLine(ctx, worker.DraftSignals("after_analysis", draft, false, now))

	res, err := p.librarian.Save(ctx, draft)
	if err != nil {
		return nil, err
	}
	out.Lib = &res
	if res.Action == worker.ActionDuplicate {
		out.StoreBanter = p.banterLine(ctx, worker.DraftSignals("after_store", draft, true, now))
	}
	return out, nil
}

func (p *Dispatcher) banterLine(ctx context.Context, s worker.Signals) string {
	if p.banter == nil {
		return ""
	}
	line, ok := p.banter.Banter(ctx, s)
	if !ok {
		return ""
	}
	return line
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "1", "true":
		return true
	}
	return false
}
