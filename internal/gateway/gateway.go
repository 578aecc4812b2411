package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/unpieceof/meemoo/internal/bus"
	"github.com/unpieceof/meemoo/internal/channel"
	"github.com/unpieceof/meemoo/internal/config"
	"github.com/unpieceof/meemoo/internal/cron"
	"github.com/unpieceof/meemoo/internal/embed"
	"github.com/unpieceof/meemoo/internal/extract"
	"github.com/unpieceof/meemoo/internal/format"
	"github.com/unpieceof/meemoo/internal/llm"
	"github.com/unpieceof/meemoo/internal/memo"
	"github.com/unpieceof/meemoo/internal/pipeline"
	"github.com/unpieceof/meemoo/internal/prompts"
	"github.com/unpieceof/meemoo/internal/session"
	"github.com/unpieceof/meemoo/internal/store"
	"github.com/unpieceof/meemoo/internal/worker"
)

// drainTimeout bounds how long Shutdown waits for in-flight messages.
const drainTimeout = 5 * time.Second

// Options overrides collaborators; zero values are built from config.
type Options struct {
	Store      store.Store
	Generator  llm.Generator
	Texter     llm.Texter
	Embedder   embed.Embedder
	Extractor  worker.Extractor
	CronPath   string
	SignalChan chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg         *config.Config
	loc         *time.Location
	bus         *bus.MessageBus
	store       store.Store
	librarian   *worker.Librarian
	recommender *worker.Recommender
	greeter     *worker.Greeter
	dispatcher  *pipeline.Dispatcher
	channels    *channel.ChannelManager
	cron        *cron.Service
	httpServer  *http.Server
	signalChan  chan os.Signal

	// cancel stops the Run context; inflight counts the inbound loop and
	// the handlers it spawned. Both are zero outside Run.
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		loc:        Location(cfg.Schedule.Timezone),
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		signalChan: opts.SignalChan,
	}

	g.store = opts.Store
	if g.store == nil {
		st, err := store.Open(context.Background(), cfg.Store, cfg.Embedding.Dimension)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		g.store = st
	}

	set := prompts.Defaults()
	if cfg.Prompts.Path != "" {
		loaded, err := prompts.Load(cfg.Prompts.Path)
		if err != nil {
			_ = g.store.Close()
			return nil, fmt.Errorf("load prompts: %w", err)
		}
		set = loaded
	}

	gen, texter := opts.Generator, opts.Texter
	if gen == nil || texter == nil {
		client := llm.New(cfg)
		if gen == nil {
			gen = client
		}
		if texter == nil {
			texter = client
		}
	}

	embedder := opts.Embedder
	if embedder == nil {
		embedder = embed.New(cfg)
	}
	var extractor worker.Extractor = opts.Extractor
	if extractor == nil {
		extractor = extract.New(cfg.Extractor)
	}

	analyst := worker.NewAnalyst(extractor, gen, set, cfg.Extractor.MinChars, cfg.Bot.RawContentCap)
	g.librarian = worker.NewLibrarian(g.store, embedder, cfg.Bot.PageSize, cfg.Bot.RawContentCap)
	g.recommender = worker.NewRecommender(g.store, gen, set, cfg.Bot.RecommendWindow)
	g.greeter = worker.NewGreeter(texter, set, cfg.Schedule.WeatherURL)

	g.dispatcher = pipeline.New(pipeline.Deps{
		Analyst:     analyst,
		Librarian:   g.librarian,
		Recommender: g.recommender,
		Banter:      worker.NewBanterer(texter, set),
		Greeter:     g.greeter,
		Verbose:     session.NewMemoryStore(cfg.Bot.VerboseDefault),
		Now:         g.now,
	})

	cronPath := opts.CronPath
	if cronPath == "" {
		cronPath = filepath.Join(config.DataDir(), "cron", "jobs.json")
	}
	g.cron = cron.NewService(cronPath, g.loc)
	g.cron.OnJob = g.runJob

	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		_ = g.store.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	if cfg.Gateway.Port > 0 {
		g.httpServer = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
			Handler:           g.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return g, nil
}

// Location loads the named zone, falling back to the local zone.
func Location(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("[gateway] unknown timezone %q, using local: %v", name, err)
		return time.Local
	}
	return loc
}

func (g *Gateway) now() time.Time { return time.Now().In(g.loc) }

// Dispatcher exposes the message pipeline for the CLI.
func (g *Gateway) Dispatcher() *pipeline.Dispatcher { return g.dispatcher }

func (g *Gateway) Cron() *cron.Service { return g.cron }

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g.cancel = cancel

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if g.cfg.Schedule.Enabled {
		if err := g.startCron(ctx); err != nil {
			log.Printf("[gateway] cron start warning: %v", err)
		}
	}

	if g.httpServer != nil {
		go func() {
			log.Printf("[gateway] http listening on %s", g.httpServer.Addr)
			if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[gateway] http server error: %v", err)
			}
		}()
	}

	g.inflight.Add(1)
	go g.processLoop(ctx)

	log.Printf("[gateway] running")

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) startCron(ctx context.Context) error {
	jobs, err := cron.JobsFromConfig(g.cfg.Schedule)
	if err != nil {
		return err
	}
	if err := g.cron.Sync(jobs); err != nil {
		return err
	}
	return g.cron.Start(ctx)
}

func (g *Gateway) processLoop(ctx context.Context) {
	defer g.inflight.Done()
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.inflight.Add(1)
			go func() {
				defer g.inflight.Done()
				g.handleInbound(ctx, msg)
			}()
		case <-ctx.Done():
			return
		}
	}
}

// handleInbound registers the sender and runs the message or button press
// through the pipeline. A failed registration does not block the message.
func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	chatID := msg.ChatIDInt()
	if err := g.store.UpsertUser(ctx, memo.User{ChatID: chatID, Username: msg.Username}); err != nil {
		log.Printf("[gateway] register user %d failed: %v", chatID, err)
	}

	if msg.Callback != nil {
		reply, ok := g.dispatcher.HandlePage(ctx, chatID, msg.Callback.Data)
		if ok {
			g.send(ctx, msg.Channel, msg.ChatID, reply, msg.Callback.MessageID)
		}
		return
	}

	log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, memo.Truncate(msg.Content, 80))
	g.dispatcher.Handle(ctx, chatID, msg.Content, func(r pipeline.Reply) {
		g.send(ctx, msg.Channel, msg.ChatID, r, 0)
	})
}

// send queues a reply for delivery. It gives up once ctx is done, since
// nothing drains the outbound queue after Run stops.
func (g *Gateway) send(ctx context.Context, channelName, chatID string, r pipeline.Reply, editID int) bool {
	out := bus.OutboundMessage{
		Channel:  channelName,
		ChatID:   chatID,
		Content:  r.Text,
		Keyboard: r.Keyboard,
	}
	if r.Markdown {
		out.ParseMode = "Markdown"
	}
	if r.Edit {
		out.EditMessageID = editID
	}
	select {
	case g.bus.Outbound <- out:
		return true
	case <-ctx.Done():
		log.Printf("[gateway] dropped reply to %s/%s: %v", channelName, chatID, ctx.Err())
		return false
	}
}

// runJob broadcasts a scheduled greeting or recommendation to every
// registered user.
func (g *Gateway) runJob(ctx context.Context, job cron.CronJob) (string, error) {
	users, err := g.store.ListUsers(ctx)
	if err != nil {
		return "", fmt.Errorf("list users: %w", err)
	}
	if len(users) == 0 {
		return "no users", nil
	}

	var reply pipeline.Reply
	switch job.Kind {
	case cron.KindMorning:
		line, err := g.greeter.Morning(ctx, g.now())
		if err != nil {
			return "", fmt.Errorf("morning greeting: %w", err)
		}
		reply = pipeline.Reply{Text: format.Morning(line)}
	case cron.KindRecommend:
		rec, err := g.recommender.Run(ctx, "", 1)
		if err != nil {
			return "", fmt.Errorf("recommend: %w", err)
		}
		if rec.Empty() {
			return "nothing to recommend", nil
		}
		reply = pipeline.Reply{Text: format.Recommend(rec), Markdown: true}
	default:
		return "", fmt.Errorf("unknown job kind %q", job.Kind)
	}

	sent := 0
	for _, u := range users {
		if !g.send(ctx, channel.TelegramChannelName, fmt.Sprint(u.ChatID), reply, 0) {
			return "", fmt.Errorf("broadcast interrupted after %d of %d users: %w", sent, len(users), ctx.Err())
		}
		sent++
	}
	return fmt.Sprintf("sent to %d users", sent), nil
}

// Shutdown cancels the Run context, stops every producer and waits for
// in-flight messages before closing the store.
func (g *Gateway) Shutdown() error {
	if g.cancel != nil {
		g.cancel()
	}
	g.cron.Stop()
	if g.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := g.httpServer.Shutdown(ctx); err != nil {
			log.Printf("[gateway] http shutdown warning: %v", err)
		}
		cancel()
	}
	_ = g.channels.StopAll()
	if !g.drain(drainTimeout) {
		log.Printf("[gateway] in-flight messages still running after %s", drainTimeout)
	}
	if err := g.store.Close(); err != nil {
		log.Printf("[gateway] close store warning: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

// drain waits for the inbound loop and its handlers, reporting false on timeout.
func (g *Gateway) drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		g.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
