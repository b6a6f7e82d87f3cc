// Package app wires all oraltutor subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API and the Discord bot, RunMCP serves the
// MCP tools over stdio, and Shutdown tears everything down in order.
//
// For testing, inject a transcript store or metrics via functional options.
// When an option is not provided, New creates real implementations from the
// config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/oraltutor/internal/config"
	"github.com/MrWong99/oraltutor/internal/discord"
	"github.com/MrWong99/oraltutor/internal/discord/commands"
	"github.com/MrWong99/oraltutor/internal/health"
	"github.com/MrWong99/oraltutor/internal/language"
	"github.com/MrWong99/oraltutor/internal/mcpserver"
	"github.com/MrWong99/oraltutor/internal/observe"
	"github.com/MrWong99/oraltutor/internal/render"
	"github.com/MrWong99/oraltutor/internal/session"
	"github.com/MrWong99/oraltutor/internal/session/postgres"
	"github.com/MrWong99/oraltutor/internal/session/redis"
	"github.com/MrWong99/oraltutor/internal/shadow"
	"github.com/MrWong99/oraltutor/internal/tutor"
	"github.com/MrWong99/oraltutor/internal/web"
)

// Server timeouts. Writes are unbounded because turn requests wait on the
// LLM and the synthesizer.
const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 2 * time.Minute
)

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics  *observe.Metrics
	scrape   http.Handler
	catalog  *language.Catalog
	store    session.Store
	sessions *session.Manager
	proc     *tutor.Processor
	renderer *render.Renderer
	health   *health.Handler
	handler  http.Handler
	server   *http.Server
	mcp      *mcpserver.Server
	bot      *discord.Bot

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a transcript store instead of creating one from config.
func WithStore(s session.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the handler served at /metrics, usually
// [observe.Telemetry.Handler]. Default: the global Prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.scrape = h }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (built via [BuildProviders]). When cfg.Discord.Token is
// set, New also connects the Discord bot.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an llm provider is required")
	}
	a := &App{cfg: cfg, providers: providers, version: "dev"}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.scrape == nil {
		a.scrape = promhttp.Handler()
	}

	catalog, err := config.Catalog(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.catalog = catalog

	// ── 1. Transcript store ──────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Sessions ──────────────────────────────────────────────────────
	a.sessions = session.NewManager(a.store, session.WithIdleTimeout(cfg.Sessions.IdleTimeout))
	if err := a.metrics.RegisterActiveSessions(a.sessions.Len); err != nil {
		slog.Warn("failed to register active sessions gauge", "err", err)
	}

	// ── 3. Turn pipeline ─────────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 4. Front ends ────────────────────────────────────────────────────
	if err := a.initHTTP(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init http: %w", err)
	}
	mcpSrv, err := mcpserver.New(a.proc, a.sessions,
		mcpserver.WithVersion(a.version),
		mcpserver.WithDefaultLanguage(cfg.Tutor.DefaultLanguage),
	)
	if err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init mcp: %w", err)
	}
	a.mcp = mcpSrv
	if err := a.initDiscord(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init discord: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore selects the transcript store backend. Durable backends are
// wrapped in a [session.Guard] so a store outage degrades the session
// instead of failing the turn.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	sc := a.cfg.Store
	switch sc.Backend {
	case config.StoreMemory, "":
		a.store = session.NewMemStore()
		return nil
	case config.StorePostgres:
		pg, err := postgres.New(ctx, sc.PostgresDSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		a.store = session.NewGuard(pg)
	case config.StoreRedis:
		rs, err := redis.Dial(ctx, sc.RedisURL, redis.WithTTL(sc.TTL))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, rs.Close)
		a.store = session.NewGuard(rs)
	default:
		return fmt.Errorf("unknown store backend %q", sc.Backend)
	}
	slog.Info("transcript store connected", "backend", sc.Backend)
	return nil
}

// initPipeline builds the responder, the processor and the renderer.
func (a *App) initPipeline() error {
	tc := a.cfg.Tutor

	respOpts := []tutor.ResponderOption{tutor.WithMaxTokens(tc.MaxTokens)}
	if tc.Temperature != nil {
		respOpts = append(respOpts, tutor.WithTemperature(*tc.Temperature))
	}
	if tc.ExplanationLanguage != "" {
		respOpts = append(respOpts, tutor.WithExplanationLanguage(tc.ExplanationLanguage))
	}
	gen, err := tutor.NewResponder(a.providers.LLM, respOpts...)
	if err != nil {
		return err
	}

	procOpts := []tutor.Option{
		tutor.WithCatalog(a.catalog),
		tutor.WithMetrics(a.metrics),
	}
	if tc.MinAudioBytes > 0 {
		procOpts = append(procOpts, tutor.WithMinAudioBytes(tc.MinAudioBytes))
	}
	if tc.MinTranscriptRunes > 0 {
		procOpts = append(procOpts, tutor.WithMinTranscriptRunes(tc.MinTranscriptRunes))
	}
	if tc.Shadow.Enabled {
		var shadowOpts []shadow.Option
		if tc.Shadow.Threshold > 0 {
			shadowOpts = append(shadowOpts, shadow.WithThreshold(tc.Shadow.Threshold))
		}
		procOpts = append(procOpts, tutor.WithShadowScorer(shadow.New(shadowOpts...)))
	}
	a.proc, err = tutor.NewProcessor(a.providers.STT, gen, procOpts...)
	if err != nil {
		return err
	}

	rc := a.cfg.Render
	renderOpts := []render.Option{
		render.WithCatalog(a.catalog),
		render.WithMetrics(a.metrics),
		render.WithAudioWindow(rc.AudioWindow),
	}
	if rc.Concurrency > 0 {
		renderOpts = append(renderOpts, render.WithConcurrency(rc.Concurrency))
	}
	if rc.CacheSize != 0 {
		renderOpts = append(renderOpts, render.WithCacheSize(rc.CacheSize))
	}
	if rc.SynthesisTimeout > 0 {
		renderOpts = append(renderOpts, render.WithSynthesisTimeout(rc.SynthesisTimeout))
	}
	a.renderer = render.New(a.providers.TTS, renderOpts...)
	return nil
}

// initHTTP builds the API, health and metrics routes.
func (a *App) initHTTP() error {
	sc := a.cfg.Server
	api, err := web.New(a.proc, a.renderer, a.sessions,
		web.WithMaxUploadBytes(sc.MaxUploadBytes),
		web.WithOriginPatterns(sc.AllowedOrigins...),
		web.WithDefaultLanguage(a.cfg.Tutor.DefaultLanguage),
	)
	if err != nil {
		return err
	}

	var checkers []health.Checker
	// Turns keep working in memory while the store is down.
	if p, ok := a.store.(health.Pinger); ok {
		c := health.PingChecker("store", p)
		c.Optional = true
		checkers = append(checkers, c)
	}
	if g, ok := a.store.(*session.Guard); ok {
		checkers = append(checkers, health.DegradedChecker("store_degraded", g.IsDegraded))
	}
	for _, p := range []struct {
		name string
		v    any
	}{{"llm", a.providers.LLM}, {"stt", a.providers.STT}, {"tts", a.providers.TTS}} {
		if s, ok := p.v.(statusReporter); ok {
			checkers = append(checkers, health.ProviderChecker(p.name, s.Status))
		}
	}
	a.health = health.New(checkers...)

	mux := http.NewServeMux()
	api.Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", a.scrape)
	a.handler = observe.Middleware(a.metrics)(mux)

	a.server = &http.Server{
		Addr:              sc.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	return nil
}

// initDiscord connects the bot when a token is configured.
func (a *App) initDiscord(ctx context.Context) error {
	dc := a.cfg.Discord
	if dc.Token == "" {
		return nil
	}
	bot, err := discord.New(ctx, discord.Config{Token: dc.Token, GuildID: dc.GuildID, Channels: dc.Channels})
	if err != nil {
		return err
	}
	cmds := commands.NewTutorCommands(a.proc, a.renderer, a.sessions,
		commands.WithMaxAttachmentBytes(dc.MaxAttachmentBytes),
		commands.WithDefaultLanguage(a.cfg.Tutor.DefaultLanguage),
	)
	cmds.Attach(bot)
	a.bot = bot
	a.closers = append([]func() error{bot.Close}, a.closers...)
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler with all routes and middleware.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// MCP returns the MCP tool server.
func (a *App) MCP() *mcpserver.Server { return a.mcp }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and, when configured, the Discord bot until ctx is
// cancelled or a front end fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tls := a.cfg.Server.TLS
		slog.Info("http server listening", "addr", a.server.Addr, "tls", tls != nil)
		var err error
		if tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	if a.bot != nil {
		g.Go(func() error {
			if err := a.bot.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// RunMCP serves the MCP tools over stdin/stdout until the client disconnects
// or ctx is cancelled.
func (a *App) RunMCP(ctx context.Context) error {
	return a.mcp.RunStdio(ctx)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("http shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases what New acquired before it failed.
func (a *App) runClosers() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
	a.closers = nil
}
