// Package app wires all studio subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSessionStore, WithLLM, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moche-ai/routine-studio/internal/agent"
	"github.com/moche-ai/routine-studio/internal/benchcache"
	"github.com/moche-ai/routine-studio/internal/config"
	"github.com/moche-ai/routine-studio/internal/health"
	"github.com/moche-ai/routine-studio/internal/observe"
	"github.com/moche-ai/routine-studio/internal/orchestrator"
	"github.com/moche-ai/routine-studio/internal/paths"
	"github.com/moche-ai/routine-studio/internal/progress"
	"github.com/moche-ai/routine-studio/internal/quota"
	"github.com/moche-ai/routine-studio/internal/router"
	"github.com/moche-ai/routine-studio/internal/server"
	"github.com/moche-ai/routine-studio/internal/session"
	"github.com/moche-ai/routine-studio/pkg/browser"
	"github.com/moche-ai/routine-studio/pkg/browser/mcpshot"
	"github.com/moche-ai/routine-studio/pkg/media"
	"github.com/moche-ai/routine-studio/pkg/provider/llm"
	"github.com/moche-ai/routine-studio/pkg/provider/tts"
	"github.com/moche-ai/routine-studio/pkg/provider/tts/xtts"
	"github.com/moche-ai/routine-studio/pkg/provider/vision"
	"github.com/moche-ai/routine-studio/pkg/provider/vision/qwen"
	"github.com/moche-ai/routine-studio/pkg/provider/workflow"
	"github.com/moche-ai/routine-studio/pkg/provider/workflow/comfy"
)

// Providers holds one interface value per collaborator slot. Nil means the
// collaborator is not configured; New fills nil slots from the config, and
// tests inject doubles via the With* options.
type Providers struct {
	LLM         llm.Provider
	Vision      vision.Provider
	CloudVision vision.Provider
	TTS         tts.Provider
	Engine      workflow.Client
	Browser     browser.Capture
	Media       agent.Media
	YouTube     agent.YouTube
}

// App owns all subsystem lifetimes and serves the studio API.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	paths   *paths.Paths
	store   session.Store
	bus     *progress.Bus
	deps    *agent.Deps
	orch    *orchestrator.Orchestrator
	handler http.Handler
	httpSrv *http.Server

	// checks feed the /healthz endpoint.
	checks []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a session store instead of opening one from config.
func WithSessionStore(s session.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLLM injects a text provider instead of building the provider chain.
func WithLLM(p llm.Provider) Option {
	return func(a *App) { a.providers.LLM = p }
}

// WithVision injects a vision provider instead of creating one from config.
func WithVision(p vision.Provider) Option {
	return func(a *App) { a.providers.Vision = p }
}

// WithTTS injects a speech provider instead of creating one from config.
func WithTTS(p tts.Provider) Option {
	return func(a *App) { a.providers.TTS = p }
}

// WithEngine injects a workflow engine client instead of creating one from config.
func WithEngine(c workflow.Client) Option {
	return func(a *App) { a.providers.Engine = c }
}

// WithBrowser injects a page capturer instead of creating one from config.
func WithBrowser(b browser.Capture) Option {
	return func(a *App) { a.providers.Browser = b }
}

// WithMedia injects an ffmpeg toolkit instead of creating one from config.
func WithMedia(m agent.Media) Option {
	return func(a *App) { a.providers.Media = m }
}

// WithYouTube injects a yt-dlp client instead of creating one from config.
func WithYouTube(y agent.YouTube) Option {
	return func(a *App) { a.providers.YouTube = y }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any of them.
//
// New performs all initialisation synchronously: data directory layout,
// session store, LLM provider chain, stage collaborators, orchestrator,
// and the HTTP handler. It does not open the listen socket; Run does.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: &Providers{},
		bus:       progress.NewBus(),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Data directory layout ─────────────────────────────────────────
	a.paths = paths.New(cfg.DataDir)
	if err := a.paths.EnsureAll(); err != nil {
		return nil, fmt.Errorf("app: prepare data dir: %w", err)
	}
	a.checks = append(a.checks, health.DirWritable("data-dir", cfg.DataDir))

	// ── 2. Session store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init session store: %w", err)
	}

	// ── 3. LLM provider chain ────────────────────────────────────────────
	if err := a.initLLM(); err != nil {
		return nil, fmt.Errorf("app: init llm providers: %w", err)
	}

	// ── 4. Stage collaborators ───────────────────────────────────────────
	if err := a.initCollaborators(); err != nil {
		return nil, fmt.Errorf("app: init collaborators: %w", err)
	}

	// ── 5. Orchestrator ──────────────────────────────────────────────────
	if err := a.initOrchestrator(); err != nil {
		return nil, fmt.Errorf("app: init orchestrator: %w", err)
	}

	// ── 6. HTTP server ───────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured session store. The postgres driver adds a
// connection ping to the health checks; the file driver is covered by the
// data-dir writability check plus a listing probe.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		switch a.cfg.SessionStore.Driver {
		case config.SessionPostgres:
			ps, err := session.NewPGStore(ctx, a.cfg.SessionStore.DSN)
			if err != nil {
				return err
			}
			a.store = ps
			a.closers = append(a.closers, func() error {
				ps.Close()
				return nil
			})
			slog.Info("session store opened", "driver", "postgres")
		default:
			fs, err := session.NewFileStore(a.paths.Sessions())
			if err != nil {
				return err
			}
			a.store = fs
			slog.Info("session store opened", "driver", "file", "dir", a.paths.Sessions())
		}
	}

	store := a.store
	a.checks = append(a.checks, health.Checker{
		Name: "sessions",
		Check: func(ctx context.Context) error {
			if p, ok := store.(interface{ Ping(context.Context) error }); ok {
				return p.Ping(ctx)
			}
			_, err := store.List(ctx)
			return err
		},
	})
	return nil
}

// initLLM builds the provider fallback chain behind the router, with quota
// tracking persisted under the data directory.
func (a *App) initLLM() error {
	if a.providers.LLM != nil {
		return nil
	}

	qm, err := quota.NewManager(a.paths.QuotaFile(), router.QuotaLimits(a.cfg.Providers))
	if err != nil {
		return err
	}

	r, err := router.Build(a.cfg.Providers, qm, router.WithMetrics(observe.DefaultMetrics()))
	if err != nil {
		return err
	}
	a.providers.LLM = r
	return nil
}

// initCollaborators creates the stage collaborators that were not injected:
// vision, TTS, the workflow engine, the page capturer, and the media
// toolkit. Reachable network collaborators register health checks.
func (a *App) initCollaborators() error {
	cfg := a.cfg

	if a.providers.Vision == nil && cfg.Vision.BaseURL != "" {
		opts := []qwen.Option{qwen.WithTimeout(cfg.Vision.Timeout.Std())}
		if key := envKey(cfg.Vision.APIKeyEnv); key != "" {
			opts = append(opts, qwen.WithAPIKey(key))
		}
		p, err := qwen.New(cfg.Vision.BaseURL, cfg.Vision.Model, opts...)
		if err != nil {
			return fmt.Errorf("vision provider: %w", err)
		}
		a.providers.Vision = p
	}

	if a.providers.CloudVision == nil && cfg.Vision.Cloud != nil {
		cloud := cfg.Vision.Cloud
		var opts []qwen.Option
		if key := envKey(cloud.APIKeyEnv); key != "" {
			opts = append(opts, qwen.WithAPIKey(key))
		}
		p, err := qwen.New(cloud.BaseURL, cloud.Model, opts...)
		if err != nil {
			return fmt.Errorf("cloud vision provider: %w", err)
		}
		a.providers.CloudVision = p
	}

	if a.providers.TTS == nil && cfg.TTS.BaseURL != "" {
		p, err := xtts.New(cfg.TTS.BaseURL,
			xtts.WithLanguage(cfg.TTS.Language),
			xtts.WithTimeout(cfg.TTS.Timeout.Std()),
		)
		if err != nil {
			return fmt.Errorf("tts provider: %w", err)
		}
		a.providers.TTS = p
		a.checks = append(a.checks, health.Checker{
			Name: "tts",
			Check: func(ctx context.Context) error {
				_, err := p.ListSpeakers(ctx)
				return err
			},
		})
	}

	if a.providers.Engine == nil && cfg.Workflow.BaseURL != "" {
		c, err := comfy.New(cfg.Workflow.BaseURL,
			comfy.WithPollInterval(cfg.Workflow.PollInterval.Std()),
		)
		if err != nil {
			return fmt.Errorf("workflow engine: %w", err)
		}
		a.providers.Engine = c
		a.checks = append(a.checks, health.Checker{Name: "engine", Check: c.Ping})
	}

	// No browser configured leaves thumbnail screenshots disabled; the
	// benchmark stage degrades gracefully without them.
	if a.providers.Browser == nil {
		switch {
		case len(cfg.Browser.Command) > 0:
			b, err := mcpshot.New(mcpshot.WithCommand(cfg.Browser.Command...))
			if err != nil {
				return fmt.Errorf("browser capture: %w", err)
			}
			a.providers.Browser = b
		case cfg.Browser.URL != "":
			b, err := mcpshot.New(mcpshot.WithServerURL(cfg.Browser.URL))
			if err != nil {
				return fmt.Errorf("browser capture: %w", err)
			}
			a.providers.Browser = b
		}
	}

	if a.providers.Media == nil || a.providers.YouTube == nil {
		metrics := observe.DefaultMetrics()
		runner := media.NewRunner(cfg.Media.Timeout.Std(),
			media.WithObserver(func(tool string, elapsed time.Duration) {
				metrics.RecordSubprocess(tool, elapsed)
			}),
		)
		if a.providers.Media == nil {
			a.providers.Media = media.NewFFmpeg(cfg.Media.FFmpeg, cfg.Media.FFprobe, runner)
		}
		if a.providers.YouTube == nil {
			a.providers.YouTube = media.NewYTDLP(cfg.Media.YTDLP, runner)
		}
	}

	return nil
}

// initOrchestrator assembles the agent dependency set and the orchestrator.
func (a *App) initOrchestrator() error {
	cache, err := benchcache.New(a.paths.BenchmarkCache())
	if err != nil {
		return fmt.Errorf("benchmark cache: %w", err)
	}

	a.deps = &agent.Deps{
		LLM:         a.providers.LLM,
		Vision:      a.providers.Vision,
		CloudVision: a.providers.CloudVision,
		TTS:         a.providers.TTS,
		Engine:      a.providers.Engine,
		Browser:     a.providers.Browser,
		Media:       a.providers.Media,
		YouTube:     a.providers.YouTube,
		HTTP:        &http.Client{Timeout: 30 * time.Second},
		Cache:       cache,
		Paths:       a.paths,
		Prompts:     agent.NewPrompts(a.cfg.Prompts),
		Metrics:     observe.DefaultMetrics(),
		Cfg:         a.cfg,
	}
	a.orch = orchestrator.New(a.store, a.bus, a.deps)
	return nil
}

// initHTTP assembles the route handler and the listen server.
func (a *App) initHTTP() {
	h := health.New(a.checks...)
	a.handler = server.New(a.orch, h, promhttp.Handler()).Handler()
	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run opens the listen socket and serves the API until ctx is cancelled or
// the server fails. When ctx is done, Run returns ctx.Err(); call Shutdown
// to drain in-flight requests.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("app running", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Orchestrator returns the orchestrator, for callers that drive sessions
// directly instead of through HTTP.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}

// Handler returns the assembled API handler. Tests serve it without opening
// the listen socket.
func (a *App) Handler() http.Handler {
	return a.handler
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown drains the HTTP server and tears down all subsystems in order.
// It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Drain in-flight HTTP requests first.
		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
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

// ─── Helpers ─────────────────────────────────────────────────────────────────

// envKey resolves a credential environment variable name to its value.
// An empty name or unset variable yields "".
func envKey(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
