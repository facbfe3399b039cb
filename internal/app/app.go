// Package app wires the calculator agent's subsystems into a running HTTP
// service.
//
// The App struct owns the full lifecycle: New builds the tool registry, tool
// host, agent and MCP server and mounts them on one mux, Run serves until the
// context is cancelled, and Shutdown runs the registered closers.
//
// For testing, inject doubles through [Providers] and the functional options
// (WithMetrics, WithRegistry, ...) and drive [App.Handler] with httptest.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/calcagent/internal/agent"
	"github.com/MrWong99/calcagent/internal/calculator"
	"github.com/MrWong99/calcagent/internal/config"
	"github.com/MrWong99/calcagent/internal/dispatch"
	"github.com/MrWong99/calcagent/internal/health"
	"github.com/MrWong99/calcagent/internal/mcpserver"
	"github.com/MrWong99/calcagent/internal/observe"
	"github.com/MrWong99/calcagent/internal/toolhost"
	"github.com/MrWong99/calcagent/pkg/provider/llm"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// Providers holds the model backend. A nil LLM disables /responses; the
// tool endpoints keep working.
type Providers struct {
	// LLM is usually a [*resilience.LLMFallback] built by main.
	LLM llm.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics  *observe.Metrics
	gatherer prometheus.Gatherer
	version  string
	logLevel *slog.LevelVar

	registry *dispatch.Registry
	host     *toolhost.Host
	mcp      *mcpserver.Server
	agent    atomic.Pointer[agent.Agent]

	handler http.Handler
	server  *http.Server

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer serves g on /metrics instead of the default Prometheus
// registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithVersion sets the version announced to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithLogLevel lets [App.ApplyConfig] change the process log level at
// runtime.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithRegistry replaces the calculator registry.
func WithRegistry(r *dispatch.Registry) Option {
	return func(a *App) { a.registry = r }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New wires registry → tool host → agent → MCP server → HTTP mux.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Tools ─────────────────────────────────────────────────────────
	if a.registry == nil {
		reg, err := calculator.NewRegistry()
		if err != nil {
			return nil, fmt.Errorf("app: build tool registry: %w", err)
		}
		a.registry = reg
	}
	a.host = toolhost.New(a.registry, toolhost.WithMetrics(a.metrics))

	// ── 2. Agent ─────────────────────────────────────────────────────────
	if providers.LLM != nil {
		ag, err := a.buildAgent(cfg.Agent)
		if err != nil {
			return nil, fmt.Errorf("app: init agent: %w", err)
		}
		a.agent.Store(ag)
	} else {
		slog.Warn("no LLM provider; agent endpoint disabled")
	}

	// ── 3. MCP ───────────────────────────────────────────────────────────
	if !cfg.MCP.Disabled {
		a.mcp = mcpserver.New(a.host,
			mcpserver.WithVersion(a.version),
			mcpserver.WithStateless(cfg.MCP.Stateless),
		)
	}

	// ── 4. HTTP ──────────────────────────────────────────────────────────
	a.handler = withCORS(cfg.Server.CORSAllowedOrigins, observe.Middleware(a.metrics)(a.routes()))
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	slog.Info("app initialised",
		"tools", a.registry.Names(),
		"agent", cfg.Agent.Name,
		"llm", providers.LLM != nil,
		"mcp", a.mcp != nil,
	)
	return a, nil
}

func (a *App) buildAgent(ac config.AgentConfig) (*agent.Agent, error) {
	return agent.New(agent.Config{
		Name:             ac.Name,
		Instructions:     ac.Instructions,
		Provider:         a.providers.LLM,
		Tools:            a.host,
		MaxTurns:         ac.MaxTurns,
		MaxRepeatedCalls: ac.MaxRepeatedCalls,
		Temperature:      ac.Temperature,
		MaxTokens:        ac.MaxTokens,
		MaxPromptTokens:  ac.MaxPromptTokens,
		Metrics:          a.metrics,
	})
}

// routes builds the mux. See the package handlers for the payloads.
func (a *App) routes() *http.ServeMux {
	mux := http.NewServeMux()

	health.New(a.readinessCheckers()...).Register(mux)

	mux.HandleFunc("GET /tools", a.handleListTools)
	mux.HandleFunc("GET /tools/stats", a.handleToolStats)
	mux.HandleFunc("GET /tools/{name}", a.handleDescribeTool)
	mux.HandleFunc("POST /tools/{name}", a.handleInvokeTool)
	mux.HandleFunc("GET /providers", a.handleProviders)
	mux.HandleFunc("POST /responses", a.handleResponses)

	if a.mcp != nil {
		mux.Handle("/mcp", a.mcp.Handler())
	}
	mux.Handle("GET /metrics", observe.MetricsHandler(a.gatherer))
	return mux
}

func (a *App) readinessCheckers() []health.Checker {
	checkers := []health.Checker{health.ToolsChecker(a.registry.Len)}

	switch p := a.providers.LLM.(type) {
	case nil:
		checkers = append(checkers, health.ReadyChecker("llm", nil))
	case health.Readier:
		checkers = append(checkers, health.ReadyChecker("llm", p))
	default:
		checkers = append(checkers, health.Checker{
			Name:  "llm",
			Check: func(context.Context) error { return nil },
		})
	}
	return checkers
}

// withCORS applies CORS at the top level so preflight requests are answered
// before routing. No origins means no CORS handling.
func withCORS(origins []string, h http.Handler) http.Handler {
	switch {
	case len(origins) == 0:
		return h
	case slices.Contains(origins, "*"):
		return cors.AllowAll().Handler(h)
	default:
		return cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{"Mcp-Session-Id", "X-Correlation-ID"},
		}).Handler(h)
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Host returns the tool host shared by every surface.
func (a *App) Host() *toolhost.Host { return a.host }

// Agent returns the current agent, or nil when no LLM is configured.
func (a *App) Agent() *agent.Agent { return a.agent.Load() }

// OnShutdown registers fn to run during [App.Shutdown].
func (a *App) OnShutdown(fn func() error) {
	a.closers = append(a.closers, fn)
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new:
// the log level and the agent settings. Everything else is logged as
// requiring a restart. It is meant as a [config.Watcher] callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.AgentChanged && a.providers.LLM != nil {
		ag, err := a.buildAgent(new.Agent)
		if err != nil {
			slog.Warn("agent reload rejected; keeping previous agent", "err", err)
		} else {
			a.agent.Store(ag)
			slog.Info("agent reloaded", "agent", ag.Name(), "max_turns", new.Agent.MaxTurns)
		}
	}

	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a config level to its slog equivalent. Unknown levels map to
// info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled.
// It returns ctx.Err() after a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %q: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is [App.Run] on an existing listener. The HTTP server is drained with
// the configured shutdown timeout once ctx is done.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown runs the registered closers in order. It respects the context
// deadline: once ctx expires the remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

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
