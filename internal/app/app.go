// Package app wires the quacktosql pipeline into a running server.
//
// [Session] is one recording pipeline (capture, decode, inference,
// transcript, reveal) with its error and retry policy. [App] owns the shared
// ASR model, the HTTP server that hands a Session to every websocket
// connection, and the lifecycle around both: New builds everything, Run
// serves until the context ends, and Shutdown tears down in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/quacktosql/internal/config"
	"github.com/MrWong99/quacktosql/internal/health"
	"github.com/MrWong99/quacktosql/internal/observe"
	"github.com/MrWong99/quacktosql/internal/web"
	"github.com/MrWong99/quacktosql/pkg/audio"
	"github.com/MrWong99/quacktosql/pkg/provider/asr"
	asropenai "github.com/MrWong99/quacktosql/pkg/provider/asr/openai"
)

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry serves the provider's Prometheus registry at the configured
// metrics path and shuts the provider down with the app.
func WithTelemetry(p *observe.Provider) Option {
	return func(a *App) { a.telemetry = p }
}

// WithSessionOptions appends options applied to every session.
func WithSessionOptions(opts ...SessionOption) Option {
	return func(a *App) { a.sessionOpts = append(a.sessionOpts, opts...) }
}

// WithTranscriber replaces the OpenAI client behind /api/transcribe.
func WithTranscriber(f web.TranscriberFunc) Option {
	return func(a *App) { a.transcriber = f }
}

// App owns the model, the HTTP server and all live sessions.
type App struct {
	model       asr.Model
	metrics     *observe.Metrics
	telemetry   *observe.Provider
	sessionOpts []SessionOption
	transcriber web.TranscriberFunc

	cfgMu   sync.RWMutex
	cfg     *config.Config
	sessCfg SessionConfig

	handler    http.Handler
	server     *http.Server
	baseCtx    context.Context
	baseCancel context.CancelFunc

	modelReady atomic.Bool

	mu       sync.Mutex
	sessions map[string]*Session

	stopOnce sync.Once
}

// New builds the App around a loaded configuration and the ASR model the
// registry produced. The model is owned by the App from here on.
func New(cfg *config.Config, model asr.Model, opts ...Option) (*App, error) {
	sc, err := NewSessionConfig(cfg)
	if err != nil {
		return nil, err
	}
	a := &App{
		model:    model,
		metrics:  observe.DefaultMetrics(),
		cfg:      cfg,
		sessCfg:  sc,
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(a)
	}
	if a.transcriber == nil {
		a.transcriber = a.openAITranscriber
	}
	a.baseCtx, a.baseCancel = context.WithCancel(context.Background())
	a.handler = a.routes()
	return a, nil
}

func (a *App) routes() http.Handler {
	cfg := a.Config()
	mux := http.NewServeMux()

	mux.Handle("GET /{$}", web.Index())
	mux.Handle("GET /ws", web.NewWSHandler(a.webSession, web.WithWSMetrics(a.metrics)))
	if cfg.Transcribe.Enabled {
		mux.Handle("POST /api/transcribe",
			web.NewTranscribeHandler(a.transcriber, cfg.Transcribe.MaxUploadBytes, a.metrics))
	}

	health.New(
		health.WithCheckers(
			health.ModelChecker(a.Ready, cfg.Pipeline.LazyLoad),
			health.ConfigChecker(a.Config),
		),
		health.WithSessions(a.Sessions),
	).Register(mux)

	if a.telemetry != nil {
		mux.Handle("GET "+cfg.Telemetry.MetricsPath, a.telemetry.Handler())
	}
	return observe.Middleware(a.metrics,
		observe.WithQuietPaths("/healthz", "/readyz", cfg.Telemetry.MetricsPath),
	)(mux)
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Config returns the current configuration.
func (a *App) Config() *config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// ApplyConfig swaps in a reloaded configuration. Sessions created afterwards
// use the new tunables; live sessions keep theirs.
func (a *App) ApplyConfig(cfg *config.Config) error {
	sc, err := NewSessionConfig(cfg)
	if err != nil {
		return err
	}
	a.cfgMu.Lock()
	a.cfg = cfg
	a.sessCfg = sc
	a.cfgMu.Unlock()
	return nil
}

// Ready reports whether the model finished its startup load.
func (a *App) Ready() bool { return a.modelReady.Load() }

// NewSession creates a session on the shared model, registered with the App
// until it is closed.
func (a *App) NewSession(src audio.Source, sink Sink, opts ...SessionOption) *Session {
	a.cfgMu.RLock()
	sc := a.sessCfg
	a.cfgMu.RUnlock()

	all := append([]SessionOption{WithSessionMetrics(a.metrics)}, a.sessionOpts...)
	s := NewSession(a.model, src, sc, sink, append(all, opts...)...)

	a.mu.Lock()
	a.sessions[s.ID()] = s
	a.mu.Unlock()
	return s
}

// Sessions returns the number of live sessions.
func (a *App) Sessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// CloseSession closes s and forgets it.
func (a *App) CloseSession(s *Session) error {
	a.mu.Lock()
	delete(a.sessions, s.ID())
	a.mu.Unlock()
	return s.Close()
}

// trackedSession unregisters from the App on Close.
type trackedSession struct {
	*Session
	app *App
}

func (t trackedSession) Close() error { return t.app.CloseSession(t.Session) }

func (a *App) webSession(ctx context.Context, src audio.Source, emit web.Emitter) (web.Session, error) {
	s := a.NewSession(src, func(e Event) { emit(e) })
	observe.Logger(observe.WithSession(ctx, s.ID())).Info("session opened")
	return trackedSession{Session: s, app: a}, nil
}

func (a *App) openAITranscriber() (web.FileTranscriber, error) {
	tc := a.Config().Transcribe
	key := tc.ResolvedAPIKey()
	if key == "" {
		return nil, web.ErrAPIKeyMissing
	}
	var opts []asropenai.Option
	if tc.Model != "" {
		opts = append(opts, asropenai.WithModel(tc.Model))
	}
	if tc.Prompt != "" {
		opts = append(opts, asropenai.WithPrompt(tc.Prompt))
	}
	if tc.BaseURL != "" {
		opts = append(opts, asropenai.WithBaseURL(tc.BaseURL))
	}
	if tc.Temperature != nil {
		opts = append(opts, asropenai.WithTemperature(*tc.Temperature))
	}
	return asropenai.New(key, opts...)
}

// Preload loads the model and marks the App ready. Run calls it unless
// lazy loading is configured.
func (a *App) Preload(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "asr.load")
	defer span.End()

	start := time.Now()
	err := a.model.Load(ctx, func(p asr.Progress) {
		if p.Status == asr.StatusDone {
			slog.Debug("model asset ready", "file", p.File, "bytes", p.Loaded)
		}
	})
	if err != nil {
		span.RecordError(err)
		a.metrics.RecordSessionError(ctx, KindModelLoad.String())
		return fmt.Errorf("app: preload model: %w", err)
	}
	elapsed := time.Since(start)
	a.metrics.ModelLoadDuration.Record(ctx, elapsed.Seconds())
	a.modelReady.Store(true)
	slog.Info("asr model loaded", "duration", elapsed.Round(time.Millisecond))
	return nil
}

// Run serves HTTP on the configured address until ctx is cancelled or the
// server fails. It does not shut down; call Shutdown afterwards.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config()
	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	cfg := a.Config()
	if !cfg.Pipeline.LazyLoad {
		go func() {
			if err := a.Preload(ctx); err != nil && ctx.Err() == nil {
				slog.Error("model preload failed, sessions will retry on demand", "err", err)
			}
		}()
	}

	a.mu.Lock()
	a.server = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return a.baseCtx },
	}
	srv := a.server
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if tls := cfg.Server.TLS; tls != nil {
			errCh <- srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- srv.Serve(ln)
	}()
	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Shutdown stops accepting connections, closes every session, then the model
// and telemetry. If ctx expires first the remaining steps are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		srv := a.server
		sessions := make([]*Session, 0, len(a.sessions))
		for _, s := range a.sessions {
			sessions = append(sessions, s)
		}
		a.mu.Unlock()
		slog.Info("shutting down", "sessions", len(sessions))

		var errs []error
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("http server: %w", err))
			}
		}
		// Websocket connections are hijacked; cancelling their base context
		// ends their read loops.
		a.baseCancel()

		for _, s := range sessions {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining_sessions", len(sessions))
				shutdownErr = ctx.Err()
				return
			}
			if err := a.CloseSession(s); err != nil {
				slog.Warn("session close error", "session_id", s.ID(), "err", err)
			}
		}

		if err := a.model.Close(); err != nil {
			errs = append(errs, fmt.Errorf("model: %w", err))
		}
		if a.telemetry != nil {
			if err := a.telemetry.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("telemetry: %w", err))
			}
		}
		shutdownErr = errors.Join(errs...)
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
