// Command quacktosql serves the quack-to-SQL page: browsers record their
// microphone, the server transcribes it with the configured ASR model, and
// every "quack" reveals more of a SQL query.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/quacktosql/internal/app"
	"github.com/MrWong99/quacktosql/internal/config"
	"github.com/MrWong99/quacktosql/internal/observe"
	"github.com/MrWong99/quacktosql/internal/resilience"
	"github.com/MrWong99/quacktosql/pkg/provider/asr"
	asropenai "github.com/MrWong99/quacktosql/pkg/provider/asr/openai"
	"github.com/MrWong99/quacktosql/pkg/provider/asr/whisper"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "quacktosql: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "quacktosql: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("quacktosql starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(telemetry.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── ASR model ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	model, err := buildModel(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build asr model", "err", err)
		return 1
	}

	application, err := app.New(cfg, model,
		app.WithMetrics(metrics),
		app.WithTelemetry(telemetry),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = model.Close()
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(r config.Reload) {
		d := r.Diff
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.PipelineChanged || d.RevealChanged {
			if err := application.ApplyConfig(r.New); err != nil {
				slog.Warn("config reload rejected", "err", err)
				return
			}
			slog.Info("new sessions use the updated tunables")
		}
		if d.RestartRequired {
			slog.Warn("config change requires a restart to take effect")
		}
	})
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	// ── Serve ─────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		watcher.Stop()
		return nil
	})
	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the ASR implementations that ship with
// quacktosql into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterASR("whisper-native", func(entry config.ProviderEntry) (asr.Model, error) {
		modelFile := entry.Model
		if modelFile == "" {
			modelFile = optString(entry.Options, "model_file")
		}
		var opts []whisper.NativeOption
		if entry.BaseURL != "" {
			opts = append(opts, whisper.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if dir := optString(entry.Options, "cache_dir"); dir != "" {
			opts = append(opts, whisper.WithCacheDir(dir))
		}
		if n := optInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whisper.WithThreads(uint(n)))
		}
		return whisper.NewNative(modelFile, opts...)
	})

	reg.RegisterASR("whisper", func(entry config.ProviderEntry) (asr.Model, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.NewServer(entry.BaseURL, opts...)
	})

	reg.RegisterASR("openai", func(entry config.ProviderEntry) (asr.Model, error) {
		key := entry.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		var opts []asropenai.Option
		if entry.Model != "" {
			opts = append(opts, asropenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, asropenai.WithBaseURL(entry.BaseURL))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, asropenai.WithPrompt(prompt))
		}
		return asropenai.New(key, opts...)
	})

	for _, name := range reg.ASRNames() {
		slog.Debug("registered provider", "kind", "asr", "name", name)
	}
}

// buildModel creates the configured ASR model. With fallbacks configured the
// models are chained behind circuit breakers.
func buildModel(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (asr.Model, error) {
	primary, err := reg.CreateASR(cfg.Providers.ASR)
	if err != nil {
		return nil, fmt.Errorf("create asr provider %q: %w", cfg.Providers.ASR.Name, err)
	}
	slog.Info("provider created", "kind", "asr", "name", cfg.Providers.ASR.Name)
	if len(cfg.Providers.ASRFallbacks) == 0 {
		return primary, nil
	}

	fb := resilience.NewASRFallback(primary, cfg.Providers.ASR.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Info("asr circuit breaker", "provider", name, "from", from, "to", to)
			},
		},
		OnFailure: func(name string, _ error) {
			metrics.RecordProviderError(context.Background(), name, "asr")
		},
	})
	for _, entry := range cfg.Providers.ASRFallbacks {
		m, err := reg.CreateASR(entry)
		if err != nil {
			_ = fb.Close()
			return nil, fmt.Errorf("create asr fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, m)
		slog.Info("provider created", "kind", "asr-fallback", "name", entry.Name)
	}
	return fb, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      quacktosql: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("ASR", providerLabel(cfg.Providers.ASR))
	for _, fb := range cfg.Providers.ASRFallbacks {
		printRow("ASR fallback", providerLabel(fb))
	}
	if cfg.Transcribe.Enabled {
		printRow("Upload API", "enabled")
	} else {
		printRow("Upload API", "(disabled)")
	}
	printRow("Keyword", fmt.Sprintf("%s x%d", cfg.Reveal.Keyword, cfg.Reveal.MaxCount))
	printRow("Max duration", cfg.Pipeline.MaxDuration.String())
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	if e.Name == "" {
		return "(not configured)"
	}
	if e.Model != "" {
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
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

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer from a provider Options map. YAML decodes
// numbers as int; anything else yields 0.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
