// Command voxcoach runs a live spoken-English coaching session against a
// speech-to-speech provider and records the conversation and the vocabulary
// the coach extracts.
package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxcoach/internal/coach"
	"github.com/MrWong99/voxcoach/internal/config"
	"github.com/MrWong99/voxcoach/internal/health"
	"github.com/MrWong99/voxcoach/internal/observe"
	"github.com/MrWong99/voxcoach/internal/resilience"
	"github.com/MrWong99/voxcoach/internal/session"
	"github.com/MrWong99/voxcoach/internal/store"
	"github.com/MrWong99/voxcoach/internal/store/postgres"
	"github.com/MrWong99/voxcoach/internal/transcript/phonetic"
	"github.com/MrWong99/voxcoach/pkg/audio"
	"github.com/MrWong99/voxcoach/pkg/audio/portaudio"
	"github.com/MrWong99/voxcoach/pkg/provider/s2s"
	geminilive "github.com/MrWong99/voxcoach/pkg/provider/s2s/gemini"
	"github.com/MrWong99/voxcoach/pkg/provider/s2s/genailive"
	oais2s "github.com/MrWong99/voxcoach/pkg/provider/s2s/openai"
	"github.com/MrWong99/voxcoach/pkg/types"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "voxcoach.yaml", "path to the YAML configuration file")
	list := flag.String("list", "", `print saved history and exit ("sessions" or "vocabulary")`)
	clearAll := flag.Bool("clear", false, "delete all saved sessions and vocabulary and exit")
	resume := flag.String("resume", "", "continue the saved session with this ID instead of starting a new one")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "voxcoach: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxcoach: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxcoach: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── History store ─────────────────────────────────────────────────────────
	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to open store", "backend", cfg.Storage.Backend, "err", err)
		return 1
	}
	defer st.Close()

	switch {
	case *clearAll:
		if err := st.Clear(ctx); err != nil {
			slog.Error("failed to clear store", "err", err)
			return 1
		}
		fmt.Println("history cleared")
		return 0
	case *list != "":
		if err := printHistory(ctx, st, *list); err != nil {
			fmt.Fprintf(os.Stderr, "voxcoach: %v\n", err)
			return 1
		}
		return 0
	}

	slog.Info("voxcoach starting",
		"version", version,
		"config", *configPath,
		"provider", cfg.Provider.Name,
		"fallbacks", len(cfg.Fallbacks),
		"storage", cfg.Storage.Backend,
		"listen_addr", cfg.Server.ListenAddr,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers and devices ─────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, err := buildProvider(cfg, reg, tel.Metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	devices, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		slog.Error("failed to open audio backend", "backend", cfg.Audio.Backend, "err", err)
		return 1
	}
	if devices.Close != nil {
		defer func() {
			if err := devices.Close(); err != nil {
				slog.Warn("audio backend close error", "err", err)
			}
		}()
	}

	// ── Session ───────────────────────────────────────────────────────────────
	spotter := phonetic.New(
		phonetic.WithPhoneticThreshold(orDefault(cfg.Glossary.PhoneticThreshold, 0.80)),
		phonetic.WithFuzzyThreshold(orDefault(cfg.Glossary.FuzzyThreshold, 0.92)),
	)
	rec := coach.NewRecorder(st, coach.WithSpotter(spotter), coach.WithDisplay(printUpdate))

	ctrl := session.New(session.Config{
		Provider:     provider,
		ProviderName: cfg.Provider.Name,
		Microphone:   devices.Microphone,
		Speaker:      devices.Speaker,
		Session: s2s.SessionConfig{
			Voice:        cmp.Or(cfg.Provider.Voice, coach.DefaultVoice),
			Instructions: cmp.Or(cfg.Session.Instructions, coach.DefaultInstructions),
		},
		CaptureFormat:   audio.Format{SampleRate: cfg.Session.Capture.SampleRate, Channels: 1},
		FramesPerBuffer: cfg.Session.Capture.FramesPerBuffer,
		StallTimeout:    cfg.Session.Capture.StallTimeout,
		CloseTimeout:    cfg.Session.CloseTimeout,
	},
		session.WithMetrics(tel.Metrics),
		session.WithErrorObserver(func(err error) {
			slog.Warn("session: recoverable error", "err", err)
		}),
	)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.ListenAddr != "" {
		srv := newServer(cfg, tel, st, ctrl)
		g.Go(func() error {
			slog.Info("admin server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		// The admin server only lives as long as the session.
		defer stop()
		return runSession(gctx, ctrl, rec, cfg.Session, *resume)
	})

	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// runSession connects one coaching session and blocks until the remote side
// ends it or ctx is cancelled. A non-empty resumeID continues that saved
// session.
func runSession(ctx context.Context, ctrl *session.Controller, rec *coach.Recorder, cfg config.SessionConfig, resumeID string) error {
	var (
		cb     session.Callbacks
		closed <-chan struct{}
		err    error
	)
	if resumeID != "" {
		cb, closed, err = rec.Resume(ctx, resumeID)
	} else {
		cb, closed, err = rec.Begin(ctx)
	}
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	err = ctrl.Connect(cctx, cb)
	cancel()
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, session.ErrAborted) {
			return nil
		}
		return fmt.Errorf("connect: %w", err)
	}
	slog.Info("session live, press Ctrl+C to end it")

	select {
	case <-closed:
	case <-ctx.Done():
		slog.Info("shutdown signal received, ending session")
		dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		ctrl.Disconnect(dctx)
		select {
		case <-closed:
		case <-dctx.Done():
			return errors.New("session did not close in time")
		}
		return nil
	}
	return rec.Err()
}

// newServer builds the admin HTTP server: Prometheus metrics and the health
// probes, all behind the observability middleware.
func newServer(cfg *config.Config, tel *observe.Telemetry, st store.Store, ctrl *session.Controller) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", tel.MetricsHandler())

	stuckAfter := cfg.Session.ConnectTimeout + cfg.Session.CloseTimeout
	health.New([]health.Checker{
		health.PingCheck("store", st),
		health.SessionCheck(ctrl.State, stuckAfter, nil),
	}, health.WithCheckTimeout(cfg.Session.ConnectTimeout)).Register(mux)

	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(tel.Metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders registers every provider and audio backend that
// ships with voxcoach.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterS2S("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterS2S("gemini-genai", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []genailive.Option
		if entry.Model != "" {
			opts = append(opts, genailive.WithModel(entry.Model))
		}
		if project := optString(entry.Options, "project"); project != "" {
			opts = append(opts, genailive.WithVertex(project, optString(entry.Options, "location")))
		}
		return genailive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterS2S("openai-realtime", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []oais2s.Option
		if entry.Model != "" {
			opts = append(opts, oais2s.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oais2s.WithBaseURL(entry.BaseURL))
		}
		return oais2s.New(entry.APIKey, opts...), nil
	})

	reg.RegisterAudio("portaudio", func(cfg config.AudioConfig) (config.AudioBackend, error) {
		host, err := portaudio.Init()
		if err != nil {
			return config.AudioBackend{}, err
		}
		return config.AudioBackend{
			Microphone: host.Microphone(),
			Speaker:    host.Speaker(cfg.OutputBufferFrames),
			Close:      host.Terminate,
		}, nil
	})

	slog.Debug("registered providers", "s2s", reg.S2SNames())
}

// buildProvider instantiates the primary provider and every fallback and
// wraps them in a circuit-breaking failover group.
func buildProvider(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*resilience.S2SFallback, error) {
	primary, err := reg.CreateS2S(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("create s2s provider %q: %w", cfg.Provider.Name, err)
	}
	slog.Info("provider created", "kind", "s2s", "name", cfg.Provider.Name)

	fcfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Session.Breaker.MaxFailures,
			ResetTimeout: cfg.Session.Breaker.ResetTimeout,
			HalfOpenMax:  cfg.Session.Breaker.HalfOpenMax,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("circuit breaker state change", "provider", name, "from", from, "to", to)
			},
		},
	}
	fb := resilience.NewS2SFallback(primary, cfg.Provider.Name, fcfg, m)

	for _, entry := range cfg.Fallbacks {
		p, err := reg.CreateS2S(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("fallback provider not registered, skipping", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create fallback provider %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
		slog.Info("provider created", "kind", "s2s-fallback", "name", entry.Name)
	}
	return fb, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	if cfg.Backend == config.StoragePostgres {
		pg, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	return store.NewMemStore(), nil
}

// ── Output ────────────────────────────────────────────────────────────────────

// printUpdate writes finalized utterances to stdout.
func printUpdate(u types.UtteranceUpdate) {
	if !u.Final {
		return
	}
	fmt.Printf("%s  %-6s %s\n", u.Timestamp.Format(time.TimeOnly), u.Role, u.Text)
}

func printHistory(ctx context.Context, st store.Store, what string) error {
	switch what {
	case "sessions":
		sessions, err := st.ListSessions(ctx)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			fmt.Printf("%s  %s  (%d utterances)\n", s.StartTime.Format(time.DateTime), s.Title, len(s.Utterances))
			for _, u := range s.Utterances {
				fmt.Printf("    %-6s %s", u.Role, u.Text)
				if len(u.Terms) > 0 {
					fmt.Printf("  %v", u.Terms)
				}
				fmt.Println()
			}
		}
		return nil
	case "vocabulary":
		vocab, err := st.ListVocabulary(ctx)
		if err != nil {
			return err
		}
		for _, v := range vocab {
			fmt.Printf("%s  %s: %s (%s)\n", v.CreatedAt.Format(time.DateOnly), v.Term, v.Definition, v.Translation)
			if v.Example != "" {
				fmt.Printf("    e.g. %s\n", v.Example)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown list %q: want sessions or vocabulary", what)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}
