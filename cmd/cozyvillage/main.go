// Command cozyvillage is the Cozy Village server: it hosts the tick endpoint
// that advances the villager simulation, the state snapshot and realtime
// websocket consumed by the browser front end, and the usual health and
// metrics surfaces.
package main

import (
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

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/hearthside/cozyvillage/internal/api"
	"github.com/hearthside/cozyvillage/internal/config"
	"github.com/hearthside/cozyvillage/internal/health"
	"github.com/hearthside/cozyvillage/internal/observe"
	"github.com/hearthside/cozyvillage/internal/realtime"
	"github.com/hearthside/cozyvillage/internal/store"
	"github.com/hearthside/cozyvillage/internal/tick"
	"github.com/hearthside/cozyvillage/pkg/provider/llm"
	"github.com/hearthside/cozyvillage/pkg/provider/llm/anyllm"
	openaiprov "github.com/hearthside/cozyvillage/pkg/provider/llm/openai"
)

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
			fmt.Fprintf(os.Stderr, "cozyvillage: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "cozyvillage: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("cozyvillage starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"providers", len(cfg.Providers),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "cozyvillage",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sdctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sdctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Database ──────────────────────────────────────────────────────────────
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		slog.Error("failed to create database pool", "err", err)
		return 1
	}
	defer pool.Close()

	hub := realtime.NewHub()
	st := store.NewPostgres(pool, hub)
	if err := st.Migrate(ctx); err != nil {
		slog.Error("failed to migrate schema", "err", err)
		return 1
	}

	// ── LLM providers ─────────────────────────────────────────────────────────
	// With no configured providers the directory stays nil and every agent
	// speaks from the canned fallback lines.
	var providers tick.Providers
	if len(cfg.Providers) > 0 {
		providers = buildDirectory(cfg.Providers)
	} else {
		slog.Warn("no LLM providers configured; agents will use fallback lines")
	}

	processor := tick.New(st, providers, tick.Config{
		MoveChance:      cfg.Sim.MoveChance,
		HistoryWindow:   cfg.Sim.HistoryWindow,
		HistoryPerAgent: cfg.Sim.HistoryPerAgent,
		TemperatureMin:  cfg.Sim.TemperatureMin,
		TemperatureMax:  cfg.Sim.TemperatureMax,
		MaxTokens:       cfg.Sim.MaxTokens,
		FallbackLines:   cfg.Sim.FallbackLines,
	}, tick.WithMetrics(metrics))

	// ── HTTP server ───────────────────────────────────────────────────────────
	healthHandler := health.New(
		health.Checker{Name: "database", Check: pool.Ping},
	)
	server := api.NewServer(processor, st, hub, healthHandler, cfg.Server.CronSecret)

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server.Routes(metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready", "addr", cfg.Server.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		sdctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(sdctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildDirectory registers one LLM builder per configured provider entry.
// The "openai" entry uses the OpenAI SDK directly; everything else goes
// through the any-llm bridge.
func buildDirectory(entries []config.ProviderEntry) *llm.Directory {
	dir := llm.NewDirectory()
	for _, entry := range entries {
		entry := entry
		dir.Register(entry.Name, func(model string) (llm.Provider, error) {
			if model == "" {
				model = entry.Model
			}
			if entry.Name == "openai" {
				var opts []openaiprov.Option
				if entry.BaseURL != "" {
					opts = append(opts, openaiprov.WithBaseURL(entry.BaseURL))
				}
				return openaiprov.New(entry.APIKey, model, opts...)
			}
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(entry.Name, model, opts...)
		})
	}
	return dir
}

// newLogger builds the process-wide structured logger at the configured level.
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
