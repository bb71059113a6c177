// Command livebridge is the main entry point for the Livebridge proxy: a
// WebSocket front door that pools warm Gemini Live sessions and pumps audio
// and tool calls between clients and the upstream model.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/livebridge/internal/bridge"
	"github.com/MrWong99/livebridge/internal/bridge/mqproducer/postgres"
	"github.com/MrWong99/livebridge/internal/bridge/wsconn"
	"github.com/MrWong99/livebridge/internal/config"
	"github.com/MrWong99/livebridge/internal/mcp"
	"github.com/MrWong99/livebridge/internal/mcp/mcphost"
	"github.com/MrWong99/livebridge/internal/mcp/tools"
	"github.com/MrWong99/livebridge/internal/mcp/tools/sessioninfo"
	"github.com/MrWong99/livebridge/internal/observe"
	"github.com/MrWong99/livebridge/internal/upstream/gemini"
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
			fmt.Fprintf(os.Stderr, "livebridge: config file %q not found — pass -config with the path to a YAML configuration file\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "livebridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var logLevel slog.LevelVar
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := newLogger(&logLevel)
	slog.SetDefault(logger)

	watcher, err := watchConfigForReload(*configPath, &logLevel)
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	slog.Info("livebridge starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "livebridge"})
	if err != nil {
		slog.Error("failed to initialise observability providers", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Upstream factory ──────────────────────────────────────────────────────
	factory, err := buildUpstreamFactory(cfg.Upstream)
	if err != nil {
		slog.Error("failed to build upstream factory", "err", err)
		return 1
	}

	// ── Warmup pool ────────────────────────────────────────────────────────────
	pool := bridge.NewWarmupPool(factory, bridge.PoolConfig{
		Capacity:            cfg.Pool.Capacity,
		WorkerParallelism:   cfg.Pool.WorkerParallelism,
		CreationConcurrency: cfg.Pool.CreationConcurrency,
		BatchSize:           cfg.Pool.BatchSize,
		KeepAliveInterval:   cfg.Pool.KeepAliveInterval,
	}, logger)
	pool.Warmup(ctx)
	pool.StartKeepAlive(ctx)

	// ── Session registry ──────────────────────────────────────────────────────
	sessions := bridge.NewSessionRegistry(logger)

	// ── Tool dispatch ──────────────────────────────────────────────────────────
	host := mcphost.New()
	if err := registerBuiltinTools(host, sessioninfo.NewTools(sessions)); err != nil {
		slog.Error("failed to register built-in tool", "err", err)
		return 1
	}

	for _, srv := range cfg.MCP.Servers {
		serverCfg := mcp.ServerConfig{
			Name:      srv.Name,
			Transport: mcp.Transport(srv.Transport),
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		}
		if err := host.RegisterServer(ctx, serverCfg); err != nil {
			slog.Error("failed to register MCP server", "name", srv.Name, "err", err)
			return 1
		}
		slog.Info("MCP server registered", "name", srv.Name, "transport", srv.Transport)
	}
	toolExecutor := mcphost.NewBridgeExecutor(host)

	// ── Durable message producer ──────────────────────────────────────────────
	var producerFactory func(sessionID string) bridge.MessageProducer
	if cfg.Producer.Driver == config.ProducerPostgres {
		probe, err := postgres.NewProducer(ctx, cfg.Producer.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect producer", "driver", cfg.Producer.Driver, "err", err)
			return 1
		}
		_ = probe.Close()
		dsn := cfg.Producer.PostgresDSN
		producerFactory = func(sessionID string) bridge.MessageProducer {
			p, err := postgres.NewProducer(ctx, dsn)
			if err != nil {
				slog.Error("failed to connect session producer", "session_id", sessionID, "err", err)
				return nil
			}
			return p
		}
	}

	// ── Server wiring ──────────────────────────────────────────────────────────
	srv := &bridge.Server{
		Gate:             bridge.NewAbuseGate(logger),
		Pool:             pool,
		Sessions:         sessions,
		Readiness:        bridge.NewReadinessRegistry(),
		Upgrader:         &wsconn.Upgrader{},
		Factory:          factory,
		ToolExecutor:     toolExecutor,
		ProducerFactory:  producerFactory,
		ReadinessTimeout: cfg.Handshake.ReadinessTimeout,
		Logger:           logger,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", observe.Middleware(metrics)(srv))

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}

	printStartupSummary(cfg)

	serveErrCh := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)
		serveErrCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "err", err)
	}
	pool.Shutdown(true)
	if err := host.Close(); err != nil {
		slog.Error("mcp host shutdown error", "err", err)
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Error("observability shutdown error", "err", err)
	}

	slog.Info("goodbye")
	return 0
}

// registerBuiltinTools registers every tool in ts with host, stopping at the
// first registration failure.
func registerBuiltinTools(host *mcphost.Host, ts []tools.Tool) error {
	for _, t := range ts {
		if err := host.RegisterBuiltin(mcphost.BuiltinTool{
			Definition:  t.Definition,
			Handler:     t.Handler,
			DeclaredP50: t.DeclaredP50,
			DeclaredMax: t.DeclaredMax,
		}); err != nil {
			return fmt.Errorf("tool %q: %w", t.Definition.Name, err)
		}
	}
	return nil
}

// buildUpstreamFactory maps the proxy's upstream config onto the Gemini
// Live factory's mode configuration.
func buildUpstreamFactory(cfg config.UpstreamConfig) (*gemini.Factory, error) {
	modeCfg := gemini.UpstreamModeConfig{
		APIKey:    cfg.APIKey,
		ProjectID: cfg.ProjectID,
		Location:  cfg.Location,
	}
	switch cfg.Mode {
	case config.UpstreamModeVertex:
		modeCfg.Mode = gemini.ModeVertex
	case config.UpstreamModeDevelopment, "":
		modeCfg.Mode = gemini.ModeDevelopment
	default:
		return nil, fmt.Errorf("unsupported upstream mode %q", cfg.Mode)
	}

	var opts []gemini.Option
	if cfg.Model != "" {
		opts = append(opts, gemini.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
	}

	return gemini.NewFactory(modeCfg, cfg.SystemTemplate, opts...), nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Livebridge — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Upstream mode   : %-19s ║\n", cfg.Upstream.Mode)
	fmt.Printf("║  Upstream model  : %-19s ║\n", orDefault(cfg.Upstream.Model, "(default)"))
	fmt.Printf("║  Pool capacity   : %-19d ║\n", cfg.Pool.Capacity)
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.MCP.Servers))
	fmt.Printf("║  Producer driver : %-19s ║\n", orDefault(string(cfg.Producer.Driver), "none"))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds a logger whose verbosity is controlled by lvl, a
// [slog.LevelVar] so [watchConfigForReload] can adjust it live without
// rebuilding the handler.
func newLogger(lvl *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// watchConfigForReload starts a background poller on configPath and applies
// hot-reloadable changes (currently: log level) as they land. Changes to pool
// sizing and MCP servers are logged but not applied — the proxy must be
// restarted to pick them up. An abuse_gate change is logged as not applied,
// since the abuse gate uses its built-in thresholds. Other fields (upstream
// credentials, the producer driver) are not compared and not logged.
func watchConfigForReload(configPath string, lvl *slog.LevelVar) (*config.Watcher, error) {
	return config.NewWatcher(configPath, func(old, newCfg *config.Config) {
		diff := config.Diff(old, newCfg)
		if diff.LogLevelChanged {
			lvl.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed via config reload", "level", diff.NewLogLevel)
		}
		if diff.PoolChanged {
			slog.Warn("pool config changed in file but requires a restart to take effect")
		}
		if diff.AbuseGateChanged {
			slog.Warn("abuse_gate config changed in file but is not applied: the abuse gate uses its built-in thresholds")
		}
		if diff.MCPServersChanged {
			slog.Warn("mcp.servers changed in file but requires a restart to take effect")
		}
	})
}
