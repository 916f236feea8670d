// Package main implements the entry point for the annostream host.
// Annostream coordinates document annotation across per-document peers:
// it routes peer requests, owns session state, runs document analysis,
// and streams colored highlights back in paced batches.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/annostream/analysis"
	"github.com/c360/annostream/config"
	"github.com/c360/annostream/extract"
	"github.com/c360/annostream/gateway"
	"github.com/c360/annostream/highlight"
	"github.com/c360/annostream/metric"
	"github.com/c360/annostream/natsclient"
	"github.com/c360/annostream/router"
	"github.com/c360/annostream/service"
	"github.com/c360/annostream/session"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "annostream"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	natsClient, metricsRegistry, err := setupInfrastructure(signalCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	deps := &service.Dependencies{
		Config:          cfg,
		NATSClient:      natsClient,
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
	}

	sessions, state, err := setupStores(signalCtx, cfg, natsClient, metricsRegistry)
	if err != nil {
		return err
	}

	coordinatorSvc := buildCoordinatorService(deps, sessions, state)

	manager := service.NewManager(logger)
	if err := manager.Register(coordinatorSvc); err != nil {
		return fmt.Errorf("register coordinator: %w", err)
	}

	if err := manager.StartAll(signalCtx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	var gw *gateway.Gateway
	if cfg.Gateway.Enabled {
		gw = gateway.New(cfg.Gateway.Addr, manager, sessions, state, metricsRegistry,
			gateway.WithLogger(logger))
		if err := gw.Start(signalCtx); err != nil {
			manager.StopAll(cliCfg.ShutdownTimeout)
			return fmt.Errorf("start gateway: %w", err)
		}
	}

	slog.Info("Annostream started", "platform", cfg.Platform.ID, "org", cfg.Platform.Org)

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if gw != nil {
		if err := gw.Stop(cliCfg.ShutdownTimeout); err != nil {
			slog.Error("Gateway shutdown failed", "error", err)
		}
	}
	manager.StopAll(cliCfg.ShutdownTimeout)

	slog.Info("Annostream shutdown complete")
	return nil
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting annostream (document annotation coordinator)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// setupInfrastructure connects NATS and builds the metrics registry
func setupInfrastructure(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
) (*natsclient.Client, *metric.MetricsRegistry, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithClientName(appName + "-" + cfg.Platform.ID),
		natsclient.WithLogger(natsclient.NewSlogAdapter(logger)),
	}
	if cfg.NATS.MaxReconnects != 0 {
		opts = append(opts, natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects))
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}

	natsClient, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cfg.NATS.URL)
	if err := natsClient.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := natsClient.WaitForConnection(connCtx); err != nil {
		return nil, nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	return natsClient, metric.NewMetricsRegistry(), nil
}

// setupStores builds the session and process-state stores, wiring KV
// persistence when configured.
func setupStores(
	ctx context.Context,
	cfg *config.Config,
	natsClient *natsclient.Client,
	metricsRegistry *metric.MetricsRegistry,
) (*session.Store, *session.ProcessStore, error) {
	sessions := session.NewStore(session.WithMetrics(metricsRegistry))

	stateOpts := []session.ProcessStoreOption{}
	if cfg.Session.PersistState {
		snapshots, err := session.NewKVSnapshotStore(ctx, natsClient)
		if err != nil {
			return nil, nil, fmt.Errorf("create state snapshot store: %w", err)
		}
		stateOpts = append(stateOpts, session.WithSnapshots(snapshots))
	}
	state := session.NewProcessStore(stateOpts...)

	return sessions, state, nil
}

// buildCoordinatorService wires the delivery pipeline and the routed
// action surface.
func buildCoordinatorService(
	deps *service.Dependencies,
	sessions *session.Store,
	state *session.ProcessStore,
) *service.CoordinatorService {
	cfg := deps.Config

	peers := router.NewPeerClient(deps.NATSClient,
		router.WithPeerLogger(deps.Logger))

	coordOpts := []highlight.CoordinatorOption{
		highlight.WithLogger(deps.Logger),
		highlight.WithMetrics(deps.MetricsRegistry),
		highlight.WithBatchSize(cfg.Coordinator.BatchSize),
		highlight.WithHighlightDelay(cfg.Coordinator.HighlightDelay),
		highlight.WithMinConfidence(cfg.Coordinator.MinConfidence),
	}
	if len(cfg.Coordinator.Palette) > 0 {
		coordOpts = append(coordOpts, highlight.WithPalette(cfg.Coordinator.Palette))
	}
	coordinator := highlight.NewCoordinator(peers, coordOpts...)

	extractor := extract.New(peers, extract.WithLogger(deps.Logger))

	var analyzer analysis.Analyzer
	if cfg.Analysis.Provider == "openai" {
		analyzerOpts := []analysis.OpenAIOption{
			analysis.WithAnalyzerLogger(deps.Logger),
		}
		if cfg.Analysis.Model != "" {
			analyzerOpts = append(analyzerOpts, analysis.WithModel(cfg.Analysis.Model))
		}
		analyzer = analysis.NewOpenAIAnalyzer(cfg.Analysis.APIKey, cfg.Analysis.BaseURL, analyzerOpts...)
	}

	return service.NewCoordinatorService(deps, sessions, state, coordinator, analyzer, extractor)
}
