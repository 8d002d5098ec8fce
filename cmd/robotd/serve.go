package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sessionkernel/robotd/internal/bus"
	"github.com/sessionkernel/robotd/internal/config"
	"github.com/sessionkernel/robotd/internal/decision"
	"github.com/sessionkernel/robotd/internal/llm"
	"github.com/sessionkernel/robotd/internal/mcpclient"
	"github.com/sessionkernel/robotd/internal/observability"
	"github.com/sessionkernel/robotd/internal/perception"
	"github.com/sessionkernel/robotd/internal/router"
	"github.com/sessionkernel/robotd/internal/session"
	"github.com/sessionkernel/robotd/internal/workflow"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the robotd kernel",
		Long: `Start the robotd kernel.

The server will:
1. Load configuration (or fall back to its built-in defaults)
2. Open the process-wide input/output buses
3. Start the TCP console and, if configured, the HTTP/SSE web console
4. Dispatch every InputEvent to its session actor, spawning sessions lazily

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML (or JSON5) configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfigOrDefaults(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
		Output: os.Stderr,
	})

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: cfg.Observability.Tracing.ServiceName,
		Endpoint:    cfg.Observability.Tracing.OTLPEndpoint,
		// NewTracer treats SamplingRate==0 as "default to 1.0"; an explicitly
		// disabled tracing section in config (Enabled==false) still gets a
		// no-op tracer because Endpoint is left empty in that case.
		SamplingRate: cfg.Observability.Tracing.SampleFraction,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	logger.Info(ctx, "starting robotd kernel",
		"version", version,
		"commit", commit,
		"config", configPath,
		"tcp_addr", cfg.Server.TCPAddr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	inputBus := bus.NewInputBus(cfg.Bus.InputCapacity)
	outputBus := bus.NewOutputBus(cfg.Bus.OutputCapacity)
	consumed := bus.NewConsumedSet()
	gate := bus.NewElicitationGate()
	registry := router.NewRegistry()
	for source, handlers := range cfg.Routes {
		registry.SetRoute(source, handlers)
	}

	llmClient := llm.New(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
	}, outputBus).WithObservability(metrics, tracer)

	toolServer, err := resolveToolServer(cfg)
	if err != nil {
		return err
	}

	clientFactory := func(sessionID string) (workflow.MCPClient, error) {
		client := mcpclient.NewClient(toolServer, sessionID, inputBus, outputBus, consumed, gate, llmClient)
		connectCtx, cancel := context.WithTimeout(context.Background(), toolServer.Timeout)
		defer cancel()
		if err := client.Connect(connectCtx); err != nil {
			return nil, fmt.Errorf("connect mcp client for session %s: %w", sessionID, err)
		}
		metrics.SessionStarted()
		logger.Info(observability.AddSessionID(ctx, sessionID), "mcp client connected", "addr", toolServer.Addr)
		return client, nil
	}

	shared := session.Shared{
		Decision:      decision.New(llmClient),
		ResolverLLM:   llmClient,
		Perception:    perception.Neutral{},
		Intent:        perception.NewIntentGate(llmClient),
		Persona:       session.Persona{Name: cfg.Persona.Name, Style: cfg.Persona.Style},
		Registry:      registry,
		Consumed:      consumed,
		Gate:          gate,
		ClientFactory: clientFactory,
		Logger:        slog.Default(),
	}
	manager := session.NewManager(shared)

	tcp := newTCPConsole(cfg.Server.TCPAddr, manager, inputBus)
	registry.Register(tcp)
	if err := tcp.Start(); err != nil {
		return fmt.Errorf("start tcp console: %w", err)
	}
	defer tcp.Stop()
	logger.WithContext(observability.AddSource(ctx, "tcp")).Info(ctx, "tcp console listening", "addr", cfg.Server.TCPAddr)

	var web *webConsole
	if cfg.Server.HTTPAddr != "" {
		web = newWebConsole(manager, inputBus)
		registry.Register(web)
		logger.WithContext(observability.AddSource(ctx, "web")).Info(ctx, "web console listening", "addr", cfg.Server.HTTPAddr)
	}

	var metricsServer *http.Server
	if cfg.Observability.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Observability.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	if web != nil {
		go func() { errCh <- web.Serve(cfg.Server.HTTPAddr) }()
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info(ctx, "robotd kernel started")
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info(ctx, "shutdown signal received, initiating graceful shutdown")
	manager.Shutdown()
	if web != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = web.Shutdown(shutdownCtx)
	}
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	logger.Info(ctx, "robotd kernel stopped gracefully")
	return nil
}

func loadConfigOrDefaults(path string) (*config.Config, error) {
	if path == "" {
		return config.NewDefaultConfig(), nil
	}
	return config.Load(path)
}

// defaultToolServerAddr is the MCP server transport address used when
// neither a config.MCPServers entry nor ROBOT_MCP_SERVER_ADDR is set.
const defaultToolServerAddr = "127.0.0.1:9001"

// resolveToolServer picks the single MCP server a session's client dials.
// The kernel is a single-tool-server design (spec.md §6 names exactly one
// ROBOT_MCP_SERVER_ADDR): config.MCPServers exists for forward-compatible
// multi-server configs, but today only the first entry (or the
// environment variable, falling back to defaultToolServerAddr) is used.
func resolveToolServer(cfg *config.Config) (*mcpclient.ServerConfig, error) {
	if len(cfg.MCPServers) > 0 {
		s := cfg.MCPServers[0]
		return &mcpclient.ServerConfig{Addr: s.Address, Timeout: s.Timeout}, nil
	}
	addr := os.Getenv("ROBOT_MCP_SERVER_ADDR")
	if addr == "" {
		addr = defaultToolServerAddr
	}
	return &mcpclient.ServerConfig{Addr: addr, Timeout: 30 * time.Second}, nil
}
