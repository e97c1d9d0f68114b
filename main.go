package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/adapter/llm"
	"github.com/xiaot623/opsagent/internal/adapter/mcp"
	"github.com/xiaot623/opsagent/internal/config"
	"github.com/xiaot623/opsagent/internal/logging"
	"github.com/xiaot623/opsagent/internal/policy"
	"github.com/xiaot623/opsagent/internal/repository"
	"github.com/xiaot623/opsagent/internal/service"
	"github.com/xiaot623/opsagent/internal/tools"
	handler "github.com/xiaot623/opsagent/internal/transport/http"
	"github.com/xiaot623/opsagent/internal/transport/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	log.Info().
		Str("mode", cfg.Mode).
		Int("http_port", cfg.Server.HTTPPort).
		Str("database", cfg.Database.DSN).
		Str("instruct_model", cfg.LLM.Instruct.Model).
		Str("reasoning_model", cfg.LLM.Reasoning.Model).
		Msg("starting opsagent")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize store
	db, err := repository.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize store")
	}
	defer db.Close()

	// Initialize policy engine
	policyEngine, err := policy.NewEngineFromFile(ctx, cfg.Policy.File)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize policy engine")
	}

	// Tools: builtins first, then every reachable MCP server
	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, time.Now); err != nil {
		log.Fatal().Err(err).Msg("failed to register builtin tools")
	}
	mcpManager := mcp.Connect(ctx, cfg.MCP, registry)
	mcpManager.StartKeepAlive(ctx, cfg.MCP.PingInterval)
	defer mcpManager.Close()
	log.Info().Int("tools", len(registry.List())).Msg("tool registry ready")

	// Initialize LLM endpoints
	instruct := llm.NewEndpoint("instruct", llm.NewLLMClient(cfg.Mode, cfg.LLM.Instruct), cfg.LLM.Instruct)
	reasoning := llm.NewEndpoint("reasoning", llm.NewLLMClient(cfg.Mode, cfg.LLM.Reasoning), cfg.LLM.Reasoning)
	for _, ep := range []*llm.Endpoint{instruct, reasoning} {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := ep.CheckModel(checkCtx); err != nil {
			log.Warn().Err(err).Str("endpoint", ep.Name()).Msg("model check failed")
		}
		cancel()
	}

	// Initialize service
	svc := service.New(db, registry, policyEngine, instruct, reasoning, cfg)
	instruct.SetRecorder(svc.RecordLLMCall)
	reasoning.SetRecorder(svc.RecordLLMCall)

	if n, err := svc.RecoverInterruptedRuns(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to recover interrupted runs")
	} else if n > 0 {
		log.Info().Int("runs", n).Msg("marked interrupted runs as failed")
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)
	wsServer := ws.NewServer(cfg, hub, svc)

	// HTTP server
	e := handler.NewServer(svc, cfg, wsServer.RegisterRoutes)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.HTTPPort)
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	stop()

	log.Info().Msg("opsagent stopped")
}
