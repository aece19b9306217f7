package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/csassistant/internal/adapter/llm"
	"github.com/xiaot623/csassistant/internal/config"
	"github.com/xiaot623/csassistant/internal/hub"
	"github.com/xiaot623/csassistant/internal/knowledge"
	"github.com/xiaot623/csassistant/internal/logging"
	"github.com/xiaot623/csassistant/internal/metrics"
	"github.com/xiaot623/csassistant/internal/repository"
	"github.com/xiaot623/csassistant/internal/selector"
	"github.com/xiaot623/csassistant/internal/service"
	transport "github.com/xiaot623/csassistant/internal/transport/http"
	"github.com/xiaot623/csassistant/internal/transport/ws"
	"github.com/xiaot623/csassistant/policy"
)

func main() {
	// Load configuration
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("storage", cfg.StorageDriver),
		zap.String("mode", cfg.Mode),
	)

	// Initialize store
	db, err := repository.Open(cfg.StorageDriver, cfg.StorageDSN())
	if err != nil {
		logger.Fatal("failed to initialize store", zap.Error(err))
	}
	defer db.Close()

	// Knowledge base and responder
	kb, err := knowledge.LoadOrDefault(cfg.KnowledgeFile)
	if err != nil {
		logger.Fatal("failed to load knowledge base", zap.String("path", cfg.KnowledgeFile), zap.Error(err))
	}
	sel := selector.New(kb)
	responder := llm.NewClient(cfg.Mode, sel, cfg.RemoteURL, cfg.RemoteTimeout, logger)

	// Initialize policy engine
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		logger.Fatal("failed to initialize policy engine", zap.Error(err))
	}
	gate := &policy.SubmissionGate{Engine: policyEngine, MaxLength: cfg.MaxMessageLength}

	m := metrics.New()

	// Initialize service
	svc := service.New(db, kb, sel, responder, cfg,
		service.WithPolicy(gate),
		service.WithMetrics(m),
		service.WithLogger(logger),
	)

	// Initialize hub
	connectionHub := hub.NewHub(logger)
	go connectionHub.Run(ctx)

	wsServer := ws.NewServer(cfg, connectionHub, svc, logger)
	server := transport.NewServer(cfg, svc, connectionHub, wsServer, m, logger)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("server_started", zap.Int("port", cfg.HTTPPort))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting_down")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server gracefully", zap.Error(err))
	}
	svc.Shutdown()
	stop()

	logger.Info("stopped")
}
