package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xiaot623/csassistant/internal/adapter/llm"
	"github.com/xiaot623/csassistant/internal/config"
	"github.com/xiaot623/csassistant/internal/knowledge"
	"github.com/xiaot623/csassistant/internal/repository"
	"github.com/xiaot623/csassistant/internal/selector"
	"github.com/xiaot623/csassistant/internal/service"
	"github.com/xiaot623/csassistant/policy"
)

// localApp runs the conversation core in-process against the local database.
type localApp struct {
	cfg *config.Config
	db  repository.Backend
	svc *service.Service
}

func openLocalApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*localApp, error) {
	db, err := repository.Open(cfg.StorageDriver, cfg.StorageDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	kb, err := knowledge.LoadOrDefault(cfg.KnowledgeFile)
	if err != nil {
		db.Close()
		return nil, err
	}
	sel := selector.New(kb)
	responder := llm.NewClient(cfg.Mode, sel, cfg.RemoteURL, cfg.RemoteTimeout, logger)

	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	svc := service.New(db, kb, sel, responder, cfg,
		service.WithPolicy(&policy.SubmissionGate{Engine: engine, MaxLength: cfg.MaxMessageLength}),
		service.WithLogger(logger),
	)
	return &localApp{cfg: cfg, db: db, svc: svc}, nil
}

func (a *localApp) session(ctx context.Context) *service.Controller {
	return a.svc.Session(ctx, service.LocalSession)
}

func (a *localApp) Close() error {
	a.svc.Shutdown()
	return a.db.Close()
}
