package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/agent"
	"github.com/xkilldash9x/cartpilot/internal/artifact"
	"github.com/xkilldash9x/cartpilot/internal/browser"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/extract"
	"github.com/xkilldash9x/cartpilot/internal/observability"
	"github.com/xkilldash9x/cartpilot/internal/planner"
	"github.com/xkilldash9x/cartpilot/internal/store"
	"github.com/xkilldash9x/cartpilot/internal/workflow"
)

// components holds the initialized services shared by serve and shop.
type components struct {
	Agent          *agent.Agent
	BrowserManager schemas.BrowserManager
	Sessions       *workflow.MemoryStore
	closeHistory   func()
}

// componentFactory builds components. Tests swap it for one backed by fakes.
type componentFactory func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error)

// Shutdown gracefully closes all components.
func (c *components) Shutdown(ctx context.Context) {
	logger := observability.GetLogger().Named("shutdown")
	if c.BrowserManager != nil {
		if err := c.BrowserManager.Shutdown(ctx); err != nil {
			logger.Warn("Error during browser manager shutdown", zap.Error(err))
		}
	}
	if c.Sessions != nil {
		c.Sessions.Close()
	}
	if c.closeHistory != nil {
		c.closeHistory()
	}
}

// defaultComponentFactory handles dependency injection for a live run.
func defaultComponentFactory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	browserManager := browser.NewManager(cfg.Browser, logger)
	return assembleComponents(ctx, cfg, browserManager, logger)
}

// assembleComponents wires everything around an already built browser
// manager.
func assembleComponents(ctx context.Context, cfg *config.Config, browserManager schemas.BrowserManager, logger *zap.Logger) (*components, error) {
	c := &components{BrowserManager: browserManager}

	// 1. Planning oracle
	oracle, err := planner.FromConfig(ctx, cfg.Agent.LLM, logger)
	if err != nil {
		c.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize planner: %w", err)
	}

	// 2. Extractors and the session state machine
	catalog := extract.NewCatalog(cfg.Stores, extract.TimingsFromConfig(cfg.Network), logger)
	c.Sessions = workflow.NewMemoryStore(workflow.MemoryOptions{
		TTL:           cfg.Workflow.SessionTTL,
		MaxSessions:   cfg.Workflow.MaxSessions,
		SweepInterval: cfg.Workflow.SweepInterval,
	}, logger)
	machine := workflow.NewMachine(c.Sessions, logger)

	// 3. History log
	var recorder schemas.EventRecorder = store.Nop{}
	if cfg.Database.URL != "" {
		history, closeFn, err := store.Connect(ctx, cfg.Database.URL, logger)
		if err != nil {
			c.Shutdown(ctx)
			return nil, fmt.Errorf("failed to initialize history store: %w", err)
		}
		recorder = history
		c.closeHistory = closeFn
	}

	// 4. Screenshot artifacts
	artifacts, err := artifact.New(cfg.Artifacts.Dir)
	if err != nil {
		c.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	// 5. Agent
	c.Agent, err = agent.New(agent.Dependencies{
		Browser:   browserManager,
		Oracle:    oracle,
		Catalog:   catalog,
		Machine:   machine,
		Recorder:  recorder,
		Artifacts: artifacts,
	}, agent.OptionsFromConfig(cfg), logger)
	if err != nil {
		c.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	logger.Info("Components initialized.",
		zap.Bool("llm_planning", oracle.Online()),
		zap.Bool("history", cfg.Database.URL != ""),
		zap.String("artifacts_dir", cfg.Artifacts.Dir))
	return c, nil
}
