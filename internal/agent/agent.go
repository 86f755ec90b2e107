// Package agent runs the shopping workflow end to end: plan, discover,
// choose and checkout. Every step opens its own browser session and closes
// it before returning.
package agent

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/actions"
	"github.com/xkilldash9x/cartpilot/internal/artifact"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/extract"
	"github.com/xkilldash9x/cartpilot/internal/planner"
	"github.com/xkilldash9x/cartpilot/internal/ranking"
	"github.com/xkilldash9x/cartpilot/internal/workflow"
)

// sessionCloseTimeout bounds browser teardown once a step has finished.
const sessionCloseTimeout = 10 * time.Second

// Dependencies are the collaborators an Agent drives.
type Dependencies struct {
	Browser   schemas.BrowserManager
	Oracle    planner.Oracle
	Catalog   *extract.Catalog
	Machine   *workflow.Machine
	Recorder  schemas.EventRecorder
	Artifacts artifact.Store
}

// Options tunes ranking, result size and browser defaults.
type Options struct {
	Ranking  ranking.Options
	TopN     int
	Timings  actions.Timings
	Headless bool
}

// OptionsFromConfig derives Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Ranking: ranking.Options{
			PreferLowPrice: cfg.Ranking.PreferLowPrice,
			UnpricedLast:   cfg.Ranking.UnpricedLast,
		},
		TopN:     cfg.Workflow.TopN,
		Timings:  actions.TimingsFromConfig(cfg.Network),
		Headless: cfg.Browser.Headless,
	}
}

// Agent coordinates planning, extraction, ranking and page actions around
// the workflow state machine.
type Agent struct {
	deps   Dependencies
	opts   Options
	logger *zap.Logger
}

// New validates deps and creates an Agent. A nil Recorder or Artifacts
// falls back to a no-op.
func New(deps Dependencies, opts Options, logger *zap.Logger) (*Agent, error) {
	switch {
	case deps.Browser == nil:
		return nil, errors.New("agent requires a browser manager")
	case deps.Oracle == nil:
		return nil, errors.New("agent requires a planning oracle")
	case deps.Catalog == nil:
		return nil, errors.New("agent requires an extractor catalog")
	case deps.Machine == nil:
		return nil, errors.New("agent requires a workflow machine")
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Artifacts == nil {
		deps.Artifacts = artifact.Nop{}
	}
	return &Agent{deps: deps, opts: opts, logger: logger.Named("agent")}, nil
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, schemas.ShoppingEvent) error { return nil }

// withBrowser runs fn with a fresh browser session and always closes it.
func (a *Agent) withBrowser(ctx context.Context, headless *bool, fn func(schemas.BrowserSession) error) (err error) {
	opts := schemas.SessionOptions{Headless: a.opts.Headless}
	if headless != nil {
		opts.Headless = *headless
	}
	session, err := a.deps.Browser.NewSession(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionCloseTimeout)
		defer cancel()
		if cerr := session.Close(closeCtx); cerr != nil {
			a.logger.Warn("Browser session did not close cleanly.", zap.String("browser_session", session.ID()), zap.Error(cerr))
		}
	}()
	return fn(session)
}

// record appends a history event. History is best effort and never fails a
// step.
func (a *Agent) record(ctx context.Context, sessionID string, kind schemas.EventKind, payload map[string]any) {
	err := a.deps.Recorder.Record(ctx, schemas.ShoppingEvent{
		SessionID: sessionID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now(),
	})
	if err != nil {
		a.logger.Warn("Failed to record history event.", zap.String("session_id", sessionID), zap.String("kind", string(kind)), zap.Error(err))
	}
}

// capture takes the end-of-step screenshot, stores it as an artifact when
// configured and checks the page for blockers.
func (a *Agent) capture(ctx context.Context, sessionID, step string, page schemas.Page, exec *actions.Executor) evidence {
	var ev evidence
	shot, err := page.Screenshot(ctx)
	if err != nil {
		a.logger.Warn("Screenshot failed.", zap.String("session_id", sessionID), zap.String("step", step), zap.Error(err))
	} else {
		ev.Screenshot = shot
		path, err := a.deps.Artifacts.SaveScreenshot(ctx, sessionID, step, shot)
		if err != nil {
			a.logger.Warn("Failed to save screenshot artifact.", zap.String("session_id", sessionID), zap.Error(err))
		}
		ev.Artifact = path
	}
	if b := exec.DetectBlocker(ctx); b.Detected() {
		ev.Blocker = &b
	}
	return ev
}

// evidence is what a human needs to verify a step.
type evidence struct {
	Screenshot []byte
	Artifact   string
	Blocker    *schemas.Blocker
}
