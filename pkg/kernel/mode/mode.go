// Package mode selects how a blueprint run is carried out: in process,
// delegated to a remote endpoint, or handed to a durable workflow engine.
// Every path reports through the same engine.RunResult shape.
package mode

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ormasoftchile/blueprint/pkg/kernel/engine"
	"github.com/ormasoftchile/blueprint/pkg/kernel/provider"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
)

// Mode names an execution strategy.
type Mode string

const (
	Direct    Mode = "direct"
	Delegated Mode = "delegated"
	Workflow  Mode = "workflow"
)

// Modes lists the supported strategies.
var Modes = []Mode{Direct, Delegated, Workflow}

// Configuration errors. They are reported as failed run results.
var (
	ErrNoMode           = errors.New("no execution mode configured")
	ErrUnknownMode      = errors.New("unknown execution mode")
	ErrNoEndpoint       = errors.New("delegated execution requires an endpoint")
	ErrNoFactory        = errors.New("direct execution requires an action provider factory")
	ErrNoWorkflowEngine = errors.New("workflow execution requires a workflow engine")
	ErrInvalidRunID     = errors.New("run id must be a single path element")
)

// ValidRunID reports whether id can name a run on disk: one path element,
// not "." or "..", with no separators.
func ValidRunID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && filepath.Base(id) == id
}

// DirectConfig configures in-process execution.
type DirectConfig struct {
	Factory   provider.Factory
	Resolver  provider.CredentialResolver
	Artifacts provider.ArtifactSink
	Observer  engine.Observer
	TraceDir  string // when set, each run writes <TraceDir>/<run id>/trace.jsonl
}

// DelegatedConfig configures execution by a remote endpoint.
type DelegatedConfig struct {
	Endpoint string
	Token    string        // sent as a bearer token when set
	Timeout  time.Duration // zero means no client-side timeout
	Client   Doer          // nil uses a default http.Client
}

// WorkflowConfig configures hand-off to a durable workflow engine.
type WorkflowConfig struct {
	Engine      WorkflowEngine
	Retry       RetryPolicy
	MaxParallel int
}

// Config selects and configures one strategy.
type Config struct {
	Mode      Mode
	Direct    DirectConfig
	Delegated DelegatedConfig
	Workflow  WorkflowConfig
}

// Request is a single blueprint execution.
type Request struct {
	RunID     string
	Blueprint *schema.Blueprint
	Vars      map[string]any

	// OnComplete receives the final result of a workflow-mode run. It is
	// ignored by the synchronous modes.
	OnComplete func(*engine.RunResult)
}

// Outcome is what Execute returns: a result for the synchronous modes, a
// handle for workflow mode. Result is set whenever the request could not
// be started.
type Outcome struct {
	RunID  string
	Result *engine.RunResult
	Handle *WorkflowHandle
}

// Selector dispatches requests to the configured strategy.
type Selector struct {
	cfg Config
	log *zap.SugaredLogger
}

// NewSelector creates a selector. A nil logger logs nothing.
func NewSelector(cfg Config, log *zap.SugaredLogger) *Selector {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Selector{cfg: cfg, log: log}
}

// Config returns the selector's configuration.
func (s *Selector) Config() Config { return s.cfg }

// Execute runs req with the configured strategy. It never returns an
// error; configuration problems become a failed result.
func (s *Selector) Execute(ctx context.Context, req Request) *Outcome {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	log := s.log.With("run_id", req.RunID, "mode", string(s.cfg.Mode))
	out := &Outcome{RunID: req.RunID}

	switch s.cfg.Mode {
	case "":
		out.Result = engine.Failure(ErrNoMode)
	case Direct:
		out.Result = s.RunDirect(ctx, req)
	case Delegated:
		out.Result = s.runDelegated(ctx, req)
	case Workflow:
		h, err := s.startWorkflow(ctx, req)
		if err != nil {
			out.Result = engine.Failure(err)
		} else {
			out.Handle = &h
		}
	default:
		out.Result = engine.Failure(fmt.Errorf("%w %q", ErrUnknownMode, s.cfg.Mode))
	}

	if out.Result != nil {
		log.Infow("execution finished", "success", out.Result.Success, "error", out.Result.Error)
	} else {
		log.Infow("workflow started", "workflow_id", out.Handle.ID)
	}
	return out
}

// RunDirect executes req in process with a fresh provider, which is
// always closed exactly once before returning. Close errors are logged
// and otherwise ignored. An empty RunID is filled with a new uuid.
func (s *Selector) RunDirect(ctx context.Context, req Request) *engine.RunResult {
	cfg := s.cfg.Direct
	if cfg.Factory == nil {
		return engine.Failure(ErrNoFactory)
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if !ValidRunID(req.RunID) {
		return engine.Failure(fmt.Errorf("%w: %q", ErrInvalidRunID, req.RunID))
	}
	log := s.log.With("run_id", req.RunID)

	p, err := cfg.Factory(ctx)
	if err != nil {
		return engine.Failure(fmt.Errorf("create action provider: %w", err))
	}
	defer closeProvider(ctx, p, log)

	rc := engine.RunConfig{
		RunID:     req.RunID,
		Provider:  p,
		Resolver:  cfg.Resolver,
		Artifacts: cfg.Artifacts,
		Observer:  cfg.Observer,
		Logger:    s.log,
	}
	if cfg.TraceDir != "" {
		tw, err := openTrace(cfg.TraceDir, req.RunID)
		if err != nil {
			log.Warnw("trace disabled", "error", err)
		} else {
			defer tw.Close()
			rc.Trace = tw
		}
	}
	return engine.New(rc).Run(ctx, req.Blueprint, req.Vars)
}

func closeProvider(ctx context.Context, p provider.ActionProvider, log *zap.SugaredLogger) {
	defer func() {
		if r := recover(); r != nil {
			log.Debugw("provider close panicked", "panic", r)
		}
	}()
	if err := p.Close(context.WithoutCancel(ctx)); err != nil {
		log.Debugw("provider close failed", "error", err)
	}
}
