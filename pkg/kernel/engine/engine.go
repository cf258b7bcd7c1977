// Package engine runs a blueprint's tiles in order against one action
// provider, threading captured outputs through the variable bag.
package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ormasoftchile/blueprint/pkg/kernel/eval"
	"github.com/ormasoftchile/blueprint/pkg/kernel/executor"
	"github.com/ormasoftchile/blueprint/pkg/kernel/graph"
	"github.com/ormasoftchile/blueprint/pkg/kernel/provider"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
	"github.com/ormasoftchile/blueprint/pkg/kernel/trace"
)

// ErrNoSteps is reported when ordering yields nothing to execute.
var ErrNoSteps = errors.New("blueprint has no executable steps")

// Observer is notified of step transitions. It cannot alter the run.
type Observer interface {
	StepStarted(tile schema.Tile, index int)
	StepFinished(result executor.StepResult)
}

// RunConfig configures one blueprint execution.
type RunConfig struct {
	RunID     string
	Provider  provider.ActionProvider
	Resolver  provider.CredentialResolver // optional
	Artifacts provider.ArtifactSink       // optional
	Observer  Observer                    // optional
	Trace     *trace.Writer               // optional
	Logger    *zap.SugaredLogger          // nil logs nothing
}

// RunResult is the outcome of a run. Its JSON form is shared by every
// execution mode.
type RunResult struct {
	Success     bool                  `json:"success"`
	Duration    int64                 `json:"duration"` // milliseconds
	Outputs     map[string]any        `json:"outputs,omitempty"`
	Error       string                `json:"error,omitempty"`
	StepResults []executor.StepResult `json:"stepResults,omitempty"`
}

// Failure builds a failed result that never reached a step.
func Failure(err error) *RunResult {
	return &RunResult{Success: false, Error: err.Error()}
}

// Visited returns the ids of the steps that executed, in order.
func (r *RunResult) Visited() []string {
	ids := make([]string, len(r.StepResults))
	for i, sr := range r.StepResults {
		ids[i] = sr.StepID
	}
	return ids
}

// Engine executes blueprints.
type Engine struct {
	cfg RunConfig
	log *zap.SugaredLogger
}

// New creates an engine for the given configuration.
func New(cfg RunConfig) *Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.RunID != "" {
		log = log.With("run_id", cfg.RunID)
	}
	return &Engine{cfg: cfg, log: log}
}

// Run orders the tiles once and dispatches them sequentially, stopping at
// the first failed step. vars is never modified.
func (e *Engine) Run(ctx context.Context, bp *schema.Blueprint, vars map[string]any) *RunResult {
	start := time.Now()
	if bp == nil {
		return e.finish(start, Failure(errors.New("no blueprint")), nil)
	}

	order := graph.Order(bp.Tiles)
	bag := eval.Merge(vars, nil)

	if e.cfg.Trace != nil {
		e.cfg.Trace.EmitRunStart(bp.Name, len(order), sortedKeys(vars))
	}
	e.log.Debugw("run started", "blueprint", bp.Name, "steps", len(order))

	if len(order) == 0 {
		return e.finish(start, Failure(ErrNoSteps), nil)
	}

	env := executor.Env{
		Provider:  e.cfg.Provider,
		Resolver:  e.cfg.Resolver,
		Artifacts: e.cfg.Artifacts,
	}
	res := &RunResult{StepResults: make([]executor.StepResult, 0, len(order))}

	for i, tile := range order {
		if e.cfg.Observer != nil {
			e.cfg.Observer.StepStarted(tile, i)
		}
		if e.cfg.Trace != nil {
			e.cfg.Trace.EmitStepStart(tile.ID, string(tile.Type), i)
		}

		env.Vars = bag
		out := executor.Dispatch(ctx, tile, env)
		sr := out.Result
		res.StepResults = append(res.StepResults, sr)

		if e.cfg.Trace != nil {
			e.cfg.Trace.EmitStepComplete(sr.StepID, string(sr.Status), time.Duration(sr.Duration)*time.Millisecond, sr.Error)
		}
		if e.cfg.Observer != nil {
			e.cfg.Observer.StepFinished(sr)
		}

		if !sr.Completed() {
			e.log.Infow("step failed", "tile_id", tile.ID, "type", tile.Type, "error", sr.Error)
			res.Error = sr.Error
			return e.finish(start, res, nil)
		}
		e.log.Debugw("step completed", "tile_id", tile.ID, "type", tile.Type, "duration_ms", sr.Duration)

		if len(out.Outputs) > 0 {
			bag = eval.Merge(bag, out.Outputs)
			if e.cfg.Trace != nil {
				for _, name := range sortedKeys(out.Outputs) {
					e.cfg.Trace.EmitOutputCaptured(tile.ID, name)
				}
			}
		}
	}

	res.Success = true
	return e.finish(start, res, bag)
}

func (e *Engine) finish(start time.Time, res *RunResult, bag map[string]any) *RunResult {
	res.Duration = time.Since(start).Milliseconds()
	if res.Success {
		res.Outputs = bag
	}
	if e.cfg.Trace != nil {
		e.cfg.Trace.EmitRunComplete(res.Success, time.Since(start), res.Error)
	}
	e.log.Infow("run finished", "success", res.Success, "steps", len(res.StepResults), "duration_ms", res.Duration)
	return res
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
