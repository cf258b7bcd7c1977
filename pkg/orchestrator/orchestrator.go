// Package orchestrator executes stored blueprints and records each run's
// lifecycle, whichever execution mode the selector is configured with.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ormasoftchile/blueprint/pkg/kernel/engine"
	"github.com/ormasoftchile/blueprint/pkg/kernel/mode"
	"github.com/ormasoftchile/blueprint/pkg/store"
)

// ErrNotCancellable is returned for runs that are not running as a workflow.
var ErrNotCancellable = errors.New("run is not a cancellable workflow")

// Service ties blueprint lookup, run records and execution together.
type Service struct {
	Blueprints store.BlueprintStore
	Runs       store.RunStore
	Selector   *mode.Selector
	Logger     *zap.SugaredLogger
}

func (s *Service) log() *zap.SugaredLogger {
	if s.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return s.Logger
}

// Execute looks up org/blueprintID, creates a run record and executes it.
// Synchronous modes return the completed record. Workflow mode returns a
// running record carrying the workflow handle; it is completed when the
// workflow finishes. Errors are returned only when the run could not be
// recorded; execution failures live in the record's result.
func (s *Service) Execute(ctx context.Context, org, blueprintID string, vars map[string]any) (*store.RunRecord, error) {
	bp, err := s.Blueprints.Get(ctx, org, blueprintID)
	if err != nil {
		return nil, fmt.Errorf("load blueprint: %w", err)
	}

	runID := uuid.NewString()
	m := s.Selector.Config().Mode
	log := s.log().With("run_id", runID, "org", org, "blueprint_id", blueprintID, "mode", string(m))

	if err := s.Runs.Create(ctx, &store.RunRecord{
		ID:          runID,
		Org:         org,
		BlueprintID: blueprintID,
		Mode:        m,
		Variables:   vars,
	}); err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}

	if m != mode.Workflow {
		if err := s.Runs.Start(ctx, runID, nil); err != nil {
			return nil, fmt.Errorf("start run record: %w", err)
		}
		out := s.Selector.Execute(ctx, mode.Request{RunID: runID, Blueprint: bp, Vars: vars})
		if err := s.Runs.Complete(ctx, runID, out.Result); err != nil {
			return nil, fmt.Errorf("complete run record: %w", err)
		}
		log.Infow("run recorded", "success", out.Result.Success)
		return s.Runs.Get(ctx, runID)
	}

	// The workflow may finish before its handle is recorded; completion
	// waits until the record has been started.
	started := make(chan struct{})
	onComplete := func(result *engine.RunResult) {
		<-started
		if err := s.Runs.Complete(context.WithoutCancel(ctx), runID, result); err != nil {
			log.Errorw("complete run record", "error", err)
			return
		}
		log.Infow("workflow run recorded", "success", result.Success)
	}

	out := s.Selector.Execute(ctx, mode.Request{RunID: runID, Blueprint: bp, Vars: vars, OnComplete: onComplete})
	defer close(started)
	if out.Handle == nil {
		// Could not start: record the failure straight away.
		if err := s.Runs.Start(ctx, runID, nil); err != nil {
			return nil, fmt.Errorf("start run record: %w", err)
		}
		if err := s.Runs.Complete(ctx, runID, out.Result); err != nil {
			return nil, fmt.Errorf("complete run record: %w", err)
		}
		return s.Runs.Get(ctx, runID)
	}
	if err := s.Runs.Start(ctx, runID, out.Handle); err != nil {
		return nil, fmt.Errorf("start run record: %w", err)
	}
	rec, err := s.Runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns the run record for runID.
func (s *Service) Get(ctx context.Context, runID string) (*store.RunRecord, error) {
	return s.Runs.Get(ctx, runID)
}

// Cancel stops a running workflow-mode run. The record is completed by the
// workflow's own completion callback.
func (s *Service) Cancel(ctx context.Context, runID string) error {
	rec, err := s.Runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	wf := s.Selector.Config().Workflow.Engine
	if rec.Handle == nil || rec.Status.Terminal() || wf == nil {
		return fmt.Errorf("%w: %s (%s)", ErrNotCancellable, runID, rec.Status)
	}
	if err := wf.Cancel(ctx, *rec.Handle); err != nil {
		return fmt.Errorf("cancel workflow %s: %w", rec.Handle.ID, err)
	}
	s.log().Infow("workflow cancel requested", "run_id", runID, "workflow_id", rec.Handle.ID)
	return nil
}
