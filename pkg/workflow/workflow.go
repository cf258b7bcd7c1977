// Package workflow is an in-process durable workflow engine. Each started
// workflow executes a blueprint run in the background, retrying the whole
// run with exponential backoff, and persists its state as JSON so the CLI
// can inspect it after the fact.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ormasoftchile/blueprint/pkg/kernel/engine"
	"github.com/ormasoftchile/blueprint/pkg/kernel/mode"
)

// ErrUnknownHandle is returned for a workflow id the engine never started.
var ErrUnknownHandle = errors.New("unknown workflow")

// RunFunc performs one attempt of a run. mode.Selector.RunDirect fits.
type RunFunc func(ctx context.Context, req mode.Request) *engine.RunResult

// Config configures an Engine.
type Config struct {
	Run         RunFunc
	StateDir    string // empty keeps state in memory only
	MaxParallel int    // zero defers to the first WorkflowArgs.MaxParallel; <0 is unbounded
	Logger      *zap.SugaredLogger
}

type flow struct {
	state     mode.WorkflowState
	cancelled bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// Engine implements mode.WorkflowEngine.
type Engine struct {
	cfg Config
	log *zap.SugaredLogger

	semOnce sync.Once
	sem     *semaphore.Weighted

	mu    sync.Mutex
	flows map[string]*flow
	wg    sync.WaitGroup
}

var _ mode.WorkflowEngine = (*Engine)(nil)

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Run == nil {
		return nil, errors.New("workflow engine requires a run function")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{cfg: cfg, log: log, flows: make(map[string]*flow)}, nil
}

func (e *Engine) limiter(maxParallel int) *semaphore.Weighted {
	e.semOnce.Do(func() {
		n := e.cfg.MaxParallel
		if n == 0 {
			n = maxParallel
		}
		if n > 0 {
			e.sem = semaphore.NewWeighted(int64(n))
		}
	})
	return e.sem
}

// Start accepts a workflow and returns immediately. The workflow is not
// bound to ctx: it keeps running after the caller returns and stops only
// through Cancel.
func (e *Engine) Start(ctx context.Context, args mode.WorkflowArgs, onComplete func(*engine.RunResult)) (mode.WorkflowHandle, error) {
	if args.Blueprint == nil {
		return mode.WorkflowHandle{}, errors.New("workflow requires a blueprint")
	}
	if args.RunID == "" {
		args.RunID = uuid.NewString()
	}
	h := mode.WorkflowHandle{ID: uuid.NewString(), RunID: args.RunID}
	now := time.Now().UTC()

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flow{
		state: mode.WorkflowState{
			Handle:    h,
			Status:    mode.WorkflowPending,
			StartedAt: now,
			UpdatedAt: now,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	e.flows[h.ID] = f
	e.persist(f)
	e.mu.Unlock()

	e.wg.Add(1)
	go e.execute(wctx, f, args, onComplete)
	return h, nil
}

func (e *Engine) execute(ctx context.Context, f *flow, args mode.WorkflowArgs, onComplete func(*engine.RunResult)) {
	defer e.wg.Done()
	defer close(f.done)
	defer f.cancel()

	log := e.log.With("workflow_id", f.state.Handle.ID, "run_id", args.RunID)

	if sem := e.limiter(args.MaxParallel); sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			e.finish(f, cancelled(), log, onComplete)
			return
		}
		defer sem.Release(1)
	}

	policy := args.Retry.WithDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialBackoff
	b.Multiplier = policy.BackoffBase
	b.MaxInterval = policy.MaxBackoff
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	var last *engine.RunResult
	attempt := 0
	op := func() error {
		attempt++
		status := mode.WorkflowRunning
		if attempt > 1 {
			status = mode.WorkflowRetrying
		}
		e.update(f, func(s *mode.WorkflowState) {
			s.Status = status
			s.Attempt = attempt
		})
		log.Infow("workflow attempt", "attempt", attempt)

		last = e.cfg.Run(ctx, mode.Request{RunID: args.RunID, Blueprint: args.Blueprint, Vars: args.Vars})
		if last.Success {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return errors.New(last.Error)
	}
	notify := func(err error, wait time.Duration) {
		log.Warnw("workflow attempt failed", "attempt", attempt, "error", err, "retry_in", wait)
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.MaxAttempts-1)), ctx)
	err := backoff.RetryNotify(op, bo, notify)

	switch {
	case err == nil:
		e.finish(f, last, log, onComplete)
	case ctx.Err() != nil:
		e.finish(f, cancelled(), log, onComplete)
	case last == nil:
		e.finish(f, engine.Failure(err), log, onComplete)
	default:
		e.finish(f, last, log, onComplete)
	}
}

func cancelled() *engine.RunResult {
	return engine.Failure(errors.New("workflow cancelled"))
}

// finish records the terminal state and invokes onComplete once.
func (e *Engine) finish(f *flow, result *engine.RunResult, log *zap.SugaredLogger, onComplete func(*engine.RunResult)) {
	var status mode.WorkflowStatus
	var attempts int
	e.update(f, func(s *mode.WorkflowState) {
		switch {
		case result.Success:
			status = mode.WorkflowCompleted
		case f.cancelled:
			status = mode.WorkflowCancelled
		default:
			status = mode.WorkflowFailed
		}
		s.Status = status
		s.Result = result
		s.Error = result.Error
		attempts = s.Attempt
	})
	log.Infow("workflow finished", "status", string(status), "attempts", attempts)

	if onComplete != nil {
		defer func() {
			if r := recover(); r != nil {
				log.Errorw("workflow completion callback panicked", "panic", r)
			}
		}()
		onComplete(result)
	}
}

func (e *Engine) update(f *flow, fn func(*mode.WorkflowState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if f.state.Status.Terminal() {
		return
	}
	fn(&f.state)
	f.state.UpdatedAt = time.Now().UTC()
	e.persist(f)
}

// persist writes f's state; e.mu must be held.
func (e *Engine) persist(f *flow) {
	if e.cfg.StateDir == "" {
		return
	}
	if err := SaveState(e.cfg.StateDir, &f.state); err != nil {
		e.log.Warnw("persist workflow state", "workflow_id", f.state.Handle.ID, "error", err)
	}
}

func (f *flow) snapshot(mu *sync.Mutex) mode.WorkflowState {
	mu.Lock()
	defer mu.Unlock()
	return f.state
}

func (e *Engine) lookup(id string) (*flow, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.flows[id]
	return f, ok
}

// Status returns the current state of a workflow. Workflows started by an
// earlier process are read from the state directory.
func (e *Engine) Status(_ context.Context, h mode.WorkflowHandle) (mode.WorkflowState, error) {
	if f, ok := e.lookup(h.ID); ok {
		return f.snapshot(&e.mu), nil
	}
	if e.cfg.StateDir != "" {
		s, err := Load(e.cfg.StateDir, h.ID)
		if err != nil {
			return mode.WorkflowState{}, err
		}
		return *s, nil
	}
	return mode.WorkflowState{}, fmt.Errorf("%w: %s", ErrUnknownHandle, h.ID)
}

// Cancel stops a running workflow. The attempt in flight sees its context
// cancelled; no further attempts are made. Cancelling a finished workflow
// is a no-op.
func (e *Engine) Cancel(_ context.Context, h mode.WorkflowHandle) error {
	e.mu.Lock()
	f, ok := e.flows[h.ID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h.ID)
	}
	if f.state.Status.Terminal() {
		e.mu.Unlock()
		return nil
	}
	f.cancelled = true
	e.mu.Unlock()

	f.cancel()
	return nil
}

// Wait blocks until the workflow reaches a terminal state or ctx is done.
func (e *Engine) Wait(ctx context.Context, h mode.WorkflowHandle) (mode.WorkflowState, error) {
	f, ok := e.lookup(h.ID)
	if !ok {
		return mode.WorkflowState{}, fmt.Errorf("%w: %s", ErrUnknownHandle, h.ID)
	}
	select {
	case <-f.done:
		return f.snapshot(&e.mu), nil
	case <-ctx.Done():
		return f.snapshot(&e.mu), ctx.Err()
	}
}

// Shutdown cancels every running workflow and waits for them to finish.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, f := range e.flows {
		if !f.state.Status.Terminal() {
			f.cancelled = true
			f.cancel()
		}
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
