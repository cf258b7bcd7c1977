package mode

import (
	"context"
	"fmt"
	"time"

	"github.com/ormasoftchile/blueprint/pkg/kernel/engine"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
)

// RetryPolicy controls whole-run retries in workflow mode.
type RetryPolicy struct {
	MaxAttempts    int           `json:"maxAttempts"`
	InitialBackoff time.Duration `json:"initialBackoff"`
	BackoffBase    float64       `json:"backoffBase"` // multiplier applied per attempt
	MaxBackoff     time.Duration `json:"maxBackoff,omitempty"`
}

// DefaultRetryPolicy is used when a workflow config leaves the policy zero.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: time.Second,
	BackoffBase:    2,
	MaxBackoff:     time.Minute,
}

// WithDefaults fills zero fields from DefaultRetryPolicy.
func (p RetryPolicy) WithDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = DefaultRetryPolicy.InitialBackoff
	}
	if p.BackoffBase < 1 {
		p.BackoffBase = DefaultRetryPolicy.BackoffBase
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultRetryPolicy.MaxBackoff
	}
	return p
}

// WorkflowArgs is everything a workflow needs to carry out a run.
type WorkflowArgs struct {
	RunID       string            `json:"runId"`
	Blueprint   *schema.Blueprint `json:"blueprint"`
	Vars        map[string]any    `json:"variables"`
	Retry       RetryPolicy       `json:"retry"`
	MaxParallel int               `json:"maxParallel,omitempty"`
}

// WorkflowHandle identifies a started workflow.
type WorkflowHandle struct {
	ID    string `json:"id"`
	RunID string `json:"runId"`
}

// WorkflowStatus is the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowRetrying  WorkflowStatus = "retrying"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// Terminal reports whether no further transitions will happen.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

// WorkflowState is a snapshot of a workflow.
type WorkflowState struct {
	Handle    WorkflowHandle    `json:"handle"`
	Status    WorkflowStatus    `json:"status"`
	Attempt   int               `json:"attempt"`
	Result    *engine.RunResult `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	StartedAt time.Time         `json:"startedAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// WorkflowEngine is the durable-workflow capability. Start returns as soon
// as the workflow is accepted; onComplete, when non-nil, is invoked once
// with the final result.
type WorkflowEngine interface {
	Start(ctx context.Context, args WorkflowArgs, onComplete func(*engine.RunResult)) (WorkflowHandle, error)
	Status(ctx context.Context, h WorkflowHandle) (WorkflowState, error)
	Cancel(ctx context.Context, h WorkflowHandle) error
}

func (s *Selector) startWorkflow(ctx context.Context, req Request) (WorkflowHandle, error) {
	cfg := s.cfg.Workflow
	if cfg.Engine == nil {
		return WorkflowHandle{}, ErrNoWorkflowEngine
	}
	h, err := cfg.Engine.Start(ctx, WorkflowArgs{
		RunID:       req.RunID,
		Blueprint:   req.Blueprint,
		Vars:        req.Vars,
		Retry:       cfg.Retry.WithDefaults(),
		MaxParallel: cfg.MaxParallel,
	}, req.OnComplete)
	if err != nil {
		return WorkflowHandle{}, fmt.Errorf("start workflow: %w", err)
	}
	return h, nil
}
