// Package store persists blueprints and run records for the orchestrator.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ormasoftchile/blueprint/pkg/kernel/engine"
	"github.com/ormasoftchile/blueprint/pkg/kernel/mode"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyCompleted = errors.New("run already completed")
)

// RunStatus is the lifecycle state of a run record.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the record has a final result.
func (s RunStatus) Terminal() bool { return s == RunCompleted || s == RunFailed }

// RunRecord tracks one requested execution of a stored blueprint.
type RunRecord struct {
	ID          string               `json:"id"`
	Org         string               `json:"org"`
	BlueprintID string               `json:"blueprintId"`
	Mode        mode.Mode            `json:"mode"`
	Status      RunStatus            `json:"status"`
	Variables   map[string]any       `json:"variables,omitempty"`
	Handle      *mode.WorkflowHandle `json:"handle,omitempty"`
	Result      *engine.RunResult    `json:"result,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
	StartedAt   *time.Time           `json:"startedAt,omitempty"`
	CompletedAt *time.Time           `json:"completedAt,omitempty"`
}

// BlueprintStore looks up blueprints by organization and id.
type BlueprintStore interface {
	Get(ctx context.Context, org, id string) (*schema.Blueprint, error)
}

// RunStore records the lifecycle of runs.
type RunStore interface {
	Create(ctx context.Context, rec *RunRecord) error
	Start(ctx context.Context, id string, handle *mode.WorkflowHandle) error
	Complete(ctx context.Context, id string, result *engine.RunResult) error
	Get(ctx context.Context, id string) (*RunRecord, error)
}

// The transitions below are shared by every RunStore implementation.

func initRecord(rec *RunRecord) RunRecord {
	c := *rec
	if c.Status == "" {
		c.Status = RunPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return c
}

func start(rec *RunRecord, handle *mode.WorkflowHandle, now time.Time) error {
	if rec.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrAlreadyCompleted, rec.ID)
	}
	rec.Status = RunRunning
	rec.Handle = handle
	rec.StartedAt = &now
	return nil
}

func complete(rec *RunRecord, result *engine.RunResult, now time.Time) error {
	if rec.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrAlreadyCompleted, rec.ID)
	}
	rec.Status = RunFailed
	if result != nil && result.Success {
		rec.Status = RunCompleted
	}
	rec.Result = result
	rec.CompletedAt = &now
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}
