package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ormasoftchile/blueprint/pkg/kernel/engine"
	"github.com/ormasoftchile/blueprint/pkg/kernel/mode"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
)

// MemoryBlueprints is an in-memory BlueprintStore.
type MemoryBlueprints struct {
	mu         sync.RWMutex
	blueprints map[string]*schema.Blueprint
}

// NewMemoryBlueprints creates an empty blueprint store.
func NewMemoryBlueprints() *MemoryBlueprints {
	return &MemoryBlueprints{blueprints: make(map[string]*schema.Blueprint)}
}

func blueprintKey(org, id string) string { return org + "/" + id }

// Put stores bp under org/id, replacing any previous blueprint.
func (m *MemoryBlueprints) Put(org, id string, bp *schema.Blueprint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blueprints[blueprintKey(org, id)] = bp
}

// Get implements BlueprintStore.
func (m *MemoryBlueprints) Get(_ context.Context, org, id string) (*schema.Blueprint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bp, ok := m.blueprints[blueprintKey(org, id)]
	if !ok {
		return nil, notFound("blueprint", blueprintKey(org, id))
	}
	return bp, nil
}

// MemoryRuns is an in-memory RunStore. Records are copied in and out.
type MemoryRuns struct {
	mu   sync.RWMutex
	runs map[string]*RunRecord
}

var (
	_ BlueprintStore = (*MemoryBlueprints)(nil)
	_ RunStore       = (*MemoryRuns)(nil)
)

// NewMemoryRuns creates an empty run store.
func NewMemoryRuns() *MemoryRuns {
	return &MemoryRuns{runs: make(map[string]*RunRecord)}
}

// Create implements RunStore.
func (m *MemoryRuns) Create(_ context.Context, rec *RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[rec.ID]; ok {
		return fmt.Errorf("run %q already exists", rec.ID)
	}
	c := initRecord(rec)
	m.runs[rec.ID] = &c
	return nil
}

// Start implements RunStore.
func (m *MemoryRuns) Start(_ context.Context, id string, handle *mode.WorkflowHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.runs[id]
	if !ok {
		return notFound("run", id)
	}
	return start(rec, handle, time.Now().UTC())
}

// Complete implements RunStore.
func (m *MemoryRuns) Complete(_ context.Context, id string, result *engine.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.runs[id]
	if !ok {
		return notFound("run", id)
	}
	return complete(rec, result, time.Now().UTC())
}

// Get implements RunStore.
func (m *MemoryRuns) Get(_ context.Context, id string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.runs[id]
	if !ok {
		return nil, notFound("run", id)
	}
	c := *rec
	return &c, nil
}
