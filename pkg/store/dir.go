package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ormasoftchile/blueprint/pkg/kernel/engine"
	"github.com/ormasoftchile/blueprint/pkg/kernel/mode"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
)

// DirBlueprints reads blueprints from <Root>/<org>/<id>.yaml (or .json).
type DirBlueprints struct {
	Root string
}

var _ BlueprintStore = DirBlueprints{}

// Get implements BlueprintStore.
func (d DirBlueprints) Get(_ context.Context, org, id string) (*schema.Blueprint, error) {
	if !validName(org) || !validName(id) {
		return nil, fmt.Errorf("invalid blueprint reference %q/%q", org, id)
	}
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		path := filepath.Join(d.Root, org, id+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return schema.LoadFile(path)
	}
	return nil, notFound("blueprint", blueprintKey(org, id))
}

// validName rejects references that would escape the store root.
func validName(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

// DirRuns stores each run record as <Root>/<id>.json.
type DirRuns struct {
	Root string
	mu   sync.Mutex
}

var _ RunStore = (*DirRuns)(nil)

// NewDirRuns creates a run store rooted at root.
func NewDirRuns(root string) *DirRuns {
	return &DirRuns{Root: root}
}

func (d *DirRuns) path(id string) string {
	return filepath.Join(d.Root, id+".json")
}

func (d *DirRuns) read(id string) (*RunRecord, error) {
	if !validName(id) {
		return nil, fmt.Errorf("invalid run id %q", id)
	}
	data, err := os.ReadFile(d.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound("run", id)
		}
		return nil, fmt.Errorf("read run record: %w", err)
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run record: %w", err)
	}
	return &rec, nil
}

func (d *DirRuns) write(rec *RunRecord) error {
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	tmp := d.path(rec.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}
	if err := os.Rename(tmp, d.path(rec.ID)); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}
	return nil
}

// Create implements RunStore.
func (d *DirRuns) Create(_ context.Context, rec *RunRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !validName(rec.ID) {
		return fmt.Errorf("invalid run id %q", rec.ID)
	}
	if _, err := os.Stat(d.path(rec.ID)); err == nil {
		return fmt.Errorf("run %q already exists", rec.ID)
	}
	c := initRecord(rec)
	return d.write(&c)
}

// Start implements RunStore.
func (d *DirRuns) Start(_ context.Context, id string, handle *mode.WorkflowHandle) error {
	return d.update(id, func(rec *RunRecord) error {
		return start(rec, handle, time.Now().UTC())
	})
}

// Complete implements RunStore.
func (d *DirRuns) Complete(_ context.Context, id string, result *engine.RunResult) error {
	return d.update(id, func(rec *RunRecord) error {
		return complete(rec, result, time.Now().UTC())
	})
}

// Get implements RunStore.
func (d *DirRuns) Get(_ context.Context, id string) (*RunRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.read(id)
}

func (d *DirRuns) update(id string, fn func(*RunRecord) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, err := d.read(id)
	if err != nil {
		return err
	}
	if err := fn(rec); err != nil {
		return err
	}
	return d.write(rec)
}
