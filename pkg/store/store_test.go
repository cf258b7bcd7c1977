package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ormasoftchile/blueprint/pkg/kernel/engine"
	"github.com/ormasoftchile/blueprint/pkg/kernel/mode"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
)

func runStores(t *testing.T) map[string]RunStore {
	return map[string]RunStore{
		"memory": NewMemoryRuns(),
		"dir":    NewDirRuns(filepath.Join(t.TempDir(), "runs")),
	}
}

func TestRunStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	for name, s := range runStores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Create(ctx, &RunRecord{ID: "r1", Org: "acme", BlueprintID: "login", Mode: mode.Direct})
			if err != nil {
				t.Fatal(err)
			}
			rec, err := s.Get(ctx, "r1")
			if err != nil {
				t.Fatal(err)
			}
			if rec.Status != RunPending {
				t.Errorf("status = %s, want pending", rec.Status)
			}
			if rec.CreatedAt.IsZero() {
				t.Error("CreatedAt not set")
			}

			h := &mode.WorkflowHandle{ID: "wf", RunID: "r1"}
			if err := s.Start(ctx, "r1", h); err != nil {
				t.Fatal(err)
			}
			rec, _ = s.Get(ctx, "r1")
			if rec.Status != RunRunning || rec.StartedAt == nil {
				t.Errorf("after start = %+v", rec)
			}
			if rec.Handle == nil || rec.Handle.ID != "wf" {
				t.Errorf("handle = %+v", rec.Handle)
			}

			if err := s.Complete(ctx, "r1", &engine.RunResult{Success: true, Duration: 12}); err != nil {
				t.Fatal(err)
			}
			rec, _ = s.Get(ctx, "r1")
			if rec.Status != RunCompleted || rec.CompletedAt == nil {
				t.Errorf("after complete = %+v", rec)
			}
			if rec.Result == nil || rec.Result.Duration != 12 {
				t.Errorf("result = %+v", rec.Result)
			}

			if err := s.Complete(ctx, "r1", &engine.RunResult{}); !errors.Is(err, ErrAlreadyCompleted) {
				t.Errorf("second complete err = %v, want ErrAlreadyCompleted", err)
			}
			if err := s.Start(ctx, "r1", nil); !errors.Is(err, ErrAlreadyCompleted) {
				t.Errorf("start after complete err = %v, want ErrAlreadyCompleted", err)
			}
		})
	}
}

func TestRunStore_FailedAndMissing(t *testing.T) {
	ctx := context.Background()
	for name, s := range runStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Create(ctx, &RunRecord{ID: "r2"}); err != nil {
				t.Fatal(err)
			}
			if err := s.Create(ctx, &RunRecord{ID: "r2"}); err == nil {
				t.Error("duplicate create should fail")
			}
			if err := s.Complete(ctx, "r2", engine.Failure(errors.New("boom"))); err != nil {
				t.Fatal(err)
			}
			rec, _ := s.Get(ctx, "r2")
			if rec.Status != RunFailed {
				t.Errorf("status = %s, want failed", rec.Status)
			}

			if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("get missing err = %v", err)
			}
			if err := s.Start(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
				t.Errorf("start missing err = %v", err)
			}
		})
	}
}

func TestMemoryRuns_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRuns()
	_ = s.Create(ctx, &RunRecord{ID: "r"})
	rec, _ := s.Get(ctx, "r")
	rec.Status = RunCompleted
	again, _ := s.Get(ctx, "r")
	if again.Status != RunPending {
		t.Errorf("store mutated through returned record: %s", again.Status)
	}
}

func TestMemoryBlueprints(t *testing.T) {
	s := NewMemoryBlueprints()
	bp := &schema.Blueprint{Name: "login"}
	s.Put("acme", "login", bp)

	got, err := s.Get(context.Background(), "acme", "login")
	if err != nil || got != bp {
		t.Errorf("Get = %v, %v", got, err)
	}
	if _, err := s.Get(context.Background(), "other", "login"); !errors.Is(err, ErrNotFound) {
		t.Errorf("other org err = %v, want ErrNotFound", err)
	}
}

func TestDirBlueprints(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "acme")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := "name: login\ntiles:\n  - id: a\n    type: CLICK\n    params: {instruction: go}\n    connections: {input: null, output: null}\n"
	if err := os.WriteFile(filepath.Join(dir, "login.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	js := `{"name":"j","tiles":[{"id":"a","type":"WAIT","params":{"duration":5},"connections":{"input":null,"output":null}}]}`
	if err := os.WriteFile(filepath.Join(dir, "j.json"), []byte(js), 0o644); err != nil {
		t.Fatal(err)
	}

	s := DirBlueprints{Root: root}
	ctx := context.Background()

	bp, err := s.Get(ctx, "acme", "login")
	if err != nil {
		t.Fatal(err)
	}
	if bp.Name != "login" || len(bp.Tiles) != 1 {
		t.Errorf("blueprint = %+v", bp)
	}
	if bp, err := s.Get(ctx, "acme", "j"); err != nil || bp.Name != "j" {
		t.Errorf("json blueprint = %+v, %v", bp, err)
	}
	if _, err := s.Get(ctx, "acme", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
	if _, err := s.Get(ctx, "..", "login"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("traversal err = %v", err)
	}
}
