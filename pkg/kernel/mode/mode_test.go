package mode

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/blueprint/pkg/kernel/engine"
	"github.com/ormasoftchile/blueprint/pkg/kernel/executor"
	"github.com/ormasoftchile/blueprint/pkg/kernel/provider"
	"github.com/ormasoftchile/blueprint/pkg/kernel/replay"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
)

func fourSteps() *schema.Blueprint {
	return &schema.Blueprint{Name: "four", Tiles: schema.Chain(
		schema.Tile{ID: "s1", Type: schema.TileNavigate, Params: &schema.NavigateParams{URL: "https://x.test"}},
		schema.Tile{ID: "s2", Type: schema.TileClick, Params: &schema.ClickParams{Instruction: "boom"}},
		schema.Tile{ID: "s3", Type: schema.TileClick, Params: &schema.ClickParams{Instruction: "three"}},
		schema.Tile{ID: "s4", Type: schema.TileWait, Params: &schema.WaitParams{Duration: 1}},
	)}
}

func TestExecute_NoMode(t *testing.T) {
	out := NewSelector(Config{}, nil).Execute(context.Background(), Request{Blueprint: fourSteps()})
	require.NotNil(t, out.Result)
	assert.False(t, out.Result.Success)
	assert.Equal(t, ErrNoMode.Error(), out.Result.Error)
	assert.NotEmpty(t, out.RunID)
}

func TestExecute_UnknownMode(t *testing.T) {
	out := NewSelector(Config{Mode: "batch"}, nil).Execute(context.Background(), Request{})
	require.NotNil(t, out.Result)
	assert.False(t, out.Result.Success)
	assert.Contains(t, out.Result.Error, "batch")
}

func TestDirect_ClosesProviderOnceWhenStepThrows(t *testing.T) {
	scenario := &replay.Scenario{Act: map[string][]replay.ActResponse{
		"Click on boom": {{Error: "browser crashed"}},
	}}
	var providers []*replay.Provider
	sel := NewSelector(Config{Mode: Direct, Direct: DirectConfig{
		Factory: replay.Factory(scenario, func(p *replay.Provider) { providers = append(providers, p) }),
	}}, nil)

	out := sel.Execute(context.Background(), Request{RunID: "r1", Blueprint: fourSteps()})

	require.NotNil(t, out.Result)
	assert.False(t, out.Result.Success)
	assert.Contains(t, out.Result.Error, "browser crashed")
	assert.Len(t, out.Result.StepResults, 2)
	require.Len(t, providers, 1)
	assert.Equal(t, 1, providers[0].Closed())
	assert.Equal(t, 0, providers[0].CallCount("act", "Click on three"))
}

func TestDirect_ClosesProviderOnSuccess(t *testing.T) {
	var providers []*replay.Provider
	sel := NewSelector(Config{Mode: Direct, Direct: DirectConfig{
		Factory: replay.Factory(&replay.Scenario{}, func(p *replay.Provider) { providers = append(providers, p) }),
	}}, nil)

	for i := 0; i < 3; i++ {
		out := sel.Execute(context.Background(), Request{Blueprint: fourSteps()})
		require.True(t, out.Result.Success, out.Result.Error)
	}
	require.Len(t, providers, 3)
	for _, p := range providers {
		assert.Equal(t, 1, p.Closed())
	}
}

type failingCloser struct{ *replay.Provider }

func (failingCloser) Close(context.Context) error { return errors.New("already gone") }

func TestDirect_CloseErrorSwallowed(t *testing.T) {
	sel := NewSelector(Config{Mode: Direct, Direct: DirectConfig{
		Factory: func(context.Context) (provider.ActionProvider, error) {
			return failingCloser{replay.NewProvider(nil)}, nil
		},
	}}, nil)
	out := sel.Execute(context.Background(), Request{Blueprint: fourSteps()})
	assert.True(t, out.Result.Success)
	assert.Empty(t, out.Result.Error)
}

func TestDirect_FactoryFailure(t *testing.T) {
	sel := NewSelector(Config{Mode: Direct, Direct: DirectConfig{
		Factory: func(context.Context) (provider.ActionProvider, error) { return nil, errors.New("no browsers left") },
	}}, nil)
	out := sel.Execute(context.Background(), Request{Blueprint: fourSteps()})
	assert.False(t, out.Result.Success)
	assert.Contains(t, out.Result.Error, "no browsers left")

	out = NewSelector(Config{Mode: Direct}, nil).Execute(context.Background(), Request{Blueprint: fourSteps()})
	assert.Equal(t, ErrNoFactory.Error(), out.Result.Error)
}

func TestDirect_WritesTrace(t *testing.T) {
	dir := t.TempDir()
	sel := NewSelector(Config{Mode: Direct, Direct: DirectConfig{
		Factory:  replay.Factory(&replay.Scenario{}, nil),
		TraceDir: dir,
	}}, nil)
	out := sel.Execute(context.Background(), Request{RunID: "traced", Blueprint: fourSteps()})
	require.True(t, out.Result.Success)
	assert.FileExists(t, dir+"/traced/trace.jsonl")
}

func TestDirect_RejectsRunIDOutsideTraceDir(t *testing.T) {
	root := t.TempDir()
	traces := filepath.Join(root, "traces")
	sel := NewSelector(Config{Mode: Direct, Direct: DirectConfig{
		Factory:  replay.Factory(&replay.Scenario{}, nil),
		TraceDir: traces,
	}}, nil)

	for _, id := range []string{"../escaped", "a/b", `a\b`, "..", "."} {
		res := sel.RunDirect(context.Background(), Request{RunID: id, Blueprint: fourSteps()})
		assert.False(t, res.Success, "run id %q", id)
		assert.Contains(t, res.Error, ErrInvalidRunID.Error(), "run id %q", id)
		assert.Empty(t, res.StepResults, "run id %q", id)
	}
	assert.NoDirExists(t, filepath.Join(root, "escaped"))
	_, err := openTrace(traces, "../escaped")
	assert.ErrorIs(t, err, ErrInvalidRunID)
}

func TestDirect_EmptyRunIDGetsOwnTrace(t *testing.T) {
	dir := t.TempDir()
	sel := NewSelector(Config{Mode: Direct, Direct: DirectConfig{
		Factory:  replay.Factory(&replay.Scenario{}, nil),
		TraceDir: dir,
	}}, nil)

	for i := 0; i < 2; i++ {
		res := sel.RunDirect(context.Background(), Request{Blueprint: fourSteps()})
		require.True(t, res.Success, res.Error)
	}
	assert.NoFileExists(t, filepath.Join(dir, "trace.jsonl"))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.True(t, e.IsDir())
		assert.FileExists(t, filepath.Join(dir, e.Name(), "trace.jsonl"))
	}
}

func TestValidRunID(t *testing.T) {
	for _, id := range []string{"r-1", "traced", "3f2c1a9e-uuid", "run.v2"} {
		assert.True(t, ValidRunID(id), id)
	}
	for _, id := range []string{"", ".", "..", "../x", "x/..", "/abs", `c:\x`} {
		assert.False(t, ValidRunID(id), id)
	}
}

func TestDelegated_NoEndpoint(t *testing.T) {
	out := NewSelector(Config{Mode: Delegated}, nil).Execute(context.Background(), Request{Blueprint: fourSteps()})
	assert.False(t, out.Result.Success)
	assert.Equal(t, ErrNoEndpoint.Error(), out.Result.Error)
}

func TestDelegated_TrustsResponse(t *testing.T) {
	var got DelegatedRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(engine.RunResult{
			Success:     true,
			Duration:    42,
			Outputs:     map[string]any{"code": "ABC123"},
			StepResults: []executor.StepResult{{StepID: "s1", Status: executor.StatusCompleted}},
		})
	}))
	defer srv.Close()

	sel := NewSelector(Config{Mode: Delegated, Delegated: DelegatedConfig{Endpoint: srv.URL, Token: "t0k"}}, nil)
	out := sel.Execute(context.Background(), Request{
		RunID:     "run-9",
		Blueprint: fourSteps(),
		Vars:      map[string]any{"portal": "https://x.test"},
	})

	require.NotNil(t, out.Result)
	assert.True(t, out.Result.Success)
	assert.Equal(t, int64(42), out.Result.Duration)
	assert.Equal(t, "ABC123", out.Result.Outputs["code"])
	assert.Equal(t, "Bearer t0k", auth)
	assert.Equal(t, "run-9", got.RunID)
	assert.Equal(t, "https://x.test", got.Variables["portal"])
	require.NotNil(t, got.Blueprint)
	require.Len(t, got.Blueprint.Tiles, 4)
	click, ok := got.Blueprint.Tiles[1].Params.(*schema.ClickParams)
	require.True(t, ok, "params decoded as %T", got.Blueprint.Tiles[1].Params)
	assert.Equal(t, "boom", click.Instruction)
}

func TestDelegated_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	out := NewSelector(Config{Mode: Delegated, Delegated: DelegatedConfig{Endpoint: srv.URL}}, nil).
		Execute(context.Background(), Request{Blueprint: fourSteps()})
	assert.False(t, out.Result.Success)
	assert.Contains(t, out.Result.Error, "502")
	assert.Contains(t, out.Result.Error, "upstream exploded")
}

func TestDelegated_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out := NewSelector(Config{Mode: Delegated, Delegated: DelegatedConfig{Endpoint: url}}, nil).
		Execute(context.Background(), Request{Blueprint: fourSteps()})
	assert.False(t, out.Result.Success)
	assert.Contains(t, out.Result.Error, "delegated execution")
}

// stubWorkflows records Start calls and completes them synchronously.
type stubWorkflows struct {
	mu      sync.Mutex
	started []WorkflowArgs
	err     error
}

func (s *stubWorkflows) Start(_ context.Context, args WorkflowArgs, onComplete func(*engine.RunResult)) (WorkflowHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return WorkflowHandle{}, s.err
	}
	s.started = append(s.started, args)
	if onComplete != nil {
		onComplete(&engine.RunResult{Success: true})
	}
	return WorkflowHandle{ID: "wf-1", RunID: args.RunID}, nil
}

func (s *stubWorkflows) Status(context.Context, WorkflowHandle) (WorkflowState, error) {
	return WorkflowState{Status: WorkflowCompleted}, nil
}

func (s *stubWorkflows) Cancel(context.Context, WorkflowHandle) error { return nil }

func TestWorkflow_ReturnsHandle(t *testing.T) {
	wf := &stubWorkflows{}
	sel := NewSelector(Config{Mode: Workflow, Workflow: WorkflowConfig{
		Engine:      wf,
		Retry:       RetryPolicy{MaxAttempts: 5},
		MaxParallel: 2,
	}}, nil)

	var completed *engine.RunResult
	out := sel.Execute(context.Background(), Request{
		RunID:      "run-w",
		Blueprint:  fourSteps(),
		OnComplete: func(r *engine.RunResult) { completed = r },
	})

	assert.Nil(t, out.Result)
	require.NotNil(t, out.Handle)
	assert.Equal(t, "wf-1", out.Handle.ID)
	require.Len(t, wf.started, 1)
	assert.Equal(t, 5, wf.started[0].Retry.MaxAttempts)
	assert.Equal(t, DefaultRetryPolicy.InitialBackoff, wf.started[0].Retry.InitialBackoff)
	assert.Equal(t, 2, wf.started[0].MaxParallel)
	require.NotNil(t, completed)
	assert.True(t, completed.Success)
}

func TestWorkflow_Misconfigured(t *testing.T) {
	out := NewSelector(Config{Mode: Workflow}, nil).Execute(context.Background(), Request{})
	require.NotNil(t, out.Result)
	assert.Equal(t, ErrNoWorkflowEngine.Error(), out.Result.Error)

	wf := &stubWorkflows{err: errors.New("queue full")}
	out = NewSelector(Config{Mode: Workflow, Workflow: WorkflowConfig{Engine: wf}}, nil).Execute(context.Background(), Request{})
	require.NotNil(t, out.Result)
	assert.Contains(t, out.Result.Error, "queue full")
}
