package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

const loginBlueprint = `name: login
tiles:
  - id: open
    type: NAVIGATE
    params: {url: "{{portal}}/login"}
    connections: {input: null, output: code}
  - id: code
    type: EXTRACT
    params: {instruction: the code, outputVariable: code}
    connections: {input: open, output: done}
  - id: done
    type: CLICK
    params: {instruction: "continue with {{code}}"}
    connections: {input: code, output: null}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// setup writes login.yaml with one passing scenario and returns its path.
func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	bpPath := filepath.Join(dir, "login.yaml")
	writeFile(t, bpPath, loginBlueprint)
	happy := filepath.Join(dir, "scenarios", "login", "happy")
	writeFile(t, filepath.Join(happy, "scenario.yaml"), "inputs:\n  portal: https://x.test\nextract:\n  the code: [ABC123]\n")
	writeFile(t, filepath.Join(happy, "test.yaml"), "expected_success: true\nexpected_outputs:\n  code: ABC123\n")
	return bpPath
}

func call(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty content")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", res.Content[0])
	}
	return tc.Text
}

func TestHandleValidate_MissingPath(t *testing.T) {
	result, err := HandleValidate(context.Background(), call(map[string]any{}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected error for missing path")
	}
}

func TestHandleValidate_Valid(t *testing.T) {
	result, err := HandleValidate(context.Background(), call(map[string]any{"path": setup(t)}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", text(t, result))
	}
	if !strings.Contains(text(t, result), "login is valid (3 tiles)") {
		t.Errorf("text = %q", text(t, result))
	}
}

func TestHandleValidate_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "name: bad\ntiles:\n  - id: a\n    type: CLICK\n    bogus: 1\n")
	result, err := HandleValidate(context.Background(), call(map[string]any{"path": path}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected error for unknown field")
	}
}

func TestHandleSchema(t *testing.T) {
	result, err := HandleSchema(context.Background(), call(nil))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Error("expected success for blueprint schema")
	}
	if !strings.Contains(text(t, result), "tiles") {
		t.Error("schema should describe tiles")
	}
}

func TestHandleRun_Replay(t *testing.T) {
	bpPath := setup(t)
	scenario := filepath.Join(filepath.Dir(bpPath), "scenarios", "login", "happy")
	result, err := HandleRun(context.Background(), call(map[string]any{
		"path":     bpPath,
		"scenario": scenario,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("run failed: %s", text(t, result))
	}
	var out struct {
		Success bool           `json:"success"`
		Outputs map[string]any `json:"outputs"`
	}
	if err := json.Unmarshal([]byte(text(t, result)), &out); err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.Outputs["code"] != "ABC123" {
		t.Errorf("result = %+v", out)
	}
}

func TestHandleRun_RequiresScenario(t *testing.T) {
	result, err := HandleRun(context.Background(), call(map[string]any{"path": setup(t)}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected error without scenario")
	}
}

func TestHandleTest_AllScenarios(t *testing.T) {
	result, err := HandleTest(context.Background(), call(map[string]any{"path": setup(t)}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("tests failed: %s", text(t, result))
	}
	if !strings.Contains(text(t, result), `"passed": 1`) {
		t.Errorf("summary = %s", text(t, result))
	}
}

func TestHandleGenerate(t *testing.T) {
	result, err := HandleGenerate(context.Background(), call(map[string]any{
		"path":    setup(t),
		"package": "login",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("generate failed: %s", text(t, result))
	}
	if !strings.Contains(text(t, result), "package login") {
		t.Errorf("source = %s", text(t, result))
	}
}

func TestHandleDiagram(t *testing.T) {
	path := setup(t)
	result, err := HandleDiagram(context.Background(), call(map[string]any{"path": path}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text(t, result), "flowchart") {
		t.Errorf("mermaid output = %s", text(t, result))
	}

	result, err = HandleDiagram(context.Background(), call(map[string]any{"path": path, "format": "svg"}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected error for unsupported format")
	}
}

func TestNewServer(t *testing.T) {
	if s := NewServer("test"); s == nil {
		t.Fatal("NewServer returned nil")
	}
}
