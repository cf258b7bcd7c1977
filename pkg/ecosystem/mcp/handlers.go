// Package mcp exposes blueprint tooling to AI agents over the Model
// Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/blueprint/pkg/diagram"
	"github.com/ormasoftchile/blueprint/pkg/kernel/codegen"
	"github.com/ormasoftchile/blueprint/pkg/kernel/engine"
	"github.com/ormasoftchile/blueprint/pkg/kernel/eval"
	"github.com/ormasoftchile/blueprint/pkg/kernel/replay"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
	ktesting "github.com/ormasoftchile/blueprint/pkg/kernel/testing"
	"github.com/ormasoftchile/blueprint/pkg/kernel/validate"
)

// HandleValidate implements the blueprint/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, _ := req.GetArguments()["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	bp, errs := validate.ValidateFile(path)
	if validate.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	msg := fmt.Sprintf("✓ %s is valid (%d tiles)", bp.Name, len(bp.Tiles))
	if len(errs) > 0 {
		msg += "\n" + formatWarnings(errs)
	}
	return textResult(msg), nil
}

// HandleSchema implements the blueprint/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := schema.GenerateBlueprintJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleRun implements the blueprint/run MCP tool.
func HandleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	scenarioDir, _ := args["scenario"].(string)
	if path == "" || scenarioDir == "" {
		return errorResult("path and scenario arguments are required"), nil
	}

	bp, errs := validate.ValidateFile(path)
	if validate.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	sc, err := replay.LoadScenarioDir(scenarioDir)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	vars, _ := args["vars"].(map[string]any)
	p := replay.NewProvider(sc)
	eng := engine.New(engine.RunConfig{
		RunID:    "mcp-run",
		Provider: p,
		Resolver: sc.Resolver(),
	})
	result := eng.Run(ctx, bp, eval.Merge(sc.Inputs, vars))
	_ = p.Close(ctx)

	data, _ := json.MarshalIndent(result, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: !result.Success,
	}, nil
}

// HandleTest implements the blueprint/test MCP tool.
func HandleTest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	scenarioName, _ := args["scenario"].(string)

	runner := &ktesting.Runner{Timeout: 30 * time.Second}

	var output *ktesting.TestOutput
	if scenarioName != "" {
		result, err := runner.RunScenario(ctx, path, scenarioName)
		if err != nil {
			return errorResult(fmt.Sprintf("run scenario: %s", err)), nil
		}
		output = &ktesting.TestOutput{
			Blueprint: filepath.Base(path),
			Scenarios: []ktesting.TestResult{*result},
			Summary:   ktesting.TestSummary{Total: 1},
		}
		switch result.Status {
		case "passed":
			output.Summary.Passed = 1
		case "failed":
			output.Summary.Failed = 1
		case "skipped":
			output.Summary.Skipped = 1
		default:
			output.Summary.Errors = 1
		}
	} else {
		var err error
		output, err = runner.RunAll(ctx, path)
		if err != nil {
			return errorResult(fmt.Sprintf("run tests: %s", err)), nil
		}
	}

	data, _ := json.MarshalIndent(output, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: output.Summary.Failed > 0 || output.Summary.Errors > 0,
	}, nil
}

// HandleGenerate implements the blueprint/generate MCP tool.
func HandleGenerate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	bp, errs := validate.ValidateFile(path)
	if validate.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}

	opts := codegen.Options{}
	opts.Package, _ = args["package"].(string)
	opts.Func, _ = args["func"].(string)
	prog, err := codegen.Generate(bp, opts)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(prog.Source)), nil
}

// HandleDiagram implements the blueprint/diagram MCP tool.
func HandleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	format, _ := args["format"].(string)
	if format == "" {
		format = string(diagram.FormatMermaid)
	}
	bp, err := schema.LoadFile(path)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	out, err := diagram.Generate(bp, diagram.Format(format))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(out), nil
}

func formatErrors(errs []*validate.ValidationError) string {
	var msgs []string
	for _, e := range validate.Errors(errs) {
		msgs = append(msgs, fmt.Sprintf("[%s] %s", e.Phase, e.Message))
	}
	return strings.Join(msgs, "; ")
}

func formatWarnings(errs []*validate.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == validate.SeverityWarning {
			msgs = append(msgs, fmt.Sprintf("⚠ [%s] %s", e.Phase, e.Message))
		}
	}
	return strings.Join(msgs, "\n")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
