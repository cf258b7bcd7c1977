package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates an MCP server with the blueprint tools registered.
func NewServer(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"blueprint",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("blueprint/validate",
			mcp.WithDescription("Validate a blueprint YAML file"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the blueprint YAML file")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("blueprint/run",
			mcp.WithDescription("Execute a blueprint against a recorded replay scenario (no browser is started)"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the blueprint YAML file")),
			mcp.WithString("scenario", mcp.Required(), mcp.Description("Directory containing scenario.yaml")),
			mcp.WithObject("vars", mcp.Description("Runtime variables, overriding scenario inputs")),
		),
		HandleRun,
	)

	s.AddTool(
		mcp.NewTool("blueprint/test",
			mcp.WithDescription("Run scenario replay tests for a blueprint"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the blueprint YAML file")),
			mcp.WithString("scenario", mcp.Description("Run only the named scenario (optional)")),
		),
		HandleTest,
	)

	s.AddTool(
		mcp.NewTool("blueprint/schema",
			mcp.WithDescription("Export the blueprint JSON Schema"),
		),
		HandleSchema,
	)

	s.AddTool(
		mcp.NewTool("blueprint/generate",
			mcp.WithDescription("Generate a standalone Go program from a blueprint"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the blueprint YAML file")),
			mcp.WithString("package", mcp.Description("Go package name (default blueprint)")),
			mcp.WithString("func", mcp.Description("Generated function name (default Run)")),
		),
		HandleGenerate,
	)

	s.AddTool(
		mcp.NewTool("blueprint/diagram",
			mcp.WithDescription("Render the blueprint's step chain as a diagram"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the blueprint YAML file")),
			mcp.WithString("format", mcp.Description("mermaid (default) or ascii")),
		),
		HandleDiagram,
	)

	return s
}
