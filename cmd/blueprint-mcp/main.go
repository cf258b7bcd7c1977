// Package main provides the blueprint-mcp binary, an MCP server exposing
// blueprint validation, replay and code generation as tools.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	bmcp "github.com/ormasoftchile/blueprint/pkg/ecosystem/mcp"
)

var version = "dev"

func main() {
	s := bmcp.NewServer(version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
