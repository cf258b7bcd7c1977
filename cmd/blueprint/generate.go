package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/blueprint/pkg/diagram"
	"github.com/ormasoftchile/blueprint/pkg/kernel/codegen"
	"github.com/ormasoftchile/blueprint/pkg/kernel/graph"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
	"github.com/ormasoftchile/blueprint/pkg/tui"
)

// --- generate ---

var (
	genPackage string
	genFunc    string
	genOut     string
)

var generateCmd = &cobra.Command{
	Use:   "generate [blueprint.yaml]",
	Short: "Generate a standalone Go program from a blueprint",
	Args:  cobra.ExactArgs(1),
	RunE:  runGenerate,
}

func runGenerate(cmd *cobra.Command, args []string) error {
	bp, err := loadValid(args[0])
	if err != nil {
		return err
	}
	prog, err := codegen.Generate(bp, codegen.Options{Package: genPackage, Func: genFunc})
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	if genOut == "" || genOut == "-" {
		_, err := os.Stdout.Write(prog.Source)
		return err
	}
	if err := os.WriteFile(genOut, prog.Source, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", genOut, err)
	}
	fmt.Fprintf(os.Stderr, "✓ wrote %s\n", genOut)
	if len(prog.Inputs) > 0 {
		fmt.Fprintf(os.Stderr, "  inputs:  %s\n", strings.Join(prog.Inputs, ", "))
	}
	if len(prog.Outputs) > 0 {
		fmt.Fprintf(os.Stderr, "  outputs: %s\n", strings.Join(prog.Outputs, ", "))
	}
	return nil
}

// --- diagram ---

var diagramFormat string

var diagramCmd = &cobra.Command{
	Use:   "diagram [blueprint.yaml]",
	Short: "Render the tile chain as a Mermaid flowchart or ASCII boxes",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiagram,
}

func runDiagram(cmd *cobra.Command, args []string) error {
	bp, err := schema.LoadFile(args[0])
	if err != nil {
		return err
	}
	out, err := diagram.Generate(bp, diagram.Format(diagramFormat))
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

// --- describe ---

var describeWidth int

var describeCmd = &cobra.Command{
	Use:   "describe [blueprint.yaml]",
	Short: "Print a formatted overview of a blueprint",
	Args:  cobra.ExactArgs(1),
	RunE:  runDescribe,
}

func runDescribe(cmd *cobra.Command, args []string) error {
	bp, err := schema.LoadFile(args[0])
	if err != nil {
		return err
	}
	fmt.Println(tui.RenderMarkdown(describeMarkdown(bp), describeWidth))
	return nil
}

// describeMarkdown summarises a blueprint's inputs and steps as markdown.
func describeMarkdown(bp *schema.Blueprint) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", bp.Name)
	if bp.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", bp.Description)
	}
	if len(bp.Metadata.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: `%s`\n\n", strings.Join(bp.Metadata.Tags, "`, `"))
	}

	if fields := bp.Metadata.InputSchema; len(fields) > 0 {
		b.WriteString("## Inputs\n\n| Name | Type | Required | Description |\n|---|---|---|---|\n")
		for _, f := range fields {
			req := ""
			if f.Required {
				req = "yes"
			}
			fmt.Fprintf(&b, "| `%s` | %s | %s | %s |\n", f.Name, f.Type, req, f.Description)
		}
		b.WriteString("\n")
	}

	order := graph.Order(bp.Tiles)
	b.WriteString("## Steps\n\n")
	for i, t := range order {
		label := t.Label
		if label == "" {
			label = t.ID
		}
		fmt.Fprintf(&b, "%d. **%s** `%s`", i+1, label, t.Type)
		if p := t.Parameters(); p != nil {
			if tmpl := strings.Join(nonEmpty(p.Templates()), " / "); tmpl != "" {
				fmt.Fprintf(&b, ": %s", tmpl)
			}
		}
		b.WriteString("\n")
	}
	if len(order) == 0 {
		b.WriteString("_No executable steps._\n")
	}
	if missing := graph.Unreachable(bp.Tiles); len(missing) > 0 {
		fmt.Fprintf(&b, "\nNot reached: `%s`\n", strings.Join(missing, "`, `"))
	}
	return b.String()
}

func nonEmpty(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func init() {
	generateCmd.Flags().StringVar(&genPackage, "package", "blueprint", "Package name of the generated file")
	generateCmd.Flags().StringVar(&genFunc, "func", "Run", "Name of the generated function")
	generateCmd.Flags().StringVarP(&genOut, "out", "o", "", "Output file (default: stdout)")

	diagramCmd.Flags().StringVar(&diagramFormat, "format", string(diagram.FormatMermaid), "Diagram format: mermaid or ascii")

	describeCmd.Flags().IntVar(&describeWidth, "width", 100, "Wrap width")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(diagramCmd)
	rootCmd.AddCommand(describeCmd)
}
