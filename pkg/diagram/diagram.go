// Package diagram renders blueprints as Mermaid flowcharts or ASCII box
// diagrams, following the order the sequence runner executes tiles in.
package diagram

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/blueprint/pkg/kernel/graph"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
)

// Format represents the output diagram format.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
)

// Generate produces a diagram string from a blueprint.
func Generate(bp *schema.Blueprint, format Format) (string, error) {
	if bp == nil {
		return "", fmt.Errorf("nil blueprint")
	}
	steps, detached := collect(bp)
	switch format {
	case FormatMermaid:
		return generateMermaid(steps, detached), nil
	case FormatASCII:
		return generateASCII(bp.Name, steps, detached), nil
	default:
		return "", fmt.Errorf("unsupported diagram format: %s", format)
	}
}

// --- Mermaid flowchart ---

func generateMermaid(steps, detached []diagramStep) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	if len(steps) == 0 && len(detached) == 0 {
		return b.String()
	}

	if len(steps) > 0 {
		b.WriteString("    START([Start]) --> " + safeID(steps[0].id) + "\n")
	}
	for i, s := range steps {
		b.WriteString("    " + nodeDefinition(s) + "\n")
		if i < len(steps)-1 {
			b.WriteString(fmt.Sprintf("    %s --> %s\n", safeID(s.id), safeID(steps[i+1].id)))
		}
	}
	if len(steps) > 0 {
		b.WriteString("    " + safeID(steps[len(steps)-1].id) + " --> END([End])\n")
	}

	// Tiles the runner never reaches are drawn apart and greyed out.
	for _, s := range detached {
		b.WriteString("    " + nodeDefinition(s) + "\n")
		b.WriteString(fmt.Sprintf("    style %s fill:#eee,stroke:#999,stroke-dasharray:4 2,color:#777\n", safeID(s.id)))
	}

	for _, s := range steps {
		if style := typeStyle(s.tileType); style != "" {
			b.WriteString(fmt.Sprintf("    style %s %s\n", safeID(s.id), style))
		}
	}
	return b.String()
}

func typeStyle(t schema.TileType) string {
	switch t {
	case schema.TileNavigate:
		return "fill:#1a3a4a,stroke:#0af,color:#fff"
	case schema.TileAuth:
		return "fill:#4a1a3a,stroke:#f0a,color:#fff"
	case schema.TileExtract:
		return "fill:#1a4a2a,stroke:#0d6,color:#fff"
	default:
		return ""
	}
}

// --- ASCII ---

func generateASCII(name string, steps, detached []diagramStep) string {
	var b strings.Builder
	if name == "" {
		name = "Blueprint"
	}
	if len(steps) == 0 {
		b.WriteString(name + " (empty)\n")
		writeDetached(&b, detached, 0)
		return b.String()
	}

	// Uniform box width so every box and connector aligns.
	const indent = 8
	boxWidth := computeUniformBoxWidth(steps, name)
	connCol := indent + 1 + boxWidth/2 // +1 for the left border
	pad := strings.Repeat(" ", indent)
	connPad := strings.Repeat(" ", connCol)

	headerText := centerPad(name, boxWidth)
	mid := boxWidth / 2
	b.WriteString(pad + "╔" + strings.Repeat("═", boxWidth) + "╗\n")
	b.WriteString(pad + "║" + headerText + "║\n")
	b.WriteString(pad + "╚" + strings.Repeat("═", mid) + "╤" + strings.Repeat("═", boxWidth-mid-1) + "╝\n")
	b.WriteString(connPad + "│\n")

	for i, s := range steps {
		writeASCIIStep(&b, s, indent, boxWidth)
		if i < len(steps)-1 {
			b.WriteString(connPad + "│\n")
		}
	}
	writeDetached(&b, detached, indent)
	return b.String()
}

func writeDetached(b *strings.Builder, detached []diagramStep, indent int) {
	if len(detached) == 0 {
		return
	}
	pad := strings.Repeat(" ", indent)
	b.WriteString("\n" + pad + "not reached:\n")
	for _, s := range detached {
		b.WriteString(pad + "  " + typeIcon(s.tileType) + " " + s.id + " " + s.title + "\n")
	}
}

// computeUniformBoxWidth returns the widest interior width needed across
// all steps and the header name.
func computeUniformBoxWidth(steps []diagramStep, name string) int {
	w := 22
	if nw := runewidth.StringWidth(name) + 4; nw > w {
		w = nw
	}
	for _, s := range steps {
		if sw := stepContentWidth(s); sw > w {
			w = sw
		}
	}
	return w
}

func stepLine(s diagramStep) string {
	return fmt.Sprintf(" %s %s ", typeIcon(s.tileType), s.title)
}

// stepContentWidth returns the interior width a single step box needs.
func stepContentWidth(s diagramStep) int {
	w := runewidth.StringWidth(stepLine(s))
	if s.capture != "" {
		if cw := runewidth.StringWidth(" → " + s.capture); cw > w {
			w = cw
		}
	}
	return w
}

// centerPad centers s within width using spaces, based on display width.
func centerPad(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	total := width - sw
	left := total / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", total-left)
}

func writeASCIIStep(b *strings.Builder, s diagramStep, indent, boxWidth int) {
	content := stepLine(s)
	contentWidth := runewidth.StringWidth(content)

	pad := strings.Repeat(" ", indent)
	mid := boxWidth / 2

	b.WriteString(pad + "┌" + strings.Repeat("─", boxWidth) + "┐\n")
	b.WriteString(pad + "│" + content + strings.Repeat(" ", boxWidth-contentWidth) + "│\n")
	if s.capture != "" {
		capLine := " → " + s.capture
		b.WriteString(pad + "│" + capLine + strings.Repeat(" ", boxWidth-runewidth.StringWidth(capLine)) + "│\n")
	}
	b.WriteString(pad + "└" + strings.Repeat("─", mid) + "┬" + strings.Repeat("─", boxWidth-mid-1) + "┘\n")
}

func typeIcon(t schema.TileType) string {
	switch t {
	case schema.TileNavigate:
		return "↗"
	case schema.TileClick:
		return "●"
	case schema.TileTypeText:
		return "⌨"
	case schema.TileAuth:
		return "🔑"
	case schema.TileExtract:
		return "⇩"
	case schema.TileScreenshot:
		return "▣"
	case schema.TileWait:
		return "⏱"
	case schema.TileSelect:
		return "☰"
	case schema.TileForm:
		return "▤"
	default:
		return "○"
	}
}

// --- blueprint walking ---

type diagramStep struct {
	id       string
	title    string
	tileType schema.TileType
	capture  string
}

// collect returns the tiles in execution order, followed by the tiles the
// runner never reaches.
func collect(bp *schema.Blueprint) (steps, detached []diagramStep) {
	ordered := graph.Order(bp.Tiles)
	seen := make(map[string]bool, len(ordered))
	for _, t := range ordered {
		seen[t.ID] = true
		steps = append(steps, toStep(t))
	}
	for _, t := range bp.Tiles {
		if !seen[t.ID] {
			detached = append(detached, toStep(t))
		}
	}
	return steps, detached
}

func toStep(t schema.Tile) diagramStep {
	ds := diagramStep{id: t.ID, title: t.Label, tileType: t.Type}
	if ds.title == "" {
		ds.title = summary(t)
	}
	if p, ok := t.Params.(*schema.ExtractParams); ok && p.OutputVariable != "" {
		ds.capture = p.OutputVariable
	}
	return ds
}

// summary describes an unlabelled tile by its type and main parameter.
func summary(t schema.Tile) string {
	detail := ""
	if t.Params != nil {
		for _, tmpl := range t.Params.Templates() {
			if tmpl != "" {
				detail = tmpl
				break
			}
		}
	}
	if w, ok := t.Params.(*schema.WaitParams); ok {
		detail = fmt.Sprintf("%dms", w.DurationMs())
	}
	if detail == "" {
		return string(t.Type)
	}
	return string(t.Type) + " " + truncate(detail, 30)
}

// --- string helpers ---

func nodeDefinition(s diagramStep) string {
	id := safeID(s.id)
	title := escMermaid(s.title)
	if s.capture != "" {
		title += "<br/>→ " + escMermaid(s.capture)
	}

	switch s.tileType {
	case schema.TileNavigate:
		return fmt.Sprintf(`%s[/"%s"/]`, id, title)
	case schema.TileAuth:
		return fmt.Sprintf(`%s{{"%s"}}`, id, title)
	case schema.TileExtract:
		return fmt.Sprintf(`%s[("%s")]`, id, title)
	case schema.TileWait:
		return fmt.Sprintf(`%s(("%s"))`, id, title)
	case schema.TileForm:
		return fmt.Sprintf(`%s[["%s"]]`, id, title)
	default:
		return fmt.Sprintf(`%s["%s"]`, id, title)
	}
}

func safeID(id string) string {
	r := strings.NewReplacer("-", "_", " ", "_", ".", "_")
	return "t_" + r.Replace(id)
}

func escMermaid(s string) string {
	s = strings.ReplaceAll(s, `"`, "#quot;")
	s = strings.ReplaceAll(s, `'`, "#apos;")
	s = strings.ReplaceAll(s, "{", "#123;")
	s = strings.ReplaceAll(s, "}", "#125;")
	return s
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
