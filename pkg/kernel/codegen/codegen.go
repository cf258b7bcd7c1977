// Package codegen turns a blueprint into standalone Go source that performs
// the same tile sequence without the interpreter.
package codegen

import (
	"encoding/json"
	"fmt"
	"go/format"
	"go/token"
	"sort"
	"strings"

	"github.com/ormasoftchile/blueprint/pkg/kernel/eval"
	"github.com/ormasoftchile/blueprint/pkg/kernel/executor"
	"github.com/ormasoftchile/blueprint/pkg/kernel/graph"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
)

// Options controls the generated file.
type Options struct {
	Package string // default "blueprint"
	Func    string // default "Run"
}

// Program is the output of Generate.
type Program struct {
	Source  []byte   // gofmt-formatted Go source
	Inputs  []string // sorted unique placeholder names across all tiles
	Outputs []string // EXTRACT output variables in execution order
}

// Generate maps bp to Go source. Tiles are emitted in graph.Order, the same
// order the engine executes them in.
func Generate(bp *schema.Blueprint, opts Options) (*Program, error) {
	if bp == nil {
		return nil, fmt.Errorf("nil blueprint")
	}
	if opts.Package == "" {
		opts.Package = "blueprint"
	}
	if opts.Func == "" {
		opts.Func = "Run"
	}
	if !token.IsIdentifier(opts.Package) {
		return nil, fmt.Errorf("invalid package name %q", opts.Package)
	}
	if !token.IsIdentifier(opts.Func) || !token.IsExported(opts.Func) {
		return nil, fmt.Errorf("invalid function name %q: must be an exported identifier", opts.Func)
	}

	order := graph.Order(bp.Tiles)
	if len(order) == 0 {
		return nil, fmt.Errorf("blueprint %q has no executable steps", bp.Name)
	}
	g := &gen{}
	for _, t := range order {
		if err := g.tile(t); err != nil {
			return nil, err
		}
	}

	prog := &Program{Inputs: Inputs(bp.Tiles), Outputs: Outputs(order)}
	raw := g.file(bp, opts, prog)
	src, err := format.Source(raw)
	if err != nil {
		return nil, fmt.Errorf("format generated source: %w", err)
	}
	prog.Source = src
	return prog, nil
}

// Inputs returns the sorted unique placeholder names referenced by tiles.
// Variables read by name (TYPE and FORM "variable") count as inputs too.
func Inputs(tiles []schema.Tile) []string {
	seen := map[string]bool{}
	for _, t := range tiles {
		p := t.Parameters()
		for _, tmpl := range p.Templates() {
			for _, name := range eval.Placeholders(tmpl) {
				seen[name] = true
			}
		}
		switch p := p.(type) {
		case *schema.TypeParams:
			if p.Value == "" && p.Variable != "" {
				seen[p.Variable] = true
			}
		case *schema.FormParams:
			for _, f := range p.Fields {
				if f.Value == "" && f.Variable != "" {
					seen[f.Variable] = true
				}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Outputs returns the EXTRACT output variables of ordered tiles.
func Outputs(ordered []schema.Tile) []string {
	var out []string
	for _, t := range ordered {
		if p, ok := t.Parameters().(*schema.ExtractParams); ok && p.OutputVariable != "" {
			out = append(out, p.OutputVariable)
		}
	}
	return out
}

// gen accumulates the body of the generated function.
type gen struct {
	body       strings.Builder
	usesAct    bool
	usesCreds  bool
	usesTime   bool
	usesSchema bool
	usesEval   bool
}

func (g *gen) line(format string, args ...any) {
	fmt.Fprintf(&g.body, format+"\n", args...)
}

// interp renders tmpl as a string literal, or as an eval.Interpolate call
// when it holds placeholders.
func (g *gen) interp(tmpl string) string {
	if len(eval.Placeholders(tmpl)) == 0 {
		return fmt.Sprintf("%q", tmpl)
	}
	g.usesEval = true
	return fmt.Sprintf("eval.Interpolate(%q, vars)", tmpl)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// value renders the literal-then-variable value expression of TYPE and FORM.
func (g *gen) value(literal, variable string) string {
	switch {
	case literal != "":
		return g.interp(literal)
	case variable != "":
		g.usesEval = true
		return fmt.Sprintf("eval.Stringify(vars[%q])", variable)
	default:
		return `""`
	}
}

func (g *gen) tile(t schema.Tile) error {
	id := t.ID
	label := ""
	if t.Label != "" {
		label = " " + strings.ReplaceAll(t.Label, "\n", " ")
	}
	g.line("")
	g.line("// %s: %s%s", id, t.Type, label)

	switch p := t.Parameters().(type) {
	case *schema.NavigateParams:
		g.line("if err := p.Navigate(ctx, %s, provider.NavigateOptions{WaitUntil: %q, TimeoutMs: %d}); err != nil {",
			g.interp(p.URL), p.WaitStrategy(), p.TimeoutMs())
		g.line("return nil, fmt.Errorf(\"%%s: navigate: %%w\", %q, err)", id)
		g.line("}")

	case *schema.ClickParams:
		g.usesAct = true
		g.line("if err := act(%q, \"Click on \"+%s); err != nil {", id, g.interp(p.Instruction))
		g.line("return nil, err")
		g.line("}")

	case *schema.TypeParams:
		g.usesAct = true
		g.line("{")
		switch {
		case p.Value != "" || p.Variable != "":
			g.line("value := %s", g.value(p.Value, p.Variable))
		case p.CredentialField != "":
			g.usesCreds = true
			g.line("cred, err := credential(%q)", id)
			g.line("if err != nil {")
			g.line("return nil, err")
			g.line("}")
			g.line("value, ok := cred.Field(%q)", p.CredentialField)
			g.line("if !ok {")
			g.line("return nil, fmt.Errorf(\"%%s: credential has no field %%q\", %q, %q)", id, p.CredentialField)
			g.line("}")
		default:
			g.line(`value := ""`)
		}
		g.line("if err := act(%q, fmt.Sprintf(\"Type %%s into %%s\", value, %s)); err != nil {", id, g.interp(p.Instruction))
		g.line("return nil, err")
		g.line("}")
		g.line("}")

	case *schema.AuthParams:
		g.usesAct, g.usesCreds = true, true
		g.line("{")
		g.line("cred, err := credential(%q)", id)
		g.line("if err != nil {")
		g.line("return nil, err")
		g.line("}")
		g.line("if err := act(%q, fmt.Sprintf(\"Type %%s into %%s\", cred.Username, %s)); err != nil {",
			id, g.interp(orDefault(p.UsernameField, executor.DefaultUsernameField)))
		g.line("return nil, err")
		g.line("}")
		g.line("if err := act(%q, fmt.Sprintf(\"Type %%s into %%s\", cred.Password, %s)); err != nil {",
			id, g.interp(orDefault(p.PasswordField, executor.DefaultPasswordField)))
		g.line("return nil, err")
		g.line("}")
		g.line("if err := act(%q, \"Click on \"+%s); err != nil {",
			id, g.interp(orDefault(p.SubmitButton, executor.DefaultSubmitButton)))
		g.line("return nil, err")
		g.line("}")
		g.line("}")

	case *schema.ExtractParams:
		schemaExpr := "nil"
		if len(p.Schema) > 0 {
			data, err := json.Marshal(p.Schema)
			if err != nil {
				return fmt.Errorf("tile %s: encode extract schema: %w", id, err)
			}
			g.usesSchema = true
			schemaExpr = fmt.Sprintf("decodeSchema(%q)", data)
		}
		target := "_"
		if p.OutputVariable != "" {
			target = "data"
		}
		g.line("{")
		g.line("%s, err := p.Extract(ctx, %s, %s)", target, g.interp(p.Instruction), schemaExpr)
		g.line("if err != nil {")
		g.line("return nil, fmt.Errorf(\"%%s: extract: %%w\", %q, err)", id)
		g.line("}")
		if p.OutputVariable != "" {
			g.line("vars[%q] = data", p.OutputVariable)
		}
		g.line("}")

	case *schema.ScreenshotParams:
		g.line("if _, err := p.Screenshot(ctx, provider.ScreenshotOptions{FullPage: %t}); err != nil {", p.FullPage)
		g.line("return nil, fmt.Errorf(\"%%s: screenshot: %%w\", %q, err)", id)
		g.line("}")

	case *schema.WaitParams:
		g.usesTime = true
		g.line("select {")
		g.line("case <-time.After(%d * time.Millisecond):", p.DurationMs())
		g.line("case <-ctx.Done():")
		g.line("return nil, fmt.Errorf(\"%%s: wait interrupted: %%w\", %q, ctx.Err())", id)
		g.line("}")

	case *schema.SelectParams:
		g.usesAct = true
		g.line("if err := act(%q, fmt.Sprintf(\"Select %%s from %%s\", %s, %s)); err != nil {",
			id, g.interp(p.Value), g.interp(p.Instruction))
		g.line("return nil, err")
		g.line("}")

	case *schema.FormParams:
		g.usesAct = true
		for _, f := range p.Fields {
			g.line("if err := act(%q, fmt.Sprintf(\"Type %%s into %%s\", %s, %s)); err != nil {",
				id, g.value(f.Value, f.Variable), g.interp(f.Instruction))
			g.line("return nil, err")
			g.line("}")
		}

	default:
		return fmt.Errorf("tile %s: unknown step kind %q", id, t.Type)
	}
	return nil
}

func (g *gen) file(bp *schema.Blueprint, opts Options, prog *Program) []byte {
	var b strings.Builder
	w := func(format string, args ...any) { fmt.Fprintf(&b, format+"\n", args...) }

	w("// Code generated by blueprint generate. DO NOT EDIT.")
	w("// Source blueprint: %s", strings.ReplaceAll(bp.Name, "\n", " "))
	w("")
	w("package %s", opts.Package)
	w("")
	w("import (")
	w(`"context"`)
	if g.usesSchema {
		w(`"encoding/json"`)
	}
	w(`"fmt"`)
	if g.usesTime {
		w(`"time"`)
	}
	w("")
	if g.usesEval {
		w(`"github.com/ormasoftchile/blueprint/pkg/kernel/eval"`)
	}
	w(`"github.com/ormasoftchile/blueprint/pkg/kernel/provider"`)
	w(")")
	w("")
	w("// Inputs lists the variables the blueprint reads.")
	w("var Inputs = %s", stringSlice(prog.Inputs))
	w("")
	w("// Outputs lists the variables EXTRACT steps produce, in execution order.")
	w("var Outputs = %s", stringSlice(prog.Outputs))
	w("")
	w("// %s executes the %q blueprint against p. The returned map holds the", opts.Func, bp.Name)
	w("// caller's variables plus every extracted output.")
	w("func %s(ctx context.Context, p provider.ActionProvider, creds provider.CredentialResolver, in map[string]any) (map[string]any, error) {", opts.Func)
	w("vars := make(map[string]any, len(in))")
	w("for k, v := range in {")
	w("vars[k] = v")
	w("}")
	if g.usesAct {
		w("act := func(step, instruction string) error {")
		w("res, err := p.Act(ctx, instruction)")
		w("if err != nil {")
		w(`return fmt.Errorf("%%s: %%w", step, err)`)
		w("}")
		w("if !res.Success {")
		w(`return fmt.Errorf("%%s: action failed: %%s", step, res.Message)`)
		w("}")
		w("return nil")
		w("}")
	}
	if g.usesCreds {
		w("credential := func(step string) (*provider.Credential, error) {")
		w("if creds == nil {")
		w(`return nil, fmt.Errorf("%%s: no credential resolver configured", step)`)
		w("}")
		w("current, err := p.CurrentURL(ctx)")
		w("if err != nil {")
		w(`return nil, fmt.Errorf("%%s: current url: %%w", step, err)`)
		w("}")
		w("domain := provider.Domain(current)")
		w("cred, err := creds.Resolve(ctx, domain)")
		w("if err != nil {")
		w(`return nil, fmt.Errorf("%%s: resolve credentials for domain %%s: %%w", step, domain, err)`)
		w("}")
		w("if cred == nil {")
		w(`return nil, fmt.Errorf("%%s: no credentials found for domain %%s", step, domain)`)
		w("}")
		w("return cred, nil")
		w("}")
	} else {
		w("_ = creds")
	}
	b.WriteString(g.body.String())
	w("")
	w("return vars, nil")
	w("}")
	if g.usesSchema {
		w("")
		w("func decodeSchema(s string) map[string]any {")
		w("var m map[string]any")
		w("if err := json.Unmarshal([]byte(s), &m); err != nil {")
		w("panic(err)")
		w("}")
		w("return m")
		w("}")
	}
	return []byte(b.String())
}

func stringSlice(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return "[]string{" + strings.Join(quoted, ", ") + "}"
}
