package codegen

import (
	"go/parser"
	"go/token"
	"strings"
	"testing"

	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
)

func portal() *schema.Blueprint {
	tiles := schema.Chain(
		schema.Tile{ID: "open", Type: schema.TileNavigate, Params: &schema.NavigateParams{URL: "{{portal}}/login"}},
		schema.Tile{ID: "login", Type: schema.TileAuth, Params: &schema.AuthParams{SubmitButton: "Sign in"}},
		schema.Tile{ID: "name", Type: schema.TileTypeText, Params: &schema.TypeParams{Instruction: "name field", Variable: "first"}},
		schema.Tile{ID: "pin", Type: schema.TileTypeText, Params: &schema.TypeParams{Instruction: "pin", CredentialField: "pin"}},
		schema.Tile{ID: "code", Type: schema.TileExtract, Params: &schema.ExtractParams{
			Instruction: "confirmation code", OutputVariable: "code",
			Schema: map[string]any{"type": "string"},
		}},
		schema.Tile{ID: "country", Type: schema.TileSelect, Params: &schema.SelectParams{Instruction: "country", Value: "{{ country }}"}},
		schema.Tile{ID: "form", Type: schema.TileForm, Params: &schema.FormParams{Fields: []schema.FormField{
			{Instruction: "ref", Value: "{{code}}"},
			{Instruction: "email", Variable: "email"},
		}}},
		schema.Tile{ID: "pause", Type: schema.TileWait, Params: &schema.WaitParams{}},
		schema.Tile{ID: "shot", Type: schema.TileScreenshot, Params: &schema.ScreenshotParams{FullPage: true}},
		schema.Tile{ID: "done", Type: schema.TileClick, Params: &schema.ClickParams{Instruction: "finish"}},
	)
	// Source order differs from execution order.
	tiles[0], tiles[9] = tiles[9], tiles[0]
	return &schema.Blueprint{Name: "portal signup", Tiles: tiles}
}

func TestGenerate_ParsesAndFollowsOrder(t *testing.T) {
	prog, err := Generate(portal(), Options{Package: "signup", Func: "Signup"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	src := string(prog.Source)

	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "gen.go", prog.Source, parser.ParseComments)
	if err != nil {
		t.Fatalf("generated source does not parse: %v\n%s", err, src)
	}
	if f.Name.Name != "signup" {
		t.Errorf("package = %s", f.Name.Name)
	}
	if !strings.HasPrefix(src, "// Code generated by blueprint generate. DO NOT EDIT.") {
		t.Error("missing generated-code header")
	}
	if !strings.Contains(src, "func Signup(ctx context.Context") {
		t.Error("missing entry function")
	}

	last := -1
	for _, id := range []string{"open", "login", "name", "pin", "code", "country", "form", "pause", "shot", "done"} {
		idx := strings.Index(src, "// "+id+": ")
		if idx < 0 {
			t.Fatalf("tile %s not emitted", id)
		}
		if idx < last {
			t.Errorf("tile %s emitted out of order", id)
		}
		last = idx
	}

	for _, want := range []string{
		`eval.Interpolate("{{portal}}/login", vars)`,
		`"Click on "+"finish"`,
		`"Click on "+"Sign in"`,
		`cred.Field("pin")`,
		`eval.Stringify(vars["first"])`,
		`vars["code"] = data`,
		`Select %s from %s`,
		`time.After(1000`,
		`FullPage: true`,
		`decodeSchema(`,
	} {
		if !strings.Contains(src, want) {
			t.Errorf("source missing %s", want)
		}
	}
}

func TestGenerate_InputsAndOutputs(t *testing.T) {
	prog, err := Generate(portal(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	wantIn := "code,country,email,first,portal"
	if got := strings.Join(prog.Inputs, ","); got != wantIn {
		t.Errorf("inputs = %s, want %s", got, wantIn)
	}
	if got := strings.Join(prog.Outputs, ","); got != "code" {
		t.Errorf("outputs = %s, want code", got)
	}
	if !strings.Contains(string(prog.Source), "package blueprint") || !strings.Contains(string(prog.Source), "func Run(") {
		t.Error("defaults not applied")
	}
}

func TestGenerate_MinimalImports(t *testing.T) {
	bp := &schema.Blueprint{Name: "shot", Tiles: []schema.Tile{
		{ID: "s", Type: schema.TileScreenshot, Params: &schema.ScreenshotParams{}},
	}}
	prog, err := Generate(bp, Options{})
	if err != nil {
		t.Fatal(err)
	}
	src := string(prog.Source)
	for _, unwanted := range []string{"pkg/kernel/eval", `"time"`, "act :=", "credential :="} {
		if strings.Contains(src, unwanted) {
			t.Errorf("source unexpectedly contains %s", unwanted)
		}
	}
	if _, err := parser.ParseFile(token.NewFileSet(), "gen.go", prog.Source, 0); err != nil {
		t.Fatal(err)
	}
}

func TestGenerate_Errors(t *testing.T) {
	if _, err := Generate(nil, Options{}); err == nil {
		t.Error("expected error for nil blueprint")
	}
	if _, err := Generate(portal(), Options{Package: "not-valid"}); err == nil {
		t.Error("expected error for invalid package name")
	}
	if _, err := Generate(portal(), Options{Func: "run"}); err == nil {
		t.Error("expected error for unexported function name")
	}
	if _, err := Generate(&schema.Blueprint{Name: "empty"}, Options{}); err == nil {
		t.Error("expected error for blueprint without steps")
	}
	bad := &schema.Blueprint{Tiles: []schema.Tile{{ID: "h", Type: "HOVER", Params: schema.UnknownParams{}}}}
	_, err := Generate(bad, Options{})
	if err == nil || !strings.Contains(err.Error(), "unknown step kind") {
		t.Errorf("err = %v", err)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	a, _ := Generate(portal(), Options{})
	b, _ := Generate(portal(), Options{})
	if string(a.Source) != string(b.Source) {
		t.Error("generation is not deterministic")
	}
}
