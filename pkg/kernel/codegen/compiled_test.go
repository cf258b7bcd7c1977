package codegen

import (
	"context"
	"fmt"
	"go/ast"
	"go/importer"
	"go/parser"
	"go/scanner"
	"go/token"
	"go/types"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/ormasoftchile/blueprint/pkg/kernel/codegen/internal/signup"
	"github.com/ormasoftchile/blueprint/pkg/kernel/engine"
	"github.com/ormasoftchile/blueprint/pkg/kernel/provider"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
)

// compiledFixture is portal() with a short pause. internal/signup holds
// its generated source, compiled as part of the module.
func compiledFixture() *schema.Blueprint {
	bp := portal()
	for i := range bp.Tiles {
		if bp.Tiles[i].ID == "pause" {
			bp.Tiles[i].Params = &schema.WaitParams{Duration: 5}
		}
	}
	return bp
}

type tok struct {
	tok token.Token
	lit string
}

func tokens(t *testing.T, name string, src []byte) []tok {
	t.Helper()
	fset := token.NewFileSet()
	file := fset.AddFile(name, fset.Base(), len(src))
	var s scanner.Scanner
	s.Init(file, src, func(pos token.Position, msg string) { t.Fatalf("%s: %s", pos, msg) }, 0)
	var out []tok
	for {
		_, tk, lit := s.Scan()
		if tk == token.EOF {
			return out
		}
		if tk == token.SEMICOLON {
			lit = ""
		}
		out = append(out, tok{tk, lit})
	}
}

func TestGenerate_MatchesCompiledPackage(t *testing.T) {
	prog, err := Generate(compiledFixture(), Options{Package: "signup", Func: "Signup"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want, err := os.ReadFile(filepath.Join("internal", "signup", "signup_gen.go"))
	if err != nil {
		t.Fatal(err)
	}
	got := tokens(t, "generated", prog.Source)
	exp := tokens(t, "signup_gen.go", want)
	for i := 0; i < len(got) && i < len(exp); i++ {
		if got[i] != exp[i] {
			t.Fatalf("token %d = %v %q, want %v %q\n%s", i, got[i].tok, got[i].lit, exp[i].tok, exp[i].lit, prog.Source)
		}
	}
	if len(got) != len(exp) {
		t.Fatalf("generated %d tokens, want %d\n%s", len(got), len(exp), prog.Source)
	}
	if !reflect.DeepEqual(prog.Inputs, signup.Inputs) {
		t.Errorf("Inputs = %v, want %v", prog.Inputs, signup.Inputs)
	}
	if !reflect.DeepEqual(prog.Outputs, signup.Outputs) {
		t.Errorf("Outputs = %v, want %v", prog.Outputs, signup.Outputs)
	}
}

// spy records every provider call with the arguments that reach the page.
type spy struct {
	mu      sync.Mutex
	url     string
	calls   []string
	extract map[string]any
}

func (s *spy) record(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

func (s *spy) Navigate(_ context.Context, url string, opts provider.NavigateOptions) error {
	s.record("navigate %s wait=%s timeout=%d", url, opts.WaitUntil, opts.TimeoutMs)
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
	return nil
}

func (s *spy) Act(_ context.Context, instruction string) (provider.ActResult, error) {
	s.record("act %s", instruction)
	return provider.ActResult{Success: true}, nil
}

func (s *spy) Extract(_ context.Context, instruction string, shape map[string]any) (any, error) {
	s.record("extract %s schema=%v", instruction, shape)
	return s.extract[instruction], nil
}

func (s *spy) Screenshot(_ context.Context, opts provider.ScreenshotOptions) ([]byte, error) {
	s.record("screenshot fullPage=%t", opts.FullPage)
	return []byte("png"), nil
}

func (s *spy) CurrentURL(context.Context) (string, error) {
	s.record("currentUrl")
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, nil
}

func (s *spy) Close(context.Context) error {
	s.record("close")
	return nil
}

func TestGenerate_CompiledRunMatchesEngine(t *testing.T) {
	creds := provider.NewStaticResolver(map[string]provider.Credential{
		"portal.test": {Username: "ann", Password: "s3cret", Fields: map[string]string{"pin": "4321"}},
	})
	vars := map[string]any{
		"portal":  "https://portal.test",
		"first":   "Ann",
		"email":   "ann@portal.test",
		"country": "Chile",
	}
	newSpy := func() *spy {
		return &spy{url: "about:blank", extract: map[string]any{"confirmation code": "C-42"}}
	}
	ctx := context.Background()

	interpreted := newSpy()
	res := engine.New(engine.RunConfig{Provider: interpreted, Resolver: creds}).Run(ctx, compiledFixture(), vars)
	if !res.Success {
		t.Fatalf("engine run failed: %s", res.Error)
	}

	compiled := newSpy()
	out, err := signup.Signup(ctx, compiled, creds, vars)
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	if !reflect.DeepEqual(compiled.calls, interpreted.calls) {
		t.Errorf("compiled calls:\n%q\nengine calls:\n%q", compiled.calls, interpreted.calls)
	}
	if out["code"] != "C-42" || res.Outputs["code"] != "C-42" {
		t.Errorf("code = %v (compiled), %v (engine), want C-42", out["code"], res.Outputs["code"])
	}
	if _, ok := vars["code"]; ok {
		t.Error("Signup modified the caller's variables")
	}

	want := []string{
		"navigate https://portal.test/login wait=load timeout=30000",
		"currentUrl",
		"act Type ann into username field",
		"act Type s3cret into password field",
		"act Click on Sign in",
		"act Type Ann into name field",
		"currentUrl",
		"act Type 4321 into pin",
		"extract confirmation code schema=map[type:string]",
		"act Select Chile from country",
		"act Type C-42 into ref",
		"act Type ann@portal.test into email",
		"screenshot fullPage=true",
		"act Click on finish",
	}
	if !reflect.DeepEqual(compiled.calls, want) {
		t.Errorf("compiled calls:\n%q\nwant:\n%q", compiled.calls, want)
	}
}

func TestGenerate_TypeChecks(t *testing.T) {
	bp := &schema.Blueprint{Name: "misc", Tiles: schema.Chain(
		schema.Tile{ID: "go", Type: schema.TileNavigate, Label: "home\npage", Params: &schema.NavigateParams{URL: "https://x.test", WaitUntil: "networkidle", Timeout: 5000}},
		schema.Tile{ID: "auth", Type: schema.TileAuth, Params: &schema.AuthParams{UsernameField: "{{user_box}}", PasswordField: "secret box"}},
		schema.Tile{ID: "lit", Type: schema.TileTypeText, Params: &schema.TypeParams{Instruction: "search", Value: "shoes {{size}}"}},
		schema.Tile{ID: "empty", Type: schema.TileTypeText, Params: &schema.TypeParams{Instruction: "notes"}},
		schema.Tile{ID: "peek", Type: schema.TileExtract, Params: &schema.ExtractParams{Instruction: "the title"}},
		schema.Tile{ID: "snap", Type: schema.TileScreenshot, Params: &schema.ScreenshotParams{}},
	)}
	minimal := &schema.Blueprint{Name: "one", Tiles: []schema.Tile{
		{ID: "c", Type: schema.TileClick, Params: &schema.ClickParams{Instruction: "ok"}},
	}}

	for _, bp := range []*schema.Blueprint{portal(), bp, minimal} {
		t.Run(bp.Name, func(t *testing.T) {
			prog, err := Generate(bp, Options{Package: "flow"})
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			fset := token.NewFileSet()
			f, err := parser.ParseFile(fset, "flow.go", prog.Source, 0)
			if err != nil {
				t.Fatalf("parse: %v\n%s", err, prog.Source)
			}
			conf := types.Config{Importer: importer.ForCompiler(fset, "source", nil)}
			if _, err := conf.Check("flow", fset, []*ast.File{f}, nil); err != nil {
				t.Fatalf("type check: %v\n%s", err, prog.Source)
			}
		})
	}
}
