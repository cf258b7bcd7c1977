package recorder

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ormasoftchile/blueprint/pkg/kernel/engine"
	"github.com/ormasoftchile/blueprint/pkg/kernel/provider"
	"github.com/ormasoftchile/blueprint/pkg/kernel/replay"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
)

func liveScenario() *replay.Scenario {
	return &replay.Scenario{
		CurrentURL: "about:blank",
		Act: map[string][]replay.ActResponse{
			"Click on Login":                 {{Success: true, Message: "clicked"}},
			"Type hunter2 into the password": {{Success: true}},
		},
		Extract: map[string][]any{
			"the balance": {map[string]any{"amount": "12.50", "pin": "hunter2"}},
		},
		ScreenshotSize: 64,
	}
}

func TestRecorder_CapturesResponses(t *testing.T) {
	ctx := context.Background()
	rec := New(replay.NewProvider(liveScenario()))

	if _, err := rec.CurrentURL(ctx); err != nil {
		t.Fatal(err)
	}
	if err := rec.Navigate(ctx, "https://bank.example", provider.NavigateOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := rec.Act(ctx, "Click on Login"); err != nil {
		t.Fatal(err)
	}
	if _, err := rec.Extract(ctx, "the balance", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := rec.Screenshot(ctx, provider.ScreenshotOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := rec.CurrentURL(ctx); err != nil {
		t.Fatal(err)
	}

	s := rec.Scenario()
	if s.CurrentURL != "about:blank" {
		t.Errorf("CurrentURL = %q, want about:blank", s.CurrentURL)
	}
	if got := s.Act["Click on Login"]; len(got) != 1 || !got[0].Success || got[0].Message != "clicked" {
		t.Errorf("act = %+v", got)
	}
	if got := s.Extract["the balance"]; len(got) != 1 {
		t.Errorf("extract = %+v", got)
	}
	if s.ScreenshotSize != 64 {
		t.Errorf("ScreenshotSize = %d, want 64", s.ScreenshotSize)
	}
}

type failingProvider struct {
	replay.Provider
}

func (failingProvider) Navigate(context.Context, string, provider.NavigateOptions) error {
	return errors.New("dns lookup failed")
}

func (failingProvider) Act(context.Context, string) (provider.ActResult, error) {
	return provider.ActResult{}, errors.New("browser crashed")
}

func TestRecorder_CapturesFailures(t *testing.T) {
	ctx := context.Background()
	rec := New(&failingProvider{})

	if err := rec.Navigate(ctx, "https://down.example", provider.NavigateOptions{}); err == nil {
		t.Fatal("expected navigate error to pass through")
	}
	if _, err := rec.Act(ctx, "Click on Go"); err == nil {
		t.Fatal("expected act error to pass through")
	}

	s := rec.Scenario()
	if s.NavigateErrors["https://down.example"] != "dns lookup failed" {
		t.Errorf("navigate errors = %v", s.NavigateErrors)
	}
	if got := s.Act["Click on Go"]; len(got) != 1 || got[0].Error != "browser crashed" {
		t.Errorf("act = %+v", got)
	}
}

func TestRecorder_RedactsSecrets(t *testing.T) {
	ctx := context.Background()
	rec := New(replay.NewProvider(liveScenario()))
	rec.SetSecrets("hunter2", "")
	rec.SetInputs(map[string]any{"user": "alice", "pass": "hunter2"})

	if _, err := rec.Act(ctx, "Type hunter2 into the password"); err != nil {
		t.Fatal(err)
	}
	if _, err := rec.Extract(ctx, "the balance", nil); err != nil {
		t.Fatal(err)
	}

	s := rec.Scenario()
	if _, ok := s.Act["Type <REDACTED> into the password"]; !ok {
		t.Errorf("instruction not redacted: %v", s.Act)
	}
	if s.Inputs["pass"] != "<REDACTED>" || s.Inputs["user"] != "alice" {
		t.Errorf("inputs = %v", s.Inputs)
	}
	payload := s.Extract["the balance"][0].(map[string]any)
	if payload["pin"] != "<REDACTED>" || payload["amount"] != "12.50" {
		t.Errorf("payload = %v", payload)
	}
}

func TestRecorder_SaveReplaysSameResult(t *testing.T) {
	bp := &schema.Blueprint{
		Name: "balance",
		Tiles: schema.Chain(
			schema.Tile{ID: "open", Type: schema.TileNavigate, Params: &schema.NavigateParams{URL: "https://bank.example"}},
			schema.Tile{ID: "login", Type: schema.TileClick, Params: &schema.ClickParams{Instruction: "Login"}},
			schema.Tile{ID: "read", Type: schema.TileExtract, Params: &schema.ExtractParams{Instruction: "the balance", OutputVariable: "balance"}},
		),
	}

	rec := New(replay.NewProvider(liveScenario()))
	live := engine.New(engine.RunConfig{Provider: rec}).Run(context.Background(), bp, nil)
	if !live.Success {
		t.Fatalf("live run failed: %s", live.Error)
	}

	dir := filepath.Join(t.TempDir(), "recorded")
	if err := rec.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	sc, err := replay.LoadScenarioDir(dir)
	if err != nil {
		t.Fatalf("LoadScenarioDir: %v", err)
	}

	replayed := engine.New(engine.RunConfig{Provider: replay.NewProvider(sc)}).Run(context.Background(), bp, nil)
	if !replayed.Success {
		t.Fatalf("replayed run failed: %s", replayed.Error)
	}
	got := replayed.Outputs["balance"].(map[string]any)
	if !strings.Contains(got["amount"].(string), "12.50") {
		t.Errorf("replayed balance = %v", got)
	}
}

func TestFactory_CapturesCreatedProvider(t *testing.T) {
	factory, rec := Factory(replay.Factory(liveScenario(), nil))
	p, err := factory(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if p != rec {
		t.Fatal("factory should hand out the recorder")
	}
	if _, err := p.Act(context.Background(), "Click on Login"); err != nil {
		t.Fatal(err)
	}
	if got := rec.Scenario().Act["Click on Login"]; len(got) != 1 {
		t.Errorf("act = %+v", got)
	}
}

func TestFactory_PropagatesError(t *testing.T) {
	factory, _ := Factory(func(context.Context) (provider.ActionProvider, error) {
		return nil, errors.New("no browser")
	})
	if _, err := factory(context.Background()); err == nil {
		t.Error("expected factory error")
	}
}
