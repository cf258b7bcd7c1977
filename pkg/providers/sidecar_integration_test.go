package providers

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ormasoftchile/blueprint/pkg/kernel/engine"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
)

// TestSidecarIntegration builds the mock sidecar and runs a blueprint
// against it through SidecarFactory.
func TestSidecarIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	mockSrc := filepath.Join("..", "..", "testdata", "sidecar", "mock-sidecar.go")
	if _, err := os.Stat(mockSrc); err != nil {
		t.Fatalf("mock sidecar source not found: %v", err)
	}
	ext := ""
	if runtime.GOOS == "windows" {
		ext = ".exe"
	}
	mockBin := filepath.Join(t.TempDir(), "mock-sidecar"+ext)
	build := exec.Command("go", "build", "-o", mockBin, mockSrc)
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		t.Fatalf("build mock sidecar: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	t.Run("ready signal timeout", func(t *testing.T) {
		_, err := StartSidecar(ctx, SidecarConfig{
			Command:        mockBin,
			ReadySignal:    "never printed",
			StartupTimeout: 200 * time.Millisecond,
		})
		if err == nil {
			t.Fatal("expected startup error")
		}
	})

	t.Run("run blueprint", func(t *testing.T) {
		factory := SidecarFactory(SidecarConfig{Command: mockBin, ReadySignal: "browser ready"})
		p, err := factory(ctx)
		if err != nil {
			t.Fatalf("factory: %v", err)
		}
		sp := p.(*SidecarProvider)

		bp := &schema.Blueprint{
			Name: "integration",
			Tiles: schema.Chain(
				schema.Tile{ID: "open", Type: schema.TileNavigate, Params: &schema.NavigateParams{URL: "https://{{host}}/"}},
				schema.Tile{ID: "read", Type: schema.TileExtract, Params: &schema.ExtractParams{Instruction: "echo", OutputVariable: "echoed"}},
				schema.Tile{ID: "shot", Type: schema.TileScreenshot, Params: &schema.ScreenshotParams{}},
			),
		}
		result := engine.New(engine.RunConfig{RunID: "it", Provider: p}).Run(ctx, bp, map[string]any{"host": "shop.test"})
		if !result.Success {
			t.Fatalf("run failed: %s", result.Error)
		}
		if got := result.Outputs["echoed"]; got != "echo" {
			t.Errorf("outputs.echoed = %v", got)
		}
		url, err := p.CurrentURL(ctx)
		if err != nil || url != "https://shop.test/" {
			t.Errorf("CurrentURL = %q, %v", url, err)
		}

		if err := p.Close(ctx); err != nil {
			t.Errorf("Close: %v", err)
		}
		select {
		case <-sp.exited:
		case <-time.After(5 * time.Second):
			t.Error("sidecar process did not exit after Close")
		}
	})
}
