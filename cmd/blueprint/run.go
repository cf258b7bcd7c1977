package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ormasoftchile/blueprint/pkg/config"
	"github.com/ormasoftchile/blueprint/pkg/ecosystem/recorder"
	"github.com/ormasoftchile/blueprint/pkg/inputs"
	"github.com/ormasoftchile/blueprint/pkg/kernel/engine"
	"github.com/ormasoftchile/blueprint/pkg/kernel/mode"
	"github.com/ormasoftchile/blueprint/pkg/kernel/provider"
	"github.com/ormasoftchile/blueprint/pkg/kernel/replay"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
	"github.com/ormasoftchile/blueprint/pkg/tui"
	"github.com/ormasoftchile/blueprint/pkg/workflow"
)

var (
	runMode      string
	runVars      []string
	runVarsFile  string
	runScenario  string
	runTraceDir  string
	runArtifacts string
	runRecord    string
	runRedact    []string
	runPrompt    bool
	runTUI       bool
	runJSON      bool
)

var runCmd = &cobra.Command{
	Use:   "run [blueprint.yaml]",
	Short: "Execute a blueprint",
	Long: `Execute a blueprint in the configured mode (direct, delegated or workflow).

Direct mode drives the browser sidecar named by provider.command, or the
canned answers of --scenario. Workflow mode runs the blueprint under the
in-process durable workflow engine and waits for it; Ctrl-C cancels it.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if runMode != "" {
		cfg.Execution.Mode = runMode
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if runTraceDir != "" {
		cfg.Trace.Dir = runTraceDir
	}
	if runTUI && mode.Mode(cfg.Execution.Mode) != mode.Direct {
		return errors.New("--tui requires direct mode")
	}

	bp, err := loadValid(args[0])
	if err != nil {
		return err
	}

	// Variables: scenario inputs < vars file < --var < prompt.
	var base map[string]any
	var factory provider.Factory
	resolver, err := cfg.Resolver()
	if err != nil {
		return err
	}
	if runScenario != "" {
		sc, err := replay.LoadScenarioDir(runScenario)
		if err != nil {
			return err
		}
		base = sc.Inputs
		factory = replay.Factory(sc, nil)
		if r := sc.Resolver(); r != nil {
			resolver = r
		}
		fmt.Printf("  [replay] scenario %s\n", runScenario)
	}
	if runVarsFile != "" {
		fileVars, err := inputs.LoadFile(runVarsFile)
		if err != nil {
			return err
		}
		merged := make(map[string]any, len(base)+len(fileVars))
		for k, v := range base {
			merged[k] = v
		}
		for k, v := range fileVars {
			merged[k] = v
		}
		base = merged
	}
	assigned, err := inputs.ParseAssignments(runVars)
	if err != nil {
		return err
	}
	var prompter inputs.Prompter
	if runPrompt {
		rp, err := inputs.NewReadlinePrompter()
		if err != nil {
			return err
		}
		defer rp.Close()
		prompter = rp
	}
	vars, err := inputs.Resolve(bp, base, assigned, prompter)
	if err != nil {
		return err
	}

	runID := uuid.NewString()

	var rec *recorder.Recorder
	if runRecord != "" {
		factory, rec = recordingFactory(cfg, factory, log)
		secrets := make([]string, 0, len(runRedact))
		for _, name := range runRedact {
			if v, ok := vars[name]; ok {
				secrets = append(secrets, fmt.Sprint(v))
			}
		}
		defer func() {
			if rec == nil {
				return
			}
			rec.SetSecrets(secrets...)
			rec.SetInputs(vars)
			if err := rec.Save(runRecord); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to record scenario: %v\n", err)
			} else {
				fmt.Printf("  Recorded: %s/scenario.yaml\n", runRecord)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	modeCfg := cfg.ModeConfig(factory, resolver, nil, log)
	if runArtifacts != "" {
		modeCfg.Direct.Artifacts = artifactSink(filepath.Join(runArtifacts, runID), log)
	}

	fmt.Printf("Run ID: %s\n", runID)
	fmt.Printf("Mode: %s\n", modeCfg.Mode)

	var result *engine.RunResult
	switch {
	case modeCfg.Mode == mode.Workflow:
		result, err = runWorkflow(ctx, cfg, modeCfg, runID, bp, vars, log)
		if err != nil {
			return err
		}
	case runTUI:
		// Log lines would interleave with the live view.
		quiet := zap.NewNop().Sugar()
		result, err = tui.Run(ctx, bp, string(modeCfg.Mode), func(ctx context.Context, obs engine.Observer) *engine.RunResult {
			withObs := modeCfg
			withObs.Direct.Observer = obs
			return mode.NewSelector(withObs, quiet).RunDirect(ctx, mode.Request{RunID: runID, Blueprint: bp, Vars: vars})
		})
		if err != nil {
			return err
		}
	default:
		result = mode.NewSelector(modeCfg, log).Execute(ctx, mode.Request{RunID: runID, Blueprint: bp, Vars: vars}).Result
	}

	printRunResult(result)
	if !result.Success {
		return fmt.Errorf("run failed")
	}
	return nil
}

// recordingFactory wraps the configured provider factory so the provider
// of this run is captured.
func recordingFactory(cfg *config.Config, factory provider.Factory, log *zap.SugaredLogger) (provider.Factory, *recorder.Recorder) {
	if factory == nil {
		factory = cfg.ModeConfig(nil, nil, nil, log).Direct.Factory
	}
	if factory == nil {
		return nil, nil
	}
	return recorder.Factory(factory)
}

// artifactSink writes screenshots to dir/<tile id>.png.
func artifactSink(dir string, log *zap.SugaredLogger) provider.ArtifactSink {
	return func(_ context.Context, tileID string, data []byte) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Warnw("artifact dir", "error", err)
			return
		}
		path := filepath.Join(dir, tileID+".png")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			log.Warnw("write artifact", "tile_id", tileID, "error", err)
			return
		}
		log.Debugw("artifact saved", "tile_id", tileID, "path", path, "bytes", len(data))
	}
}

// runWorkflow starts the run under an in-process workflow engine and
// blocks until it reaches a terminal state. Cancelling ctx cancels the
// workflow.
func runWorkflow(ctx context.Context, cfg *config.Config, modeCfg mode.Config, runID string, bp *schema.Blueprint, vars map[string]any, log *zap.SugaredLogger) (*engine.RunResult, error) {
	direct := modeCfg
	direct.Mode = mode.Direct
	wf, err := workflow.New(workflow.Config{
		Run:         mode.NewSelector(direct, log).RunDirect,
		StateDir:    cfg.Execution.Workflow.StateDir,
		MaxParallel: cfg.Execution.Workflow.MaxParallel,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}
	modeCfg.Workflow.Engine = wf

	out := mode.NewSelector(modeCfg, log).Execute(ctx, mode.Request{RunID: runID, Blueprint: bp, Vars: vars})
	if out.Handle == nil {
		return out.Result, nil
	}
	fmt.Printf("Workflow: %s\n", out.Handle.ID)

	state, err := wf.Wait(ctx, *out.Handle)
	if err != nil && ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "  cancelling workflow...")
		_ = wf.Cancel(context.Background(), *out.Handle)
		state, err = wf.Wait(context.Background(), *out.Handle)
	}
	if err != nil {
		return nil, err
	}
	fmt.Printf("Workflow %s after %d attempt(s)\n", state.Status, state.Attempt)
	if state.Result == nil {
		return engine.Failure(errors.New(state.Error)), nil
	}
	return state.Result, nil
}

func printRunResult(result *engine.RunResult) {
	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
		return
	}
	for _, sr := range result.StepResults {
		glyph := "✓"
		if !sr.Completed() {
			glyph = "✗"
		}
		fmt.Printf("  %s %-24s %6dms", glyph, sr.StepID, sr.Duration)
		if sr.Error != "" {
			fmt.Printf("  %s", sr.Error)
		}
		fmt.Println()
	}
	if result.Success {
		fmt.Printf("\n✓ completed in %dms\n", result.Duration)
		for _, name := range sortedNames(result.Outputs) {
			fmt.Printf("  %s = %v\n", name, result.Outputs[name])
		}
		return
	}
	fmt.Printf("\n✗ failed: %s\n", result.Error)
}

func sortedNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "", "Execution mode: direct, delegated or workflow (overrides execution.mode)")
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "Set a variable (name=value), repeatable")
	runCmd.Flags().StringVar(&runVarsFile, "vars-file", "", "YAML file of variable values")
	runCmd.Flags().StringVar(&runScenario, "scenario", "", "Replay canned provider answers from this scenario directory")
	runCmd.Flags().StringVar(&runTraceDir, "trace-dir", "", "Write <dir>/<run id>/trace.jsonl (overrides trace.dir)")
	runCmd.Flags().StringVar(&runArtifacts, "artifacts", "", "Save screenshots under <dir>/<run id>/")
	runCmd.Flags().StringVar(&runRecord, "record", "", "Save the provider's answers as a replayable scenario in this directory")
	runCmd.Flags().StringSliceVar(&runRedact, "redact", nil, "Variables whose values are redacted in the recorded scenario")
	runCmd.Flags().BoolVar(&runPrompt, "prompt", false, "Prompt for required inputs that were not supplied")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show a live terminal view of the run")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the run result as JSON")

	rootCmd.AddCommand(runCmd)
}
