package testing

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ormasoftchile/blueprint/pkg/kernel/engine"
	"github.com/ormasoftchile/blueprint/pkg/kernel/replay"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
	"github.com/ormasoftchile/blueprint/pkg/kernel/trace"
	"github.com/ormasoftchile/blueprint/pkg/kernel/validate"
)

// TestResult is the result of running one scenario.
type TestResult struct {
	BlueprintName string            `json:"blueprint_name"`
	ScenarioName  string            `json:"scenario_name"`
	Status        string            `json:"status"` // passed, failed, skipped, error
	DurationMs    int64             `json:"duration_ms"`
	Assertions    []AssertionResult `json:"assertions,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// TestSummary aggregates counts across scenarios.
type TestSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// TestOutput is the top-level output of a test run.
type TestOutput struct {
	Blueprint string       `json:"blueprint"`
	Scenarios []TestResult `json:"scenarios"`
	Summary   TestSummary  `json:"summary"`
}

// Runner executes scenario-based tests against a blueprint.
type Runner struct {
	Timeout  time.Duration
	FailFast bool
	Logger   *zap.SugaredLogger
}

// ScenarioInfo describes a discovered scenario directory.
type ScenarioInfo struct {
	Name string
	Dir  string
}

// scenariosDir returns scenarios/<blueprint-name>/ next to the blueprint.
func scenariosDir(blueprintPath string) string {
	base := strings.TrimSuffix(filepath.Base(blueprintPath), filepath.Ext(blueprintPath))
	return filepath.Join(filepath.Dir(blueprintPath), "scenarios", base)
}

// DiscoverScenarios finds scenario directories for a blueprint.
// Convention: scenarios live in a sibling `scenarios/<blueprint-name>/`
// directory, each subdirectory containing a `scenario.yaml`.
func DiscoverScenarios(blueprintPath string) ([]ScenarioInfo, error) {
	dir := scenariosDir(blueprintPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read scenarios dir: %w", err)
	}

	var scenarios []ScenarioInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		scenarioFile := filepath.Join(dir, entry.Name(), "scenario.yaml")
		if _, err := os.Stat(scenarioFile); err == nil {
			scenarios = append(scenarios, ScenarioInfo{
				Name: entry.Name(),
				Dir:  filepath.Join(dir, entry.Name()),
			})
		}
	}
	return scenarios, nil
}

func loadValid(blueprintPath string) (*schema.Blueprint, error) {
	bp, errs := validate.ValidateFile(blueprintPath)
	if validate.HasErrors(errs) {
		msgs := make([]string, 0, len(errs))
		for _, e := range validate.Errors(errs) {
			msgs = append(msgs, e.Error())
		}
		return nil, fmt.Errorf("blueprint validation failed: %s", strings.Join(msgs, "; "))
	}
	return bp, nil
}

// RunAll discovers and runs all scenarios for a blueprint.
func (r *Runner) RunAll(ctx context.Context, blueprintPath string) (*TestOutput, error) {
	scenarios, err := DiscoverScenarios(blueprintPath)
	if err != nil {
		return nil, err
	}
	bp, err := loadValid(blueprintPath)
	if err != nil {
		return nil, err
	}

	output := &TestOutput{Blueprint: bp.Name}
	for _, si := range scenarios {
		result := r.runScenario(ctx, bp, si)
		output.Scenarios = append(output.Scenarios, result)

		switch result.Status {
		case "passed":
			output.Summary.Passed++
		case "failed":
			output.Summary.Failed++
		case "skipped":
			output.Summary.Skipped++
		case "error":
			output.Summary.Errors++
		}
		output.Summary.Total++

		if r.FailFast && (result.Status == "failed" || result.Status == "error") {
			break
		}
	}
	return output, nil
}

// RunScenario runs a single named scenario.
func (r *Runner) RunScenario(ctx context.Context, blueprintPath, scenarioName string) (*TestResult, error) {
	bp, err := loadValid(blueprintPath)
	if err != nil {
		return nil, err
	}
	si := ScenarioInfo{Name: scenarioName, Dir: filepath.Join(scenariosDir(blueprintPath), scenarioName)}
	result := r.runScenario(ctx, bp, si)
	return &result, nil
}

// runScenario executes a single scenario and evaluates its test spec.
func (r *Runner) runScenario(ctx context.Context, bp *schema.Blueprint, si ScenarioInfo) TestResult {
	start := time.Now()
	errResult := func(format string, args ...any) TestResult {
		return TestResult{
			BlueprintName: bp.Name,
			ScenarioName:  si.Name,
			Status:        "error",
			DurationMs:    time.Since(start).Milliseconds(),
			Error:         fmt.Sprintf(format, args...),
		}
	}

	scenario, err := replay.LoadScenarioDir(si.Dir)
	if err != nil {
		return errResult("load scenario: %s", err)
	}

	// No test.yaml: nothing to assert, skip.
	testSpecPath := filepath.Join(si.Dir, "test.yaml")
	if _, err := os.Stat(testSpecPath); err != nil {
		return TestResult{
			BlueprintName: bp.Name,
			ScenarioName:  si.Name,
			Status:        "skipped",
			DurationMs:    time.Since(start).Milliseconds(),
		}
	}
	spec, err := LoadTestSpec(testSpecPath)
	if err != nil {
		return errResult("load test spec: %s", err)
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	runID := "test-" + si.Name
	var traceBuf bytes.Buffer
	p := replay.NewProvider(scenario)
	eng := engine.New(engine.RunConfig{
		RunID:    runID,
		Provider: p,
		Resolver: scenario.Resolver(),
		Trace:    trace.NewWriter(&traceBuf, runID),
		Logger:   r.Logger,
	})
	result := eng.Run(ctx, bp, scenario.Inputs)
	p.Close(ctx)

	if ctx.Err() == context.DeadlineExceeded {
		return errResult("timeout")
	}

	assertions := Evaluate(spec, result)
	status := "passed"
	if HasFailures(assertions) {
		status = "failed"
	}
	return TestResult{
		BlueprintName: bp.Name,
		ScenarioName:  si.Name,
		Status:        status,
		DurationMs:    time.Since(start).Milliseconds(),
		Assertions:    assertions,
	}
}
