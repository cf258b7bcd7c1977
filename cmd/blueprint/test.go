package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	ktesting "github.com/ormasoftchile/blueprint/pkg/kernel/testing"
)

var (
	testScenario string
	testJSON     bool
	testFailFast bool
	testTimeout  string
)

var testCmd = &cobra.Command{
	Use:   "test [blueprint.yaml...]",
	Short: "Run scenario replay tests for blueprints",
	Long: `Discover scenarios for each blueprint, replay them, and compare against test.yaml assertions.

Scenarios are discovered by convention at:
  {blueprint-dir}/scenarios/{blueprint-name}/*/scenario.yaml

Only scenarios with a test.yaml file are asserted. Scenarios without
test.yaml are reported as skipped.

Exit codes:
  0  all asserted tests passed
  1  at least one asserted test failed
  2  blueprint validation failed (no tests ran)`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTest,
}

func runTest(cmd *cobra.Command, args []string) error {
	timeout := 30 * time.Second
	if testTimeout != "" {
		d, err := time.ParseDuration(testTimeout)
		if err != nil {
			return fmt.Errorf("invalid --timeout %q: %w", testTimeout, err)
		}
		timeout = d
	}
	if testScenario != "" && len(args) > 1 {
		return fmt.Errorf("--scenario takes a single blueprint")
	}

	_, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runner := &ktesting.Runner{Timeout: timeout, FailFast: testFailFast, Logger: log}
	allPassed := true
	hasValidationError := false

	for _, path := range args {
		output, err := testOne(ctx, runner, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  ✗ %s: %v\n", path, err)
			hasValidationError = true
			continue
		}

		if testJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.Encode(output)
		} else {
			printTestOutput(output)
		}

		if output.Summary.Failed > 0 || output.Summary.Errors > 0 {
			allPassed = false
		}
		if testFailFast && !allPassed {
			break
		}
	}

	if hasValidationError {
		os.Exit(2)
	}
	if !allPassed {
		os.Exit(1)
	}
	return nil
}

// testOne runs every scenario of path, or only --scenario when set.
func testOne(ctx context.Context, runner *ktesting.Runner, path string) (*ktesting.TestOutput, error) {
	if testScenario == "" {
		return runner.RunAll(ctx, path)
	}
	result, err := runner.RunScenario(ctx, path, testScenario)
	if err != nil {
		return nil, err
	}
	return summarize(result.BlueprintName, []ktesting.TestResult{*result}), nil
}

// summarize counts results by status.
func summarize(blueprint string, results []ktesting.TestResult) *ktesting.TestOutput {
	out := &ktesting.TestOutput{Blueprint: blueprint, Scenarios: results}
	for _, r := range results {
		out.Summary.Total++
		switch r.Status {
		case "passed":
			out.Summary.Passed++
		case "failed":
			out.Summary.Failed++
		case "skipped":
			out.Summary.Skipped++
		case "error":
			out.Summary.Errors++
		}
	}
	return out
}

func printTestOutput(output *ktesting.TestOutput) {
	fmt.Printf("\n  %s\n", output.Blueprint)
	for _, s := range output.Scenarios {
		switch s.Status {
		case "passed":
			fmt.Printf("    ✓ %-30s  %dms\n", s.ScenarioName, s.DurationMs)
		case "failed":
			fmt.Printf("    ✗ %-30s  %dms\n", s.ScenarioName, s.DurationMs)
			for _, a := range s.Assertions {
				if !a.Passed {
					fmt.Printf("        %s: %s\n", a.Type, a.Message)
				}
			}
		case "skipped":
			fmt.Printf("    ○ %-30s (no test.yaml)  %dms\n", s.ScenarioName, s.DurationMs)
		case "error":
			fmt.Printf("    ✗ %-30s ERROR: %s\n", s.ScenarioName, s.Error)
		}
	}
	fmt.Printf("\n  %d scenarios, %d passed, %d failed, %d skipped\n",
		output.Summary.Total, output.Summary.Passed, output.Summary.Failed, output.Summary.Skipped)
	if output.Summary.Errors > 0 {
		fmt.Printf("  %d errors\n", output.Summary.Errors)
	}
}

func init() {
	testCmd.Flags().StringVar(&testScenario, "scenario", "", "Run only the named scenario")
	testCmd.Flags().BoolVar(&testJSON, "json", false, "Output results as JSON")
	testCmd.Flags().BoolVar(&testFailFast, "fail-fast", false, "Stop after first failure")
	testCmd.Flags().StringVar(&testTimeout, "timeout", "30s", "Per-scenario timeout")
	rootCmd.AddCommand(testCmd)
}
