// Package testing implements the scenario-based blueprint test harness.
// It replays blueprints against canned scenarios and evaluates assertions
// on the run result, visited tiles and captured outputs.
package testing

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/blueprint/pkg/kernel/engine"
	"github.com/ormasoftchile/blueprint/pkg/kernel/eval"
)

// TestSpec declares what to assert about a scenario replay result.
// All fields are optional; omitted fields produce no assertions.
type TestSpec struct {
	Description     string            `yaml:"description,omitempty" json:"description,omitempty"`
	ExpectedSuccess *bool             `yaml:"expected_success,omitempty" json:"expected_success,omitempty"`
	ExpectedError   string            `yaml:"expected_error,omitempty" json:"expected_error,omitempty"`     // substring or /regex/
	MustReach       []string          `yaml:"must_reach,omitempty" json:"must_reach,omitempty"`             // tile IDs that must run
	MustNotReach    []string          `yaml:"must_not_reach,omitempty" json:"must_not_reach,omitempty"`     // tile IDs that must not run
	ExpectedOutputs map[string]string `yaml:"expected_outputs,omitempty" json:"expected_outputs,omitempty"` // variable → expected value
	Expect          []string          `yaml:"expect,omitempty" json:"expect,omitempty"`                     // boolean expr-lang expressions
	Tags            []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// LoadTestSpec loads a test spec from a YAML file.
func LoadTestSpec(path string) (*TestSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test spec: %w", err)
	}
	return ParseTestSpec(data)
}

// ParseTestSpec parses test spec YAML.
func ParseTestSpec(data []byte) (*TestSpec, error) {
	var s TestSpec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse test spec: %w", err)
	}
	return &s, nil
}

// AssertionResult is the result of a single assertion.
type AssertionResult struct {
	Type     string `json:"type"` // expected_success, expected_error, must_reach, ...
	Key      string `json:"key,omitempty"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
}

// Evaluate runs all assertions from a TestSpec against a run result.
func Evaluate(spec *TestSpec, run *engine.RunResult) []AssertionResult {
	var results []AssertionResult

	if spec.ExpectedSuccess != nil {
		want, got := *spec.ExpectedSuccess, run.Success
		results = append(results, AssertionResult{
			Type:     "expected_success",
			Expected: fmt.Sprint(want),
			Actual:   fmt.Sprint(got),
			Passed:   want == got,
			Message:  fmt.Sprintf("success: expected %v, got %v", want, got),
		})
	}

	if spec.ExpectedError != "" {
		results = append(results, AssertionResult{
			Type:     "expected_error",
			Expected: spec.ExpectedError,
			Actual:   run.Error,
			Passed:   matchError(spec.ExpectedError, run.Error),
			Message:  fmt.Sprintf("error: expected %q, got %q", spec.ExpectedError, run.Error),
		})
	}

	visitedSet := make(map[string]bool, len(run.StepResults))
	for _, id := range run.Visited() {
		visitedSet[id] = true
	}

	for _, id := range spec.MustReach {
		passed := visitedSet[id]
		results = append(results, AssertionResult{
			Type:     "must_reach",
			Key:      id,
			Expected: "visited",
			Actual:   boolToVisited(passed),
			Passed:   passed,
			Message:  fmt.Sprintf("must_reach %q: %s", id, boolToVisited(passed)),
		})
	}

	for _, id := range spec.MustNotReach {
		visited := visitedSet[id]
		results = append(results, AssertionResult{
			Type:     "must_not_reach",
			Key:      id,
			Expected: "not visited",
			Actual:   boolToVisited(visited),
			Passed:   !visited,
			Message:  fmt.Sprintf("must_not_reach %q: %s", id, boolToVisited(visited)),
		})
	}

	for _, key := range sortedKeys(spec.ExpectedOutputs) {
		expected := spec.ExpectedOutputs[key]
		actual := ""
		if v, ok := run.Outputs[key]; ok {
			actual = eval.Stringify(v)
		}
		results = append(results, AssertionResult{
			Type:     "expected_output",
			Key:      key,
			Expected: expected,
			Actual:   actual,
			Passed:   compareValue(expected, actual),
			Message:  fmt.Sprintf("output %q: expected %q, got %q", key, expected, actual),
		})
	}

	if len(spec.Expect) > 0 {
		env := exprEnv(run)
		for _, e := range spec.Expect {
			passed, err := evalExpect(e, env)
			r := AssertionResult{Type: "expect", Key: e, Expected: "true", Actual: fmt.Sprint(passed), Passed: passed}
			if err != nil {
				r.Actual = "error"
				r.Message = err.Error()
			} else {
				r.Message = fmt.Sprintf("expect %s: %v", e, passed)
			}
			results = append(results, r)
		}
	}

	return results
}

// exprEnv exposes the run to expect expressions:
// success, error, outputs, visited and steps (id → status).
func exprEnv(run *engine.RunResult) map[string]any {
	steps := make(map[string]any, len(run.StepResults))
	for _, sr := range run.StepResults {
		steps[sr.StepID] = string(sr.Status)
	}
	outputs := run.Outputs
	if outputs == nil {
		outputs = map[string]any{}
	}
	return map[string]any{
		"success": run.Success,
		"error":   run.Error,
		"outputs": outputs,
		"visited": run.Visited(),
		"steps":   steps,
	}
}

// evalExpect evaluates a boolean expression using expr-lang.
func evalExpect(exprStr string, env map[string]any) (bool, error) {
	program, err := expr.Compile(strings.TrimSpace(exprStr), expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile expect %q: %w", exprStr, err)
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval expect %q: %w", exprStr, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("expect %q did not return bool (got %T)", exprStr, output)
	}
	return result, nil
}

// HasFailures returns true if any assertion failed.
func HasFailures(results []AssertionResult) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}

// compareValue supports two match modes:
//   - /pattern/ → regex match
//   - exact string equality (default)
func compareValue(expected, actual string) bool {
	if re, ok := regexLiteral(expected); ok {
		return re != nil && re.MatchString(actual)
	}
	return expected == actual
}

// matchError is like compareValue but uses substring matching by default.
func matchError(expected, actual string) bool {
	if re, ok := regexLiteral(expected); ok {
		return re != nil && re.MatchString(actual)
	}
	return strings.Contains(actual, expected)
}

// regexLiteral parses /pattern/. ok is true for the /.../ form; re is nil
// when the pattern does not compile.
func regexLiteral(s string) (re *regexp.Regexp, ok bool) {
	if len(s) <= 2 || !strings.HasPrefix(s, "/") || !strings.HasSuffix(s, "/") {
		return nil, false
	}
	re, err := regexp.Compile(s[1 : len(s)-1])
	if err != nil {
		return nil, true
	}
	return re, true
}

func boolToVisited(b bool) string {
	if b {
		return "visited"
	}
	return "not visited"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
