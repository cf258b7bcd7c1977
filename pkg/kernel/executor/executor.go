// Package executor dispatches a single tile to the action provider and
// turns the outcome into a step result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ormasoftchile/blueprint/pkg/kernel/eval"
	"github.com/ormasoftchile/blueprint/pkg/kernel/provider"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
)

// Status is the lifecycle state of a step.
type Status string

const (
	StatusRunning   Status = "running" // observer notifications only
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StepResult is the immutable record of one tile execution.
type StepResult struct {
	StepID   string `json:"stepId"`
	Status   Status `json:"status"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration int64  `json:"duration,omitempty"` // milliseconds
}

// Completed reports whether the step finished successfully.
func (r StepResult) Completed() bool { return r.Status == StatusCompleted }

// Env is everything a tile may touch while it runs.
type Env struct {
	Provider  provider.ActionProvider
	Vars      map[string]any // read-only view of the merged variable bag
	Resolver  provider.CredentialResolver
	Artifacts provider.ArtifactSink
}

// Outcome is the result of dispatching one tile plus any variables it
// captured.
type Outcome struct {
	Result  StepResult
	Outputs map[string]any
}

// Default instructions used by AUTH tiles.
const (
	DefaultUsernameField = "username field"
	DefaultPasswordField = "password field"
	DefaultSubmitButton  = "submit button"
)

// Dispatch executes one tile. It never returns an error and never panics:
// every failure, including a panicking provider, becomes a failed
// StepResult.
func Dispatch(ctx context.Context, tile schema.Tile, env Env) (out Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Result: StepResult{
				StepID: tile.ID,
				Status: StatusFailed,
				Error:  fmt.Sprintf("%s %s: panic: %v", tile.Type, tile.ID, r),
			}}
		}
		out.Result.Duration = time.Since(start).Milliseconds()
	}()

	if env.Provider == nil {
		return failed(tile.ID, errors.New("no action provider"))
	}

	payload, outputs, err := run(ctx, tile, env)
	if err != nil {
		return failed(tile.ID, err)
	}
	return Outcome{
		Result:  StepResult{StepID: tile.ID, Status: StatusCompleted, Result: payload},
		Outputs: outputs,
	}
}

func failed(id string, err error) Outcome {
	return Outcome{Result: StepResult{StepID: id, Status: StatusFailed, Error: err.Error()}}
}

func run(ctx context.Context, tile schema.Tile, env Env) (any, map[string]any, error) {
	p := env.Provider
	switch params := tile.Parameters().(type) {
	case *schema.NavigateParams:
		url := eval.Interpolate(params.URL, env.Vars)
		err := p.Navigate(ctx, url, provider.NavigateOptions{
			WaitUntil: params.WaitStrategy(),
			TimeoutMs: params.TimeoutMs(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("navigate %s: %w", url, err)
		}
		return map[string]any{"url": url}, nil, nil

	case *schema.ClickParams:
		res, err := act(ctx, p, "Click on "+eval.Interpolate(params.Instruction, env.Vars), "click")
		return res, nil, err

	case *schema.TypeParams:
		return typeText(ctx, params, env)

	case *schema.AuthParams:
		return authenticate(ctx, params, env)

	case *schema.ExtractParams:
		instr := eval.Interpolate(params.Instruction, env.Vars)
		data, err := p.Extract(ctx, instr, params.Schema)
		if err != nil {
			return nil, nil, fmt.Errorf("extract: %w", err)
		}
		var outputs map[string]any
		if params.OutputVariable != "" {
			outputs = map[string]any{params.OutputVariable: data}
		}
		return data, outputs, nil

	case *schema.ScreenshotParams:
		img, err := p.Screenshot(ctx, provider.ScreenshotOptions{FullPage: params.FullPage})
		if err != nil {
			return nil, nil, fmt.Errorf("screenshot: %w", err)
		}
		if env.Artifacts != nil {
			env.Artifacts(ctx, tile.ID, img)
		}
		return map[string]any{"size": len(img), "type": "image/png"}, nil, nil

	case *schema.WaitParams:
		d := time.Duration(params.DurationMs()) * time.Millisecond
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return map[string]any{"waited": params.DurationMs()}, nil, nil
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("wait interrupted: %w", ctx.Err())
		}

	case *schema.SelectParams:
		value := eval.Interpolate(params.Value, env.Vars)
		instr := eval.Interpolate(params.Instruction, env.Vars)
		res, err := act(ctx, p, fmt.Sprintf("Select %s from %s", value, instr), "select")
		return res, nil, err

	case *schema.FormParams:
		for i, f := range params.Fields {
			value := fieldValue(f.Value, f.Variable, env.Vars)
			instr := eval.Interpolate(f.Instruction, env.Vars)
			if _, err := act(ctx, p, fmt.Sprintf("Type %s into %s", value, instr), "type"); err != nil {
				return nil, nil, fmt.Errorf("form field %d (%s): %w", i, instr, err)
			}
		}
		return map[string]any{"fields": len(params.Fields)}, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown step kind %q", tile.Type)
	}
}

// act performs a natural-language action and converts an unsuccessful
// report into an error. label names the action in errors so that typed
// values never appear in messages.
func act(ctx context.Context, p provider.ActionProvider, instruction, label string) (provider.ActResult, error) {
	res, err := p.Act(ctx, instruction)
	if err != nil {
		return res, fmt.Errorf("%s: %w", label, err)
	}
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "provider reported failure"
		}
		return res, fmt.Errorf("%s failed: %s", label, msg)
	}
	return res, nil
}

// fieldValue resolves the literal-then-variable value of TYPE and FORM.
func fieldValue(literal, variable string, vars map[string]any) string {
	if literal != "" {
		return eval.Interpolate(literal, vars)
	}
	if variable != "" {
		return eval.Stringify(vars[variable])
	}
	return ""
}

func typeText(ctx context.Context, params *schema.TypeParams, env Env) (any, map[string]any, error) {
	instr := eval.Interpolate(params.Instruction, env.Vars)
	var value string
	switch {
	case params.Value != "" || params.Variable != "":
		value = fieldValue(params.Value, params.Variable, env.Vars)
	case params.CredentialField != "":
		if env.Resolver == nil {
			return nil, nil, fmt.Errorf("no credential resolver configured for credentialField %q", params.CredentialField)
		}
		cred, domain, err := resolveCredential(ctx, env)
		if err != nil {
			return nil, nil, err
		}
		v, ok := cred.Field(params.CredentialField)
		if !ok {
			return nil, nil, fmt.Errorf("credential for domain %s has no field %q", domain, params.CredentialField)
		}
		value = v
	}
	res, err := act(ctx, env.Provider, fmt.Sprintf("Type %s into %s", value, instr), "type into "+instr)
	return res, nil, err
}

func authenticate(ctx context.Context, params *schema.AuthParams, env Env) (any, map[string]any, error) {
	if env.Resolver == nil {
		return nil, nil, errors.New("AUTH requires a credential resolver: no credential resolver configured")
	}
	cred, domain, err := resolveCredential(ctx, env)
	if err != nil {
		return nil, nil, err
	}
	userField := orDefault(eval.Interpolate(params.UsernameField, env.Vars), DefaultUsernameField)
	passField := orDefault(eval.Interpolate(params.PasswordField, env.Vars), DefaultPasswordField)
	submit := orDefault(eval.Interpolate(params.SubmitButton, env.Vars), DefaultSubmitButton)

	if _, err := act(ctx, env.Provider, fmt.Sprintf("Type %s into %s", cred.Username, userField), "username entry"); err != nil {
		return nil, nil, fmt.Errorf("auth: %w", err)
	}
	if _, err := act(ctx, env.Provider, fmt.Sprintf("Type %s into %s", cred.Password, passField), "password entry"); err != nil {
		return nil, nil, fmt.Errorf("auth: %w", err)
	}
	if _, err := act(ctx, env.Provider, "Click on "+submit, "submit"); err != nil {
		return nil, nil, fmt.Errorf("auth: %w", err)
	}
	return map[string]any{"domain": domain, "authenticated": true}, nil, nil
}

// resolveCredential looks up the credential for the current page's domain.
func resolveCredential(ctx context.Context, env Env) (*provider.Credential, string, error) {
	current, err := env.Provider.CurrentURL(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("current url: %w", err)
	}
	domain := provider.Domain(current)
	cred, err := env.Resolver.Resolve(ctx, domain)
	if err != nil {
		return nil, domain, fmt.Errorf("resolve credentials for domain %s: %w", domain, err)
	}
	if cred == nil {
		return nil, domain, fmt.Errorf("no credentials found for domain %s", domain)
	}
	return cred, domain, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
