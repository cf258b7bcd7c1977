// Package recorder captures a live provider session as a replay scenario.
package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/blueprint/pkg/kernel/provider"
	"github.com/ormasoftchile/blueprint/pkg/kernel/replay"
)

const redacted = "<REDACTED>"

// Recorder wraps an ActionProvider and captures every answer it gives.
type Recorder struct {
	inner provider.ActionProvider

	mu       sync.Mutex
	scenario replay.Scenario
	started  bool
	secrets  []string
}

var _ provider.ActionProvider = (*Recorder)(nil)

// New creates a recording wrapper around an existing provider.
func New(inner provider.ActionProvider) *Recorder {
	return &Recorder{inner: inner}
}

// Factory wraps f so that the provider it creates is captured by the
// returned Recorder. Only the most recently created provider is recorded.
func Factory(f provider.Factory) (provider.Factory, *Recorder) {
	r := &Recorder{}
	wrapped := func(ctx context.Context) (provider.ActionProvider, error) {
		p, err := f(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.inner = p
		r.mu.Unlock()
		return r, nil
	}
	return wrapped, r
}

// SetSecrets configures values that are replaced with <REDACTED> in
// captured instructions and payloads.
func (r *Recorder) SetSecrets(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range values {
		if v != "" {
			r.secrets = append(r.secrets, v)
		}
	}
}

// SetInputs stores the run's variables in the captured scenario.
func (r *Recorder) SetInputs(vars map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenario.Inputs = make(map[string]any, len(vars))
	for k, v := range vars {
		r.scenario.Inputs[k] = r.redactValue(v)
	}
}

// Navigate implements provider.ActionProvider.
func (r *Recorder) Navigate(ctx context.Context, url string, opts provider.NavigateOptions) error {
	err := r.inner.Navigate(ctx, url, opts)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	if err != nil {
		if r.scenario.NavigateErrors == nil {
			r.scenario.NavigateErrors = map[string]string{}
		}
		r.scenario.NavigateErrors[r.redact(url)] = r.redact(err.Error())
	}
	return err
}

// Act implements provider.ActionProvider.
func (r *Recorder) Act(ctx context.Context, instruction string) (provider.ActResult, error) {
	res, err := r.inner.Act(ctx, instruction)
	resp := replay.ActResponse{Success: res.Success, Message: res.Message}
	if err != nil {
		resp = replay.ActResponse{Error: err.Error()}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	if r.scenario.Act == nil {
		r.scenario.Act = map[string][]replay.ActResponse{}
	}
	resp.Message = r.redact(resp.Message)
	resp.Error = r.redact(resp.Error)
	key := r.redact(instruction)
	r.scenario.Act[key] = append(r.scenario.Act[key], resp)
	return res, err
}

// Extract implements provider.ActionProvider. Failed extractions are not
// captured; replay reports a missing payload as an error on its own.
func (r *Recorder) Extract(ctx context.Context, instruction string, schema map[string]any) (any, error) {
	payload, err := r.inner.Extract(ctx, instruction, schema)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	if err == nil {
		if r.scenario.Extract == nil {
			r.scenario.Extract = map[string][]any{}
		}
		key := r.redact(instruction)
		r.scenario.Extract[key] = append(r.scenario.Extract[key], r.redactValue(payload))
	}
	return payload, err
}

// Screenshot implements provider.ActionProvider.
func (r *Recorder) Screenshot(ctx context.Context, opts provider.ScreenshotOptions) ([]byte, error) {
	img, err := r.inner.Screenshot(ctx, opts)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	if err == nil && len(img) > r.scenario.ScreenshotSize {
		r.scenario.ScreenshotSize = len(img)
	}
	return img, err
}

// CurrentURL implements provider.ActionProvider. The first answer seen
// before any other call becomes the scenario's starting URL.
func (r *Recorder) CurrentURL(ctx context.Context) (string, error) {
	url, err := r.inner.CurrentURL(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil && !r.started {
		r.scenario.CurrentURL = r.redact(url)
	}
	r.started = true
	return url, err
}

// Close implements provider.ActionProvider.
func (r *Recorder) Close(ctx context.Context) error {
	return r.inner.Close(ctx)
}

// Scenario returns a copy of what has been captured so far.
func (r *Recorder) Scenario() *replay.Scenario {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.scenario
	s.Act = make(map[string][]replay.ActResponse, len(r.scenario.Act))
	for k, v := range r.scenario.Act {
		s.Act[k] = append([]replay.ActResponse(nil), v...)
	}
	s.Extract = make(map[string][]any, len(r.scenario.Extract))
	for k, v := range r.scenario.Extract {
		s.Extract[k] = append([]any(nil), v...)
	}
	return &s
}

// Save writes the captured scenario to dir/scenario.yaml.
func (r *Recorder) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create scenario dir: %w", err)
	}
	data, err := yaml.Marshal(r.Scenario())
	if err != nil {
		return fmt.Errorf("marshal scenario: %w", err)
	}
	path := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write scenario: %w", err)
	}
	return nil
}

func (r *Recorder) redact(s string) string {
	for _, secret := range r.secrets {
		s = strings.ReplaceAll(s, secret, redacted)
	}
	return s
}

func (r *Recorder) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return r.redact(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = r.redactValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.redactValue(item)
		}
		return out
	default:
		return v
	}
}
