package mode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/ormasoftchile/blueprint/pkg/kernel/engine"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
	"github.com/ormasoftchile/blueprint/pkg/kernel/trace"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// DelegatedRequest is the body POSTed to a delegated endpoint.
type DelegatedRequest struct {
	RunID     string            `json:"runId"`
	Blueprint *schema.Blueprint `json:"blueprint"`
	Variables map[string]any    `json:"variables"`
}

// maxErrorBody bounds how much of a failed response is quoted.
const maxErrorBody = 512

// runDelegated posts the run to the configured endpoint and trusts a 2xx
// JSON body verbatim as the result.
func (s *Selector) runDelegated(ctx context.Context, req Request) *engine.RunResult {
	cfg := s.cfg.Delegated
	if cfg.Endpoint == "" {
		return engine.Failure(ErrNoEndpoint)
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	vars := req.Vars
	if vars == nil {
		vars = map[string]any{}
	}
	body, err := json.Marshal(DelegatedRequest{RunID: req.RunID, Blueprint: req.Blueprint, Variables: vars})
	if err != nil {
		return engine.Failure(fmt.Errorf("encode delegated request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return engine.Failure(fmt.Errorf("build delegated request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return engine.Failure(fmt.Errorf("delegated execution: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := fmt.Sprintf("delegated execution failed: HTTP %s", resp.Status)
		if len(bytes.TrimSpace(snippet)) > 0 {
			msg += ": " + string(bytes.TrimSpace(snippet))
		}
		return &engine.RunResult{Success: false, Error: msg}
	}

	var result engine.RunResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return engine.Failure(fmt.Errorf("decode delegated result: %w", err))
	}
	return &result
}

// openTrace creates <dir>/<runID>/trace.jsonl.
func openTrace(dir, runID string) (*trace.Writer, error) {
	if !ValidRunID(runID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}
	return trace.NewFileWriter(filepath.Join(dir, runID, "trace.jsonl"), runID)
}
