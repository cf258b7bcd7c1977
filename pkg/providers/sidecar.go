// Package providers implements action providers that drive a real browser.
// SidecarProvider talks to a browser-automation sidecar process over
// newline-delimited JSON-RPC 2.0 on its stdio.
package providers

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ormasoftchile/blueprint/pkg/kernel/provider"
)

// Sidecar method names.
const (
	MethodNavigate   = "navigate"
	MethodAct        = "act"
	MethodExtract    = "extract"
	MethodScreenshot = "screenshot"
	MethodCurrentURL = "currentUrl"
	MethodClose      = "close"
)

// SidecarConfig describes how to launch the sidecar.
type SidecarConfig struct {
	Command        string
	Args           []string
	Env            []string      // appended to the current environment
	ReadySignal    string        // stderr line marker; empty means ready at once
	StartupTimeout time.Duration // default 10s
	CloseTimeout   time.Duration // grace period for close before kill; default 5s
	Logger         *zap.SugaredLogger
}

func (c SidecarConfig) withDefaults() SidecarConfig {
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 10 * time.Second
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	return c
}

// SidecarProvider implements provider.ActionProvider over JSON-RPC.
type SidecarProvider struct {
	conn         *rpcConn
	stdin        io.Closer
	cmd          *exec.Cmd
	exited       chan struct{} // closed when the process exits; nil for stream providers
	closeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

var _ provider.ActionProvider = (*SidecarProvider)(nil)

// NewStreamProvider creates a provider over an existing stream pair, for a
// sidecar started elsewhere. Close closes w.
func NewStreamProvider(r io.Reader, w io.WriteCloser) *SidecarProvider {
	return &SidecarProvider{conn: newRPCConn(r, w), stdin: w, closeTimeout: 5 * time.Second}
}

// StartSidecar launches the sidecar and waits for its ready signal.
func StartSidecar(ctx context.Context, cfg SidecarConfig) (*SidecarProvider, error) {
	cfg = cfg.withDefaults()
	if cfg.Command == "" {
		return nil, errors.New("sidecar command is required")
	}
	log := cfg.Logger.With("sidecar", cfg.Command)

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start sidecar %q: %w", cfg.Command, err)
	}

	exited := make(chan struct{})
	p := &SidecarProvider{
		stdin:        stdin,
		cmd:          cmd,
		exited:       exited,
		closeTimeout: cfg.CloseTimeout,
	}

	// stderr is drained for the life of the process; the ready signal, if
	// any, is reported on readyCh.
	readyCh := make(chan error, 1)
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		ready := cfg.ReadySignal == ""
		for scanner.Scan() {
			line := scanner.Text()
			log.Debugw("sidecar stderr", "line", line)
			if !ready && strings.Contains(line, cfg.ReadySignal) {
				ready = true
				readyCh <- nil
			}
		}
		if !ready {
			readyCh <- fmt.Errorf("sidecar exited before ready signal %q", cfg.ReadySignal)
		}
	}()

	// Wait closes the pipes, so it runs only once both readers hit EOF.
	p.conn = newRPCConn(stdout, stdin)
	go func() {
		<-p.conn.done
		<-stderrDone
		_ = cmd.Wait()
		close(exited)
	}()

	if cfg.ReadySignal != "" {
		timer := time.NewTimer(cfg.StartupTimeout)
		defer timer.Stop()
		select {
		case err := <-readyCh:
			if err != nil {
				p.kill()
				return nil, err
			}
		case <-timer.C:
			p.kill()
			return nil, fmt.Errorf("sidecar %q did not emit ready signal %q within %v", cfg.Command, cfg.ReadySignal, cfg.StartupTimeout)
		case <-ctx.Done():
			p.kill()
			return nil, ctx.Err()
		}
	}
	log.Debugw("sidecar ready", "pid", cmd.Process.Pid)
	return p, nil
}

// SidecarFactory returns a provider.Factory that launches one sidecar
// process per run.
func SidecarFactory(cfg SidecarConfig) provider.Factory {
	return func(ctx context.Context) (provider.ActionProvider, error) {
		return StartSidecar(ctx, cfg)
	}
}

type navigateParams struct {
	URL       string `json:"url"`
	WaitUntil string `json:"waitUntil,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// Navigate implements provider.ActionProvider.
func (p *SidecarProvider) Navigate(ctx context.Context, url string, opts provider.NavigateOptions) error {
	return p.conn.Call(ctx, MethodNavigate, navigateParams{URL: url, WaitUntil: opts.WaitUntil, TimeoutMs: opts.TimeoutMs}, nil)
}

// Act implements provider.ActionProvider.
func (p *SidecarProvider) Act(ctx context.Context, instruction string) (provider.ActResult, error) {
	var res struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := p.conn.Call(ctx, MethodAct, map[string]string{"instruction": instruction}, &res); err != nil {
		return provider.ActResult{}, err
	}
	return provider.ActResult{Success: res.Success, Message: res.Message}, nil
}

// Extract implements provider.ActionProvider.
func (p *SidecarProvider) Extract(ctx context.Context, instruction string, schema map[string]any) (any, error) {
	params := map[string]any{"instruction": instruction}
	if schema != nil {
		params["schema"] = schema
	}
	var res any
	if err := p.conn.Call(ctx, MethodExtract, params, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Screenshot implements provider.ActionProvider. The sidecar returns the
// image base64-encoded.
func (p *SidecarProvider) Screenshot(ctx context.Context, opts provider.ScreenshotOptions) ([]byte, error) {
	var res struct {
		Data string `json:"data"`
	}
	if err := p.conn.Call(ctx, MethodScreenshot, map[string]bool{"fullPage": opts.FullPage}, &res); err != nil {
		return nil, err
	}
	img, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}

// CurrentURL implements provider.ActionProvider.
func (p *SidecarProvider) CurrentURL(ctx context.Context) (string, error) {
	var res struct {
		URL string `json:"url"`
	}
	if err := p.conn.Call(ctx, MethodCurrentURL, nil, &res); err != nil {
		return "", err
	}
	return res.URL, nil
}

// Close asks the sidecar to release the browser, then stops the process.
// Only the first call has any effect.
func (p *SidecarProvider) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		cctx, cancel := context.WithTimeout(ctx, p.closeTimeout)
		defer cancel()
		p.closeErr = p.conn.Call(cctx, MethodClose, nil, nil)
		if errors.Is(p.closeErr, ErrConnClosed) {
			p.closeErr = nil
		}
		p.stdin.Close()

		if p.exited == nil {
			return
		}
		select {
		case <-p.exited:
		case <-cctx.Done():
			p.kill()
		}
	})
	return p.closeErr
}

// kill terminates the process.
func (p *SidecarProvider) kill() {
	p.stdin.Close()
	if p.exited != nil {
		select {
		case <-p.exited:
			return
		default:
		}
	}
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}
