// Package replay provides a scenario-driven action provider. A scenario
// holds canned provider answers so blueprints can be executed
// deterministically without a browser.
package replay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/blueprint/pkg/kernel/provider"
)

// Scenario is the top-level replay scenario document.
type Scenario struct {
	// Inputs are variable values to seed the run with.
	Inputs map[string]any `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// CurrentURL is reported before the first navigation.
	CurrentURL string `yaml:"current_url,omitempty" json:"current_url,omitempty"`

	// Act maps an exact instruction to responses consumed in order. The
	// last response repeats once the list is exhausted. Instructions with
	// no entry succeed.
	Act map[string][]ActResponse `yaml:"act,omitempty" json:"act,omitempty"`

	// Extract maps an instruction to payloads consumed in order.
	Extract map[string][]any `yaml:"extract,omitempty" json:"extract,omitempty"`

	// NavigateErrors maps a URL to the error navigation to it raises.
	NavigateErrors map[string]string `yaml:"navigate_errors,omitempty" json:"navigate_errors,omitempty"`

	// ScreenshotSize is the byte length of the fake image returned.
	ScreenshotSize int `yaml:"screenshot_size,omitempty" json:"screenshot_size,omitempty"`

	// Credentials maps domain → credential for AUTH and TYPE tiles.
	Credentials map[string]provider.Credential `yaml:"credentials,omitempty" json:"credentials,omitempty"`
}

// ActResponse is a single canned answer to Act. A non-empty Error makes
// the call itself fail instead of reporting success=false.
type ActResponse struct {
	Success bool   `yaml:"success" json:"success"`
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
	Error   string `yaml:"error,omitempty" json:"error,omitempty"`
}

// LoadScenario loads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	return &s, nil
}

// LoadScenarioDir loads a scenario from a directory containing scenario.yaml.
func LoadScenarioDir(dir string) (*Scenario, error) {
	return LoadScenario(filepath.Join(dir, "scenario.yaml"))
}

// Resolver returns a credential resolver over the scenario's credentials,
// or nil when it declares none.
func (s *Scenario) Resolver() provider.CredentialResolver {
	if len(s.Credentials) == 0 {
		return nil
	}
	return provider.NewStaticResolver(s.Credentials)
}

// Call is one recorded provider invocation.
type Call struct {
	Method string `json:"method"`
	Arg    string `json:"arg,omitempty"`
}

// Provider implements provider.ActionProvider from a scenario. It is safe
// for concurrent use.
type Provider struct {
	mu       sync.Mutex
	scenario *Scenario
	url      string
	consumed map[string]int
	calls    []Call
	closed   int
}

// NewProvider creates a replay provider from a scenario.
func NewProvider(s *Scenario) *Provider {
	if s == nil {
		s = &Scenario{}
	}
	return &Provider{scenario: s, url: s.CurrentURL, consumed: make(map[string]int)}
}

// Factory returns a provider.Factory producing fresh replay providers.
// Every provider it creates is passed to track, when non-nil.
func Factory(s *Scenario, track func(*Provider)) provider.Factory {
	return func(context.Context) (provider.ActionProvider, error) {
		p := NewProvider(s)
		if track != nil {
			track(p)
		}
		return p, nil
	}
}

func (p *Provider) record(method, arg string) {
	p.calls = append(p.calls, Call{Method: method, Arg: arg})
}

// next returns the index of the next canned answer for key, repeating the
// last one when the list of length n is exhausted.
func (p *Provider) next(kind, key string, n int) int {
	k := kind + ":" + key
	idx := p.consumed[k]
	p.consumed[k] = idx + 1
	if idx >= n {
		return n - 1
	}
	return idx
}

// Navigate implements provider.ActionProvider.
func (p *Provider) Navigate(_ context.Context, url string, _ provider.NavigateOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("navigate", url)
	if msg, ok := p.scenario.NavigateErrors[url]; ok {
		return errors.New(msg)
	}
	p.url = url
	return nil
}

// Act implements provider.ActionProvider.
func (p *Provider) Act(_ context.Context, instruction string) (provider.ActResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("act", instruction)
	responses := p.scenario.Act[instruction]
	if len(responses) == 0 {
		return provider.ActResult{Success: true}, nil
	}
	resp := responses[p.next("act", instruction, len(responses))]
	if resp.Error != "" {
		return provider.ActResult{}, errors.New(resp.Error)
	}
	return provider.ActResult{Success: resp.Success, Message: resp.Message}, nil
}

// Extract implements provider.ActionProvider.
func (p *Provider) Extract(_ context.Context, instruction string, _ map[string]any) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("extract", instruction)
	payloads := p.scenario.Extract[instruction]
	if len(payloads) == 0 {
		return nil, fmt.Errorf("replay: no canned payload for extract %q", instruction)
	}
	return payloads[p.next("extract", instruction, len(payloads))], nil
}

// Screenshot implements provider.ActionProvider.
func (p *Provider) Screenshot(_ context.Context, opts provider.ScreenshotOptions) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("screenshot", fmt.Sprint(opts.FullPage))
	size := p.scenario.ScreenshotSize
	if size <= 0 {
		size = 1
	}
	return make([]byte, size), nil
}

// CurrentURL implements provider.ActionProvider.
func (p *Provider) CurrentURL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("currentUrl", "")
	return p.url, nil
}

// Close implements provider.ActionProvider.
func (p *Provider) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("close", "")
	p.closed++
	return nil
}

// Calls returns a copy of the recorded invocations.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallCount returns how many times method was invoked with arg. An empty
// arg matches any argument.
func (p *Provider) CallCount(method, arg string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Method == method && (arg == "" || c.Arg == arg) {
			n++
		}
	}
	return n
}

// Closed returns how many times Close was called.
func (p *Provider) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
