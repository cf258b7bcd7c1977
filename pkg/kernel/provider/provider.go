// Package provider defines the capabilities the engine consumes: the
// browser action provider and the credential resolver. Implementations
// live outside the kernel.
package provider

import (
	"context"
	"net/url"
	"strings"
)

// NavigateOptions controls page loading for Navigate.
type NavigateOptions struct {
	WaitUntil string `json:"waitUntil"` // load, domcontentloaded, networkidle
	TimeoutMs int    `json:"timeoutMs"`
}

// ScreenshotOptions controls image capture.
type ScreenshotOptions struct {
	FullPage bool `json:"fullPage"`
}

// ActResult is the outcome of a natural-language UI action.
type ActResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ActionProvider performs browser interaction on behalf of the engine.
// One instance belongs to exactly one run.
type ActionProvider interface {
	Navigate(ctx context.Context, url string, opts NavigateOptions) error
	Act(ctx context.Context, instruction string) (ActResult, error)
	Extract(ctx context.Context, instruction string, schema map[string]any) (any, error)
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	CurrentURL(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// Factory creates a fresh ActionProvider for a run.
type Factory func(ctx context.Context) (ActionProvider, error)

// Credential is a resolved login for a domain. It is never stored by the
// engine.
type Credential struct {
	Username string            `yaml:"username" json:"username"`
	Password string            `yaml:"password" json:"password"`
	Fields   map[string]string `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// Field returns the named credential field: username, password, or an
// entry of Fields.
func (c *Credential) Field(name string) (string, bool) {
	switch name {
	case "username":
		return c.Username, true
	case "password":
		return c.Password, true
	}
	v, ok := c.Fields[name]
	return v, ok
}

// CredentialResolver looks up the credential for a domain. A nil
// credential with a nil error means no match.
type CredentialResolver interface {
	Resolve(ctx context.Context, domain string) (*Credential, error)
}

// ArtifactSink receives raw screenshot bytes produced by a tile.
type ArtifactSink func(ctx context.Context, tileID string, data []byte)

// Domain returns the lower-cased hostname of rawURL, or rawURL itself when
// it does not parse as an absolute URL.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(u.Hostname())
}
