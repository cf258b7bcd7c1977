package provider

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// StaticResolver resolves credentials from a fixed domain → credential
// table. Keys are matched case-insensitively; a key of the form
// "*.example.com" matches any subdomain.
type StaticResolver struct {
	entries map[string]Credential
}

// NewStaticResolver builds a resolver over the given table.
func NewStaticResolver(entries map[string]Credential) *StaticResolver {
	r := &StaticResolver{entries: make(map[string]Credential, len(entries))}
	for k, v := range entries {
		r.entries[strings.ToLower(k)] = v
	}
	return r
}

// LoadStaticResolver reads a YAML credentials file:
//
//	portal.example.com:
//	  username: ann
//	  password: s3cret
//	  fields:
//	    pin: "1234"
func LoadStaticResolver(path string) (*StaticResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var entries map[string]Credential
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	return NewStaticResolver(entries), nil
}

// Resolve returns the credential for domain, or nil when none matches. An
// exact key wins; otherwise the wildcard with the longest suffix does.
func (r *StaticResolver) Resolve(_ context.Context, domain string) (*Credential, error) {
	domain = strings.ToLower(domain)
	if c, ok := r.entries[domain]; ok {
		return &c, nil
	}
	var (
		best  string
		found *Credential
	)
	for key, c := range r.entries {
		suffix, ok := strings.CutPrefix(key, "*")
		if !ok || !strings.HasSuffix(domain, suffix) {
			continue
		}
		if found == nil || len(suffix) > len(best) {
			best, found = suffix, &c
		}
	}
	return found, nil
}
