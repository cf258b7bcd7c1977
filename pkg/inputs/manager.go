package inputs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
)

// ParseAssignments parses `name=value` pairs as given on the command line.
func ParseAssignments(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		name, value, ok := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid variable %q: expected name=value", kv)
		}
		out[name] = value
	}
	return out, nil
}

// Resolve merges base (typically a vars file) with the command-line
// assignments, coerces declared fields to their declared type and asks p
// for required fields still missing. Without a prompter, missing required
// fields are reported as a *MissingInputError. Undeclared assignments pass
// through as strings.
func Resolve(bp *schema.Blueprint, base map[string]any, given map[string]string, p Prompter) (map[string]any, error) {
	vars := make(map[string]any, len(base)+len(given))
	for k, v := range base {
		vars[k] = v
	}
	for k, v := range given {
		vars[k] = v
	}

	var missing []string
	for _, f := range bp.Metadata.InputSchema {
		raw, ok := vars[f.Name]
		if !ok {
			if !f.Required {
				continue
			}
			if p == nil {
				missing = append(missing, f.Name)
				continue
			}
			answer, err := p.Prompt(f)
			if err != nil {
				return nil, fmt.Errorf("prompt %s: %w", f.Name, err)
			}
			if answer == "" {
				missing = append(missing, f.Name)
				continue
			}
			raw = answer
		}

		s, isText := raw.(string)
		if !isText {
			continue
		}
		v, err := Coerce(f.Type, s)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", f.Name, err)
		}
		vars[f.Name] = v
	}

	if len(missing) > 0 {
		return nil, &MissingInputError{Names: missing}
	}
	return vars, nil
}

// Coerce converts raw text to the Go value for a field type. Unknown
// types keep the text.
func Coerce(fieldType, raw string) (any, error) {
	switch strings.ToLower(fieldType) {
	case TypeNumber, "integer":
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", raw)
		}
		return f, nil
	case TypeBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not a boolean", raw)
		}
		return b, nil
	default:
		return raw, nil
	}
}
