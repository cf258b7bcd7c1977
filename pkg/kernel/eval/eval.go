// Package eval implements {{name}} placeholder substitution shared by the
// tile dispatcher and the code generator.
package eval

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// placeholderRe matches {{name}}; whitespace inside the braces is tolerated.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Interpolate replaces every {{name}} in tmpl with the string form of
// vars[name]. Placeholders naming an absent variable are left exactly as
// written so they remain visible downstream.
// Example: Interpolate("https://{{host}}/login", {"host": "x.test"}) → "https://x.test/login"
func Interpolate(tmpl string, vars map[string]any) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl // fast path for literals
	}
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		v, ok := vars[name]
		if !ok {
			return match
		}
		return Stringify(v)
	})
}

// Stringify converts a variable value to its textual form. Strings pass
// through, scalars use their default formatting and composite values are
// JSON-encoded.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

// Placeholders returns the variable names referenced by tmpl, in the
// order they first appear.
func Placeholders(tmpl string) []string {
	if !strings.Contains(tmpl, "{{") {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// Merge returns a new map holding base overlaid with overlay. Neither
// input is modified.
func Merge(base, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}
