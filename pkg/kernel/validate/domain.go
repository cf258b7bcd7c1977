package validate

import (
	"fmt"
	"strings"

	"github.com/ormasoftchile/blueprint/pkg/kernel/eval"
	"github.com/ormasoftchile/blueprint/pkg/kernel/graph"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
)

// waitStrategies are the navigation wait strategies providers understand.
var waitStrategies = map[string]bool{"load": true, "domcontentloaded": true, "networkidle": true, "commit": true}

// credentialFields are the fields every resolved credential carries.
var credentialFields = map[string]bool{"username": true, "password": true}

// validateDomain runs the blueprint domain rules.
func validateDomain(bp *schema.Blueprint) []*ValidationError {
	var errs []*ValidationError

	// D1: name and at least one tile
	if strings.TrimSpace(bp.Name) == "" {
		errs = append(errs, errorf("domain", "name", "blueprint name is required"))
	}
	if len(bp.Tiles) == 0 {
		errs = append(errs, errorf("domain", "tiles", "at least one tile is required"))
		return errs
	}

	// D2: tile ids are present and unique
	ids := map[string]string{} // id → path
	for i, t := range bp.Tiles {
		path := tilePath(i)
		if t.ID == "" {
			errs = append(errs, errorf("domain", path+".id", "tile id is required"))
			continue
		}
		if prev, ok := ids[t.ID]; ok {
			errs = append(errs, errorf("domain", path+".id", "duplicate tile ID %q (first at %s)", t.ID, prev))
		} else {
			ids[t.ID] = path
		}
	}

	// D3: kind and kind-specific parameters
	for i, t := range bp.Tiles {
		errs = append(errs, validateTile(t, tilePath(i))...)
	}

	// D4: connections reference existing tiles and agree with each other
	errs = append(errs, validateConnections(bp.Tiles, ids)...)

	// D5: chain shape
	errs = append(errs, validateChain(bp.Tiles)...)

	// D6: declared inputs against placeholder usage
	errs = append(errs, validateInputs(bp)...)

	return errs
}

func tilePath(i int) string {
	return fmt.Sprintf("tiles[%d]", i)
}

func validateTile(t schema.Tile, path string) []*ValidationError {
	var errs []*ValidationError
	pp := path + ".params"

	if t.Type == "" {
		return []*ValidationError{errorf("domain", path+".type", "tile type is required")}
	}
	if !t.Type.Known() {
		return []*ValidationError{errorf("domain", path+".type", "unknown tile type %q", t.Type)}
	}
	if t.Params != nil && t.Params.Kind() != t.Type {
		return []*ValidationError{errorf("domain", pp, "%s tile carries %s parameters", t.Type, t.Params.Kind())}
	}

	switch p := t.Parameters().(type) {
	case *schema.NavigateParams:
		if p.URL == "" {
			errs = append(errs, errorf("domain", pp+".url", "NAVIGATE tile requires 'url'"))
		}
		if p.WaitUntil != "" && !waitStrategies[p.WaitUntil] {
			errs = append(errs, warningf("domain", pp+".waitUntil", "unrecognized wait strategy %q", p.WaitUntil))
		}
		if p.Timeout < 0 {
			errs = append(errs, errorf("domain", pp+".timeout", "timeout must not be negative"))
		}
	case *schema.ClickParams:
		if p.Instruction == "" {
			errs = append(errs, errorf("domain", pp+".instruction", "CLICK tile requires 'instruction'"))
		}
	case *schema.TypeParams:
		if p.Instruction == "" {
			errs = append(errs, errorf("domain", pp+".instruction", "TYPE tile requires 'instruction'"))
		}
		set := 0
		for _, v := range []string{p.Value, p.Variable, p.CredentialField} {
			if v != "" {
				set++
			}
		}
		switch {
		case set == 0:
			errs = append(errs, errorf("domain", pp, "TYPE tile requires one of 'value', 'variable' or 'credentialField'"))
		case set > 1:
			errs = append(errs, warningf("domain", pp, "TYPE tile sets several value sources; value wins over variable, variable over credentialField"))
		}
		if p.CredentialField != "" && !credentialFields[p.CredentialField] {
			errs = append(errs, warningf("domain", pp+".credentialField", "credential field %q must be provided as an extra field by the resolver", p.CredentialField))
		}
	case *schema.ExtractParams:
		if p.Instruction == "" {
			errs = append(errs, errorf("domain", pp+".instruction", "EXTRACT tile requires 'instruction'"))
		}
		if p.OutputVariable == "" {
			errs = append(errs, warningf("domain", pp+".outputVariable", "EXTRACT tile has no 'outputVariable'; its result is not visible to later tiles"))
		}
	case *schema.WaitParams:
		if p.Duration < 0 {
			errs = append(errs, errorf("domain", pp+".duration", "duration must not be negative"))
		}
	case *schema.SelectParams:
		if p.Instruction == "" {
			errs = append(errs, errorf("domain", pp+".instruction", "SELECT tile requires 'instruction'"))
		}
		if p.Value == "" {
			errs = append(errs, errorf("domain", pp+".value", "SELECT tile requires 'value'"))
		}
	case *schema.FormParams:
		if len(p.Fields) == 0 {
			errs = append(errs, errorf("domain", pp+".fields", "FORM tile requires at least one field"))
		}
		for i, f := range p.Fields {
			fp := fmt.Sprintf("%s.fields[%d]", pp, i)
			if f.Instruction == "" {
				errs = append(errs, errorf("domain", fp+".instruction", "form field requires 'instruction'"))
			}
			if f.Value == "" && f.Variable == "" {
				errs = append(errs, warningf("domain", fp, "form field has neither 'value' nor 'variable'; an empty string is typed"))
			}
		}
	}
	return errs
}

func validateConnections(tiles []schema.Tile, ids map[string]string) []*ValidationError {
	var errs []*ValidationError
	byID := map[string]schema.Tile{}
	for _, t := range tiles {
		if _, ok := byID[t.ID]; !ok {
			byID[t.ID] = t
		}
	}
	for i, t := range tiles {
		path := tilePath(i) + ".connections"
		if in := t.Connections.Input; in != nil {
			if _, ok := ids[*in]; !ok {
				errs = append(errs, errorf("domain", path+".input", "input references unknown tile %q", *in))
			} else if *in == t.ID {
				errs = append(errs, errorf("domain", path+".input", "tile %q lists itself as input", t.ID))
			}
		}
		if out := t.Connections.Output; out != nil {
			next, ok := byID[*out]
			switch {
			case !ok:
				errs = append(errs, errorf("domain", path+".output", "output references unknown tile %q", *out))
			case *out == t.ID:
				errs = append(errs, errorf("domain", path+".output", "tile %q lists itself as output", t.ID))
			case next.Connections.Input == nil || *next.Connections.Input != t.ID:
				errs = append(errs, warningf("domain", path+".output", "tile %q points to %q but %q does not list it as input", t.ID, *out, *out))
			}
		}
	}
	return errs
}

func validateChain(tiles []schema.Tile) []*ValidationError {
	var errs []*ValidationError
	entries := graph.Entries(tiles)
	switch {
	case len(entries) == 0:
		errs = append(errs, warningf("domain", "tiles", "no entry tile (every tile has an input); tiles run in source order"))
		return errs
	case len(entries) > 1:
		errs = append(errs, warningf("domain", "tiles", "multiple entry tiles %s; only the chain from %q runs", strings.Join(entries, ", "), entries[0]))
	}
	if graph.HasCycle(tiles) {
		errs = append(errs, warningf("domain", "tiles", "tile chain loops back on itself; execution stops at the first revisited tile"))
	}
	for _, id := range graph.Unreachable(tiles) {
		errs = append(errs, warningf("domain", "tiles", "tile %q is not reachable from the entry tile and will not run", id))
	}
	return errs
}

// validateInputs checks placeholders and variable references against the
// declared input schema and earlier EXTRACT outputs.
func validateInputs(bp *schema.Blueprint) []*ValidationError {
	var errs []*ValidationError
	declared := map[string]bool{}
	for i, f := range bp.Metadata.InputSchema {
		if f.Name == "" {
			errs = append(errs, errorf("domain", fmt.Sprintf("metadata.inputSchema[%d].name", i), "input field name is required"))
			continue
		}
		declared[f.Name] = true
	}

	referenced := map[string]bool{}
	produced := map[string]bool{}
	for _, t := range graph.Order(bp.Tiles) {
		p := t.Parameters()
		var names []string
		for _, tmpl := range p.Templates() {
			names = append(names, eval.Placeholders(tmpl)...)
		}
		switch p := p.(type) {
		case *schema.TypeParams:
			if p.Value == "" && p.Variable != "" {
				names = append(names, p.Variable)
			}
		case *schema.FormParams:
			for _, f := range p.Fields {
				if f.Value == "" && f.Variable != "" {
					names = append(names, f.Variable)
				}
			}
		}
		for _, n := range names {
			referenced[n] = true
			if len(declared) > 0 && !declared[n] && !produced[n] {
				errs = append(errs, warningf("domain", "tiles", "tile %q references %q, which is neither a declared input nor an earlier output", t.ID, n))
			}
		}
		if ex, ok := p.(*schema.ExtractParams); ok && ex.OutputVariable != "" {
			produced[ex.OutputVariable] = true
		}
	}

	for i, f := range bp.Metadata.InputSchema {
		if f.Required && f.Name != "" && !referenced[f.Name] {
			errs = append(errs, warningf("domain", fmt.Sprintf("metadata.inputSchema[%d]", i), "required input %q is never referenced", f.Name))
		}
	}
	return errs
}

// CheckInputs reports declared required inputs missing from vars. It is
// used before a run rather than at validation time.
func CheckInputs(bp *schema.Blueprint, vars map[string]any) []*ValidationError {
	var errs []*ValidationError
	for i, f := range bp.Metadata.InputSchema {
		if !f.Required {
			continue
		}
		if _, ok := vars[f.Name]; !ok {
			errs = append(errs, errorf("domain", fmt.Sprintf("metadata.inputSchema[%d]", i), "required input %q not provided", f.Name))
		}
	}
	return errs
}
