package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaID is the $id of the exported blueprint schema.
const SchemaID = "https://github.com/ormasoftchile/blueprint/schemas/blueprint.json"

// GenerateBlueprintJSONSchema produces a JSON Schema Draft 2020-12 document
// from the Blueprint Go types.
func GenerateBlueprintJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&Blueprint{})
	s.ID = SchemaID
	s.Title = "Portal Automation Blueprint"
	s.Description = "Schema for blueprint YAML/JSON documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal blueprint schema: %w", err)
	}
	return data, nil
}

// JSONSchema describes connections as nullable tile ids.
func (Connections) JSONSchema() *jsonschema.Schema {
	nullableID := func() *jsonschema.Schema {
		return &jsonschema.Schema{AnyOf: []*jsonschema.Schema{{Type: "string"}, {Type: "null"}}}
	}
	props := jsonschema.NewProperties()
	props.Set("input", nullableID())
	props.Set("output", nullableID())
	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		AdditionalProperties: jsonschema.FalseSchema,
	}
}
