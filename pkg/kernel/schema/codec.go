package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// tileYAML mirrors Tile with params left undecoded until the type is known.
type tileYAML struct {
	ID          string      `yaml:"id"`
	Type        TileType    `yaml:"type"`
	Label       string      `yaml:"label,omitempty"`
	Params      yaml.Node   `yaml:"params,omitempty"`
	Connections Connections `yaml:"connections"`
}

// UnmarshalYAML decodes params into the record matching the tile type.
// Unknown fields are rejected for the nine kinds.
func (t *Tile) UnmarshalYAML(node *yaml.Node) error {
	var w tileYAML
	if err := decodeStrict(node, &w); err != nil {
		return err
	}

	params := newParams(w.Type)
	if w.Params.Kind != 0 {
		if _, unknown := params.(UnknownParams); unknown {
			raw := UnknownParams{}
			if err := w.Params.Decode(&raw); err != nil {
				return fmt.Errorf("tile %q params: %w", w.ID, err)
			}
			params = raw
		} else if err := decodeStrict(&w.Params, params); err != nil {
			return fmt.Errorf("tile %q params: %w", w.ID, err)
		}
	}

	*t = Tile{
		ID:          w.ID,
		Type:        w.Type,
		Label:       w.Label,
		Params:      params,
		Connections: w.Connections,
	}
	return nil
}

// decodeStrict re-encodes a node and decodes it with KnownFields enabled;
// yaml.Node.Decode does not carry the outer decoder's strictness.
func decodeStrict(node *yaml.Node, out any) error {
	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}

// tileJSON mirrors Tile for JSON decoding.
type tileJSON struct {
	ID          string          `json:"id"`
	Type        TileType        `json:"type"`
	Label       string          `json:"label,omitempty"`
	Params      json.RawMessage `json:"params,omitempty"`
	Connections Connections     `json:"connections"`
}

// UnmarshalJSON decodes params into the record matching the tile type.
// JSON decoding is lenient: it is the delegated-execution wire format.
func (t *Tile) UnmarshalJSON(data []byte) error {
	var w tileJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	params := newParams(w.Type)
	if len(w.Params) > 0 && string(w.Params) != "null" {
		if _, unknown := params.(UnknownParams); unknown {
			raw := UnknownParams{}
			if err := json.Unmarshal(w.Params, &raw); err != nil {
				return fmt.Errorf("tile %q params: %w", w.ID, err)
			}
			params = raw
		} else if err := json.Unmarshal(w.Params, params); err != nil {
			return fmt.Errorf("tile %q params: %w", w.ID, err)
		}
	}

	*t = Tile{
		ID:          w.ID,
		Type:        w.Type,
		Label:       w.Label,
		Params:      params,
		Connections: w.Connections,
	}
	return nil
}
