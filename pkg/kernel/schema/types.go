// Package schema defines the blueprint document: tiles, their typed
// parameters and the links that chain them together.
package schema

// ---------------------------------------------------------------------------
// Blueprint
// ---------------------------------------------------------------------------

// Blueprint is a named automation composed of linked tiles.
// The engine treats it as immutable input.
type Blueprint struct {
	Name        string   `yaml:"name"                  json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Tiles       []Tile   `yaml:"tiles"                 json:"tiles"`
	Metadata    Metadata `yaml:"metadata,omitempty"    json:"metadata,omitempty"`
}

// Metadata carries optional tags and the declared input form.
type Metadata struct {
	Tags        []string     `yaml:"tags,omitempty"        json:"tags,omitempty"`
	InputSchema []InputField `yaml:"inputSchema,omitempty" json:"inputSchema,omitempty"`
}

// InputField declares one runtime variable the blueprint expects.
type InputField struct {
	Name        string `yaml:"name"                  json:"name"`
	Type        string `yaml:"type"                  json:"type"`
	Required    bool   `yaml:"required,omitempty"    json:"required,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// ---------------------------------------------------------------------------
// Tile
// ---------------------------------------------------------------------------

// TileType enumerates the nine tile kinds.
type TileType string

const (
	TileNavigate   TileType = "NAVIGATE"
	TileClick      TileType = "CLICK"
	TileTypeText   TileType = "TYPE"
	TileAuth       TileType = "AUTH"
	TileExtract    TileType = "EXTRACT"
	TileScreenshot TileType = "SCREENSHOT"
	TileWait       TileType = "WAIT"
	TileSelect     TileType = "SELECT"
	TileForm       TileType = "FORM"
)

// TileTypes lists every known kind in declaration order.
var TileTypes = []TileType{
	TileNavigate, TileClick, TileTypeText, TileAuth, TileExtract,
	TileScreenshot, TileWait, TileSelect, TileForm,
}

// Known reports whether t is one of the nine kinds.
func (t TileType) Known() bool {
	for _, k := range TileTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Tile is one automation action. Params holds the kind-specific record;
// see params.go for the variants.
type Tile struct {
	ID          string      `yaml:"id"               json:"id"`
	Type        TileType    `yaml:"type"             json:"type"`
	Label       string      `yaml:"label,omitempty"  json:"label,omitempty"`
	Params      TileParams  `yaml:"params,omitempty" json:"params,omitempty"`
	Connections Connections `yaml:"connections"      json:"connections"`
}

// Connections links a tile to its neighbours. A nil Input marks the entry
// point; a nil Output marks the end of the chain.
type Connections struct {
	Input  *string `yaml:"input"  json:"input"`
	Output *string `yaml:"output" json:"output"`
}

// Link returns a pointer to id, or nil for an empty id. Handy when
// building blueprints in code.
func Link(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// Chain wires tiles into a straight list in slice order, overwriting any
// existing connections.
func Chain(tiles ...Tile) []Tile {
	out := make([]Tile, len(tiles))
	copy(out, tiles)
	for i := range out {
		out[i].Connections = Connections{}
		if i > 0 {
			out[i].Connections.Input = Link(out[i-1].ID)
		}
		if i < len(out)-1 {
			out[i].Connections.Output = Link(out[i+1].ID)
		}
	}
	return out
}
