// Package graph orders a blueprint's linked tiles into execution sequence.
package graph

import "github.com/ormasoftchile/blueprint/pkg/kernel/schema"

// Index maps tile ids to their position in the source slice.
type Index map[string]int

// NewIndex builds the adjacency lookup for tiles. When ids repeat, the
// first occurrence wins.
func NewIndex(tiles []schema.Tile) Index {
	idx := make(Index, len(tiles))
	for i, t := range tiles {
		if _, dup := idx[t.ID]; !dup {
			idx[t.ID] = i
		}
	}
	return idx
}

// Entries returns the ids of every tile without a predecessor, in source
// order. More than one entry makes the ordering ambiguous.
func Entries(tiles []schema.Tile) []string {
	var out []string
	for _, t := range tiles {
		if t.Connections.Input == nil {
			out = append(out, t.ID)
		}
	}
	return out
}

// Order computes the execution order of tiles.
//
// The entry point is the first tile (in source order) with a nil input.
// Without one the input is returned unchanged. Otherwise the chain is
// walked through each tile's output until it ends, names an unknown id,
// or revisits a tile. Tiles not reachable from the entry are dropped.
func Order(tiles []schema.Tile) []schema.Tile {
	entry := -1
	for i, t := range tiles {
		if t.Connections.Input == nil {
			entry = i
			break
		}
	}
	if entry < 0 {
		return tiles
	}

	idx := NewIndex(tiles)
	visited := make(map[string]bool, len(tiles))
	ordered := make([]schema.Tile, 0, len(tiles))

	cur := entry
	for {
		t := tiles[cur]
		visited[t.ID] = true
		ordered = append(ordered, t)

		next := t.Connections.Output
		if next == nil || visited[*next] {
			break
		}
		pos, ok := idx[*next]
		if !ok {
			break
		}
		cur = pos
	}
	return ordered
}

// Unreachable returns the ids of tiles that Order would drop.
func Unreachable(tiles []schema.Tile) []string {
	ordered := Order(tiles)
	seen := make(map[string]bool, len(ordered))
	for _, t := range ordered {
		seen[t.ID] = true
	}
	var out []string
	for _, t := range tiles {
		if !seen[t.ID] {
			out = append(out, t.ID)
		}
	}
	return out
}

// HasCycle reports whether the chain from the entry point loops back on
// itself before reaching a nil output.
func HasCycle(tiles []schema.Tile) bool {
	if len(Entries(tiles)) == 0 {
		return false
	}
	ordered := Order(tiles)
	last := ordered[len(ordered)-1].Connections.Output
	if last == nil {
		return false
	}
	for _, t := range ordered {
		if t.ID == *last {
			return true
		}
	}
	return false
}
