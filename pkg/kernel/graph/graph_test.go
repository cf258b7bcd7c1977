package graph

import (
	"reflect"
	"testing"

	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
)

func tile(id string, in, out string) schema.Tile {
	return schema.Tile{
		ID:   id,
		Type: schema.TileClick,
		Connections: schema.Connections{
			Input:  schema.Link(in),
			Output: schema.Link(out),
		},
	}
}

func ids(tiles []schema.Tile) []string {
	out := make([]string, len(tiles))
	for i, t := range tiles {
		out[i] = t.ID
	}
	return out
}

func TestOrder_StraightChainAnyInputOrder(t *testing.T) {
	a := tile("A", "", "B")
	b := tile("B", "A", "C")
	c := tile("C", "B", "")

	perms := [][]schema.Tile{
		{a, b, c}, {a, c, b}, {b, a, c}, {b, c, a}, {c, a, b}, {c, b, a},
	}
	for _, p := range perms {
		got := ids(Order(p))
		if !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
			t.Errorf("Order(%v) = %v, want [A B C]", ids(p), got)
		}
	}
}

func TestOrder_NoEntryReturnsInputUnchanged(t *testing.T) {
	in := []schema.Tile{
		tile("B", "A", "C"),
		tile("C", "B", "A"),
		tile("A", "C", "B"),
	}
	got := Order(in)
	if !reflect.DeepEqual(ids(got), []string{"B", "C", "A"}) {
		t.Errorf("Order = %v, want input order", ids(got))
	}
}

func TestOrder_UnreachableDropped(t *testing.T) {
	in := []schema.Tile{
		tile("A", "", "B"),
		tile("B", "A", ""),
		tile("orphan", "Z", ""),
	}
	got := ids(Order(in))
	if !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("Order = %v, want [A B]", got)
	}
	if un := Unreachable(in); !reflect.DeepEqual(un, []string{"orphan"}) {
		t.Errorf("Unreachable = %v", un)
	}
}

func TestOrder_CycleGuard(t *testing.T) {
	in := []schema.Tile{
		tile("A", "", "B"),
		tile("B", "A", "C"),
		tile("C", "B", "A"),
	}
	got := ids(Order(in))
	if !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Errorf("Order = %v, want [A B C]", got)
	}
	if !HasCycle(in) {
		t.Error("HasCycle = false, want true")
	}
}

func TestOrder_DanglingOutputStops(t *testing.T) {
	in := []schema.Tile{
		tile("A", "", "missing"),
		tile("B", "A", ""),
	}
	got := ids(Order(in))
	if !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("Order = %v, want [A]", got)
	}
}

func TestOrder_FirstEntryWins(t *testing.T) {
	in := []schema.Tile{
		tile("X", "", ""),
		tile("A", "", "B"),
		tile("B", "A", ""),
	}
	got := ids(Order(in))
	if !reflect.DeepEqual(got, []string{"X"}) {
		t.Errorf("Order = %v, want [X]", got)
	}
	if e := Entries(in); len(e) != 2 {
		t.Errorf("Entries = %v, want 2 entries", e)
	}
}

func TestOrder_Empty(t *testing.T) {
	if got := Order(nil); len(got) != 0 {
		t.Errorf("Order(nil) = %v", got)
	}
	if HasCycle(nil) {
		t.Error("HasCycle(nil) = true")
	}
}
