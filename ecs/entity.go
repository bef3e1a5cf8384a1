package ecs

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
)

// Entity is an opaque generational handle. Holders never modify it; the
// EntityIndex owns the generation counters.
type Entity struct {
	Index      uint32
	Generation uint32
}

func (e Entity) String() string {
	return fmt.Sprintf("Entity(%d v%d)", e.Index, e.Generation)
}

// Less orders handles by index, then generation. Accelerators use it as the
// stable tie-breaking key.
func (e Entity) Less(o Entity) bool {
	if e.Index != o.Index {
		return e.Index < o.Index
	}
	return e.Generation < o.Generation
}

// Compare is Less as a three-way comparison for slices.SortFunc.
func (e Entity) Compare(o Entity) int {
	switch {
	case e.Less(o):
		return -1
	case o.Less(e):
		return 1
	default:
		return 0
	}
}

// Location is where a live entity's components are stored.
type Location struct {
	Archetype ArchetypeId
	Row       uint32
}

type entitySlot struct {
	generation uint32
	live       bool
	loc        Location
}

// EntityIndex allocates generational handles and maps them to storage rows.
type EntityIndex struct {
	slots   []entitySlot
	free    []uint32
	live    int
	retired int
}

// NewEntityIndex creates an index with room for capacity handles before growing.
func NewEntityIndex(capacity int) *EntityIndex {
	return &EntityIndex{
		slots: make([]entitySlot, 0, capacity),
	}
}

// Allocate returns a fresh or recycled handle in O(1). Recycled indices carry
// the generation bumped by their last Release.
func (x *EntityIndex) Allocate() Entity {
	x.live++
	if n := len(x.free); n > 0 {
		idx := x.free[n-1]
		x.free = x.free[:n-1]
		slot := &x.slots[idx]
		slot.live = true
		slot.loc = Location{}
		return Entity{Index: idx, Generation: slot.generation}
	}

	idx := uint32(len(x.slots))
	x.slots = append(x.slots, entitySlot{live: true})
	return Entity{Index: idx}
}

// Release invalidates e by bumping its slot's generation. Releasing a handle
// that is already dead returns ErrAlreadyDespawned and changes nothing.
//
// An index whose generation reaches math.MaxUint32 is retired instead of
// recycled, so the counter never wraps back to a generation an old handle
// still carries.
func (x *EntityIndex) Release(e Entity) (Location, error) {
	if !x.Valid(e) {
		return Location{}, eris.Wrapf(ErrAlreadyDespawned, "%s", e)
	}
	slot := &x.slots[e.Index]
	loc := slot.loc
	slot.live = false
	slot.loc = Location{}
	x.live--
	if slot.generation == math.MaxUint32 {
		x.retired++
		return loc, nil
	}
	slot.generation++
	x.free = append(x.free, e.Index)
	return loc, nil
}

// Resolve maps e to its storage location. It reports false whenever the
// handle's generation does not match, which is how stale handles are rejected.
func (x *EntityIndex) Resolve(e Entity) (Location, bool) {
	if !x.Valid(e) {
		return Location{}, false
	}
	return x.slots[e.Index].loc, true
}

// Valid reports whether e names a live entity.
func (x *EntityIndex) Valid(e Entity) bool {
	if int(e.Index) >= len(x.slots) {
		return false
	}
	slot := &x.slots[e.Index]
	return slot.live && slot.generation == e.Generation
}

// Generation returns the current generation stored for index.
func (x *EntityIndex) Generation(index uint32) (uint32, bool) {
	if int(index) >= len(x.slots) {
		return 0, false
	}
	return x.slots[index].generation, true
}

// Len returns the number of live handles.
func (x *EntityIndex) Len() int {
	return x.live
}

// Retired returns the number of indices withdrawn after exhausting their
// generations.
func (x *EntityIndex) Retired() int {
	return x.retired
}

// Cap returns the number of indices ever handed out.
func (x *EntityIndex) Cap() int {
	return len(x.slots)
}

func (x *EntityIndex) place(e Entity, loc Location) {
	x.slots[e.Index].loc = loc
}
