package ecs

import (
	"encoding/binary"
	"hash/fnv"
	"iter"
	"slices"

	"github.com/rotisserie/eris"
)

// ArchetypeId is a deterministic hash of a sorted, deduplicated component id set.
type ArchetypeId uint64

// NormalizeComponentIds returns a sorted, deduplicated copy of ids.
func NormalizeComponentIds(ids []ComponentId) []ComponentId {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// ArchetypeIdOf computes the archetype identity of a component set. Set-equal
// inputs yield the same id regardless of order or duplicates.
func ArchetypeIdOf(ids []ComponentId) ArchetypeId {
	return hashComponentIds(NormalizeComponentIds(ids))
}

// hashComponentIds runs FNV-1a over the little-endian bytes of sorted ids.
func hashComponentIds(sorted []ComponentId) ArchetypeId {
	h := fnv.New64a()
	var buf [4]byte
	for _, id := range sorted {
		binary.LittleEndian.PutUint32(buf[:], uint32(id))
		h.Write(buf[:])
	}
	return ArchetypeId(h.Sum64())
}

// Archetype stores every entity sharing one component set as SoA columns.
// All columns share a row count (dead rows included) and one current-buffer flag.
type Archetype struct {
	id         ArchetypeId
	ids        []ComponentId
	columns    []*column
	entities   []Entity
	live       []bool
	generation []uint32
	free       []uint32
	rows       int
	current    uint8
}

func newArchetype(id ArchetypeId, metas []ComponentMeta, align int) *Archetype {
	a := &Archetype{
		id:      id,
		ids:     make([]ComponentId, len(metas)),
		columns: make([]*column, len(metas)),
	}
	for i, meta := range metas {
		a.ids[i] = meta.ID
		a.columns[i] = newColumn(meta, align)
	}
	return a
}

// ID returns the archetype's identity.
func (a *Archetype) ID() ArchetypeId {
	return a.id
}

// ComponentIds returns the archetype's sorted component ids.
func (a *Archetype) ComponentIds() []ComponentId {
	return slices.Clone(a.ids)
}

// Has reports whether the archetype carries cid.
func (a *Archetype) Has(cid ComponentId) bool {
	_, ok := slices.BinarySearch(a.ids, cid)
	return ok
}

func (a *Archetype) column(cid ComponentId) (*column, error) {
	idx, ok := slices.BinarySearch(a.ids, cid)
	if !ok {
		return nil, eris.Wrapf(ErrMissingColumn, "archetype %x: component %d", a.id, cid)
	}
	return a.columns[idx], nil
}

// Meta returns the layout of cid as stored in this archetype.
func (a *Archetype) Meta(cid ComponentId) (ComponentMeta, bool) {
	col, err := a.column(cid)
	if err != nil {
		return ComponentMeta{}, false
	}
	return col.meta, true
}

// Rows returns the row count of every column, dead rows included.
func (a *Archetype) Rows() int {
	return a.rows
}

// Len returns the number of live rows.
func (a *Archetype) Len() int {
	return a.rows - len(a.free)
}

// FreeRows returns the number of dead rows waiting for reuse.
func (a *Archetype) FreeRows() int {
	return len(a.free)
}

// Live reports whether row holds a live entity.
func (a *Archetype) Live(row int) bool {
	return row >= 0 && row < a.rows && a.live[row]
}

// EntityAt returns the handle stored at row, if the row is live.
func (a *Archetype) EntityAt(row int) (Entity, bool) {
	if !a.Live(row) {
		return Entity{}, false
	}
	return a.entities[row], true
}

// RowGeneration returns how many times row has been freed.
func (a *Archetype) RowGeneration(row int) uint32 {
	return a.generation[row]
}

// Entities returns the row-to-handle table. Dead rows hold stale handles; check
// Live before trusting an entry. The slice must not be modified.
func (a *Archetype) Entities() []Entity {
	return a.entities[:a.rows:a.rows]
}

// Iter yields the row and handle of every live entity in row order.
func (a *Archetype) Iter() iter.Seq2[int, Entity] {
	return func(yield func(int, Entity) bool) {
		for row := 0; row < a.rows; row++ {
			if !a.live[row] {
				continue
			}
			if !yield(row, a.entities[row]) {
				return
			}
		}
	}
}

// CurrentBuffer is the index of the buffer systems read this tick.
func (a *Archetype) CurrentBuffer() uint8 {
	return a.current
}

// NextBuffer is the index of the buffer systems write this tick.
func (a *Archetype) NextBuffer() uint8 {
	return a.current ^ 1
}

// SwapBuffers flips which buffer is current. No bytes move.
func (a *Archetype) SwapBuffers() {
	a.current ^= 1
}

// copyForward seeds the next buffer of every CopyForward column with the
// current values.
func (a *Archetype) copyForward() {
	for _, col := range a.columns {
		if col.meta.Policy == CopyForward {
			col.copyForward(a.current)
		}
	}
}

// CurrentBytes returns the raw current-buffer bytes of cid.
func (a *Archetype) CurrentBytes(cid ComponentId) ([]byte, error) {
	col, err := a.column(cid)
	if err != nil {
		return nil, err
	}
	return col.buffers[a.current], nil
}

// NextBytes returns the raw next-buffer bytes of cid.
func (a *Archetype) NextBytes(cid ComponentId) ([]byte, error) {
	col, err := a.column(cid)
	if err != nil {
		return nil, err
	}
	return col.buffers[a.current^1], nil
}

// allocRow claims a row for e, reusing the most recently freed row when there
// is one and otherwise growing every column by one element.
func (a *Archetype) allocRow(e Entity) int {
	if n := len(a.free); n > 0 {
		row := int(a.free[n-1])
		a.free = a.free[:n-1]
		a.entities[row] = e
		a.live[row] = true
		return row
	}

	row := a.rows
	a.rows++
	for _, col := range a.columns {
		col.resize(a.rows)
	}
	a.entities = append(a.entities, e)
	a.live = append(a.live, true)
	a.generation = append(a.generation, 0)
	return row
}

// writeSpawn stores a spawned entity's bytes in both buffers so the value is
// readable now and survives the next swap.
func (a *Archetype) writeSpawn(row int, idx int, src []byte) {
	col := a.columns[idx]
	col.writeRow(0, row, src)
	col.writeRow(1, row, src)
}

func (a *Archetype) freeRow(row int) {
	a.live[row] = false
	a.generation[row]++
	for _, col := range a.columns {
		col.clearRow(row)
	}
	a.free = append(a.free, uint32(row))
}
