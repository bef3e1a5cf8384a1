package query

import (
	"cmp"
	"context"
	"slices"

	"github.com/plus3/latch/ecs"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// InvertedIndexConfig configures an InvertedIndex. The attribute component
// must be a uint32 (a faction, team, or tag id).
type InvertedIndexConfig struct {
	Name            string
	Attribute       ecs.ComponentId
	InitialCapacity int
}

type tagged struct {
	value  uint32
	entity ecs.Entity
}

// InvertedIndex maps attribute values to the entities holding them, stored as
// sorted distinct values with CSR offsets into a handle-sorted id array.
type InvertedIndex struct {
	scratch
	cfg     InvertedIndexConfig
	entries []tagged
	values  []uint32
	offsets []int32
	ids     []ecs.Entity
}

// NewInvertedIndex preallocates the index's scratch arenas.
func NewInvertedIndex(cfg InvertedIndexConfig, logger *zerolog.Logger) *InvertedIndex {
	if cfg.Name == "" {
		cfg.Name = "inverted_index"
	}
	if cfg.InitialCapacity <= 0 {
		cfg.InitialCapacity = DefaultInitialCapacity
	}
	n := cfg.InitialCapacity
	return &InvertedIndex{
		scratch: newScratch(cfg.Name, logger),
		cfg:     cfg,
		entries: make([]tagged, 0, n),
		values:  make([]uint32, 0, n),
		offsets: make([]int32, 0, n+1),
		ids:     make([]ecs.Entity, 0, n),
	}
}

// Build regroups every live entity by attribute value.
func (x *InvertedIndex) Build(_ context.Context, w *ecs.World) error {
	n := liveCount(w, x.cfg.Attribute)
	x.entries = ensure(&x.scratch, x.entries, n, "entries")[:0]
	err := eachLive(w, x.cfg.Attribute, func(e ecs.Entity, v uint32) {
		x.entries = append(x.entries, tagged{value: v, entity: e})
	})
	if err != nil {
		return eris.Wrapf(err, "%s: read attribute", x.name)
	}
	slices.SortFunc(x.entries, func(a, b tagged) int {
		if c := cmp.Compare(a.value, b.value); c != 0 {
			return c
		}
		return a.entity.Compare(b.entity)
	})

	x.values = x.values[:0]
	x.offsets = x.offsets[:0]
	x.ids = ensure(&x.scratch, x.ids, n, "ids")
	for i, t := range x.entries {
		if i == 0 || t.value != x.entries[i-1].value {
			x.values = push(&x.scratch, x.values, t.value, "values")
			x.offsets = push(&x.scratch, x.offsets, int32(i), "offsets")
		}
		x.ids[i] = t.entity
	}
	x.offsets = push(&x.scratch, x.offsets, int32(n), "offsets")
	return nil
}

// Values returns the distinct attribute values present, ascending.
func (x *InvertedIndex) Values() []uint32 {
	return x.values[:len(x.values):len(x.values)]
}

// Query returns the entities whose attribute equals v, sorted by handle.
func (x *InvertedIndex) Query(v uint32) []ecs.Entity {
	i, ok := slices.BinarySearch(x.values, v)
	if !ok {
		return nil
	}
	lo, hi := x.offsets[i], x.offsets[i+1]
	return x.ids[lo:hi:hi]
}

// Count returns how many entities carry v.
func (x *InvertedIndex) Count(v uint32) int {
	return len(x.Query(v))
}

// BatchQuery calls fn with the Query result for every value in vs.
func (x *InvertedIndex) BatchQuery(vs []uint32, fn func(i int, result []ecs.Entity)) {
	for i, v := range vs {
		fn(i, x.Query(v))
	}
}
