package ecs

import (
	"iter"
	"slices"
)

// Query caches the archetypes that carry every component of a set. The cache
// is refreshed when the world's archetype count changes; archetypes are never
// destroyed, so a count change is the only way the answer can change.
type Query struct {
	world              *World
	ids                []ComponentId
	cachedArchetypes   []ArchetypeId
	lastArchetypeCount int
}

// NewQuery creates a query over the given component ids.
func NewQuery(w *World, ids ...ComponentId) *Query {
	return &Query{
		world:              w,
		ids:                NormalizeComponentIds(ids),
		lastArchetypeCount: -1,
	}
}

// ComponentIds returns the query's sorted component set.
func (q *Query) ComponentIds() []ComponentId {
	return slices.Clone(q.ids)
}

func (q *Query) ensureArchetypeCache() {
	count := q.world.ArchetypeCount()
	if count == q.lastArchetypeCount {
		return
	}
	q.cachedArchetypes = q.world.QueryAll(q.ids...)
	q.lastArchetypeCount = count
}

// ArchetypeIds returns the matching archetype ids in ascending order.
func (q *Query) ArchetypeIds() []ArchetypeId {
	q.ensureArchetypeCache()
	return slices.Clone(q.cachedArchetypes)
}

// Archetypes iterates the matching archetypes in id order.
func (q *Query) Archetypes() iter.Seq[*Archetype] {
	q.ensureArchetypeCache()
	return func(yield func(*Archetype) bool) {
		for _, id := range q.cachedArchetypes {
			a, _ := q.world.Archetype(id)
			if !yield(a) {
				return
			}
		}
	}
}

// Iter yields every live entity matching the query with its archetype and row.
func (q *Query) Iter() iter.Seq2[Entity, Location] {
	return func(yield func(Entity, Location) bool) {
		for a := range q.Archetypes() {
			for row, e := range a.Iter() {
				if !yield(e, Location{Archetype: a.id, Row: uint32(row)}) {
					return
				}
			}
		}
	}
}

// Len returns the number of live entities matching the query.
func (q *Query) Len() int {
	n := 0
	for a := range q.Archetypes() {
		n += a.Len()
	}
	return n
}
