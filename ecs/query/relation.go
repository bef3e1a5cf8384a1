package query

import (
	"bytes"
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/plus3/latch/ecs"
	"github.com/rs/zerolog"
)

// RelationType says what a relation means, for example "attached to".
type RelationType uint16

// PayloadRange locates a relation's payload in the published byte arena.
type PayloadRange struct {
	Start, Len uint32
}

// RelationDelta is an integer offset from one endpoint to the other.
type RelationDelta struct {
	DX, DY int32
}

// Flipped returns the offset seen from the other endpoint.
func (d RelationDelta) Flipped() RelationDelta {
	return RelationDelta{DX: -d.DX, DY: -d.DY}
}

// Relation is a typed record linking A to B.
type Relation struct {
	A, B     ecs.Entity
	Type     RelationType
	Payload  PayloadRange
	Delta    RelationDelta
	HasDelta bool
}

// RelationEdge is a relation as seen from one endpoint. Delta points from
// that endpoint to Other.
type RelationEdge struct {
	Other    ecs.Entity
	Type     RelationType
	Payload  PayloadRange
	Delta    RelationDelta
	HasDelta bool
}

// RelationsConfig configures Relations.
type RelationsConfig struct {
	Name            string
	InitialCapacity int
	// PayloadCapacity is the initial size of the payload arenas in bytes.
	PayloadCapacity int
}

type ownedEdge struct {
	owner ecs.Entity
	edge  RelationEdge
}

// Relations collects relation records pushed by systems during one tick and
// publishes them at the next build. Records whose endpoints died before the
// build are dropped. Published records are sorted by (type, A, B, payload,
// delta) and payloads are repacked in that order, so the output does not
// depend on push order. Push is safe for concurrent use.
type Relations struct {
	scratch
	cfg RelationsConfig

	mu           sync.Mutex
	pending      []Relation
	pendingBytes []byte

	raw     []byte
	records []Relation
	payload []byte
	sorted  []ownedEdge
	edges   []RelationEdge
	owners  []ecs.Entity
	offsets []int32
	dropped int
}

// NewRelations preallocates the record and payload arenas.
func NewRelations(cfg RelationsConfig, logger *zerolog.Logger) *Relations {
	if cfg.Name == "" {
		cfg.Name = "relations"
	}
	if cfg.InitialCapacity <= 0 {
		cfg.InitialCapacity = DefaultInitialCapacity
	}
	if cfg.PayloadCapacity <= 0 {
		cfg.PayloadCapacity = 4 * cfg.InitialCapacity
	}
	n, b := cfg.InitialCapacity, cfg.PayloadCapacity
	return &Relations{
		scratch:      newScratch(cfg.Name, logger),
		cfg:          cfg,
		pending:      make([]Relation, 0, n),
		pendingBytes: make([]byte, 0, b),
		raw:          make([]byte, 0, b),
		records:      make([]Relation, 0, n),
		payload:      make([]byte, 0, b),
		sorted:       make([]ownedEdge, 0, 2*n),
		edges:        make([]RelationEdge, 0, 2*n),
	}
}

// Push records a relation for the next tick. The payload is copied.
func (r *Relations) Push(a, b ecs.Entity, t RelationType, payload []byte) {
	r.push(Relation{A: a, B: b, Type: t}, payload)
}

// PushDelta is Push with an offset from a to b.
func (r *Relations) PushDelta(a, b ecs.Entity, t RelationType, payload []byte, d RelationDelta) {
	r.push(Relation{A: a, B: b, Type: t, Delta: d, HasDelta: true}, payload)
}

func (r *Relations) push(rel Relation, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(payload) > 0 {
		start := len(r.pendingBytes)
		r.pendingBytes = ensure(&r.scratch, r.pendingBytes, start+len(payload), "pending_payload")
		copy(r.pendingBytes[start:], payload)
		rel.Payload = PayloadRange{Start: uint32(start), Len: uint32(len(payload))}
	}
	r.pending = push(&r.scratch, r.pending, rel, "pending")
}

// Pending returns the number of records waiting for the next build.
func (r *Relations) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Build publishes the records pushed since the previous build.
func (r *Relations) Build(_ context.Context, w *ecs.World) error {
	r.mu.Lock()
	r.records, r.pending = r.pending, r.records[:0]
	r.raw, r.pendingBytes = r.pendingBytes, r.raw[:0]
	r.mu.Unlock()

	live := r.records[:0]
	size := 0
	for _, rel := range r.records {
		if w.IsAlive(rel.A) && w.IsAlive(rel.B) {
			live = append(live, rel)
			size += int(rel.Payload.Len)
		}
	}
	r.dropped = len(r.records) - len(live)
	r.records = live

	raw := r.raw
	slices.SortFunc(r.records, func(a, b Relation) int {
		if c := cmp.Compare(a.Type, b.Type); c != 0 {
			return c
		}
		if c := a.A.Compare(b.A); c != 0 {
			return c
		}
		if c := a.B.Compare(b.B); c != 0 {
			return c
		}
		if c := bytes.Compare(span(raw, a.Payload), span(raw, b.Payload)); c != 0 {
			return c
		}
		return compareDelta(a.HasDelta, a.Delta, b.HasDelta, b.Delta)
	})

	r.payload = ensure(&r.scratch, r.payload, size, "payload")[:0]
	for i := range r.records {
		p := r.records[i].Payload
		r.records[i].Payload = PayloadRange{Start: uint32(len(r.payload)), Len: p.Len}
		r.payload = append(r.payload, span(raw, p)...)
	}

	r.buildEdges()
	return nil
}

func (r *Relations) buildEdges() {
	r.sorted = ensure(&r.scratch, r.sorted, 2*len(r.records), "owned_edges")[:0]
	for _, rel := range r.records {
		r.sorted = append(r.sorted,
			ownedEdge{owner: rel.A, edge: RelationEdge{Other: rel.B, Type: rel.Type, Payload: rel.Payload, Delta: rel.Delta, HasDelta: rel.HasDelta}},
			ownedEdge{owner: rel.B, edge: RelationEdge{Other: rel.A, Type: rel.Type, Payload: rel.Payload, Delta: rel.Delta.Flipped(), HasDelta: rel.HasDelta}},
		)
	}
	// Records are already in canonical order, so a stable sort on the owner
	// keeps each owner's edges in that order.
	slices.SortStableFunc(r.sorted, func(a, b ownedEdge) int {
		return a.owner.Compare(b.owner)
	})

	r.edges = ensure(&r.scratch, r.edges, len(r.sorted), "edges")
	r.owners = r.owners[:0]
	r.offsets = r.offsets[:0]
	for i, oe := range r.sorted {
		r.edges[i] = oe.edge
		if i == 0 || oe.owner != r.owners[len(r.owners)-1] {
			r.owners = append(r.owners, oe.owner)
			r.offsets = append(r.offsets, int32(i))
		}
	}
	r.offsets = append(r.offsets, int32(len(r.sorted)))
}

func span(buf []byte, p PayloadRange) []byte {
	if p.Len == 0 {
		return nil
	}
	return buf[p.Start : p.Start+p.Len]
}

func compareDelta(ah bool, a RelationDelta, bh bool, b RelationDelta) int {
	if ah != bh {
		if ah {
			return 1
		}
		return -1
	}
	if c := cmp.Compare(a.DX, b.DX); c != 0 {
		return c
	}
	return cmp.Compare(a.DY, b.DY)
}

// Len returns the number of published records.
func (r *Relations) Len() int {
	return len(r.records)
}

// Dropped returns how many records the last build discarded because an
// endpoint was no longer alive.
func (r *Relations) Dropped() int {
	return r.dropped
}

// All returns every published record in canonical order.
func (r *Relations) All() []Relation {
	return r.records[:len(r.records):len(r.records)]
}

// OfType returns the published records of one type.
func (r *Relations) OfType(t RelationType) []Relation {
	lo, _ := slices.BinarySearchFunc(r.records, t, func(rel Relation, t RelationType) int {
		return cmp.Compare(rel.Type, t)
	})
	hi := lo
	for hi < len(r.records) && r.records[hi].Type == t {
		hi++
	}
	if lo == hi {
		return nil
	}
	return r.records[lo:hi:hi]
}

// Payload returns the bytes a published record carries, or nil.
func (r *Relations) Payload(p PayloadRange) []byte {
	end := uint64(p.Start) + uint64(p.Len)
	if p.Len == 0 || end > uint64(len(r.payload)) {
		return nil
	}
	return r.payload[p.Start:end:end]
}

// Query returns every edge touching e, in canonical record order.
func (r *Relations) Query(e ecs.Entity) []RelationEdge {
	i, ok := slices.BinarySearchFunc(r.owners, e, ecs.Entity.Compare)
	if !ok {
		return nil
	}
	lo, hi := r.offsets[i], r.offsets[i+1]
	return r.edges[lo:hi:hi]
}

// BatchQuery calls fn with the Query result of every handle in es.
func (r *Relations) BatchQuery(es []ecs.Entity, fn func(i int, result []RelationEdge)) {
	for i, e := range es {
		fn(i, r.Query(e))
	}
}
