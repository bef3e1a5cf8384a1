package ecs

import (
	"reflect"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/kamstrup/intmap"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// World owns the archetype directory, the entity index and the reverse index
// from component id to the archetypes that carry it.
type World struct {
	id         uuid.UUID
	registry   *ComponentRegistry
	entities   *EntityIndex
	archetypes *intmap.Map[ArchetypeId, *Archetype]
	order      []ArchetypeId
	reverse    *intmap.Map[ComponentId, []ArchetypeId]
	singletons map[reflect.Type]any
	logger     *zerolog.Logger
	phase      atomic.Uint32
}

type worldOptions struct {
	logger   *zerolog.Logger
	capacity int
	id       uuid.UUID
}

// WorldOption configures a World.
type WorldOption func(*worldOptions)

// WithLogger injects the logger used by the world and anything built on it.
func WithLogger(logger *zerolog.Logger) WorldOption {
	return func(o *worldOptions) {
		o.logger = logger
	}
}

// WithEntityCapacity presizes the entity index.
func WithEntityCapacity(n int) WorldOption {
	return func(o *worldOptions) {
		o.capacity = n
	}
}

// WithWorldID fixes the world's identity instead of generating one.
func WithWorldID(id uuid.UUID) WorldOption {
	return func(o *worldOptions) {
		o.id = id
	}
}

// NewWorld creates an empty world over the given registry.
func NewWorld(registry *ComponentRegistry, opts ...WorldOption) *World {
	o := worldOptions{capacity: 1024}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		nop := zerolog.Nop()
		o.logger = &nop
	}
	if o.id == uuid.Nil {
		o.id = uuid.New()
	}

	return &World{
		id:         o.id,
		registry:   registry,
		entities:   NewEntityIndex(o.capacity),
		archetypes: intmap.New[ArchetypeId, *Archetype](64),
		reverse:    intmap.New[ComponentId, []ArchetypeId](64),
		singletons: make(map[reflect.Type]any),
		logger:     o.logger,
	}
}

// ID identifies this world instance in snapshots.
func (w *World) ID() uuid.UUID {
	return w.id
}

// Registry returns the component registry the world was built with.
func (w *World) Registry() *ComponentRegistry {
	return w.registry
}

// Logger returns the world's logger.
func (w *World) Logger() *zerolog.Logger {
	return w.logger
}

// Entities exposes the entity index for read-only inspection.
func (w *World) Entities() *EntityIndex {
	return w.entities
}

// Phase returns the tick phase the world is in.
func (w *World) Phase() Phase {
	return Phase(w.phase.Load())
}

func (w *World) setPhase(p Phase) {
	w.phase.Store(uint32(p))
}

// Spawn places the builder's component set as a new entity. Nothing is
// created when validation fails.
func (w *World) Spawn(b *EntityBuilder) (Entity, error) {
	if p := w.Phase(); p != PhaseIdle {
		return Entity{}, eris.Wrapf(ErrTickInProgress, "spawn during %s", p)
	}

	metas, err := b.validate(w.registry)
	if err != nil {
		return Entity{}, err
	}
	a, err := w.archetypeFor(metas)
	if err != nil {
		return Entity{}, err
	}

	e := w.entities.Allocate()
	row := a.allocRow(e)
	for i, meta := range metas {
		a.writeSpawn(row, i, b.entries[meta.ID].bytes)
	}
	w.entities.place(e, Location{Archetype: a.id, Row: uint32(row)})
	return e, nil
}

// Despawn releases e and frees its row for reuse. Despawning a dead handle
// reports ErrAlreadyDespawned and is otherwise a no-op.
func (w *World) Despawn(e Entity) error {
	if p := w.Phase(); p != PhaseIdle {
		return eris.Wrapf(ErrTickInProgress, "despawn during %s", p)
	}

	loc, err := w.entities.Release(e)
	if err != nil {
		w.logger.Debug().Stringer("entity", e).Msg("despawn of dead entity ignored")
		return err
	}
	a, _ := w.archetypes.Get(loc.Archetype)
	a.freeRow(int(loc.Row))
	return nil
}

// Resolve maps a live handle to its location, or reports false for stale handles.
func (w *World) Resolve(e Entity) (Location, bool) {
	return w.entities.Resolve(e)
}

// IsAlive reports whether e is a live handle.
func (w *World) IsAlive(e Entity) bool {
	return w.entities.Valid(e)
}

func (w *World) locate(e Entity) (*Archetype, int, error) {
	loc, ok := w.entities.Resolve(e)
	if !ok {
		return nil, 0, eris.Wrapf(ErrStaleHandle, "%s", e)
	}
	a, _ := w.archetypes.Get(loc.Archetype)
	return a, int(loc.Row), nil
}

// RowBytes returns e's cid bytes from the current buffer.
func (w *World) RowBytes(e Entity, cid ComponentId) ([]byte, error) {
	a, row, err := w.locate(e)
	if err != nil {
		return nil, err
	}
	col, err := a.column(cid)
	if err != nil {
		return nil, err
	}
	return col.row(a.current, row), nil
}

// HasComponent reports whether live entity e carries cid.
func (w *World) HasComponent(e Entity, cid ComponentId) bool {
	a, _, err := w.locate(e)
	return err == nil && a.Has(cid)
}

// Archetype returns the storage for id.
func (w *World) Archetype(id ArchetypeId) (*Archetype, bool) {
	return w.archetypes.Get(id)
}

// ArchetypeOf returns the storage holding e.
func (w *World) ArchetypeOf(e Entity) (*Archetype, bool) {
	a, _, err := w.locate(e)
	return a, err == nil
}

// ArchetypeIds returns every archetype id in ascending order.
func (w *World) ArchetypeIds() []ArchetypeId {
	return slices.Clone(w.order)
}

// Archetypes returns every archetype, ordered by id.
func (w *World) Archetypes() []*Archetype {
	out := make([]*Archetype, 0, len(w.order))
	for _, id := range w.order {
		a, _ := w.archetypes.Get(id)
		out = append(out, a)
	}
	return out
}

// ArchetypeCount returns the number of archetypes ever created.
func (w *World) ArchetypeCount() int {
	return len(w.order)
}

// QueryArchetypes returns the ids of archetypes containing cid, ascending.
func (w *World) QueryArchetypes(cid ComponentId) []ArchetypeId {
	ids, _ := w.reverse.Get(cid)
	return slices.Clone(ids)
}

// QueryAll returns the ids of archetypes containing every component in cids,
// ascending. An empty set matches nothing.
func (w *World) QueryAll(cids ...ComponentId) []ArchetypeId {
	if len(cids) == 0 {
		return nil
	}

	var smallest []ArchetypeId
	for i, cid := range cids {
		ids, _ := w.reverse.Get(cid)
		if len(ids) == 0 {
			return nil
		}
		if i == 0 || len(ids) < len(smallest) {
			smallest = ids
		}
	}

	out := make([]ArchetypeId, 0, len(smallest))
	for _, id := range smallest {
		a, _ := w.archetypes.Get(id)
		if hasAll(a, cids) {
			out = append(out, id)
		}
	}
	return out
}

func hasAll(a *Archetype, cids []ComponentId) bool {
	for _, cid := range cids {
		if !a.Has(cid) {
			return false
		}
	}
	return true
}

// EntityCount returns the total rows across archetypes, dead rows included.
func (w *World) EntityCount() int {
	n := 0
	for _, a := range w.Archetypes() {
		n += a.Rows()
	}
	return n
}

// LiveEntityCount returns the number of live entities.
func (w *World) LiveEntityCount() int {
	return w.entities.Len()
}

// SwapBuffers flips every archetype's current buffer.
func (w *World) SwapBuffers() {
	for _, id := range w.order {
		a, _ := w.archetypes.Get(id)
		a.SwapBuffers()
	}
}

func (w *World) copyForward() {
	for _, id := range w.order {
		a, _ := w.archetypes.Get(id)
		a.copyForward()
	}
}

// archetypeFor looks up or lazily creates the archetype for sorted metas.
func (w *World) archetypeFor(metas []ComponentMeta) (*Archetype, error) {
	ids := make([]ComponentId, len(metas))
	for i, m := range metas {
		ids[i] = m.ID
	}
	id := hashComponentIds(ids)

	if a, ok := w.archetypes.Get(id); ok {
		if !slices.Equal(a.ids, ids) {
			return nil, eris.Wrapf(ErrArchetypeCollision, "archetype %x: %v vs %v", id, a.ids, ids)
		}
		return a, nil
	}

	a := newArchetype(id, metas, w.registry.MaxAlign())
	w.archetypes.Put(id, a)
	idx, _ := slices.BinarySearch(w.order, id)
	w.order = slices.Insert(w.order, idx, id)
	for _, cid := range ids {
		list, _ := w.reverse.Get(cid)
		pos, _ := slices.BinarySearch(list, id)
		w.reverse.Put(cid, slices.Insert(list, pos, id))
	}

	w.logger.Debug().
		Uint64("archetype", uint64(id)).
		Interface("components", ids).
		Msg("archetype created")
	return a, nil
}
