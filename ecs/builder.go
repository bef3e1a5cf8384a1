package ecs

import (
	"reflect"
	"unsafe"

	"github.com/rotisserie/eris"
)

type builderEntry struct {
	bytes []byte
	align int // zero for raw bytes, which carry no alignment of their own
	err   error
}

// EntityBuilder collects a complete component set before an entity is placed,
// so the archetype is computed once and never changes afterwards.
type EntityBuilder struct {
	order   []ComponentId
	entries map[ComponentId]builderEntry
}

// NewEntityBuilder creates an empty builder.
func NewEntityBuilder() *EntityBuilder {
	return &EntityBuilder{
		entries: make(map[ComponentId]builderEntry),
	}
}

// With adds raw component bytes. The bytes are copied; their length must
// equal the registered size of id when the entity is spawned. Adding the
// same id twice keeps the last value.
func (b *EntityBuilder) With(id ComponentId, bytes []byte) *EntityBuilder {
	b.put(id, builderEntry{bytes: append([]byte{}, bytes...)})
	return b
}

// Set adds a natively typed component value. It shares the raw path; the
// value's size and alignment are checked against the registered layout.
func Set[T any](b *EntityBuilder, id ComponentId, v T) *EntityBuilder {
	entry := builderEntry{align: int(unsafe.Alignof(v))}
	if t := reflect.TypeFor[T](); hasPointers(t) {
		entry.err = eris.Wrapf(ErrPointerComponent, "component %d: type %s", id, t)
	} else {
		entry.bytes = valueBytes(&v)
	}
	b.put(id, entry)
	return b
}

func (b *EntityBuilder) put(id ComponentId, entry builderEntry) {
	if _, ok := b.entries[id]; !ok {
		b.order = append(b.order, id)
	}
	b.entries[id] = entry
}

// Len returns the number of distinct components collected.
func (b *EntityBuilder) Len() int {
	return len(b.order)
}

// ComponentIds returns the sorted component set.
func (b *EntityBuilder) ComponentIds() []ComponentId {
	return NormalizeComponentIds(b.order)
}

// Archetype returns the identity the entity will be placed under.
func (b *EntityBuilder) Archetype() ArchetypeId {
	return ArchetypeIdOf(b.order)
}

// Reset empties the builder for reuse.
func (b *EntityBuilder) Reset() {
	b.order = b.order[:0]
	clear(b.entries)
}

// validate checks every entry against the registry and returns the metas in
// sorted id order.
func (b *EntityBuilder) validate(r *ComponentRegistry) ([]ComponentMeta, error) {
	if len(b.order) == 0 {
		return nil, ErrEmptyEntity
	}

	ids := b.ComponentIds()
	metas := make([]ComponentMeta, len(ids))
	for i, id := range ids {
		meta, ok := r.Meta(id)
		if !ok {
			return nil, eris.Wrapf(ErrUnknownComponent, "component %d", id)
		}
		entry := b.entries[id]
		if entry.err != nil {
			return nil, entry.err
		}
		if len(entry.bytes) != meta.Size {
			return nil, eris.Wrapf(ErrComponentMismatch, "component %d (%s): expected %d bytes, got %d",
				id, meta.Name, meta.Size, len(entry.bytes))
		}
		if entry.align != 0 && entry.align != meta.Align {
			return nil, eris.Wrapf(ErrComponentMismatch, "component %d (%s): expected alignment %d, got %d",
				id, meta.Name, meta.Align, entry.align)
		}
		metas[i] = meta
	}
	return metas, nil
}
