package ecs

import (
	"reflect"
	"unsafe"

	"github.com/rotisserie/eris"
)

// ReadColumn returns the current buffer of cid as a typed slice with one
// element per row, dead rows included. The slice is shared with storage and
// must be treated as read-only; it is invalidated by the next spawn that grows
// the archetype.
func ReadColumn[T any](a *Archetype, cid ComponentId) ([]T, error) {
	col, err := a.column(cid)
	if err != nil {
		return nil, err
	}
	return viewAs[T](col, col.buffers[a.current], a.rows)
}

// WriteColumn returns the next buffer of cid as a typed slice. Writes become
// visible to readers only after the archetype swaps buffers.
func WriteColumn[T any](a *Archetype, cid ComponentId) ([]T, error) {
	col, err := a.column(cid)
	if err != nil {
		return nil, err
	}
	return viewAs[T](col, col.buffers[a.current^1], a.rows)
}

// Read is ReadColumn addressed by archetype id.
func Read[T any](w *World, arch ArchetypeId, cid ComponentId) ([]T, error) {
	a, ok := w.Archetype(arch)
	if !ok {
		return nil, eris.Wrapf(ErrUnknownArchetype, "archetype %x", arch)
	}
	return ReadColumn[T](a, cid)
}

// Write is WriteColumn addressed by archetype id.
func Write[T any](w *World, arch ArchetypeId, cid ComponentId) ([]T, error) {
	a, ok := w.Archetype(arch)
	if !ok {
		return nil, eris.Wrapf(ErrUnknownArchetype, "archetype %x", arch)
	}
	return WriteColumn[T](a, cid)
}

// ReadComponent returns a copy of e's cid value from the current buffer.
func ReadComponent[T any](w *World, e Entity, cid ComponentId) (T, error) {
	var zero T
	a, row, err := w.locate(e)
	if err != nil {
		return zero, err
	}
	values, err := ReadColumn[T](a, cid)
	if err != nil {
		return zero, err
	}
	return values[row], nil
}

// WriteComponent stores v as e's cid value in the next buffer.
func WriteComponent[T any](w *World, e Entity, cid ComponentId, v T) error {
	a, row, err := w.locate(e)
	if err != nil {
		return err
	}
	values, err := WriteColumn[T](a, cid)
	if err != nil {
		return err
	}
	values[row] = v
	return nil
}

// viewAs validates T against the column layout before reinterpreting bytes.
func viewAs[T any](col *column, buf []byte, rows int) ([]T, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	align := int(unsafe.Alignof(zero))
	meta := col.meta

	if size != meta.Size {
		return nil, eris.Wrapf(ErrSizeMismatch, "component %d (%s): registered size %d, view type %T has size %d",
			meta.ID, meta.Name, meta.Size, zero, size)
	}
	if t := reflect.TypeFor[T](); hasPointers(t) {
		return nil, eris.Wrapf(ErrPointerComponent, "component %d (%s): view type %s", meta.ID, meta.Name, t)
	}
	if align > col.align {
		return nil, eris.Wrapf(ErrAlignmentViolation, "component %d (%s): column aligned to %d, view type %T needs %d",
			meta.ID, meta.Name, col.align, zero, align)
	}
	if rows == 0 {
		return nil, nil
	}
	if size == 0 {
		return make([]T, rows), nil
	}
	base := unsafe.Pointer(unsafe.SliceData(buf))
	if uintptr(base)%uintptr(align) != 0 {
		return nil, eris.Wrapf(ErrAlignmentViolation, "component %d (%s): buffer at %p is not %d-aligned",
			meta.ID, meta.Name, base, align)
	}
	return unsafe.Slice((*T)(base), rows), nil
}

// valueBytes copies the in-memory representation of v.
func valueBytes[T any](v *T) []byte {
	size := int(unsafe.Sizeof(*v))
	if size == 0 {
		return []byte{}
	}
	return append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(v)), size)...)
}
