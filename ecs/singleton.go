package ecs

import "reflect"

// Singleton provides access to a single world-wide value that is not
// associated with any entity. Use this for simulation bounds, tick counters
// or other global state.
//
// Singletons are not double-buffered. Write them outside a tick or from a
// system that does not fan out to the worker pool.
type Singleton[T any] struct {
	world *World
	ptr   *T
}

// NewSingleton returns the accessor for T in w. If the singleton does not
// exist yet it is created from initializer, or the zero value. Every accessor
// for the same T and world shares one value.
func NewSingleton[T any](w *World, initializer ...T) *Singleton[T] {
	t := reflect.TypeFor[T]()
	ptr, ok := w.singletons[t].(*T)
	if !ok {
		ptr = new(T)
		if len(initializer) > 0 {
			*ptr = initializer[0]
		}
		w.singletons[t] = ptr
	}
	return &Singleton[T]{world: w, ptr: ptr}
}

// HasSingleton reports whether a singleton of type T exists in w.
func HasSingleton[T any](w *World) bool {
	_, ok := w.singletons[reflect.TypeFor[T]()]
	return ok
}

// Get returns a pointer to the shared value.
func (s *Singleton[T]) Get() *T {
	return s.ptr
}

// Set replaces the shared value.
func (s *Singleton[T]) Set(v T) {
	*s.ptr = v
}

// World returns the world the singleton lives in.
func (s *Singleton[T]) World() *World {
	return s.world
}
