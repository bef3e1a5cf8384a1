package ecs

import (
	"reflect"
	"slices"
	"unsafe"

	"github.com/kamstrup/intmap"
	"github.com/rotisserie/eris"
)

// ComponentId is a stable, explicitly assigned component identifier.
// Native and data-driven components share the same id space.
type ComponentId uint32

// WritePolicy decides what happens to rows a tick does not write.
type WritePolicy uint8

const (
	// CopyForward copies the current buffer into the next buffer when a tick
	// freezes, so rows no system touches keep their value across the swap.
	CopyForward WritePolicy = iota
	// FullRewrite skips the copy. The system declaring the write must write
	// every live row each tick, or stale data from two ticks ago surfaces.
	FullRewrite
)

func (p WritePolicy) String() string {
	switch p {
	case CopyForward:
		return "copy_forward"
	case FullRewrite:
		return "full_rewrite"
	default:
		return "unknown"
	}
}

// ComponentMeta describes the byte layout of one component.
type ComponentMeta struct {
	ID     ComponentId
	Name   string
	Size   int
	Align  int
	Policy WritePolicy
}

// ComponentOption adjusts a registration.
type ComponentOption func(*ComponentMeta)

// WithPolicy sets the component's write policy.
func WithPolicy(p WritePolicy) ComponentOption {
	return func(m *ComponentMeta) {
		m.Policy = p
	}
}

// ComponentRegistry maps component ids to their layout for one World.
// Each World is handed its own registry; there is no process-wide state.
type ComponentRegistry struct {
	metas    *intmap.Map[ComponentId, ComponentMeta]
	byName   map[string]ComponentId
	ids      []ComponentId
	maxAlign int
}

// NewComponentRegistry creates an empty registry.
func NewComponentRegistry() *ComponentRegistry {
	return &ComponentRegistry{
		metas:    intmap.New[ComponentId, ComponentMeta](64),
		byName:   make(map[string]ComponentId),
		maxAlign: 1,
	}
}

// Register records the layout for id. Registering the same layout again is a
// no-op; a different size, alignment or name for an existing id fails with
// ErrComponentConflict.
func (r *ComponentRegistry) Register(id ComponentId, size, align int, name string, opts ...ComponentOption) (ComponentMeta, error) {
	if size < 0 {
		return ComponentMeta{}, eris.Wrapf(ErrComponentMismatch, "component %d (%s): negative size %d", id, name, size)
	}
	if align <= 0 || align&(align-1) != 0 {
		return ComponentMeta{}, eris.Wrapf(ErrAlignmentViolation, "component %d (%s): alignment %d is not a power of two", id, name, align)
	}

	meta := ComponentMeta{ID: id, Name: name, Size: size, Align: align}
	for _, opt := range opts {
		opt(&meta)
	}

	if existing, ok := r.metas.Get(id); ok {
		if existing.Size != size || existing.Align != align || existing.Name != name {
			return existing, eris.Wrapf(ErrComponentConflict,
				"component %d: registered as %s(size=%d, align=%d), got %s(size=%d, align=%d)",
				id, existing.Name, existing.Size, existing.Align, name, size, align)
		}
		return existing, nil
	}
	if other, ok := r.byName[name]; ok && name != "" {
		return ComponentMeta{}, eris.Wrapf(ErrComponentConflict, "component name %q already used by id %d", name, other)
	}

	r.metas.Put(id, meta)
	if name != "" {
		r.byName[name] = id
	}
	idx, _ := slices.BinarySearch(r.ids, id)
	r.ids = slices.Insert(r.ids, idx, id)
	if align > r.maxAlign {
		r.maxAlign = align
	}
	return meta, nil
}

// RegisterComponent registers a natively typed component under an explicit id.
// It goes through the same path as raw registrations; T must be plain data.
func RegisterComponent[T any](r *ComponentRegistry, id ComponentId, name string, opts ...ComponentOption) (ComponentMeta, error) {
	t := reflect.TypeFor[T]()
	if hasPointers(t) {
		return ComponentMeta{}, eris.Wrapf(ErrPointerComponent, "component %d (%s): type %s", id, name, t)
	}
	if name == "" {
		name = t.Name()
	}
	var zero T
	return r.Register(id, int(unsafe.Sizeof(zero)), int(unsafe.Alignof(zero)), name, opts...)
}

// MustRegisterComponent is RegisterComponent for setup code that cannot recover.
func MustRegisterComponent[T any](r *ComponentRegistry, id ComponentId, name string, opts ...ComponentOption) ComponentMeta {
	meta, err := RegisterComponent[T](r, id, name, opts...)
	if err != nil {
		panic(err)
	}
	return meta
}

// Meta returns the layout registered for id.
func (r *ComponentRegistry) Meta(id ComponentId) (ComponentMeta, bool) {
	return r.metas.Get(id)
}

// MetaByName looks a component up by display name.
func (r *ComponentRegistry) MetaByName(name string) (ComponentMeta, bool) {
	id, ok := r.byName[name]
	if !ok {
		return ComponentMeta{}, false
	}
	return r.metas.Get(id)
}

// IDs returns every registered id in ascending order.
func (r *ComponentRegistry) IDs() []ComponentId {
	return slices.Clone(r.ids)
}

// Len returns the number of registered components.
func (r *ComponentRegistry) Len() int {
	return r.metas.Len()
}

// MaxAlign is the largest alignment of any registered component. Columns are
// allocated at least this aligned.
func (r *ComponentRegistry) MaxAlign() int {
	return r.maxAlign
}

// hasPointers reports whether values of t hold anything the GC must trace.
// Such values cannot live in raw byte columns.
func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Chan,
		reflect.Func, reflect.Interface, reflect.Slice, reflect.String:
		return true
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
	}
	return false
}
