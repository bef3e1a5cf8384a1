package ecs

import (
	"context"
	"reflect"
	"slices"
)

// System is a behavior run once per tick during RunningSystems. It reads the
// current buffers and accelerator snapshots and writes only next buffers.
// Returning an error or panicking aborts the remaining systems of the tick.
type System interface {
	Execute(frame *UpdateFrame) error
}

// NamedSystem lets a system choose the name used in stats and tick errors.
type NamedSystem interface {
	System
	Name() string
}

// SystemAccess lists the components a system reads and writes. Each
// component has at most one writer per scheduler, which makes it the sole
// owner of that column's next buffer.
type SystemAccess struct {
	Reads  []ComponentId
	Writes []ComponentId
}

// Components returns the sorted union of Reads and Writes.
func (a SystemAccess) Components() []ComponentId {
	return NormalizeComponentIds(append(slices.Clone(a.Reads), a.Writes...))
}

// AccessSystem is a system that declares its component access. The
// scheduler validates the declaration at registration.
type AccessSystem interface {
	NamedSystem
	Access() SystemAccess
}

// SystemFunc adapts a function to the System interface.
type SystemFunc func(frame *UpdateFrame) error

// Execute calls f.
func (f SystemFunc) Execute(frame *UpdateFrame) error {
	return f(frame)
}

type namedFunc struct {
	name string
	fn   SystemFunc
}

func (n namedFunc) Execute(frame *UpdateFrame) error { return n.fn(frame) }
func (n namedFunc) Name() string                      { return n.name }

// Named wraps fn as a system reporting the given name.
func Named(name string, fn SystemFunc) NamedSystem {
	return namedFunc{name: name, fn: fn}
}

type accessFunc struct {
	namedFunc
	access SystemAccess
}

func (a accessFunc) Access() SystemAccess { return a.access }

// WithAccess wraps fn as a named system declaring the given access.
func WithAccess(name string, access SystemAccess, fn SystemFunc) AccessSystem {
	return accessFunc{namedFunc: namedFunc{name: name, fn: fn}, access: access}
}

// Accelerator is a read-only index rebuilt from the frozen current buffers
// during BuildingAccelerators. Builds of different accelerators run in
// parallel and must not touch anything but their own state.
type Accelerator interface {
	Name() string
	Build(ctx context.Context, w *World) error
}

func systemName(system System) string {
	if named, ok := system.(NamedSystem); ok {
		return named.Name()
	}
	systemType := reflect.TypeOf(system)
	if systemType.Kind() == reflect.Ptr {
		systemType = systemType.Elem()
	}
	if name := systemType.Name(); name != "" {
		return name
	}
	return systemType.String()
}
