package ecs

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrStaleHandle is returned when an entity handle's generation no longer matches its slot.
	ErrStaleHandle = eris.New("stale entity handle")
	// ErrComponentMismatch is returned when component bytes or a typed value do not fit the registered layout.
	ErrComponentMismatch = eris.New("component does not match registered layout")
	// ErrSizeMismatch is returned when a typed view's element size differs from the registered size.
	ErrSizeMismatch = eris.New("component size mismatch")
	// ErrAlignmentViolation is returned when a column cannot be viewed at the requested alignment.
	ErrAlignmentViolation = eris.New("component alignment violation")
	// ErrUnknownComponent is returned for component ids that were never registered.
	ErrUnknownComponent = eris.New("unknown component id")
	// ErrComponentConflict is returned when a component id is re-registered with a different layout.
	ErrComponentConflict = eris.New("conflicting component registration")
	// ErrAlreadyDespawned is returned when releasing a handle that is already dead. It is not fatal.
	ErrAlreadyDespawned = eris.New("entity already despawned")
	// ErrCapacityOverflow marks scratch arena growth. It is logged, never returned as a failure.
	ErrCapacityOverflow = eris.New("scratch capacity exceeded")
	// ErrTickSystemFault is the root of every fatal tick error.
	ErrTickSystemFault = eris.New("system fault during tick")
	// ErrTickInProgress is returned for structural changes attempted while a tick is running.
	ErrTickInProgress = eris.New("tick in progress")
	// ErrEmptyEntity is returned when spawning a builder with no components.
	ErrEmptyEntity = eris.New("entity has no components")
	// ErrArchetypeCollision is returned when two different component sets hash to the same archetype id.
	ErrArchetypeCollision = eris.New("archetype id collision")
	// ErrMissingColumn is returned when an archetype does not carry the requested component.
	ErrMissingColumn = eris.New("archetype has no such component")
	// ErrPointerComponent is returned for typed components whose layout contains Go pointers.
	ErrPointerComponent = eris.New("component type contains pointers")
	// ErrUnknownArchetype is returned when an archetype id is not present in the directory.
	ErrUnknownArchetype = eris.New("unknown archetype")
	// ErrDuplicateSystem is returned when two systems declaring access share a name.
	ErrDuplicateSystem = eris.New("system already registered")
	// ErrEmptyAccess is returned for a system whose declared access names no components.
	ErrEmptyAccess = eris.New("system does not access any components")
	// ErrWriteConflict is returned when a second system declares a write to an owned component.
	ErrWriteConflict = eris.New("component already has a writer")
)

// TickError reports a fatal failure of the RunningSystems phase.
// Writes already made by completed systems were still swapped in.
type TickError struct {
	Tick   uint64
	System string
	Panic  any
	Err    error
}

func (e *TickError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("tick %d: system %s panicked: %v", e.Tick, e.System, e.Panic)
	}
	return fmt.Sprintf("tick %d: system %s failed: %v", e.Tick, e.System, e.Err)
}

// Unwrap exposes both the sentinel and the system's own error.
func (e *TickError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTickSystemFault}
	}
	return []error{ErrTickSystemFault, e.Err}
}
