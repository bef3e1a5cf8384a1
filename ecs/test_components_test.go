package ecs_test

import "github.com/plus3/latch/ecs"

// Common test component types
type Position struct {
	X, Y float32
}

type Velocity struct {
	DX, DY float32
}

type Health struct {
	Current int32
	Max     int32
}

type Mass float64

type Flags uint8

type Marker struct{}

type AIPointer struct {
	Target *Position
}

type Inventory struct {
	Items []string
}

const (
	PositionID ecs.ComponentId = iota + 1
	VelocityID
	HealthID
	MassID
	FlagsID
	MarkerID
	ScratchID
)

// newTestRegistry registers every shared test component. Scratch is a
// full-rewrite column with Position's layout.
func newTestRegistry() *ecs.ComponentRegistry {
	registry := ecs.NewComponentRegistry()
	ecs.MustRegisterComponent[Position](registry, PositionID, "Position")
	ecs.MustRegisterComponent[Velocity](registry, VelocityID, "Velocity")
	ecs.MustRegisterComponent[Health](registry, HealthID, "Health")
	ecs.MustRegisterComponent[Mass](registry, MassID, "Mass")
	ecs.MustRegisterComponent[Flags](registry, FlagsID, "Flags")
	ecs.MustRegisterComponent[Marker](registry, MarkerID, "Marker")
	ecs.MustRegisterComponent[Position](registry, ScratchID, "Scratch", ecs.WithPolicy(ecs.FullRewrite))
	return registry
}

func newTestWorld() *ecs.World {
	return ecs.NewWorld(newTestRegistry())
}

func mover(p Position, v Velocity) *ecs.EntityBuilder {
	b := ecs.NewEntityBuilder()
	ecs.Set(b, PositionID, p)
	ecs.Set(b, VelocityID, v)
	return b
}
