package ecs_test

import (
	"fmt"

	"github.com/plus3/latch/ecs"
)

// ExampleWorld demonstrates registering components, spawning entities and
// reading their values back. Entities with the same component set share an
// archetype regardless of the order components were added in.
func ExampleWorld() {
	world := ecs.NewWorld(exampleRegistry())

	a := ecs.NewEntityBuilder()
	ecs.Set(a, TransformID, Transform{X: 1, Y: 2})
	ecs.Set(a, SpeedID, Speed{DX: 1})
	first, _ := world.Spawn(a)

	b := ecs.NewEntityBuilder()
	ecs.Set(b, SpeedID, Speed{DY: 1})
	ecs.Set(b, TransformID, Transform{X: 3, Y: 4})
	second, _ := world.Spawn(b)

	fmt.Println(first, second)
	fmt.Printf("Archetypes: %d, entities: %d\n", world.ArchetypeCount(), world.LiveEntityCount())

	t, _ := ecs.ReadComponent[Transform](world, second, TransformID)
	fmt.Printf("Second at (%.0f, %.0f)\n", t.X, t.Y)

	// Output:
	// Entity(0 v0) Entity(1 v0)
	// Archetypes: 1, entities: 2
	// Second at (3, 4)
}

// ExampleWorld_Despawn shows generational handles. A despawned index is
// recycled with a bumped generation, so the old handle stays invalid.
func ExampleWorld_Despawn() {
	world := ecs.NewWorld(exampleRegistry())
	old, _ := world.Spawn(ecs.Set(ecs.NewEntityBuilder(), HitpointsID, Hitpoints{Current: 1, Max: 1}))

	_ = world.Despawn(old)
	reused, _ := world.Spawn(ecs.Set(ecs.NewEntityBuilder(), HitpointsID, Hitpoints{Current: 5, Max: 5}))

	fmt.Println(old, world.IsAlive(old))
	fmt.Println(reused, world.IsAlive(reused))

	_, err := ecs.ReadComponent[Hitpoints](world, old, HitpointsID)
	fmt.Println(err != nil)

	// Output:
	// Entity(0 v0) false
	// Entity(0 v1) true
	// true
}

// ExampleEntityBuilder_With shows spawning from raw bytes, the path used by
// callers that only know a component's registered size.
func ExampleEntityBuilder_With() {
	registry := ecs.NewComponentRegistry()
	tag, _ := registry.Register(1, 4, 4, "Tag")
	world := ecs.NewWorld(registry)

	e, _ := world.Spawn(ecs.NewEntityBuilder().With(tag.ID, []byte{0xEF, 0xBE, 0xAD, 0xDE}))
	value, _ := ecs.ReadComponent[uint32](world, e, tag.ID)
	fmt.Printf("%#x\n", value)

	_, err := world.Spawn(ecs.NewEntityBuilder().With(tag.ID, []byte{1, 2}))
	fmt.Println(err != nil)

	// Output:
	// 0xdeadbeef
	// true
}
