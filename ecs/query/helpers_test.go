package query_test

import (
	"math/rand/v2"
	"testing"

	"github.com/plus3/latch/ecs"
	"github.com/plus3/latch/ecs/query"
)

const (
	PositionID ecs.ComponentId = 1
	BoundsID   ecs.ComponentId = 2
	FactionID  ecs.ComponentId = 3
	HealthID   ecs.ComponentId = 4
)

type Health struct {
	Current, Max int32
}

func newTestRegistry() *ecs.ComponentRegistry {
	registry := ecs.NewComponentRegistry()
	ecs.MustRegisterComponent[query.Vec3](registry, PositionID, "position")
	ecs.MustRegisterComponent[query.AABB](registry, BoundsID, "bounds")
	ecs.MustRegisterComponent[uint32](registry, FactionID, "faction")
	ecs.MustRegisterComponent[Health](registry, HealthID, "health")
	return registry
}

func spawnAt(t testing.TB, w *ecs.World, p query.Vec3) ecs.Entity {
	t.Helper()
	e, err := w.Spawn(ecs.Set(ecs.NewEntityBuilder(), PositionID, p))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	return e
}

// scatterWorld spawns n entities uniformly over a size x size square at z=0.
// Every third entity also carries Health so positions span two archetypes.
func scatterWorld(t testing.TB, n int, size float32, seed uint64) (*ecs.World, []ecs.Entity, map[ecs.Entity]query.Vec3) {
	t.Helper()
	w := ecs.NewWorld(newTestRegistry())
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	entities := make([]ecs.Entity, 0, n)
	positions := make(map[ecs.Entity]query.Vec3, n)
	for i := 0; i < n; i++ {
		p := query.Vec3{X: rng.Float32() * size, Y: rng.Float32() * size}
		b := ecs.Set(ecs.NewEntityBuilder(), PositionID, p)
		if i%3 == 0 {
			ecs.Set(b, HealthID, Health{Current: 10, Max: 10})
		}
		e, err := w.Spawn(b)
		if err != nil {
			t.Fatalf("spawn: %v", err)
		}
		entities = append(entities, e)
		positions[e] = p
	}
	return w, entities, positions
}
