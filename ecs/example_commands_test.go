package ecs_test

import (
	"context"
	"fmt"

	"github.com/plus3/latch/ecs"
)

// ExampleCommands demonstrates deferring structural changes from inside a
// system. The world refuses spawns and despawns while a tick runs; commands
// recorded on the frame are applied right after the buffers swap.
func ExampleCommands() {
	world := ecs.NewWorld(exampleRegistry())
	for i := int32(1); i <= 3; i++ {
		_, _ = world.Spawn(ecs.Set(ecs.NewEntityBuilder(), HitpointsID, Hitpoints{Current: i - 1, Max: 3}))
	}

	scheduler := ecs.NewScheduler(world)
	scheduler.Register(ecs.Named("reaper", func(frame *ecs.UpdateFrame) error {
		for _, id := range frame.World.QueryArchetypes(HitpointsID) {
			a, _ := frame.World.Archetype(id)
			hp, err := ecs.ReadColumn[Hitpoints](a, HitpointsID)
			if err != nil {
				return err
			}
			for row, e := range a.Iter() {
				if hp[row].Current <= 0 {
					frame.Commands.Despawn(e)
					frame.Commands.Spawn(ecs.Set(ecs.NewEntityBuilder(), HitpointsID, Hitpoints{Current: 3, Max: 3}))
				}
			}
		}
		fmt.Printf("queued %d commands, %d entities alive\n", frame.Commands.Len(), frame.World.LiveEntityCount())
		return nil
	}))

	_ = scheduler.Tick(context.Background(), 1)
	fmt.Printf("after the tick: %d entities alive\n", world.LiveEntityCount())

	// Output:
	// queued 2 commands, 3 entities alive
	// after the tick: 3 entities alive
}
