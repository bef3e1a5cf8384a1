package ecs

import "context"

// UpdateFrame is what a system sees during one tick.
type UpdateFrame struct {
	Context   context.Context
	Tick      uint64
	DeltaTime float64
	World     *World
	Pool      *WorkerPool
	Commands  *Commands
}

func newUpdateFrame(ctx context.Context, tick uint64, dt float64, world *World, pool *WorkerPool, commands *Commands) *UpdateFrame {
	return &UpdateFrame{
		Context:   ctx,
		Tick:      tick,
		DeltaTime: dt,
		World:     world,
		Pool:      pool,
		Commands:  commands,
	}
}
