package ecs

import (
	"errors"
	"sync"
)

// Commands buffers structural changes requested during a tick. The world
// rejects spawns and despawns while a tick runs; the scheduler flushes the
// buffer once buffers have swapped. Safe for concurrent use by pool tasks.
type Commands struct {
	mu       sync.Mutex
	spawns   []*EntityBuilder
	despawns []Entity
	defers   []func()
}

func newCommands() *Commands {
	return &Commands{}
}

// Spawn queues an entity spawn. The builder must not be modified afterwards.
func (c *Commands) Spawn(b *EntityBuilder) {
	c.mu.Lock()
	c.spawns = append(c.spawns, b)
	c.mu.Unlock()
}

// Despawn queues an entity despawn.
func (c *Commands) Despawn(e Entity) {
	c.mu.Lock()
	c.despawns = append(c.despawns, e)
	c.mu.Unlock()
}

// Defer queues a function to run after the flush has applied spawns and despawns.
func (c *Commands) Defer(fn func()) {
	c.mu.Lock()
	c.defers = append(c.defers, fn)
	c.mu.Unlock()
}

// Len returns the number of queued operations.
func (c *Commands) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.spawns) + len(c.despawns) + len(c.defers)
}

// Flush applies despawns, then spawns, then deferred functions, and resets
// the buffer. Duplicate despawns are ignored; other failures are joined.
func (c *Commands) Flush(w *World) ([]Entity, error) {
	c.mu.Lock()
	spawns, despawns, defers := c.spawns, c.despawns, c.defers
	c.spawns, c.despawns, c.defers = nil, nil, nil
	c.mu.Unlock()

	var errs []error
	for _, e := range despawns {
		if err := w.Despawn(e); err != nil && !errors.Is(err, ErrAlreadyDespawned) {
			errs = append(errs, err)
		}
	}

	spawned := make([]Entity, 0, len(spawns))
	for _, b := range spawns {
		e, err := w.Spawn(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		spawned = append(spawned, e)
	}

	for _, fn := range defers {
		fn()
	}
	return spawned, errors.Join(errs...)
}
