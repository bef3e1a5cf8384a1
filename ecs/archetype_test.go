package ecs_test

import (
	"testing"

	"github.com/plus3/latch/ecs"
	"github.com/stretchr/testify/assert"
)

func TestArchetypeIdentity(t *testing.T) {
	permutations := [][]ecs.ComponentId{
		{PositionID, VelocityID, HealthID},
		{HealthID, PositionID, VelocityID},
		{VelocityID, HealthID, PositionID},
		{HealthID, VelocityID, PositionID, HealthID},
	}
	want := ecs.ArchetypeIdOf(permutations[0])
	for _, ids := range permutations {
		assert.Equal(t, want, ecs.ArchetypeIdOf(ids), "%v", ids)
	}
	assert.NotEqual(t, want, ecs.ArchetypeIdOf([]ecs.ComponentId{PositionID, VelocityID}))
	assert.Equal(t, []ecs.ComponentId{1, 2, 3}, ecs.NormalizeComponentIds([]ecs.ComponentId{3, 1, 2, 1, 3}))

	t.Run("spawn order does not change placement", func(t *testing.T) {
		w := newTestWorld()
		var placed []ecs.ArchetypeId
		for _, ids := range permutations {
			b := ecs.NewEntityBuilder()
			for _, id := range ids {
				switch id {
				case PositionID:
					ecs.Set(b, id, Position{X: 1})
				case VelocityID:
					ecs.Set(b, id, Velocity{DX: 1})
				case HealthID:
					ecs.Set(b, id, Health{Current: 1, Max: 1})
				}
			}
			assert.Equal(t, want, b.Archetype())
			e, err := w.Spawn(b)
			assert.NoError(t, err)
			loc, _ := w.Resolve(e)
			placed = append(placed, loc.Archetype)
		}
		assert.Equal(t, 1, w.ArchetypeCount())
		for _, id := range placed {
			assert.Equal(t, want, id)
		}

		a, ok := w.Archetype(want)
		assert.True(t, ok)
		assert.Equal(t, 4, a.Len())
		assert.Equal(t, []ecs.ComponentId{PositionID, VelocityID, HealthID}, a.ComponentIds())
	})
}

// An archetype with 128 rows grows every column by exactly one element for the
// 129th spawn.
func TestArchetypeRowGrowth(t *testing.T) {
	w := newTestWorld()
	for i := 0; i < 128; i++ {
		_, err := w.Spawn(mover(Position{X: float32(i)}, Velocity{}))
		assert.NoError(t, err)
	}
	e, err := w.Spawn(mover(Position{X: 128}, Velocity{DX: 1}))
	assert.NoError(t, err)

	loc, ok := w.Resolve(e)
	assert.True(t, ok)
	assert.Equal(t, uint32(128), loc.Row)

	a, _ := w.Archetype(loc.Archetype)
	assert.Equal(t, 129, a.Rows())
	for _, cid := range []ecs.ComponentId{PositionID, VelocityID} {
		cur, err := a.CurrentBytes(cid)
		assert.NoError(t, err)
		next, err := a.NextBytes(cid)
		assert.NoError(t, err)
		assert.Len(t, cur, 129*8)
		assert.Len(t, next, 129*8)
	}

	positions, err := ecs.ReadColumn[Position](a, PositionID)
	assert.NoError(t, err)
	assert.Len(t, positions, 129)
	for i, p := range positions {
		assert.Equal(t, float32(i), p.X)
	}
}

func TestArchetypeRows(t *testing.T) {
	w := newTestWorld()
	var entities []ecs.Entity
	for i := 0; i < 4; i++ {
		e, err := w.Spawn(mover(Position{X: float32(i)}, Velocity{}))
		assert.NoError(t, err)
		entities = append(entities, e)
	}
	a, _ := w.ArchetypeOf(entities[0])

	assert.NoError(t, w.Despawn(entities[1]))
	assert.Equal(t, 4, a.Rows())
	assert.Equal(t, 3, a.Len())
	assert.Equal(t, 1, a.FreeRows())
	assert.False(t, a.Live(1))
	assert.Equal(t, uint32(1), a.RowGeneration(1))
	_, ok := a.EntityAt(1)
	assert.False(t, ok)

	var rows []int
	for row, e := range a.Iter() {
		rows = append(rows, row)
		assert.Equal(t, entities[row], e)
	}
	assert.Equal(t, []int{0, 2, 3}, rows)

	// Freed rows are zeroed in both buffers.
	positions, _ := ecs.ReadColumn[Position](a, PositionID)
	assert.Equal(t, Position{}, positions[1])
	next, _ := ecs.WriteColumn[Position](a, PositionID)
	assert.Equal(t, Position{}, next[1])

	e, err := w.Spawn(mover(Position{X: 9}, Velocity{}))
	assert.NoError(t, err)
	got, ok := a.EntityAt(1)
	assert.True(t, ok)
	assert.Equal(t, e, got)
	assert.Equal(t, 0, a.FreeRows())
}

func TestArchetypeSwapBuffers(t *testing.T) {
	w := newTestWorld()
	e, err := w.Spawn(mover(Position{X: 1}, Velocity{}))
	assert.NoError(t, err)
	a, _ := w.ArchetypeOf(e)

	start := a.CurrentBuffer()
	assert.Equal(t, start^1, a.NextBuffer())

	next, err := ecs.WriteColumn[Position](a, PositionID)
	assert.NoError(t, err)
	next[0] = Position{X: 2}

	cur, _ := ecs.ReadColumn[Position](a, PositionID)
	assert.Equal(t, float32(1), cur[0].X, "next-buffer writes are invisible before the swap")

	a.SwapBuffers()
	cur, _ = ecs.ReadColumn[Position](a, PositionID)
	assert.Equal(t, float32(2), cur[0].X)

	a.SwapBuffers()
	assert.Equal(t, start, a.CurrentBuffer())
	cur, _ = ecs.ReadColumn[Position](a, PositionID)
	assert.Equal(t, float32(1), cur[0].X, "swapping twice restores the original buffer")
}

func TestArchetypeMissingColumn(t *testing.T) {
	w := newTestWorld()
	e, err := w.Spawn(ecs.Set(ecs.NewEntityBuilder(), PositionID, Position{}))
	assert.NoError(t, err)
	a, _ := w.ArchetypeOf(e)

	assert.True(t, a.Has(PositionID))
	assert.False(t, a.Has(VelocityID))
	_, err = ecs.ReadColumn[Velocity](a, VelocityID)
	assert.ErrorIs(t, err, ecs.ErrMissingColumn)
	_, err = a.NextBytes(HealthID)
	assert.ErrorIs(t, err, ecs.ErrMissingColumn)

	meta, ok := a.Meta(PositionID)
	assert.True(t, ok)
	assert.Equal(t, "Position", meta.Name)
}
