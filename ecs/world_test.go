package ecs_test

import (
	"slices"
	"testing"

	"github.com/google/uuid"
	"github.com/plus3/latch/ecs"
	"github.com/stretchr/testify/assert"
)

func TestWorldSpawn(t *testing.T) {
	w := newTestWorld()

	e, err := w.Spawn(mover(Position{X: 1, Y: 2}, Velocity{DX: 3, DY: 4}))
	assert.NoError(t, err)
	assert.True(t, w.IsAlive(e))
	assert.True(t, w.HasComponent(e, PositionID))
	assert.True(t, w.HasComponent(e, VelocityID))
	assert.False(t, w.HasComponent(e, HealthID))

	pos, err := ecs.ReadComponent[Position](w, e, PositionID)
	assert.NoError(t, err)
	assert.Equal(t, Position{X: 1, Y: 2}, pos)

	raw, err := w.RowBytes(e, VelocityID)
	assert.NoError(t, err)
	assert.Len(t, raw, 8)

	_, err = w.RowBytes(e, HealthID)
	assert.ErrorIs(t, err, ecs.ErrMissingColumn)

	assert.Equal(t, 1, w.LiveEntityCount())
	assert.Equal(t, 1, w.EntityCount())
	assert.Equal(t, 1, w.ArchetypeCount())
}

func TestWorldSpawnErrors(t *testing.T) {
	tests := []struct {
		name    string
		builder func() *ecs.EntityBuilder
		want    error
	}{
		{
			name:    "empty builder",
			builder: ecs.NewEntityBuilder,
			want:    ecs.ErrEmptyEntity,
		},
		{
			name: "unregistered component",
			builder: func() *ecs.EntityBuilder {
				return ecs.Set(ecs.NewEntityBuilder(), 99, Position{})
			},
			want: ecs.ErrUnknownComponent,
		},
		{
			name: "raw bytes of the wrong length",
			builder: func() *ecs.EntityBuilder {
				return ecs.NewEntityBuilder().With(PositionID, make([]byte, 4))
			},
			want: ecs.ErrComponentMismatch,
		},
		{
			name: "typed value with the wrong alignment",
			builder: func() *ecs.EntityBuilder {
				return ecs.Set(ecs.NewEntityBuilder(), PositionID, Mass(1))
			},
			want: ecs.ErrComponentMismatch,
		},
		{
			name: "pointer-bearing value",
			builder: func() *ecs.EntityBuilder {
				return ecs.Set(ecs.NewEntityBuilder(), PositionID, AIPointer{})
			},
			want: ecs.ErrPointerComponent,
		},
		{
			name: "one bad component spoils the set",
			builder: func() *ecs.EntityBuilder {
				b := mover(Position{}, Velocity{})
				return b.With(HealthID, []byte{1, 2, 3})
			},
			want: ecs.ErrComponentMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWorld()
			_, err := w.Spawn(tt.builder())
			assert.ErrorIs(t, err, tt.want)

			assert.Equal(t, 0, w.LiveEntityCount())
			assert.Equal(t, 0, w.ArchetypeCount())
			assert.Equal(t, 0, w.Entities().Cap(), "no handle is allocated for a rejected spawn")
		})
	}
}

func TestWorldRawAndNativeSpawnAgree(t *testing.T) {
	w := newTestWorld()
	native, err := w.Spawn(ecs.Set(ecs.NewEntityBuilder(), HealthID, Health{Current: 7, Max: 9}))
	assert.NoError(t, err)

	raw, err := w.RowBytes(native, HealthID)
	assert.NoError(t, err)
	fromBytes, err := w.Spawn(ecs.NewEntityBuilder().With(HealthID, raw))
	assert.NoError(t, err)

	got, err := ecs.ReadComponent[Health](w, fromBytes, HealthID)
	assert.NoError(t, err)
	assert.Equal(t, Health{Current: 7, Max: 9}, got)

	locA, _ := w.Resolve(native)
	locB, _ := w.Resolve(fromBytes)
	assert.Equal(t, locA.Archetype, locB.Archetype)
}

func TestWorldQueryArchetypes(t *testing.T) {
	w := newTestWorld()
	_, err := w.Spawn(ecs.Set(ecs.NewEntityBuilder(), PositionID, Position{}))
	assert.NoError(t, err)
	_, err = w.Spawn(mover(Position{}, Velocity{}))
	assert.NoError(t, err)
	b := ecs.NewEntityBuilder()
	ecs.Set(b, VelocityID, Velocity{})
	ecs.Set(b, HealthID, Health{})
	_, err = w.Spawn(b)
	assert.NoError(t, err)

	positional := w.QueryArchetypes(PositionID)
	assert.Len(t, positional, 2)
	assert.True(t, slices.IsSorted(positional))
	assert.Len(t, w.QueryArchetypes(VelocityID), 2)
	assert.Empty(t, w.QueryArchetypes(MassID))

	moving := ecs.ArchetypeIdOf([]ecs.ComponentId{PositionID, VelocityID})
	assert.Equal(t, []ecs.ArchetypeId{moving}, w.QueryAll(VelocityID, PositionID))
	assert.Empty(t, w.QueryAll(PositionID, MassID))
	assert.Empty(t, w.QueryAll())

	ids := w.ArchetypeIds()
	assert.Len(t, ids, 3)
	assert.True(t, slices.IsSorted(ids))
	for i, a := range w.Archetypes() {
		assert.Equal(t, ids[i], a.ID())
	}
}

func TestWorldWriteComponent(t *testing.T) {
	w := newTestWorld()
	e, err := w.Spawn(mover(Position{X: 1}, Velocity{}))
	assert.NoError(t, err)

	assert.NoError(t, ecs.WriteComponent(w, e, PositionID, Position{X: 5}))
	pos, _ := ecs.ReadComponent[Position](w, e, PositionID)
	assert.Equal(t, float32(1), pos.X)

	w.SwapBuffers()
	pos, _ = ecs.ReadComponent[Position](w, e, PositionID)
	assert.Equal(t, float32(5), pos.X)

	assert.NoError(t, w.Despawn(e))
	assert.ErrorIs(t, ecs.WriteComponent(w, e, PositionID, Position{}), ecs.ErrStaleHandle)
	_, err = w.RowBytes(e, PositionID)
	assert.ErrorIs(t, err, ecs.ErrStaleHandle)
	assert.False(t, w.HasComponent(e, PositionID))
}

func TestWorldIdentity(t *testing.T) {
	id := uuid.MustParse("6f1c1a0e-4b7e-4a57-9d3c-2f0f6a3e9b10")
	w := ecs.NewWorld(newTestRegistry(), ecs.WithWorldID(id))
	assert.Equal(t, id, w.ID())
	assert.NotNil(t, w.Logger())

	other := newTestWorld()
	assert.NotEqual(t, uuid.Nil, other.ID())
	assert.NotEqual(t, other.ID(), newTestWorld().ID())
	assert.Equal(t, ecs.PhaseIdle, other.Phase())
}
