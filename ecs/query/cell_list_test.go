package query_test

import (
	"bytes"
	"context"
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/plus3/latch/ecs"
	"github.com/plus3/latch/ecs/query"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func bruteRadius(positions map[ecs.Entity]query.Vec3, e ecs.Entity, r float32) []ecs.Entity {
	var out []ecs.Entity
	for other, p := range positions {
		if other != e && query.Within(positions[e], p, r) {
			out = append(out, other)
		}
	}
	slices.SortFunc(out, ecs.Entity.Compare)
	return out
}

func TestCellListConfig(t *testing.T) {
	_, err := query.NewCellList(query.CellListConfig{Position: PositionID}, nil)
	assert.ErrorIs(t, err, query.ErrInvalidConfig)

	_, err = query.NewCellList(query.CellListConfig{Position: PositionID, CellSize: 10, Radius: 11}, nil)
	assert.ErrorIs(t, err, query.ErrInvalidConfig)

	cl, err := query.NewCellList(query.CellListConfig{Position: PositionID, CellSize: 10, Radius: 10}, nil)
	assert.NoError(t, err)
	assert.Equal(t, "cell_list", cl.Name())
	assert.Equal(t, query.DefaultMaxDenseCells, cl.Config().MaxDenseCells)
}

func TestCellListCellOf(t *testing.T) {
	cl, err := query.NewCellList(query.CellListConfig{Position: PositionID, CellSize: 10}, nil)
	assert.NoError(t, err)

	tests := []struct {
		name string
		pos  query.Vec3
		want query.CellCoord
	}{
		{"origin", query.Vec3{}, query.CellCoord{}},
		{"inside first cell", query.Vec3{X: 9.99, Y: 0.5}, query.CellCoord{}},
		{"cell boundary", query.Vec3{X: 10, Y: 20, Z: 30}, query.CellCoord{X: 1, Y: 2, Z: 3}},
		{"just below zero", query.Vec3{X: -0.5}, query.CellCoord{X: -1}},
		{"negative boundary", query.Vec3{X: -10}, query.CellCoord{X: -1}},
		{"past negative boundary", query.Vec3{X: -10.5}, query.CellCoord{X: -2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cl.CellOf(tt.pos))
		})
	}
}

func TestCellListEmpty(t *testing.T) {
	w := ecs.NewWorld(newTestRegistry())
	cl, err := query.NewCellList(query.CellListConfig{Position: PositionID, CellSize: 10, Radius: 5}, nil)
	assert.NoError(t, err)

	assert.Equal(t, []int32{0}, cl.CellOffsets())
	assert.NoError(t, cl.Build(context.Background(), w))

	assert.Equal(t, 0, cl.Len())
	assert.Empty(t, cl.Cells())
	assert.Equal(t, []int32{0}, cl.CellOffsets())
	assert.Nil(t, cl.PointQuery(query.CellCoord{}))
	assert.Nil(t, cl.RadiusQuery(ecs.Entity{}))

	pairs := 0
	cl.ForAllPairs(func(a, b ecs.Entity) { pairs++ })
	assert.Equal(t, 0, pairs)
}

func TestCellListLayout(t *testing.T) {
	w := ecs.NewWorld(newTestRegistry())
	a := spawnAt(t, w, query.Vec3{X: 5, Y: 5})
	b := spawnAt(t, w, query.Vec3{X: 12, Y: 1})
	c := spawnAt(t, w, query.Vec3{X: 1, Y: 1})
	d := spawnAt(t, w, query.Vec3{X: -1, Y: 0})
	e := spawnAt(t, w, query.Vec3{X: 3, Y: 14})

	cl, err := query.NewCellList(query.CellListConfig{Position: PositionID, CellSize: 10}, nil)
	assert.NoError(t, err)
	assert.NoError(t, cl.Build(context.Background(), w))

	assert.Equal(t, []query.CellCoord{
		{X: -1, Y: 0},
		{X: 0, Y: 0},
		{X: 1, Y: 0},
		{X: 0, Y: 1},
	}, cl.Cells())
	assert.Equal(t, []int32{0, 1, 3, 4, 5}, cl.CellOffsets())
	assert.Equal(t, []ecs.Entity{d, a, c, b, e}, cl.SortedIDs())

	assert.Equal(t, []ecs.Entity{a, c}, cl.PointQuery(query.CellCoord{}))
	assert.Nil(t, cl.PointQuery(query.CellCoord{X: 5}))

	assert.Equal(t, []query.CellCoord{
		{X: -1, Y: 0},
		{X: 1, Y: 0},
		{X: 0, Y: 1},
	}, cl.NeighborCells(query.CellCoord{}))
	assert.Equal(t, []query.CellCoord{{X: 0, Y: 0}, {X: 0, Y: 1}}, cl.NeighborCells(query.CellCoord{X: 1}))
}

func TestCellListDenseAndSparseAgree(t *testing.T) {
	w, _, _ := scatterWorld(t, 3000, 2000, 7)

	dense, err := query.NewCellList(query.CellListConfig{Position: PositionID, CellSize: 25, Radius: 25}, nil)
	assert.NoError(t, err)
	sparse, err := query.NewCellList(query.CellListConfig{Position: PositionID, CellSize: 25, Radius: 25, MaxDenseCells: 1}, nil)
	assert.NoError(t, err)

	assert.NoError(t, dense.Build(context.Background(), w))
	assert.NoError(t, sparse.Build(context.Background(), w))

	assert.Equal(t, dense.Cells(), sparse.Cells())
	assert.Equal(t, dense.CellOffsets(), sparse.CellOffsets())
	assert.Equal(t, dense.SortedIDs(), sparse.SortedIDs())
	assert.Equal(t, dense.Pairs(nil), sparse.Pairs(nil))
}

func TestCellListDeterministic(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 43))
	positions := make([]query.Vec3, 600)
	for i := range positions {
		positions[i] = query.Vec3{X: rng.Float32() * 200, Y: rng.Float32() * 200}
	}

	// Same handles and positions; only which entities carry Health differs,
	// so the archetype walk visits them in a different order.
	populate := func(withHealth func(i int) bool) (*ecs.World, []ecs.Entity) {
		w := ecs.NewWorld(newTestRegistry())
		var entities []ecs.Entity
		for i, p := range positions {
			b := ecs.Set(ecs.NewEntityBuilder(), PositionID, p)
			if withHealth(i) {
				ecs.Set(b, HealthID, Health{Current: 1, Max: 1})
			}
			e, err := w.Spawn(b)
			assert.NoError(t, err)
			entities = append(entities, e)
		}
		return w, entities
	}
	visitOrder := func(w *ecs.World) []ecs.Entity {
		var out []ecs.Entity
		for _, id := range w.QueryAll(PositionID) {
			a, _ := w.Archetype(id)
			for row, e := range a.Entities() {
				if a.Live(row) {
					out = append(out, e)
				}
			}
		}
		return out
	}
	build := func(w *ecs.World) *query.CellList {
		cl, err := query.NewCellList(query.CellListConfig{Position: PositionID, CellSize: 20, Radius: 20, InitialCapacity: 16}, nil)
		assert.NoError(t, err)
		assert.NoError(t, cl.Build(context.Background(), w))
		return cl
	}

	w1, handles1 := populate(func(i int) bool { return i%2 == 0 })
	w2, handles2 := populate(func(i int) bool { return i%2 == 1 })
	w3, handles3 := populate(func(int) bool { return false })
	assert.Equal(t, handles1, handles2)
	assert.Equal(t, handles1, handles3)
	assert.NotEqual(t, visitOrder(w1), visitOrder(w2))
	assert.NotEqual(t, visitOrder(w1), visitOrder(w3))

	first := build(w1)
	for _, w := range []*ecs.World{w2, w3} {
		other := build(w)
		assert.Equal(t, first.Cells(), other.Cells())
		assert.Equal(t, first.CellOffsets(), other.CellOffsets())
		assert.Equal(t, first.SortedIDs(), other.SortedIDs())
		assert.Equal(t, first.Pairs(nil), other.Pairs(nil))
		for _, e := range handles1 {
			assert.Equal(t, first.RadiusQuery(e), other.RadiusQuery(e), "entity %v", e)
		}
	}

	cells := slices.Clone(first.Cells())
	ids := slices.Clone(first.SortedIDs())
	assert.NoError(t, first.Build(context.Background(), w1))
	assert.Equal(t, cells, first.Cells())
	assert.Equal(t, ids, first.SortedIDs())
}

func TestCellListEdgeCellsDoNotWrap(t *testing.T) {
	w := ecs.NewWorld(newTestRegistry())
	far := spawnAt(t, w, query.Vec3{X: 3e9})
	spawnAt(t, w, query.Vec3{X: -3e9})

	cl, err := query.NewCellList(query.CellListConfig{Position: PositionID, CellSize: 1}, nil)
	assert.NoError(t, err)
	assert.NoError(t, cl.Build(context.Background(), w))

	assert.Equal(t, []query.CellCoord{{X: math.MinInt32}, {X: math.MaxInt32}}, cl.Cells())
	assert.Empty(t, cl.Pairs(nil))
	assert.Empty(t, cl.NeighborCells(query.CellCoord{X: math.MaxInt32}))
	assert.Equal(t, []ecs.Entity{far}, cl.Near(query.Vec3{X: 3e9}, 1, nil))
}

func TestCellListCellsSortedAndCovering(t *testing.T) {
	w, entities, positions := scatterWorld(t, 1500, 300, 3)
	cl, err := query.NewCellList(query.CellListConfig{Position: PositionID, CellSize: 30}, nil)
	assert.NoError(t, err)
	assert.NoError(t, cl.Build(context.Background(), w))

	cells := cl.Cells()
	offsets := cl.CellOffsets()
	ids := cl.SortedIDs()
	assert.Len(t, ids, len(entities))
	assert.Equal(t, len(cells)+1, len(offsets))
	assert.Equal(t, int32(len(ids)), offsets[len(offsets)-1])

	for i := 1; i < len(cells); i++ {
		prev, cur := cells[i-1], cells[i]
		ordered := prev.Z < cur.Z ||
			(prev.Z == cur.Z && prev.Y < cur.Y) ||
			(prev.Z == cur.Z && prev.Y == cur.Y && prev.X < cur.X)
		assert.True(t, ordered, "cells %v and %v out of order", prev, cur)
	}
	for s, cell := range cells {
		span := ids[offsets[s]:offsets[s+1]]
		assert.NotEmpty(t, span)
		assert.True(t, slices.IsSortedFunc(span, ecs.Entity.Compare))
		for _, e := range span {
			assert.Equal(t, cell, cl.CellOf(positions[e]))
		}
	}
}

func TestCellListRadiusMatchesBruteForce(t *testing.T) {
	w, entities, positions := scatterWorld(t, 2000, 400, 11)
	const radius = 20
	cl, err := query.NewCellList(query.CellListConfig{Position: PositionID, CellSize: 20, Radius: radius}, nil)
	assert.NoError(t, err)
	assert.NoError(t, cl.Build(context.Background(), w))

	for _, e := range entities {
		want := bruteRadius(positions, e, radius)
		got := cl.RadiusQuery(e)
		if len(want) == 0 {
			assert.Empty(t, got, "entity %v", e)
			continue
		}
		assert.Equal(t, want, got, "entity %v", e)
	}
}

func TestCellListPairsMatchBruteForce(t *testing.T) {
	w, entities, positions := scatterWorld(t, 800, 200, 5)
	const radius = 15
	cl, err := query.NewCellList(query.CellListConfig{Position: PositionID, CellSize: 15, Radius: radius}, nil)
	assert.NoError(t, err)
	assert.NoError(t, cl.Build(context.Background(), w))

	want := make(map[query.Pair]bool)
	for i, a := range entities {
		for _, b := range entities[i+1:] {
			if query.Within(positions[a], positions[b], radius) {
				want[query.Pair{A: a, B: b}] = true
			}
		}
	}

	got := make(map[query.Pair]bool)
	cl.ForAllPairs(func(a, b ecs.Entity) {
		assert.True(t, a.Less(b))
		p := query.Pair{A: a, B: b}
		assert.False(t, got[p], "pair %v reported twice", p)
		got[p] = true
	})
	assert.Equal(t, want, got)
}

// 10k entities over a 1000x1000 area with 50-unit cells; radius results for a
// sample of entities must match a brute-force scan.
func TestCellListSampledRadius(t *testing.T) {
	w, entities, positions := scatterWorld(t, 10000, 1000, 2024)
	const radius = 50
	cl, err := query.NewCellList(query.CellListConfig{Position: PositionID, CellSize: 50, Radius: radius, InitialCapacity: 10000}, nil)
	assert.NoError(t, err)
	assert.NoError(t, cl.Build(context.Background(), w))
	assert.Equal(t, 10000, cl.Len())

	for i := 0; i < 50; i++ {
		e := entities[i*len(entities)/50]
		want := bruteRadius(positions, e, radius)
		got := cl.RadiusQuery(e)
		assert.Equal(t, len(want), len(got), "entity %v", e)
		if len(want) > 0 {
			assert.Equal(t, want, got, "entity %v", e)
		}
	}
}

func TestCellListNear(t *testing.T) {
	w, _, positions := scatterWorld(t, 500, 100, 9)
	cl, err := query.NewCellList(query.CellListConfig{Position: PositionID, CellSize: 10}, nil)
	assert.NoError(t, err)
	assert.NoError(t, cl.Build(context.Background(), w))

	center := query.Vec3{X: 50, Y: 50}
	var want []ecs.Entity
	for e, p := range positions {
		if query.Within(center, p, 10) {
			want = append(want, e)
		}
	}
	slices.SortFunc(want, ecs.Entity.Compare)

	got := cl.Near(center, 10, nil)
	if len(want) == 0 {
		assert.Empty(t, got)
	} else {
		assert.Equal(t, want, got)
	}
}

func TestCellListSkipsDespawned(t *testing.T) {
	w := ecs.NewWorld(newTestRegistry())
	a := spawnAt(t, w, query.Vec3{X: 1, Y: 1})
	b := spawnAt(t, w, query.Vec3{X: 2, Y: 1})
	c := spawnAt(t, w, query.Vec3{X: 3, Y: 1})
	assert.NoError(t, w.Despawn(b))

	cl, err := query.NewCellList(query.CellListConfig{Position: PositionID, CellSize: 10, Radius: 5}, nil)
	assert.NoError(t, err)
	assert.NoError(t, cl.Build(context.Background(), w))

	assert.Equal(t, []ecs.Entity{a, c}, cl.SortedIDs())
	assert.False(t, cl.Contains(b))
	assert.Nil(t, cl.RadiusQuery(b))
	assert.Equal(t, []ecs.Entity{c}, cl.RadiusQuery(a))

	reused := spawnAt(t, w, query.Vec3{X: 50, Y: 50})
	assert.Equal(t, b.Index, reused.Index)
	assert.NoError(t, cl.Build(context.Background(), w))
	assert.True(t, cl.Contains(reused))
	assert.False(t, cl.Contains(b))
	assert.Nil(t, cl.RadiusQuery(b))
}

func TestCellListBatchQuery(t *testing.T) {
	w := ecs.NewWorld(newTestRegistry())
	a := spawnAt(t, w, query.Vec3{X: 1})
	b := spawnAt(t, w, query.Vec3{X: 4})
	c := spawnAt(t, w, query.Vec3{X: 40})

	cl, err := query.NewCellList(query.CellListConfig{Position: PositionID, CellSize: 10, Radius: 5}, nil)
	assert.NoError(t, err)
	assert.NoError(t, cl.Build(context.Background(), w))

	results := make([][]ecs.Entity, 3)
	cl.BatchQuery([]ecs.Entity{a, b, c}, func(i int, result []ecs.Entity) {
		results[i] = result
	})
	assert.Equal(t, []ecs.Entity{b}, results[0])
	assert.Equal(t, []ecs.Entity{a}, results[1])
	assert.Empty(t, results[2])
}

func TestCellListLogsCapacityOverflow(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	w, _, _ := scatterWorld(t, 100, 50, 1)
	cl, err := query.NewCellList(query.CellListConfig{Position: PositionID, CellSize: 10, InitialCapacity: 4}, &logger)
	assert.NoError(t, err)
	assert.NoError(t, cl.Build(context.Background(), w))

	assert.Equal(t, 100, cl.Len())
	assert.Positive(t, cl.Overflows())
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"arena":"entries"`)
	assert.Contains(t, buf.String(), "scratch capacity exceeded")

	grown := cl.Overflows()
	assert.NoError(t, cl.Build(context.Background(), w))
	assert.Equal(t, grown, cl.Overflows())
}

func TestCellListViewMismatch(t *testing.T) {
	w := ecs.NewWorld(newTestRegistry())
	_, err := w.Spawn(ecs.Set(ecs.NewEntityBuilder(), FactionID, uint32(1)))
	assert.NoError(t, err)

	cl, err := query.NewCellList(query.CellListConfig{Position: FactionID, CellSize: 10}, nil)
	assert.NoError(t, err)
	assert.ErrorIs(t, cl.Build(context.Background(), w), ecs.ErrSizeMismatch)
}

func BenchmarkCellListBuild(b *testing.B) {
	w, _, _ := scatterWorld(b, 10000, 1000, 1)
	cl, err := query.NewCellList(query.CellListConfig{Position: PositionID, CellSize: 50, Radius: 50, InitialCapacity: 10000}, nil)
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := cl.Build(ctx, w); err != nil {
			b.Fatal(err)
		}
	}
}
