// Package query holds per-tick, read-only query accelerators built from the
// frozen current buffers of an ecs.World.
//
// Every accelerator implements ecs.Accelerator so a Scheduler can rebuild it
// during BuildingAccelerators, and Accelerator[Q, R] so systems can swap one
// index for another without changing how they query. Between builds an
// accelerator is immutable and safe for concurrent queries.
package query

import (
	"math"

	"github.com/plus3/latch/ecs"
	"github.com/rs/zerolog"
)

// Accelerator is the shared query contract. Results are read-only views
// valid until the next Build.
type Accelerator[Q, R any] interface {
	ecs.Accelerator
	Query(q Q) []R
	BatchQuery(qs []Q, fn func(i int, result []R))
}

var (
	_ Accelerator[ecs.Entity, ecs.Entity]   = (*CellList)(nil)
	_ Accelerator[AABB, ecs.Entity]         = (*SweepAndPrune)(nil)
	_ Accelerator[uint32, ecs.Entity]       = (*InvertedIndex)(nil)
	_ Accelerator[uint32, struct{}]         = (*EventQueue[struct{}])(nil)
	_ Accelerator[ecs.Entity, RelationEdge] = (*Relations)(nil)
)

// Vec3 is the position layout the spatial accelerators read.
type Vec3 struct {
	X, Y, Z float32
}

// Axis returns the i-th coordinate (0=X, 1=Y, 2=Z).
func (v Vec3) Axis(i int) float32 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// Within reports whether a and b are at most r apart. Distances are compared
// squared in float64 so every accelerator and test agrees on the boundary.
func Within(a, b Vec3, r float32) bool {
	dx := float64(a.X) - float64(b.X)
	dy := float64(a.Y) - float64(b.Y)
	dz := float64(a.Z) - float64(b.Z)
	rr := float64(r)
	return dx*dx+dy*dy+dz*dz <= rr*rr
}

// AABB is an axis-aligned box with inclusive bounds.
type AABB struct {
	Min, Max Vec3
}

// Overlaps reports whether the boxes intersect, touching faces included.
func (b AABB) Overlaps(o AABB) bool {
	return b.Min.X <= o.Max.X && o.Min.X <= b.Max.X &&
		b.Min.Y <= o.Max.Y && o.Min.Y <= b.Max.Y &&
		b.Min.Z <= o.Max.Z && o.Min.Z <= b.Max.Z
}

// Pair is an unordered entity pair stored with A before B.
type Pair struct {
	A, B ecs.Entity
}

func orderedPair(a, b ecs.Entity) Pair {
	if b.Less(a) {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

// scratch tracks arena growth for one accelerator.
type scratch struct {
	name      string
	logger    *zerolog.Logger
	overflows int
}

func newScratch(name string, logger *zerolog.Logger) scratch {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return scratch{name: name, logger: logger}
}

// Overflows returns how many times a scratch arena had to grow.
func (s *scratch) Overflows() int {
	return s.overflows
}

// Name identifies the accelerator in logs and tick errors.
func (s *scratch) Name() string {
	return s.name
}

// ensure returns buf with length n, growing the arena when its fixed capacity
// is exceeded. Growth keeps existing contents and is logged, never dropped.
func ensure[T any](s *scratch, buf []T, n int, arena string) []T {
	if n <= cap(buf) {
		return buf[:n]
	}
	grown := max(n, 2*cap(buf), 16)
	s.overflows++
	s.logger.Warn().
		Err(ecs.ErrCapacityOverflow).
		Str("accelerator", s.name).
		Str("arena", arena).
		Int("capacity", cap(buf)).
		Int("required", n).
		Int("grown_to", grown).
		Msg("scratch capacity exceeded, growing")
	next := make([]T, n, grown)
	copy(next, buf)
	return next
}

// push appends v, growing the arena through ensure when it is full.
func push[T any](s *scratch, buf []T, v T, arena string) []T {
	if len(buf) == cap(buf) {
		buf = ensure(s, buf, len(buf)+1, arena)[:len(buf)]
	}
	return append(buf, v)
}

// quantize maps a coordinate to its cell by flooring to integer units and
// then floor-dividing by the integer cell size. Both steps are exact, so the
// cell of a point never depends on floating-point comparison.
func quantize(v float32, cellSize int32) int32 {
	f := math.Floor(float64(v))
	switch {
	case math.IsNaN(f):
		f = 0
	case f < math.MinInt32:
		f = math.MinInt32
	case f > math.MaxInt32:
		f = math.MaxInt32
	}
	i := int64(f)
	c := int64(cellSize)
	q := i / c
	if i%c != 0 && i < 0 {
		q--
	}
	return int32(q)
}

// liveCount returns the number of live rows across archetypes holding cid.
func liveCount(w *ecs.World, cid ecs.ComponentId) int {
	n := 0
	for _, id := range w.QueryArchetypes(cid) {
		a, _ := w.Archetype(id)
		n += a.Len()
	}
	return n
}

// eachLive visits every live entity holding cid with its current-buffer value,
// archetypes in id order and rows in row order.
func eachLive[T any](w *ecs.World, cid ecs.ComponentId, fn func(e ecs.Entity, v T)) error {
	for _, id := range w.QueryArchetypes(cid) {
		a, _ := w.Archetype(id)
		values, err := ecs.ReadColumn[T](a, cid)
		if err != nil {
			return err
		}
		for row, e := range a.Iter() {
			fn(e, values[row])
		}
	}
	return nil
}
