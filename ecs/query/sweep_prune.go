package query

import (
	"cmp"
	"context"
	"slices"

	"github.com/plus3/latch/ecs"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// SweepAndPruneConfig configures a SweepAndPrune.
type SweepAndPruneConfig struct {
	Name   string
	Bounds ecs.ComponentId
	// Axis selects the sweep axis: 0=X, 1=Y, 2=Z.
	Axis            int
	InitialCapacity int
}

type sapItem struct {
	entity ecs.Entity
	box    AABB
}

// SweepAndPrune sorts AABBs along one axis and reports every overlapping pair.
// Items are ordered by (min on the axis, handle), so the pair list is
// deterministic for a given set of boxes.
type SweepAndPrune struct {
	scratch
	cfg   SweepAndPruneConfig
	items []sapItem
	pairs []Pair
}

// NewSweepAndPrune validates cfg and preallocates its scratch arenas.
func NewSweepAndPrune(cfg SweepAndPruneConfig, logger *zerolog.Logger) (*SweepAndPrune, error) {
	if cfg.Axis < 0 || cfg.Axis > 2 {
		return nil, eris.Wrapf(ErrInvalidConfig, "sweep and prune: axis %d", cfg.Axis)
	}
	if cfg.Name == "" {
		cfg.Name = "sweep_prune"
	}
	if cfg.InitialCapacity <= 0 {
		cfg.InitialCapacity = DefaultInitialCapacity
	}
	return &SweepAndPrune{
		scratch: newScratch(cfg.Name, logger),
		cfg:     cfg,
		items:   make([]sapItem, 0, cfg.InitialCapacity),
		pairs:   make([]Pair, 0, cfg.InitialCapacity),
	}, nil
}

// Build sorts the current bounds and sweeps them for overlaps.
func (s *SweepAndPrune) Build(_ context.Context, w *ecs.World) error {
	n := liveCount(w, s.cfg.Bounds)
	s.items = ensure(&s.scratch, s.items, n, "items")[:0]
	err := eachLive(w, s.cfg.Bounds, func(e ecs.Entity, box AABB) {
		s.items = append(s.items, sapItem{entity: e, box: box})
	})
	if err != nil {
		return eris.Wrapf(err, "%s: read bounds", s.name)
	}

	axis := s.cfg.Axis
	slices.SortFunc(s.items, func(a, b sapItem) int {
		if c := cmp.Compare(a.box.Min.Axis(axis), b.box.Min.Axis(axis)); c != 0 {
			return c
		}
		return a.entity.Compare(b.entity)
	})

	s.pairs = s.pairs[:0]
	for i := range s.items {
		hi := s.items[i].box.Max.Axis(axis)
		for j := i + 1; j < len(s.items) && s.items[j].box.Min.Axis(axis) <= hi; j++ {
			if s.items[i].box.Overlaps(s.items[j].box) {
				s.pairs = push(&s.scratch, s.pairs, orderedPair(s.items[i].entity, s.items[j].entity), "pairs")
			}
		}
	}
	return nil
}

// Len returns the number of indexed boxes.
func (s *SweepAndPrune) Len() int {
	return len(s.items)
}

// Pairs returns every overlapping pair in sweep order.
func (s *SweepAndPrune) Pairs() []Pair {
	return s.pairs[:len(s.pairs):len(s.pairs)]
}

// ForPairs calls fn for every overlapping pair in sweep order.
func (s *SweepAndPrune) ForPairs(fn func(a, b ecs.Entity)) {
	for _, p := range s.pairs {
		fn(p.A, p.B)
	}
}

// Query returns the entities whose boxes overlap box, sorted by handle.
func (s *SweepAndPrune) Query(box AABB) []ecs.Entity {
	axis := s.cfg.Axis
	limit := box.Max.Axis(axis)
	end, _ := slices.BinarySearchFunc(s.items, limit, func(it sapItem, v float32) int {
		if it.box.Min.Axis(axis) <= v {
			return -1
		}
		return 1
	})
	var out []ecs.Entity
	for _, it := range s.items[:end] {
		if it.box.Overlaps(box) {
			out = append(out, it.entity)
		}
	}
	slices.SortFunc(out, ecs.Entity.Compare)
	return out
}

// BatchQuery calls fn with the Query result for every box in boxes.
func (s *SweepAndPrune) BatchQuery(boxes []AABB, fn func(i int, result []ecs.Entity)) {
	for i, box := range boxes {
		fn(i, s.Query(box))
	}
}
