package main

import (
	"cmp"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/plus3/latch/ecs"
	"github.com/plus3/latch/ecs/query"
)

const (
	PositionID ecs.ComponentId = 1
	VelocityID ecs.ComponentId = 2
	FactionID  ecs.ComponentId = 3
	BoundsID   ecs.ComponentId = 4

	factionCount = 8
	maxSpeed     = 4
	agentExtent  = 2

	overlapRelation query.RelationType = 1
)

// Contact is published for every pair of entities closer than the cell list radius.
type Contact struct {
	A, B ecs.Entity
}

func compareContacts(a, b Contact) int {
	if c := a.A.Compare(b.A); c != 0 {
		return c
	}
	return a.B.Compare(b.B)
}

func registerComponents(r *ecs.ComponentRegistry) error {
	if _, err := ecs.RegisterComponent[query.Vec3](r, PositionID, "Position"); err != nil {
		return err
	}
	if _, err := ecs.RegisterComponent[query.Vec3](r, VelocityID, "Velocity", ecs.WithPolicy(ecs.FullRewrite)); err != nil {
		return err
	}
	if _, err := ecs.RegisterComponent[query.AABB](r, BoundsID, "Bounds", ecs.WithPolicy(ecs.FullRewrite)); err != nil {
		return err
	}
	_, err := ecs.RegisterComponent[uint32](r, FactionID, "Faction")
	return err
}

func agentBounds(p query.Vec3) query.AABB {
	return query.AABB{
		Min: query.Vec3{X: p.X - agentExtent, Y: p.Y - agentExtent},
		Max: query.Vec3{X: p.X + agentExtent, Y: p.Y + agentExtent},
	}
}

// newAgent builds a randomly placed agent. Half of the agents join a faction,
// so the population spans two archetypes.
func newAgent(rng *rand.Rand, size float32) *ecs.EntityBuilder {
	b := ecs.NewEntityBuilder()
	p := query.Vec3{X: rng.Float32() * size, Y: rng.Float32() * size}
	ecs.Set(b, PositionID, p)
	ecs.Set(b, BoundsID, agentBounds(p))
	ecs.Set(b, VelocityID, query.Vec3{X: rng.Float32()*2 - 1, Y: rng.Float32()*2 - 1})
	if rng.IntN(2) == 0 {
		ecs.Set(b, FactionID, uint32(rng.IntN(factionCount)))
	}
	return b
}

// FlockingSystem steers every agent away from its cell list neighbors.
type FlockingSystem struct {
	Cells *query.CellList
}

func (s *FlockingSystem) Name() string { return "flocking" }

func (s *FlockingSystem) Access() ecs.SystemAccess {
	return ecs.SystemAccess{Reads: []ecs.ComponentId{PositionID}, Writes: []ecs.ComponentId{VelocityID}}
}

func (s *FlockingSystem) Execute(frame *ecs.UpdateFrame) error {
	w := frame.World
	for _, id := range w.QueryAll(PositionID, VelocityID) {
		a, _ := w.Archetype(id)
		pos, err := ecs.ReadColumn[query.Vec3](a, PositionID)
		if err != nil {
			return err
		}
		vel, err := ecs.ReadColumn[query.Vec3](a, VelocityID)
		if err != nil {
			return err
		}
		entities := a.Entities()

		err = ecs.ForEachChunk(frame.Context, frame.Pool, a, VelocityID, func(r ecs.Range, next []query.Vec3) error {
			for i := range next {
				row := r.Start + i
				v := vel[row]
				if a.Live(row) {
					v = s.steer(w, pos[row], v, s.Cells.RadiusQuery(entities[row]))
				}
				next[i] = v
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *FlockingSystem) steer(w *ecs.World, p, v query.Vec3, neighbors []ecs.Entity) query.Vec3 {
	var push query.Vec3
	for _, n := range neighbors {
		q, err := ecs.ReadComponent[query.Vec3](w, n, PositionID)
		if err != nil {
			continue
		}
		push.X += p.X - q.X
		push.Y += p.Y - q.Y
	}
	if len(neighbors) > 0 {
		v.X += push.X * 0.05 / float32(len(neighbors))
		v.Y += push.Y * 0.05 / float32(len(neighbors))
	}
	if speed := float32(math.Hypot(float64(v.X), float64(v.Y))); speed > maxSpeed {
		v.X *= maxSpeed / speed
		v.Y *= maxSpeed / speed
	}
	return v
}

// MovementSystem integrates velocity into position on a wrapping square.
type MovementSystem struct {
	Size float32
}

func (s *MovementSystem) Name() string { return "movement" }

func (s *MovementSystem) Access() ecs.SystemAccess {
	return ecs.SystemAccess{Reads: []ecs.ComponentId{VelocityID}, Writes: []ecs.ComponentId{PositionID}}
}

func (s *MovementSystem) Execute(frame *ecs.UpdateFrame) error {
	dt := float32(frame.DeltaTime * 60)
	for _, id := range frame.World.QueryAll(PositionID, VelocityID) {
		a, _ := frame.World.Archetype(id)
		pos, err := ecs.ReadColumn[query.Vec3](a, PositionID)
		if err != nil {
			return err
		}
		vel, err := ecs.ReadColumn[query.Vec3](a, VelocityID)
		if err != nil {
			return err
		}
		err = ecs.ForEachChunk(frame.Context, frame.Pool, a, PositionID, func(r ecs.Range, next []query.Vec3) error {
			for i := range next {
				row := r.Start + i
				next[i] = query.Vec3{
					X: wrap(pos[row].X+vel[row].X*dt, s.Size),
					Y: wrap(pos[row].Y+vel[row].Y*dt, s.Size),
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// BoundsSystem refreshes every agent's box from its current position. The
// sweep and prune built next tick sees the result.
type BoundsSystem struct{}

func (s *BoundsSystem) Name() string { return "bounds" }

func (s *BoundsSystem) Access() ecs.SystemAccess {
	return ecs.SystemAccess{Reads: []ecs.ComponentId{PositionID}, Writes: []ecs.ComponentId{BoundsID}}
}

func (s *BoundsSystem) Execute(frame *ecs.UpdateFrame) error {
	for _, id := range frame.World.QueryAll(PositionID, BoundsID) {
		a, _ := frame.World.Archetype(id)
		pos, err := ecs.ReadColumn[query.Vec3](a, PositionID)
		if err != nil {
			return err
		}
		err = ecs.ForEachChunk(frame.Context, frame.Pool, a, BoundsID, func(r ecs.Range, next []query.AABB) error {
			for i := range next {
				next[i] = agentBounds(pos[r.Start+i])
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// CollisionSystem counts overlapping agent boxes reported by the sweep and
// prune and links each overlapping pair for the next tick. Links carry the
// offset between the two boxes.
type CollisionSystem struct {
	Boxes  *query.SweepAndPrune
	Links  *query.Relations
	Total  int64
	Linked int64
}

func (s *CollisionSystem) Name() string { return "collision" }

func (s *CollisionSystem) Access() ecs.SystemAccess {
	return ecs.SystemAccess{Reads: []ecs.ComponentId{BoundsID}}
}

func (s *CollisionSystem) Execute(frame *ecs.UpdateFrame) error {
	s.Linked += int64(len(s.Links.OfType(overlapRelation)))
	pairs := s.Boxes.Pairs()
	s.Total += int64(len(pairs))
	for _, p := range pairs {
		a, err := ecs.ReadComponent[query.AABB](frame.World, p.A, BoundsID)
		if err != nil {
			return err
		}
		b, err := ecs.ReadComponent[query.AABB](frame.World, p.B, BoundsID)
		if err != nil {
			return err
		}
		s.Links.PushDelta(p.A, p.B, overlapRelation, nil, query.RelationDelta{
			DX: int32(b.Min.X - a.Min.X),
			DY: int32(b.Min.Y - a.Min.Y),
		})
	}
	return nil
}

func wrap(v, size float32) float32 {
	v = float32(math.Mod(float64(v), float64(size)))
	if v < 0 {
		v += size
	}
	return v
}

// ContactSystem publishes close pairs for the next tick and counts the
// contacts published by the previous one.
type ContactSystem struct {
	Cells    *query.CellList
	Contacts *query.EventQueue[Contact]
	Total    int64
}

func (s *ContactSystem) Name() string { return "contacts" }

func (s *ContactSystem) Access() ecs.SystemAccess {
	return ecs.SystemAccess{Reads: []ecs.ComponentId{PositionID}}
}

func (s *ContactSystem) Execute(frame *ecs.UpdateFrame) error {
	s.Total += int64(len(s.Contacts.All()))
	s.Cells.ForAllPairs(func(a, b ecs.Entity) {
		s.Contacts.Push(Contact{A: a, B: b})
	})
	return nil
}

// ChurnSystem despawns and respawns a few agents per tick through the
// command buffer, exercising row and handle reuse.
type ChurnSystem struct {
	Cells *query.CellList
	Rng   *rand.Rand
	Size  float32
	Count int
}

func (s *ChurnSystem) Name() string { return "churn" }

func (s *ChurnSystem) Access() ecs.SystemAccess {
	return ecs.SystemAccess{Reads: []ecs.ComponentId{PositionID}}
}

func (s *ChurnSystem) Execute(frame *ecs.UpdateFrame) error {
	ids := s.Cells.SortedIDs()
	if len(ids) == 0 {
		return nil
	}
	for i := 0; i < s.Count; i++ {
		frame.Commands.Despawn(ids[s.Rng.IntN(len(ids))])
		frame.Commands.Spawn(newAgent(s.Rng, s.Size))
	}
	return nil
}

// CensusSystem records the largest faction seen by the inverted index.
type CensusSystem struct {
	Factions *query.InvertedIndex
	Largest  map[uint32]int
}

func (s *CensusSystem) Name() string { return "census" }

func (s *CensusSystem) Access() ecs.SystemAccess {
	return ecs.SystemAccess{Reads: []ecs.ComponentId{FactionID}}
}

func (s *CensusSystem) Execute(frame *ecs.UpdateFrame) error {
	for _, f := range s.Factions.Values() {
		s.Largest[f] = max(s.Largest[f], s.Factions.Count(f))
	}
	return nil
}

func sortedFactions(m map[uint32]int) []FactionCount {
	out := make([]FactionCount, 0, len(m))
	for f, n := range m {
		out = append(out, FactionCount{Faction: f, Peak: n})
	}
	slices.SortFunc(out, func(a, b FactionCount) int { return cmp.Compare(a.Faction, b.Faction) })
	return out
}
