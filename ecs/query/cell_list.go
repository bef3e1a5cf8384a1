package query

import (
	"cmp"
	"context"
	"slices"

	"github.com/kamstrup/intmap"
	"github.com/plus3/latch/ecs"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxDenseCells caps the dense cell lookup table. Bounding boxes
	// with more cells fall back to binary search over the occupied cells.
	DefaultMaxDenseCells = 1 << 18
	// DefaultInitialCapacity sizes scratch arenas before the first build.
	DefaultInitialCapacity = 1024
)

// ErrInvalidConfig is returned by accelerator constructors.
var ErrInvalidConfig = eris.New("invalid accelerator config")

// CellCoord is an integer grid cell.
type CellCoord struct {
	X, Y, Z int32
}

func compareCells(a, b CellCoord) int {
	if c := cmp.Compare(a.Z, b.Z); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Y, b.Y); c != 0 {
		return c
	}
	return cmp.Compare(a.X, b.X)
}

// CellListConfig configures a CellList.
type CellListConfig struct {
	Name     string
	Position ecs.ComponentId
	// CellSize is the integer edge length of a cell in world units.
	CellSize int32
	// Radius enables the per-entity neighbor graph and filters pairs. It must
	// not exceed CellSize; zero disables both.
	Radius          float32
	MaxDenseCells   int
	InitialCapacity int
}

func (c CellListConfig) validate() error {
	if c.CellSize <= 0 {
		return eris.Wrapf(ErrInvalidConfig, "cell list: cell size %d", c.CellSize)
	}
	if c.Radius < 0 || c.Radius > float32(c.CellSize) {
		return eris.Wrapf(ErrInvalidConfig, "cell list: radius %g outside [0, %d]", c.Radius, c.CellSize)
	}
	return nil
}

type cellEntry struct {
	entity ecs.Entity
	pos    Vec3
	cell   CellCoord
	slot   int32
}

// CellList buckets entities into uniform grid cells and stores the result in
// compressed sparse row form: occupied cells sorted by (z, y, x), entities per
// cell sorted by handle, and a CSR adjacency of occupied neighbor cells. When
// a radius is configured it also stores each entity's neighbors within that
// radius as a CSR graph.
//
// The layout is a pure function of the (entity, position) set, so two builds
// over the same world produce identical arrays.
type CellList struct {
	scratch
	cfg CellListConfig

	entries         []cellEntry
	cells           []CellCoord
	cellOffsets     []int32
	cursor          []int32
	ids             []ecs.Entity
	positions       []Vec3
	neighborOffsets []int32
	neighborIds     []int32
	graphOffsets    []int32
	graphIds        []ecs.Entity
	slots           *intmap.Map[uint32, int32]

	useDense bool
	dense    []int32
	lo       CellCoord
	dims     [3]int64
}

// NewCellList validates cfg and preallocates its scratch arenas.
func NewCellList(cfg CellListConfig, logger *zerolog.Logger) (*CellList, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "cell_list"
	}
	if cfg.MaxDenseCells <= 0 {
		cfg.MaxDenseCells = DefaultMaxDenseCells
	}
	if cfg.InitialCapacity <= 0 {
		cfg.InitialCapacity = DefaultInitialCapacity
	}
	n := cfg.InitialCapacity
	return &CellList{
		scratch:         newScratch(cfg.Name, logger),
		cfg:             cfg,
		entries:         make([]cellEntry, 0, n),
		cells:           make([]CellCoord, 0, n),
		cellOffsets:     make([]int32, 0, n+1),
		cursor:          make([]int32, 0, n),
		ids:             make([]ecs.Entity, 0, n),
		positions:       make([]Vec3, 0, n),
		neighborOffsets: make([]int32, 0, n+1),
		neighborIds:     make([]int32, 0, 8*n),
		graphOffsets:    make([]int32, 0, n+1),
		graphIds:        make([]ecs.Entity, 0, 8*n),
		slots:           intmap.New[uint32, int32](n),
		dense:           make([]int32, 0, n),
	}, nil
}

// Config returns the effective configuration.
func (c *CellList) Config() CellListConfig {
	return c.cfg
}

// CellOf returns the cell containing p.
func (c *CellList) CellOf(p Vec3) CellCoord {
	return CellCoord{
		X: quantize(p.X, c.cfg.CellSize),
		Y: quantize(p.Y, c.cfg.CellSize),
		Z: quantize(p.Z, c.cfg.CellSize),
	}
}

// Build rebuilds every array from the world's current position buffer.
func (c *CellList) Build(_ context.Context, w *ecs.World) error {
	n := liveCount(w, c.cfg.Position)
	c.entries = ensure(&c.scratch, c.entries, n, "entries")[:0]
	err := eachLive(w, c.cfg.Position, func(e ecs.Entity, p Vec3) {
		c.entries = append(c.entries, cellEntry{entity: e, pos: p, cell: c.CellOf(p)})
	})
	if err != nil {
		return eris.Wrapf(err, "%s: read positions", c.name)
	}
	slices.SortFunc(c.entries, func(a, b cellEntry) int {
		return a.entity.Compare(b.entity)
	})

	c.discoverCells()
	c.scatter()
	c.linkNeighbors()
	c.buildGraph()

	c.slots.Clear()
	for i, e := range c.ids {
		c.slots.Put(e.Index, int32(i))
	}
	return nil
}

func (c *CellList) discoverCells() {
	c.cells = c.cells[:0]
	c.useDense = false
	if len(c.entries) == 0 {
		return
	}

	lo, hi := c.entries[0].cell, c.entries[0].cell
	for _, en := range c.entries[1:] {
		lo = CellCoord{min(lo.X, en.cell.X), min(lo.Y, en.cell.Y), min(lo.Z, en.cell.Z)}
		hi = CellCoord{max(hi.X, en.cell.X), max(hi.Y, en.cell.Y), max(hi.Z, en.cell.Z)}
	}
	c.lo = lo
	c.dims = [3]int64{
		int64(hi.X) - int64(lo.X) + 1,
		int64(hi.Y) - int64(lo.Y) + 1,
		int64(hi.Z) - int64(lo.Z) + 1,
	}
	limit := int64(c.cfg.MaxDenseCells)
	total := c.dims[0]
	if total <= limit {
		total *= c.dims[1]
	}
	if total <= limit {
		total *= c.dims[2]
	}
	c.useDense = total <= limit

	if c.useDense {
		c.dense = ensure(&c.scratch, c.dense, int(total), "dense_cells")
		clear(c.dense)
		for _, en := range c.entries {
			c.dense[c.linear(en.cell)] = 1
		}
		// Linear order is x-fastest, so walking it visits cells in (z, y, x) order.
		for i, mark := range c.dense {
			if mark == 0 {
				c.dense[i] = -1
				continue
			}
			c.dense[i] = int32(len(c.cells))
			c.cells = push(&c.scratch, c.cells, c.coordAt(i), "cells")
		}
	} else {
		for _, en := range c.entries {
			c.cells = push(&c.scratch, c.cells, en.cell, "cells")
		}
		slices.SortFunc(c.cells, compareCells)
		c.cells = slices.Compact(c.cells)
	}

	for i := range c.entries {
		c.entries[i].slot = c.lookup(c.entries[i].cell)
	}
}

func (c *CellList) linear(cell CellCoord) int {
	x := int64(cell.X) - int64(c.lo.X)
	y := int64(cell.Y) - int64(c.lo.Y)
	z := int64(cell.Z) - int64(c.lo.Z)
	return int((z*c.dims[1]+y)*c.dims[0] + x)
}

func (c *CellList) coordAt(i int) CellCoord {
	idx := int64(i)
	x := idx % c.dims[0]
	idx /= c.dims[0]
	y := idx % c.dims[1]
	z := idx / c.dims[1]
	return CellCoord{
		X: int32(int64(c.lo.X) + x),
		Y: int32(int64(c.lo.Y) + y),
		Z: int32(int64(c.lo.Z) + z),
	}
}

// offsetCell shifts cell by (dx, dy, dz). It reports false when the result
// leaves the int32 range, so edge cells never wrap around to the far side.
func offsetCell(cell CellCoord, dx, dy, dz int32) (CellCoord, bool) {
	x := int64(cell.X) + int64(dx)
	y := int64(cell.Y) + int64(dy)
	z := int64(cell.Z) + int64(dz)
	if x != int64(int32(x)) || y != int64(int32(y)) || z != int64(int32(z)) {
		return CellCoord{}, false
	}
	return CellCoord{X: int32(x), Y: int32(y), Z: int32(z)}, true
}

// lookup returns the compact index of an occupied cell, or -1.
func (c *CellList) lookup(cell CellCoord) int32 {
	if c.useDense {
		x := int64(cell.X) - int64(c.lo.X)
		y := int64(cell.Y) - int64(c.lo.Y)
		z := int64(cell.Z) - int64(c.lo.Z)
		if x < 0 || y < 0 || z < 0 || x >= c.dims[0] || y >= c.dims[1] || z >= c.dims[2] {
			return -1
		}
		return c.dense[c.linear(cell)]
	}
	i, ok := slices.BinarySearchFunc(c.cells, cell, compareCells)
	if !ok {
		return -1
	}
	return int32(i)
}

// scatter runs the count pass, the prefix sum and a stable scatter of the
// handle-sorted entries, so each cell's span stays sorted by handle.
func (c *CellList) scatter() {
	m, n := len(c.cells), len(c.entries)
	c.cellOffsets = ensure(&c.scratch, c.cellOffsets, m+1, "cell_offsets")
	clear(c.cellOffsets)
	for _, en := range c.entries {
		c.cellOffsets[en.slot+1]++
	}
	for i := 1; i <= m; i++ {
		c.cellOffsets[i] += c.cellOffsets[i-1]
	}

	c.ids = ensure(&c.scratch, c.ids, n, "ids")
	c.positions = ensure(&c.scratch, c.positions, n, "positions")
	c.cursor = ensure(&c.scratch, c.cursor, m, "cursor")
	copy(c.cursor, c.cellOffsets[:m])
	for _, en := range c.entries {
		at := c.cursor[en.slot]
		c.cursor[en.slot]++
		c.ids[at] = en.entity
		c.positions[at] = en.pos
	}
}

func (c *CellList) linkNeighbors() {
	m := len(c.cells)
	c.neighborOffsets = ensure(&c.scratch, c.neighborOffsets, m+1, "neighbor_offsets")
	c.neighborIds = c.neighborIds[:0]
	for s, cell := range c.cells {
		c.neighborOffsets[s] = int32(len(c.neighborIds))
		for dz := int32(-1); dz <= 1; dz++ {
			for dy := int32(-1); dy <= 1; dy++ {
				for dx := int32(-1); dx <= 1; dx++ {
					if dx == 0 && dy == 0 && dz == 0 {
						continue
					}
					at, ok := offsetCell(cell, dx, dy, dz)
					if !ok {
						continue
					}
					if ns := c.lookup(at); ns >= 0 {
						c.neighborIds = push(&c.scratch, c.neighborIds, ns, "neighbor_ids")
					}
				}
			}
		}
	}
	c.neighborOffsets[m] = int32(len(c.neighborIds))
}

func (c *CellList) buildGraph() {
	n := len(c.ids)
	c.graphOffsets = ensure(&c.scratch, c.graphOffsets, n+1, "graph_offsets")
	c.graphIds = c.graphIds[:0]
	if c.cfg.Radius <= 0 {
		clear(c.graphOffsets)
		return
	}
	for s := range c.cells {
		for i := c.cellOffsets[s]; i < c.cellOffsets[s+1]; i++ {
			start := len(c.graphIds)
			c.graphOffsets[i] = int32(start)
			c.appendWithin(int32(s), i)
			slices.SortFunc(c.graphIds[start:], ecs.Entity.Compare)
		}
	}
	c.graphOffsets[n] = int32(len(c.graphIds))
}

func (c *CellList) appendWithin(s, i int32) {
	p, r := c.positions[i], c.cfg.Radius
	for j := c.cellOffsets[s]; j < c.cellOffsets[s+1]; j++ {
		if j != i && Within(p, c.positions[j], r) {
			c.graphIds = push(&c.scratch, c.graphIds, c.ids[j], "graph_ids")
		}
	}
	for _, ns := range c.neighborIds[c.neighborOffsets[s]:c.neighborOffsets[s+1]] {
		for j := c.cellOffsets[ns]; j < c.cellOffsets[ns+1]; j++ {
			if Within(p, c.positions[j], r) {
				c.graphIds = push(&c.scratch, c.graphIds, c.ids[j], "graph_ids")
			}
		}
	}
}

// Len returns the number of indexed entities.
func (c *CellList) Len() int {
	return len(c.ids)
}

// Cells returns the occupied cells in (z, y, x) order.
func (c *CellList) Cells() []CellCoord {
	return c.cells[:len(c.cells):len(c.cells)]
}

// CellOffsets returns len(Cells())+1 offsets into SortedIDs.
func (c *CellList) CellOffsets() []int32 {
	if len(c.cellOffsets) == 0 {
		return []int32{0}
	}
	m := len(c.cells) + 1
	return c.cellOffsets[:m:m]
}

// SortedIDs returns every indexed entity grouped by cell.
func (c *CellList) SortedIDs() []ecs.Entity {
	return c.ids[:len(c.ids):len(c.ids)]
}

// PointQuery returns the entities in cell, sorted by handle.
func (c *CellList) PointQuery(cell CellCoord) []ecs.Entity {
	s := c.lookup(cell)
	if s < 0 {
		return nil
	}
	lo, hi := c.cellOffsets[s], c.cellOffsets[s+1]
	return c.ids[lo:hi:hi]
}

// NeighborCells returns the occupied cells adjacent to cell, excluding cell.
func (c *CellList) NeighborCells(cell CellCoord) []CellCoord {
	s := c.lookup(cell)
	if s < 0 {
		return nil
	}
	slots := c.neighborIds[c.neighborOffsets[s]:c.neighborOffsets[s+1]]
	out := make([]CellCoord, len(slots))
	for i, ns := range slots {
		out[i] = c.cells[ns]
	}
	return out
}

func (c *CellList) slotOf(e ecs.Entity) (int32, bool) {
	i, ok := c.slots.Get(e.Index)
	if !ok || c.ids[i] != e {
		return 0, false
	}
	return i, true
}

// Contains reports whether e was indexed by the last build.
func (c *CellList) Contains(e ecs.Entity) bool {
	_, ok := c.slotOf(e)
	return ok
}

// RadiusQuery returns the entities within Radius of e, excluding e, sorted
// by handle. Unknown or stale handles and a zero radius yield nil.
func (c *CellList) RadiusQuery(e ecs.Entity) []ecs.Entity {
	if c.cfg.Radius <= 0 {
		return nil
	}
	i, ok := c.slotOf(e)
	if !ok {
		return nil
	}
	lo, hi := c.graphOffsets[i], c.graphOffsets[i+1]
	return c.graphIds[lo:hi:hi]
}

// Query is RadiusQuery.
func (c *CellList) Query(e ecs.Entity) []ecs.Entity {
	return c.RadiusQuery(e)
}

// BatchQuery calls fn with the RadiusQuery result of every handle in es.
func (c *CellList) BatchQuery(es []ecs.Entity, fn func(i int, result []ecs.Entity)) {
	for i, e := range es {
		fn(i, c.RadiusQuery(e))
	}
}

// Near appends to dst the entities within r of center, sorted by handle.
// r is clamped to the cell size.
func (c *CellList) Near(center Vec3, r float32, dst []ecs.Entity) []ecs.Entity {
	r = min(r, float32(c.cfg.CellSize))
	start := len(dst)
	home := c.CellOf(center)
	for dz := int32(-1); dz <= 1; dz++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for dx := int32(-1); dx <= 1; dx++ {
				at, ok := offsetCell(home, dx, dy, dz)
				if !ok {
					continue
				}
				s := c.lookup(at)
				if s < 0 {
					continue
				}
				for j := c.cellOffsets[s]; j < c.cellOffsets[s+1]; j++ {
					if Within(center, c.positions[j], r) {
						dst = append(dst, c.ids[j])
					}
				}
			}
		}
	}
	slices.SortFunc(dst[start:], ecs.Entity.Compare)
	return dst
}

// ForPairs calls fn for every candidate pair owned by cell: pairs inside the
// cell and pairs with neighbor cells that sort after it. With a radius
// configured only pairs within the radius are reported. Each pair arrives
// with a before b.
func (c *CellList) ForPairs(cell CellCoord, fn func(a, b ecs.Entity)) {
	if s := c.lookup(cell); s >= 0 {
		c.pairsOf(s, fn)
	}
}

// ForAllPairs visits every pair exactly once, cells in (z, y, x) order.
func (c *CellList) ForAllPairs(fn func(a, b ecs.Entity)) {
	for s := range c.cells {
		c.pairsOf(int32(s), fn)
	}
}

// Pairs appends every pair to dst in ForAllPairs order.
func (c *CellList) Pairs(dst []Pair) []Pair {
	c.ForAllPairs(func(a, b ecs.Entity) {
		dst = append(dst, Pair{A: a, B: b})
	})
	return dst
}

func (c *CellList) pairsOf(s int32, fn func(a, b ecs.Entity)) {
	lo, hi := c.cellOffsets[s], c.cellOffsets[s+1]
	for i := lo; i < hi; i++ {
		for j := i + 1; j < hi; j++ {
			c.emit(i, j, fn)
		}
	}
	for _, ns := range c.neighborIds[c.neighborOffsets[s]:c.neighborOffsets[s+1]] {
		if ns <= s {
			continue
		}
		for i := lo; i < hi; i++ {
			for j := c.cellOffsets[ns]; j < c.cellOffsets[ns+1]; j++ {
				c.emit(i, j, fn)
			}
		}
	}
}

func (c *CellList) emit(i, j int32, fn func(a, b ecs.Entity)) {
	if c.cfg.Radius > 0 && !Within(c.positions[i], c.positions[j], c.cfg.Radius) {
		return
	}
	p := orderedPair(c.ids[i], c.ids[j])
	fn(p.A, p.B)
}
