package query

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/plus3/latch/ecs"
	"github.com/rs/zerolog"
)

// EventQueueConfig configures an EventQueue.
type EventQueueConfig[E any] struct {
	Name string
	// Kind buckets events for Query.
	Kind func(E) uint32
	// Compare orders events of the same kind. Pushes from parallel tasks
	// arrive in any order, so it must be a total order over distinct events.
	Compare         func(a, b E) int
	InitialCapacity int
}

// EventQueue collects events pushed by systems during one tick and publishes
// them, sorted by (kind, Compare), when it is rebuilt at the start of the
// next tick. Push is safe for concurrent use; published events are read-only.
type EventQueue[E any] struct {
	scratch
	cfg EventQueueConfig[E]

	mu      sync.Mutex
	pending []E

	published []E
	kinds     []uint32
	offsets   []int32
}

// NewEventQueue preallocates the queue's buffers.
func NewEventQueue[E any](cfg EventQueueConfig[E], logger *zerolog.Logger) *EventQueue[E] {
	if cfg.Name == "" {
		cfg.Name = "event_queue"
	}
	if cfg.Kind == nil {
		cfg.Kind = func(E) uint32 { return 0 }
	}
	if cfg.InitialCapacity <= 0 {
		cfg.InitialCapacity = DefaultInitialCapacity
	}
	n := cfg.InitialCapacity
	return &EventQueue[E]{
		scratch:   newScratch(cfg.Name, logger),
		cfg:       cfg,
		pending:   make([]E, 0, n),
		published: make([]E, 0, n),
	}
}

// Push records an event for the next tick.
func (q *EventQueue[E]) Push(e E) {
	q.mu.Lock()
	q.pending = push(&q.scratch, q.pending, e, "pending")
	q.mu.Unlock()
}

// Pending returns the number of events waiting for the next build.
func (q *EventQueue[E]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Build publishes the events pushed since the previous build.
func (q *EventQueue[E]) Build(_ context.Context, _ *ecs.World) error {
	q.mu.Lock()
	q.published, q.pending = q.pending, q.published[:0]
	q.mu.Unlock()

	kind := q.cfg.Kind
	slices.SortStableFunc(q.published, func(a, b E) int {
		if c := cmp.Compare(kind(a), kind(b)); c != 0 {
			return c
		}
		if q.cfg.Compare != nil {
			return q.cfg.Compare(a, b)
		}
		return 0
	})

	q.kinds = q.kinds[:0]
	q.offsets = q.offsets[:0]
	for i, e := range q.published {
		k := kind(e)
		if i == 0 || k != q.kinds[len(q.kinds)-1] {
			q.kinds = append(q.kinds, k)
			q.offsets = append(q.offsets, int32(i))
		}
	}
	q.offsets = append(q.offsets, int32(len(q.published)))
	return nil
}

// All returns every published event.
func (q *EventQueue[E]) All() []E {
	return q.published[:len(q.published):len(q.published)]
}

// Kinds returns the distinct kinds published, ascending.
func (q *EventQueue[E]) Kinds() []uint32 {
	return q.kinds[:len(q.kinds):len(q.kinds)]
}

// Query returns the published events of one kind.
func (q *EventQueue[E]) Query(kind uint32) []E {
	i, ok := slices.BinarySearch(q.kinds, kind)
	if !ok {
		return nil
	}
	lo, hi := q.offsets[i], q.offsets[i+1]
	return q.published[lo:hi:hi]
}

// BatchQuery calls fn with the Query result for every kind in kinds.
func (q *EventQueue[E]) BatchQuery(kinds []uint32, fn func(i int, result []E)) {
	for i, k := range kinds {
		fn(i, q.Query(k))
	}
}
