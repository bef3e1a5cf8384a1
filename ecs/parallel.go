package ecs

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the number of rows handed to one task when no chunk
// size is configured.
const DefaultChunkSize = 1024

// Range is a half-open row range [Start, End).
type Range struct {
	Start, End int
}

// Len returns the number of rows in r.
func (r Range) Len() int {
	return r.End - r.Start
}

// Partition splits [0, n) into ascending, disjoint ranges of at most chunk
// rows that together cover every index exactly once.
func Partition(n, chunk int) []Range {
	if n <= 0 {
		return nil
	}
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	out := make([]Range, 0, (n+chunk-1)/chunk)
	for start := 0; start < n; start += chunk {
		out = append(out, Range{Start: start, End: min(start+chunk, n)})
	}
	return out
}

// PanicError carries a panic recovered from a pool task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// WorkerPool runs data-parallel tasks on a fixed number of goroutines. Tasks
// run to completion once dispatched.
type WorkerPool struct {
	workers   int
	chunkSize int
}

// NewWorkerPool creates a pool. Zero workers means GOMAXPROCS; zero chunk
// size means DefaultChunkSize.
func NewWorkerPool(workers, chunkSize int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &WorkerPool{workers: workers, chunkSize: chunkSize}
}

// Workers returns the pool's concurrency limit.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// ChunkSize returns the rows per task used by For.
func (p *WorkerPool) ChunkSize() int {
	return p.chunkSize
}

// For runs fn once per chunk of [0, n). Chunks never overlap, so fn may write
// its own range of a shared slice without locking. The first error or
// recovered panic is returned after every started task has finished.
func (p *WorkerPool) For(ctx context.Context, n int, fn func(ctx context.Context, r Range) error) error {
	ranges := Partition(n, p.chunkSize)
	switch len(ranges) {
	case 0:
		return nil
	case 1:
		return guard(func() error { return fn(ctx, ranges[0]) })
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, r := range ranges {
		g.Go(func() error {
			return guard(func() error { return fn(gctx, r) })
		})
	}
	return g.Wait()
}

// Run executes independent tasks concurrently, bounded by the pool size.
func (p *WorkerPool) Run(ctx context.Context, tasks ...func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, task := range tasks {
		g.Go(func() error {
			return guard(func() error { return task(gctx) })
		})
	}
	return g.Wait()
}

// ForEachChunk hands each task the exclusive next-buffer slice of cid for its
// row range. Read dependencies should come from ReadColumn, which only ever
// sees the frozen current buffer.
func ForEachChunk[T any](ctx context.Context, p *WorkerPool, a *Archetype, cid ComponentId, fn func(r Range, next []T) error) error {
	next, err := WriteColumn[T](a, cid)
	if err != nil {
		return err
	}
	return p.For(ctx, len(next), func(_ context.Context, r Range) error {
		return fn(r, next[r.Start:r.End:r.End])
	})
}

func guard(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return fn()
}
