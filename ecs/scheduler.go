package ecs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kamstrup/intmap"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Phase is a state of the tick state machine.
type Phase uint32

const (
	PhaseIdle Phase = iota
	PhaseFrozen
	PhaseBuildingAccelerators
	PhaseRunningSystems
	PhaseSwapping
	phaseCount
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseFrozen:
		return "Frozen"
	case PhaseBuildingAccelerators:
		return "BuildingAccelerators"
	case PhaseRunningSystems:
		return "RunningSystems"
	case PhaseSwapping:
		return "Swapping"
	default:
		return fmt.Sprintf("Phase(%d)", uint32(p))
	}
}

// SchedulerStats provides statistics about scheduler execution.
type SchedulerStats struct {
	SystemCount      int
	AcceleratorCount int
	Ticks            uint64
	Faults           uint64
	TotalExecutions  int64
	Systems          []SystemStats
	// LastPhase holds the duration of each phase of the most recent tick,
	// indexed by Phase. The Idle slot is the command flush.
	LastPhase [phaseCount]time.Duration
}

// SystemStats provides execution statistics for a single system.
type SystemStats struct {
	Name           string
	ExecutionCount int64
	MinDuration    time.Duration
	MaxDuration    time.Duration
	AvgDuration    time.Duration
	LastDuration   time.Duration
	TotalDuration  time.Duration
}

type systemStatsInternal struct {
	name           string
	executionCount int64
	minDuration    time.Duration
	maxDuration    time.Duration
	totalDuration  time.Duration
	lastDuration   time.Duration
}

type schedulerOptions struct {
	workers   int
	chunkSize int
	pool      *WorkerPool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*schedulerOptions)

// WithWorkers sets the worker pool size. Zero means GOMAXPROCS.
func WithWorkers(n int) SchedulerOption {
	return func(o *schedulerOptions) {
		o.workers = n
	}
}

// WithChunkSize sets the rows per parallel task.
func WithChunkSize(n int) SchedulerOption {
	return func(o *schedulerOptions) {
		o.chunkSize = n
	}
}

// WithPool shares an existing worker pool.
func WithPool(p *WorkerPool) SchedulerOption {
	return func(o *schedulerOptions) {
		o.pool = p
	}
}

// Scheduler drives the Idle → Frozen → BuildingAccelerators → RunningSystems
// → Swapping → Idle cycle over one world.
type Scheduler struct {
	world        *World
	pool         *WorkerPool
	logger       *zerolog.Logger
	systems      []System
	systemStats  []*systemStatsInternal
	accelerators []Accelerator
	commands     *Commands
	declared     map[string]struct{}
	writers      *intmap.Map[ComponentId, string]

	running   atomic.Bool
	tick      uint64
	faults    uint64
	lastPhase [phaseCount]time.Duration
}

// NewScheduler creates a scheduler for the given world.
func NewScheduler(world *World, opts ...SchedulerOption) *Scheduler {
	var o schedulerOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.pool == nil {
		o.pool = NewWorkerPool(o.workers, o.chunkSize)
	}
	return &Scheduler{
		world:    world,
		pool:     o.pool,
		logger:   world.Logger(),
		systems:  make([]System, 0),
		commands: newCommands(),
		declared: make(map[string]struct{}),
		writers:  intmap.New[ComponentId, string](16),
	}
}

// Register appends a system. Systems run in registration order.
//
// A system implementing AccessSystem is checked first: its name must be
// unique among declaring systems, its access must name at least one
// registered component, and none of its writes may already have a writer.
// A rejected system is not added.
func (s *Scheduler) Register(system System) error {
	name := systemName(system)
	if declared, ok := system.(AccessSystem); ok {
		if err := s.claim(name, declared.Access()); err != nil {
			return err
		}
	}
	s.systems = append(s.systems, system)
	s.systemStats = append(s.systemStats, &systemStatsInternal{
		name:        name,
		minDuration: time.Duration(1<<63 - 1),
	})
	return nil
}

func (s *Scheduler) claim(name string, access SystemAccess) error {
	if _, ok := s.declared[name]; ok {
		return eris.Wrapf(ErrDuplicateSystem, "system %s", name)
	}
	components := access.Components()
	if len(components) == 0 {
		return eris.Wrapf(ErrEmptyAccess, "system %s", name)
	}
	for _, cid := range components {
		if _, ok := s.world.Registry().Meta(cid); !ok {
			return eris.Wrapf(ErrUnknownComponent, "system %s: component %d", name, cid)
		}
	}
	writes := NormalizeComponentIds(access.Writes)
	for _, cid := range writes {
		if owner, ok := s.writers.Get(cid); ok {
			return eris.Wrapf(ErrWriteConflict, "component %d: written by %s, requested by %s", cid, owner, name)
		}
	}
	for _, cid := range writes {
		s.writers.Put(cid, name)
	}
	s.declared[name] = struct{}{}
	return nil
}

// Writer returns the name of the system that declared a write to cid.
func (s *Scheduler) Writer(cid ComponentId) (string, bool) {
	return s.writers.Get(cid)
}

// RegisterAccelerator adds an accelerator rebuilt at the start of every tick.
func (s *Scheduler) RegisterAccelerator(a Accelerator) {
	s.accelerators = append(s.accelerators, a)
}

// World returns the scheduled world.
func (s *Scheduler) World() *World {
	return s.world
}

// Pool returns the worker pool shared by accelerator builds and systems.
func (s *Scheduler) Pool() *WorkerPool {
	return s.pool
}

// Commands returns the deferred command buffer flushed at the end of each tick.
func (s *Scheduler) Commands() *Commands {
	return s.commands
}

// Phase returns the current phase.
func (s *Scheduler) Phase() Phase {
	return s.world.Phase()
}

// TickCount returns the number of ticks started.
func (s *Scheduler) TickCount() uint64 {
	return s.tick
}

// Tick runs one full cycle. A context that is already done stops the tick
// before any state changes; once started, a tick runs to completion.
//
// A system error or panic aborts the remaining systems and is returned as a
// *TickError. Next-buffer writes made before the fault are still swapped in.
func (s *Scheduler) Tick(ctx context.Context, dt float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.running.CompareAndSwap(false, true) {
		panic("ecs: Scheduler.Tick called while a tick is running")
	}
	defer s.running.Store(false)

	ctx = context.WithoutCancel(ctx)
	s.tick++
	frame := newUpdateFrame(ctx, s.tick, dt, s.world, s.pool, s.commands)

	start := time.Now()
	s.world.setPhase(PhaseFrozen)
	s.world.copyForward()
	start = s.mark(PhaseFrozen, start)

	s.world.setPhase(PhaseBuildingAccelerators)
	tickErr := s.buildAccelerators(ctx)
	start = s.mark(PhaseBuildingAccelerators, start)

	s.world.setPhase(PhaseRunningSystems)
	if tickErr == nil {
		tickErr = s.runSystems(frame)
	}
	start = s.mark(PhaseRunningSystems, start)

	s.world.setPhase(PhaseSwapping)
	s.world.SwapBuffers()
	start = s.mark(PhaseSwapping, start)

	s.world.setPhase(PhaseIdle)
	_, flushErr := s.commands.Flush(s.world)
	s.mark(PhaseIdle, start)

	if tickErr != nil {
		s.faults++
		s.logger.Error().
			Err(tickErr).
			Uint64("tick", s.tick).
			Msg("tick aborted")
		return tickErr
	}
	if flushErr != nil {
		return eris.Wrapf(flushErr, "tick %d: apply commands", s.tick)
	}
	return nil
}

func (s *Scheduler) mark(p Phase, start time.Time) time.Time {
	now := time.Now()
	s.lastPhase[p] = now.Sub(start)
	return now
}

func (s *Scheduler) buildAccelerators(ctx context.Context) error {
	if len(s.accelerators) == 0 {
		return nil
	}
	tasks := make([]func(context.Context) error, len(s.accelerators))
	for i, a := range s.accelerators {
		tasks[i] = func(ctx context.Context) error {
			if err := a.Build(ctx, s.world); err != nil {
				return &TickError{Tick: s.tick, System: "accelerator " + a.Name(), Err: err}
			}
			return nil
		}
	}
	err := s.pool.Run(ctx, tasks...)
	if err == nil {
		return nil
	}
	var tickErr *TickError
	if errors.As(err, &tickErr) {
		return tickErr
	}
	return &TickError{Tick: s.tick, System: "accelerators", Err: err}
}

func (s *Scheduler) runSystems(frame *UpdateFrame) error {
	for i, system := range s.systems {
		stats := s.systemStats[i]

		start := time.Now()
		err := s.execute(system, frame)
		duration := time.Since(start)

		stats.executionCount++
		stats.lastDuration = duration
		stats.totalDuration += duration
		if duration < stats.minDuration {
			stats.minDuration = duration
		}
		if duration > stats.maxDuration {
			stats.maxDuration = duration
		}

		if err != nil {
			err.Tick = frame.Tick
			err.System = stats.name
			return err
		}
	}
	return nil
}

func (s *Scheduler) execute(system System, frame *UpdateFrame) (fault *TickError) {
	defer func() {
		if v := recover(); v != nil {
			fault = &TickError{Panic: v}
		}
	}()
	if err := system.Execute(frame); err != nil {
		var panicked *PanicError
		if errors.As(err, &panicked) {
			return &TickError{Panic: panicked.Value, Err: err}
		}
		return &TickError{Err: err}
	}
	return nil
}

// Run ticks at the given interval until the context is cancelled or a tick
// fails. Cancellation is observed between ticks only.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			dt := now.Sub(lastTime).Seconds()
			lastTime = now
			if err := s.Tick(ctx, dt); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// GetStats returns statistics about system execution.
func (s *Scheduler) GetStats() *SchedulerStats {
	stats := &SchedulerStats{
		SystemCount:      len(s.systems),
		AcceleratorCount: len(s.accelerators),
		Ticks:            s.tick,
		Faults:           s.faults,
		Systems:          make([]SystemStats, len(s.systemStats)),
		LastPhase:        s.lastPhase,
	}

	var totalExecs int64
	for i, internal := range s.systemStats {
		avgDuration := time.Duration(0)
		if internal.executionCount > 0 {
			avgDuration = internal.totalDuration / time.Duration(internal.executionCount)
		}

		stats.Systems[i] = SystemStats{
			Name:           internal.name,
			ExecutionCount: internal.executionCount,
			MinDuration:    internal.minDuration,
			MaxDuration:    internal.maxDuration,
			AvgDuration:    avgDuration,
			LastDuration:   internal.lastDuration,
			TotalDuration:  internal.totalDuration,
		}
		totalExecs += internal.executionCount
	}

	stats.TotalExecutions = totalExecs
	return stats
}
