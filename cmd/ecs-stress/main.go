package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"runtime"
	"time"

	"github.com/pkg/profile"
	"github.com/plus3/latch/config"
	"github.com/plus3/latch/ecs"
	"github.com/plus3/latch/ecs/query"
	"github.com/rs/zerolog"
)

func main() {
	duration := flag.Duration("duration", 10*time.Second, "The total duration the test should run for.")
	entityCount := flag.Int("entities", 10000, "The initial number of entities to create.")
	worldSize := flag.Float64("size", 1000, "Edge length of the square the agents move in.")
	churn := flag.Int("churn", 10, "Entities despawned and respawned per tick.")
	seed := flag.Uint64("seed", 1, "Random seed for the initial population and churn.")
	configPath := flag.String("config", "", "Optional YAML configuration file.")
	profileMode := flag.String("profile", "", "Write a cpu or mem profile to the working directory.")
	verbose := flag.Bool("v", false, "Enable debug logging.")
	gcPauseMetrics := flag.Bool("gc-pause-metrics", false, "Enable detailed GC pause metrics in the report.")
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()

	switch *profileMode {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	default:
		logger.Fatal().Str("profile", *profileMode).Msg("unknown profile mode, want cpu or mem")
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			logger.Fatal().Err(err).Msg("failed to load config")
		}
	}

	logger.Info().Msg("Starting ECS stress test...")

	// 1. Setup Registry, World, Accelerators and Scheduler
	registry := ecs.NewComponentRegistry()
	if err := registerComponents(registry); err != nil {
		logger.Fatal().Err(err).Msg("failed to register components")
	}
	if err := cfg.RegisterComponents(registry); err != nil {
		logger.Fatal().Err(err).Msg("failed to register configured components")
	}
	world := ecs.NewWorld(registry, ecs.WithLogger(&logger), ecs.WithEntityCapacity(*entityCount))
	scheduler := ecs.NewScheduler(world, cfg.SchedulerOptions()...)

	cells, err := query.NewCellList(cfg.CellListConfig(PositionID), &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create cell list")
	}
	factions := query.NewInvertedIndex(query.InvertedIndexConfig{Name: "factions", Attribute: FactionID}, &logger)
	contacts := query.NewEventQueue(query.EventQueueConfig[Contact]{Name: "contacts", Compare: compareContacts}, &logger)
	boxes, err := query.NewSweepAndPrune(query.SweepAndPruneConfig{Name: "boxes", Bounds: BoundsID}, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create sweep and prune")
	}
	scheduler.RegisterAccelerator(cells)
	scheduler.RegisterAccelerator(factions)
	scheduler.RegisterAccelerator(contacts)
	links := query.NewRelations(query.RelationsConfig{Name: "links"}, &logger)
	scheduler.RegisterAccelerator(boxes)
	scheduler.RegisterAccelerator(links)

	rng := rand.New(rand.NewPCG(*seed, *seed+1))
	size := float32(*worldSize)
	contactSystem := &ContactSystem{Cells: cells, Contacts: contacts}
	census := &CensusSystem{Factions: factions, Largest: make(map[uint32]int)}
	collisions := &CollisionSystem{Boxes: boxes, Links: links}
	systems := []ecs.AccessSystem{
		&FlockingSystem{Cells: cells},
		&MovementSystem{Size: size},
		&BoundsSystem{},
		contactSystem,
		collisions,
		census,
		&ChurnSystem{Cells: cells, Rng: rng, Size: size, Count: *churn},
	}
	for _, system := range systems {
		if err := scheduler.Register(system); err != nil {
			logger.Fatal().Err(err).Str("system", system.Name()).Msg("failed to register system")
		}
	}

	// 2. Populate the world
	logger.Info().Int("entities", *entityCount).Msg("Populating world...")
	for i := 0; i < *entityCount; i++ {
		if _, err := world.Spawn(newAgent(rng, size)); err != nil {
			logger.Fatal().Err(err).Msg("failed to spawn agent")
		}
	}
	logger.Info().Int("archetypes", world.ArchetypeCount()).Msg("Population complete.")

	// 3. Run the simulation loop
	report := &Report{
		Duration:       *duration,
		Entities:       *entityCount,
		Workers:        scheduler.Pool().Workers(),
		CellSize:       cells.Config().CellSize,
		Radius:         cells.Config().Radius,
		Churn:          *churn,
		GCPauseMetrics: *gcPauseMetrics,
		UpdateTime: Stats{
			Samples: make([]time.Duration, 0),
		},
	}

	runtime.ReadMemStats(&report.MemStatsStart)

	logger.Info().Dur("duration", *duration).Msg("Running simulation...")
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	startTime := time.Now()
	var totalUpdates int64
	lastFrameTime := time.Now()

	for ctx.Err() == nil {
		deltaTime := time.Since(lastFrameTime)
		lastFrameTime = time.Now()

		updateStart := time.Now()
		if err := scheduler.Tick(ctx, deltaTime.Seconds()); err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error().Err(err).Msg("tick failed")
		}
		updateDuration := time.Since(updateStart)

		report.UpdateTime.Samples = append(report.UpdateTime.Samples, updateDuration)
		totalUpdates++
	}

	report.TotalTime = time.Since(startTime)
	report.TotalUpdates = totalUpdates
	report.UpdateTime.Finalize()
	report.Scheduler = scheduler.GetStats()
	report.Faults = report.Scheduler.Faults
	report.Storage = world.CollectStats()
	report.Contacts = contactSystem.Total
	report.Overlaps = collisions.Total
	report.Links = collisions.Linked
	report.Overflows = cells.Overflows() + factions.Overflows() + contacts.Overflows() + boxes.Overflows() + links.Overflows()
	report.Factions = sortedFactions(census.Largest)
	runtime.ReadMemStats(&report.MemStatsEnd)

	logger.Info().Msg("Simulation finished.")

	// 4. Generate Report to Console
	fmt.Println("\n\n--- Stress Test Report ---")
	if err := report.Generate(os.Stdout); err != nil {
		logger.Fatal().Err(err).Msg("failed to generate report")
	}
	fmt.Println("--- End of Report ---")

	logger.Info().Msg("Stress test complete.")
}
