package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"runtime"
	"time"

	"github.com/pkg/profile"
	"go.uber.org/zap"

	"github.com/plus3/arche/ecs"
)

func main() {
	duration := flag.Duration("duration", 10*time.Second, "The total duration the test should run for.")
	entityCount := flag.Int("entities", 10000, "The initial number of entities to create.")
	workers := flag.Int("workers", 0, "Worker pool size, 0 for NumCPU.")
	ambiguity := flag.String("ambiguity", "warn", "Ambiguity policy: warn, strict or ignore.")
	profileMode := flag.String("profile", "", "Enable profiling: cpu or mem.")
	gcPauseMetrics := flag.Bool("gc-pause-metrics", false, "Enable detailed GC pause metrics in the report.")
	flag.Parse()

	switch *profileMode {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath(".")).Stop()
	}

	policy := ecs.AmbiguityWarn
	switch *ambiguity {
	case "warn":
	case "strict":
		policy = ecs.AmbiguityStrict
	case "ignore":
		policy = ecs.AmbiguityIgnore
	default:
		log.Fatalf("unknown ambiguity policy %q", *ambiguity)
	}

	logger := zap.Must(zap.NewDevelopment())
	defer logger.Sync()

	log.Println("Starting ECS stress test...")

	registry := ecs.NewComponentRegistry()
	RegisterStressComponents(registry)
	storage := ecs.NewStorage(registry)
	storage.InsertResource(SimConfig{SpawnPerFrame: 8, PoisonChance: 0.1, Bounds: 2000})
	storage.InsertResource(SimClock{})

	schedule := ecs.NewSchedule(storage,
		ecs.WithAmbiguityPolicy(policy),
		ecs.WithWorkers(*workers),
		ecs.WithLogger(logger),
	)
	RegisterStressSystems(schedule)
	defer schedule.Close()

	if err := schedule.Build(); err != nil {
		log.Fatalf("Failed to build schedule: %v", err)
	}

	log.Printf("Populating storage with %d entities...\n", *entityCount)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < *entityCount; i++ {
		SpawnRandomEntity(storage, rng)
	}
	log.Println("Population complete.")

	stages, err := schedule.Stages()
	if err != nil {
		log.Fatalf("Failed to derive stages: %v", err)
	}

	report := &Report{
		Duration:       *duration,
		Entities:       *entityCount,
		Stages:         stages,
		GCPauseMetrics: *gcPauseMetrics,
	}
	runtime.ReadMemStats(&report.MemStatsStart)

	log.Printf("Running simulation for %s...\n", *duration)
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	startTime := time.Now()
	lastFrameTime := time.Now()

Loop:
	for {
		select {
		case <-ctx.Done():
			break Loop
		default:
			deltaTime := time.Since(lastFrameTime)
			lastFrameTime = time.Now()

			updateStart := time.Now()
			if err := schedule.Run(float64(deltaTime) / float64(time.Second)); err != nil {
				log.Fatalf("Schedule run failed: %v", err)
			}
			report.UpdateTime.Samples = append(report.UpdateTime.Samples, time.Since(updateStart))
			report.TotalUpdates++
		}
	}

	report.TotalTime = time.Since(startTime)
	report.FinalEntities = storage.EntityCount()
	report.UpdateTime.Finalize()
	report.ScheduleStats = schedule.Stats()
	runtime.ReadMemStats(&report.MemStatsEnd)

	log.Println("Simulation finished.")

	fmt.Println("\n\n--- Stress Test Report ---")
	if err := report.Generate(os.Stdout); err != nil {
		log.Fatalf("Failed to generate report: %v", err)
	}
	fmt.Println("--- End of Report ---")

	log.Println("Stress test complete.")
}
