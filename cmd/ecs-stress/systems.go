package main

import (
	"math/rand"

	"github.com/plus3/arche/ecs"
)

// Stress components. Mixed payload sizes, one sparse type and two resources
// so every storage path is exercised.
type Position struct{ X, Y float64 }

type Velocity struct{ DX, DY float64 }

type Rotation struct{ Angle float64 }

type Spin struct{ Rate float64 }

type Health struct{ Current, Max float64 }

type Lifetime struct{ Remaining float64 }

// Poisoned is rare and churns, so it lives in sparse storage.
type Poisoned struct{ PerSecond float64 }

type SimConfig struct {
	SpawnPerFrame int
	PoisonChance  float64
	Bounds        float64
}

type SimClock struct {
	Elapsed float64
	Frames  int64
}

func RegisterStressComponents(r *ecs.ComponentRegistry) {
	ecs.RegisterComponent[Position](r)
	ecs.RegisterComponent[Velocity](r)
	ecs.RegisterComponent[Rotation](r)
	ecs.RegisterComponent[Spin](r)
	ecs.RegisterComponent[Health](r)
	ecs.RegisterComponent[Lifetime](r)
	ecs.RegisterSparseComponent[Poisoned](r)
	ecs.RegisterResource[SimConfig](r)
	ecs.RegisterResource[SimClock](r)
}

// SpawnRandomEntity creates one entity with a random component mix, spreading
// entities across many archetypes.
func SpawnRandomEntity(storage *ecs.Storage, rng *rand.Rand) ecs.Entity {
	components := []any{
		Position{X: rng.Float64()*1000 - 500, Y: rng.Float64()*1000 - 500},
	}
	if rng.Intn(2) == 0 {
		components = append(components, Velocity{DX: rng.Float64()*20 - 10, DY: rng.Float64()*20 - 10})
	}
	if rng.Intn(3) == 0 {
		components = append(components, Rotation{}, Spin{Rate: rng.Float64() * 4})
	}
	if rng.Intn(2) == 0 {
		components = append(components, Health{Current: 100, Max: 100})
	}
	if rng.Intn(4) == 0 {
		components = append(components, Lifetime{Remaining: rng.Float64() * 30})
	}
	e := storage.Spawn(components...)
	if rng.Float64() < 0.05 {
		storage.InsertComponent(e, Poisoned{PerSecond: rng.Float64() * 5})
	}
	return e
}

func RegisterStressSystems(s *ecs.Schedule) {
	s.Add(&MovementSystem{})
	s.Add(&SpinSystem{})
	s.Add(&LifetimeSystem{})
	s.Add(&PoisonSystem{})
	s.Add(&ClockSystem{})
	s.Add(&SpawnerSystem{rng: rand.New(rand.NewSource(7))})
	s.Add(&CullSystem{}, ecs.After("MovementSystem"))
}

type MovementSystem struct {
	Moving ecs.Query[struct {
		Pos *Position
		Vel *Velocity `ecs:"readonly"`
	}]
}

func (s *MovementSystem) Execute(frame *ecs.UpdateFrame) {
	for _, row := range s.Moving.Iter() {
		row.Pos.X += row.Vel.DX * frame.DeltaTime
		row.Pos.Y += row.Vel.DY * frame.DeltaTime
	}
}

type SpinSystem struct {
	Spinning ecs.Query[struct {
		Rot  *Rotation
		Spin *Spin `ecs:"readonly"`
	}]
}

func (s *SpinSystem) Execute(frame *ecs.UpdateFrame) {
	for _, row := range s.Spinning.Iter() {
		row.Rot.Angle += row.Spin.Rate * frame.DeltaTime
	}
}

type LifetimeSystem struct {
	Expiring ecs.Query[struct {
		Life *Lifetime
	}]
}

func (s *LifetimeSystem) Execute(frame *ecs.UpdateFrame) {
	for e, row := range s.Expiring.Iter() {
		row.Life.Remaining -= frame.DeltaTime
		if row.Life.Remaining <= 0 {
			frame.Commands.Despawn(e)
		}
	}
}

type PoisonSystem struct {
	Afflicted ecs.Query[struct {
		Health *Health
		Poison *Poisoned `ecs:"readonly"`
	}]
}

func (s *PoisonSystem) Execute(frame *ecs.UpdateFrame) {
	for e, row := range s.Afflicted.Iter() {
		row.Health.Current -= row.Poison.PerSecond * frame.DeltaTime
		if row.Health.Current <= 0 {
			frame.Commands.Despawn(e)
		}
	}
}

type ClockSystem struct {
	Clock ecs.ResMut[SimClock]
}

func (s *ClockSystem) Execute(frame *ecs.UpdateFrame) {
	clock := s.Clock.Get()
	clock.Elapsed += frame.DeltaTime
	clock.Frames++
}

// SpawnerSystem keeps the population churning so archetype moves and command
// flushes stay on the hot path for the whole run.
type SpawnerSystem struct {
	Config ecs.Res[SimConfig]

	rng *rand.Rand
}

func (s *SpawnerSystem) Execute(frame *ecs.UpdateFrame) {
	cfg := s.Config.Get()
	for i := 0; i < cfg.SpawnPerFrame; i++ {
		components := []any{
			Position{X: s.rng.Float64()*1000 - 500, Y: s.rng.Float64()*1000 - 500},
			Velocity{DX: s.rng.Float64()*20 - 10, DY: s.rng.Float64()*20 - 10},
			Lifetime{Remaining: s.rng.Float64() * 20},
		}
		if s.rng.Float64() < cfg.PoisonChance {
			components = append(components,
				Health{Current: 100, Max: 100},
				Poisoned{PerSecond: s.rng.Float64() * 5},
			)
		}
		frame.Commands.Spawn(components...)
	}
}

// CullSystem reads positions written this frame, so it is ordered after
// MovementSystem at registration.
type CullSystem struct {
	Config  ecs.Res[SimConfig]
	Roaming ecs.Query[struct {
		Pos *Position `ecs:"readonly"`
	}]
}

func (s *CullSystem) Execute(frame *ecs.UpdateFrame) {
	bounds := s.Config.Get().Bounds
	for e, row := range s.Roaming.Iter() {
		if row.Pos.X < -bounds || row.Pos.X > bounds || row.Pos.Y < -bounds || row.Pos.Y > bounds {
			frame.Commands.Despawn(e)
		}
	}
}
