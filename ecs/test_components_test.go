package ecs_test

import "github.com/plus3/arche/ecs"

// Common test component types
type Position struct {
	X, Y float32
}

type Velocity struct {
	DX, DY float32
}

type Name struct {
	Value string
}

type Health struct {
	Current int
	Max     int
}

type AI struct {
	State int
}

// Custom primitive types for testing non-struct components
type Score int32
type Tag string

// Sparse-stored test types
type Frozen struct{}

type Poison struct {
	PerTick int
}

// Handle carries a drop hook so tests can observe disposal.
type Handle struct {
	Closed *int
}

func (h *Handle) Dispose() {
	if h.Closed != nil {
		*h.Closed++
	}
}

// Resource types
type GameTime struct {
	Elapsed float64
}

type Settings struct {
	Difficulty int
}

func newTestRegistry() *ecs.ComponentRegistry {
	registry := ecs.NewComponentRegistry()
	ecs.RegisterComponent[Position](registry)
	ecs.RegisterComponent[Velocity](registry)
	ecs.RegisterComponent[Name](registry)
	ecs.RegisterComponent[Health](registry)
	ecs.RegisterComponent[AI](registry)
	ecs.RegisterComponent[Score](registry)
	ecs.RegisterComponent[Tag](registry)
	ecs.RegisterComponent[Handle](registry)
	ecs.RegisterSparseComponent[Frozen](registry)
	ecs.RegisterSparseComponent[Poison](registry)
	ecs.RegisterResource[GameTime](registry)
	ecs.RegisterResource[Settings](registry)
	return registry
}

func newTestStorage() *ecs.Storage {
	return ecs.NewStorage(newTestRegistry())
}
