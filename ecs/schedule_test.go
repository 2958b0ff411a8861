package ecs_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plus3/arche/ecs"
)

type WritePositions struct {
	Q    ecs.Query[struct{ Pos *Position }]
	Skip bool
}

func (s *WritePositions) Execute(frame *ecs.UpdateFrame) {
	if s.Skip {
		return
	}
	for _, item := range s.Q.Iter() {
		item.Pos.X++
	}
}

type WriteVelocities struct {
	Q ecs.Query[struct{ Vel *Velocity }]
}

func (s *WriteVelocities) Execute(frame *ecs.UpdateFrame) {
	for _, item := range s.Q.Iter() {
		item.Vel.DX++
	}
}

type ReadPositions struct {
	Q ecs.Query[struct {
		Pos *Position `ecs:"readonly"`
	}]
	Seen int
}

func (s *ReadPositions) Execute(frame *ecs.UpdateFrame) {
	s.Seen = 0
	for range s.Q.Iter() {
		s.Seen++
	}
}

type CountChangedPositions struct {
	Q ecs.Query[struct {
		Pos        *Position `ecs:"readonly"`
		PosChanged ecs.Changed[Position]
	}]
	Count int
}

func (s *CountChangedPositions) Execute(frame *ecs.UpdateFrame) {
	s.Count = 0
	for range s.Q.Iter() {
		s.Count++
	}
}

func TestScheduleStageDerivation(t *testing.T) {
	storage := newTestStorage()
	storage.Spawn(Position{}, Velocity{})

	sched := ecs.NewSchedule(storage)
	defer sched.Close()
	sched.Add(&WritePositions{})
	sched.Add(&WriteVelocities{})
	sched.Add(&ReadPositions{})

	// The two writers touch disjoint components and share a stage; the
	// reader conflicts with the position writer and lands after it.
	stages, err := sched.Stages()
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, []string{"WritePositions", "WriteVelocities"}, stages[0])
	assert.Equal(t, []string{"ReadPositions"}, stages[1])
}

func TestScheduleRunExecutesAllSystems(t *testing.T) {
	storage := newTestStorage()
	e := storage.Spawn(Position{X: 0}, Velocity{DX: 0})

	sched := ecs.NewSchedule(storage)
	defer sched.Close()
	reader := &ReadPositions{}
	sched.Add(&WritePositions{})
	sched.Add(&WriteVelocities{})
	sched.Add(reader)

	for i := 0; i < 3; i++ {
		require.NoError(t, sched.Run(1.0/60))
	}

	pos, _ := ecs.Get[Position](storage, e)
	assert.Equal(t, float32(3), pos.X)
	vel, _ := ecs.Get[Velocity](storage, e)
	assert.Equal(t, float32(3), vel.DX)
	assert.Equal(t, 1, reader.Seen)
}

func TestScheduleStrictAmbiguityFails(t *testing.T) {
	storage := newTestStorage()

	sched := ecs.NewSchedule(storage, ecs.WithAmbiguityPolicy(ecs.AmbiguityStrict))
	defer sched.Close()
	sched.Add(&WritePositions{})
	sched.Add(&ReadPositions{})

	err := sched.Build()
	require.Error(t, err)
	var ambErr *ecs.AmbiguityError
	assert.True(t, errors.As(err, &ambErr))
	assert.Equal(t, "WritePositions", ambErr.A)
	assert.Equal(t, "ReadPositions", ambErr.B)
}

func TestScheduleStrictWithExplicitOrder(t *testing.T) {
	storage := newTestStorage()

	sched := ecs.NewSchedule(storage, ecs.WithAmbiguityPolicy(ecs.AmbiguityStrict))
	defer sched.Close()
	sched.Add(&WritePositions{})
	sched.Add(&ReadPositions{}, ecs.After("WritePositions"))

	require.NoError(t, sched.Build())
	stages, _ := sched.Stages()
	require.Len(t, stages, 2)
}

func TestScheduleWarnOrdersByRegistration(t *testing.T) {
	storage := newTestStorage()
	storage.Spawn(Position{})

	// Both write positions with no declared order; under the warn policy the
	// earlier registration runs first.
	var order []string
	sched := ecs.NewSchedule(storage)
	defer sched.Close()
	sched.Add(&orderProbe{name: "first", log: &order})
	sched.Add(&orderProbe{name: "second", log: &order}, ecs.Named("secondProbe"))

	require.NoError(t, sched.Run(0))
	assert.Equal(t, []string{"first", "second"}, order)
}

type orderProbe struct {
	Q    ecs.Query[struct{ Pos *Position }]
	name string
	log  *[]string
}

func (s *orderProbe) Execute(frame *ecs.UpdateFrame) {
	*s.log = append(*s.log, s.name)
}

func TestScheduleResourceConflict(t *testing.T) {
	storage := newTestStorage()
	storage.InsertResource(GameTime{})

	sched := ecs.NewSchedule(storage, ecs.WithAmbiguityPolicy(ecs.AmbiguityStrict))
	defer sched.Close()
	sched.Add(&tickClock{}, ecs.Named("clockA"))
	sched.Add(&tickClock{}, ecs.Named("clockB"))

	err := sched.Build()
	require.Error(t, err)
	var ambErr *ecs.AmbiguityError
	assert.True(t, errors.As(err, &ambErr))
}

type tickClock struct {
	Clock ecs.ResMut[GameTime]
}

func (s *tickClock) Execute(frame *ecs.UpdateFrame) {
	s.Clock.Get().Elapsed += frame.DeltaTime
}

func TestScheduleCycleDetection(t *testing.T) {
	storage := newTestStorage()

	sched := ecs.NewSchedule(storage)
	defer sched.Close()
	sched.Add(&WritePositions{}, ecs.Before("ReadPositions"))
	sched.Add(&ReadPositions{}, ecs.Before("WritePositions"))

	err := sched.Build()
	require.Error(t, err)
	var cycleErr *ecs.CycleError
	assert.True(t, errors.As(err, &cycleErr))
}

func TestScheduleForcedEdgesWithExplicitConstraints(t *testing.T) {
	storage := newTestStorage()
	storage.Spawn(Position{}, Velocity{})

	// Two explicit Before constraints cross two warn-forced registration-order
	// edges. The forced edges must respect orderings that earlier forced edges
	// create, or the combined graph turns cyclic and staging never terminates.
	sched := ecs.NewSchedule(storage)
	defer sched.Close()
	sched.Add(&WritePositions{}, ecs.Named("PosA"))
	sched.Add(&WriteVelocities{}, ecs.Named("VelB"))
	sched.Add(&WriteVelocities{}, ecs.Named("VelC"), ecs.Before("PosA"))
	sched.Add(&WritePositions{}, ecs.Named("PosD"), ecs.Before("VelB"))

	stages, err := sched.Stages()
	require.NoError(t, err)
	require.Equal(t, [][]string{{"VelC"}, {"PosA"}, {"PosD"}, {"VelB"}}, stages)
	require.NoError(t, sched.Run(0))
}

func TestScheduleUnknownLabel(t *testing.T) {
	storage := newTestStorage()

	sched := ecs.NewSchedule(storage)
	defer sched.Close()
	sched.Add(&WritePositions{}, ecs.After("NoSuchSystem"))

	err := sched.Build()
	require.Error(t, err)
	var labelErr *ecs.UnknownLabelError
	assert.True(t, errors.As(err, &labelErr))
	assert.Equal(t, "NoSuchSystem", labelErr.Label)
}

func TestScheduleSets(t *testing.T) {
	storage := newTestStorage()
	storage.Spawn(Position{}, Velocity{})

	sched := ecs.NewSchedule(storage)
	defer sched.Close()
	sched.Add(&WritePositions{}, ecs.InSet("simulation"))
	sched.Add(&WriteVelocities{}, ecs.InSet("simulation"))
	sched.Add(&ReadPositions{}, ecs.After("simulation"))

	stages, err := sched.Stages()
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, []string{"ReadPositions"}, stages[1])
}

func TestScheduleCommandsFlushBetweenStages(t *testing.T) {
	storage := newTestStorage()

	sched := ecs.NewSchedule(storage)
	defer sched.Close()
	counter := &ReadPositions{}
	sched.Add(&spawnOne{}, ecs.Before("ReadPositions"))
	sched.Add(counter)

	require.NoError(t, sched.Run(0))
	// The spawn from the first stage is flushed before the second runs.
	assert.Equal(t, 1, counter.Seen)
}

type spawnOne struct{}

func (s *spawnOne) Execute(frame *ecs.UpdateFrame) {
	frame.Commands.Spawn(Position{X: 1})
}

func TestSchedulePanicFailsLate(t *testing.T) {
	storage := newTestStorage()

	sched := ecs.NewSchedule(storage)
	defer sched.Close()
	sibling := &spawnAndCount{}
	sched.Add(&panicker{})
	sched.Add(sibling)

	assert.PanicsWithValue(t, "boom", func() {
		_ = sched.Run(0)
	})

	// The sibling in the same stage ran to completion and its commands were
	// flushed; the panicked system's buffered spawn was discarded.
	assert.Equal(t, 1, sibling.Runs)
	assert.Equal(t, 1, storage.EntityCount())
	assert.Equal(t, 1, ecs.NewQuery[struct {
		Vel *Velocity `ecs:"readonly"`
	}](storage).Count())
}

type panicker struct{}

func (s *panicker) Execute(frame *ecs.UpdateFrame) {
	frame.Commands.Spawn(Position{X: 99})
	panic("boom")
}

type spawnAndCount struct {
	Runs int
}

func (s *spawnAndCount) Execute(frame *ecs.UpdateFrame) {
	s.Runs++
	frame.Commands.Spawn(Velocity{DX: 1})
}

func TestScheduleChangeDetectionWindow(t *testing.T) {
	storage := newTestStorage()
	storage.Spawn(Position{})

	mover := &WritePositions{}
	detector := &CountChangedPositions{}
	sched := ecs.NewSchedule(storage)
	defer sched.Close()
	sched.Add(mover)
	sched.Add(detector, ecs.After("WritePositions"))

	// First run: the pre-run spawn plus the mover's write are both new.
	require.NoError(t, sched.Run(0))
	assert.Equal(t, 1, detector.Count)

	// Mover keeps writing, detector keeps seeing exactly its window.
	require.NoError(t, sched.Run(0))
	assert.Equal(t, 1, detector.Count)

	// With the mover idle nothing changed since the detector's last run.
	mover.Skip = true
	require.NoError(t, sched.Run(0))
	assert.Equal(t, 0, detector.Count)
}

func TestScheduleFrameTicks(t *testing.T) {
	storage := newTestStorage()

	probe := &frameProbe{}
	sched := ecs.NewSchedule(storage)
	defer sched.Close()
	sched.Add(probe)

	require.NoError(t, sched.Run(0.5))
	firstRun := probe.ThisRun
	assert.Equal(t, 0.5, probe.Delta)
	assert.Equal(t, ecs.Tick(0), probe.LastRun)

	require.NoError(t, sched.Run(0.25))
	assert.Equal(t, 0.25, probe.Delta)
	// The window rolls forward: last run's tick becomes the new floor.
	assert.Equal(t, firstRun, probe.LastRun)
	assert.True(t, probe.ThisRun.IsNewerThan(probe.LastRun, probe.ThisRun))
}

type frameProbe struct {
	Delta   float64
	LastRun ecs.Tick
	ThisRun ecs.Tick
}

func (s *frameProbe) Execute(frame *ecs.UpdateFrame) {
	s.Delta = frame.DeltaTime
	s.LastRun = frame.LastRun
	s.ThisRun = frame.ThisRun
}

func TestScheduleIgnoredPair(t *testing.T) {
	storage := newTestStorage()

	sched := ecs.NewSchedule(storage,
		ecs.WithAmbiguityPolicy(ecs.AmbiguityStrict),
		ecs.WithIgnoredPair("WritePositions", "ReadPositions"),
	)
	defer sched.Close()
	sched.Add(&WritePositions{})
	sched.Add(&ReadPositions{})

	require.NoError(t, sched.Build())
}

func TestScheduleStats(t *testing.T) {
	storage := newTestStorage()
	storage.Spawn(Position{})

	sched := ecs.NewSchedule(storage)
	defer sched.Close()
	sched.Add(&WritePositions{})

	for i := 0; i < 4; i++ {
		require.NoError(t, sched.Run(0))
	}

	stats := sched.Stats()
	assert.Equal(t, 1, stats.SystemCount)
	assert.Equal(t, int64(4), stats.TotalExecutions)
	require.Len(t, stats.Systems, 1)
	assert.Equal(t, "WritePositions", stats.Systems[0].Name)
	assert.Equal(t, int64(4), stats.Systems[0].ExecutionCount)
	assert.GreaterOrEqual(t, stats.Systems[0].MaxDuration, stats.Systems[0].MinDuration)
}

func TestScheduleWorkerOption(t *testing.T) {
	storage := newTestStorage()
	storage.Spawn(Position{}, Velocity{})

	sched := ecs.NewSchedule(storage, ecs.WithWorkers(1))
	defer sched.Close()
	sched.Add(&WritePositions{})
	sched.Add(&WriteVelocities{})

	// A single worker still drains a multi-system stage.
	require.NoError(t, sched.Run(0))
	require.NoError(t, sched.Run(0))
}
