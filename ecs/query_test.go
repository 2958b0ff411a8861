package ecs_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/plus3/arche/ecs"
)

func TestQueryBasicIteration(t *testing.T) {
	storage := newTestStorage()

	storage.Spawn(Position{X: 1}, Velocity{DX: 10})
	storage.Spawn(Position{X: 2}, Velocity{DX: 20})
	storage.Spawn(Position{X: 3}) // no velocity, must not match

	q := ecs.NewQuery[struct {
		Pos *Position
		Vel *Velocity `ecs:"readonly"`
	}](storage)

	seen := map[float32]float32{}
	for _, item := range q.Iter() {
		seen[item.Pos.X] = item.Vel.DX
	}
	assert.Equal(t, map[float32]float32{1: 10, 2: 20}, seen)
}

func TestQueryMutationThroughPointer(t *testing.T) {
	storage := newTestStorage()

	e := storage.Spawn(Position{X: 1}, Velocity{DX: 5})

	q := ecs.NewQuery[struct {
		Pos *Position
		Vel *Velocity `ecs:"readonly"`
	}](storage)
	for _, item := range q.Iter() {
		item.Pos.X += item.Vel.DX
	}

	pos, _ := ecs.Get[Position](storage, e)
	assert.Equal(t, float32(6), pos.X)
}

func TestQuerySpansArchetypes(t *testing.T) {
	storage := newTestStorage()

	storage.Spawn(Position{X: 1})
	storage.Spawn(Position{X: 2}, Velocity{})
	storage.Spawn(Position{X: 3}, Name{Value: "n"})
	storage.Spawn(Velocity{}) // no position

	q := ecs.NewQuery[struct {
		Pos *Position `ecs:"readonly"`
	}](storage)
	assert.Equal(t, 3, q.Count())
}

func TestQueryWithFilter(t *testing.T) {
	storage := newTestStorage()

	storage.Spawn(Position{X: 1}, Name{Value: "tagged"})
	storage.Spawn(Position{X: 2})

	q := ecs.NewQuery[struct {
		Pos     *Position `ecs:"readonly"`
		HasName ecs.With[Name]
	}](storage)

	var xs []float32
	for _, item := range q.Iter() {
		xs = append(xs, item.Pos.X)
	}
	assert.Equal(t, []float32{1}, xs)
}

func TestQueryWithoutFilter(t *testing.T) {
	storage := newTestStorage()

	storage.Spawn(Position{X: 1}, Name{Value: "tagged"})
	storage.Spawn(Position{X: 2})

	q := ecs.NewQuery[struct {
		Pos    *Position `ecs:"readonly"`
		NoName ecs.Without[Name]
	}](storage)

	var xs []float32
	for _, item := range q.Iter() {
		xs = append(xs, item.Pos.X)
	}
	assert.Equal(t, []float32{2}, xs)
}

func TestQueryWithAndWithoutShareStorage(t *testing.T) {
	storage := newTestStorage()

	storage.Spawn(Position{X: 1}, AI{State: 1})
	storage.Spawn(Position{X: 2})

	// Opposite filters over the same component must keep separate cached
	// state even though they borrow the same fields.
	withAI := ecs.NewQuery[struct {
		Pos   *Position `ecs:"readonly"`
		HasAI ecs.With[AI]
	}](storage)
	withoutAI := ecs.NewQuery[struct {
		Pos  *Position `ecs:"readonly"`
		NoAI ecs.Without[AI]
	}](storage)

	var withXs, withoutXs []float32
	for _, item := range withAI.Iter() {
		withXs = append(withXs, item.Pos.X)
	}
	for _, item := range withoutAI.Iter() {
		withoutXs = append(withoutXs, item.Pos.X)
	}
	assert.Equal(t, []float32{1}, withXs)
	assert.Equal(t, []float32{2}, withoutXs)
}

func TestQueryOptionalField(t *testing.T) {
	storage := newTestStorage()

	storage.Spawn(Position{X: 1}, Health{Current: 50})
	storage.Spawn(Position{X: 2})

	q := ecs.NewQuery[struct {
		Pos    *Position `ecs:"readonly"`
		Health *Health   `ecs:"readonly,optional"`
	}](storage)

	withHealth, withoutHealth := 0, 0
	for _, item := range q.Iter() {
		if item.Health != nil {
			withHealth++
			assert.Equal(t, 50, item.Health.Current)
		} else {
			withoutHealth++
		}
	}
	assert.Equal(t, 1, withHealth)
	assert.Equal(t, 1, withoutHealth)
}

func TestQuerySparseField(t *testing.T) {
	storage := newTestStorage()

	poisoned := storage.Spawn(Position{X: 1}, Poison{PerTick: 3})
	storage.Spawn(Position{X: 2})

	q := ecs.NewQuery[struct {
		Pos    *Position `ecs:"readonly"`
		Poison *Poison
	}](storage)

	count := 0
	for e, item := range q.Iter() {
		count++
		assert.Equal(t, poisoned, e)
		item.Poison.PerTick++
	}
	assert.Equal(t, 1, count)

	p, _ := ecs.Get[Poison](storage, poisoned)
	assert.Equal(t, 4, p.PerTick)
}

func TestQueryAddedFilter(t *testing.T) {
	storage := newTestStorage()

	storage.Spawn(Position{X: 1})

	q := ecs.NewQuery[struct {
		Pos      *Position `ecs:"readonly"`
		PosAdded ecs.Added[Position]
	}](storage)

	// First pass sees the spawn as an addition.
	assert.Equal(t, 1, countRows(q))
	// Second pass does not: nothing was added since.
	assert.Equal(t, 0, countRows(q))

	storage.Spawn(Position{X: 2})
	assert.Equal(t, 1, countRows(q))
}

func TestQueryChangedFilter(t *testing.T) {
	storage := newTestStorage()

	e := storage.Spawn(Position{X: 1})
	storage.Spawn(Position{X: 2})

	q := ecs.NewQuery[struct {
		Pos        *Position `ecs:"readonly"`
		PosChanged ecs.Changed[Position]
	}](storage)

	// Additions count as changes on the first pass.
	assert.Equal(t, 2, countRows(q))
	assert.Equal(t, 0, countRows(q))

	// A mutable borrow stamps the changed tick.
	pos, _ := ecs.GetMut[Position](storage, e)
	pos.X = 99
	assert.Equal(t, 1, countRows(q))
	assert.Equal(t, 0, countRows(q))
}

func TestQueryCountAdvancesWindow(t *testing.T) {
	storage := newTestStorage()

	e := storage.Spawn(Position{X: 1})

	q := ecs.NewQuery[struct {
		Pos        *Position `ecs:"readonly"`
		PosChanged ecs.Changed[Position]
	}](storage)

	// Count moves the change window forward exactly like Iter does.
	assert.Equal(t, 1, q.Count())
	assert.Equal(t, 0, q.Count())

	pos, _ := ecs.GetMut[Position](storage, e)
	pos.X = 2
	assert.Equal(t, 1, q.Count())
	assert.Equal(t, 0, q.Count())
}

func TestQueryMutableIterationMarksChanged(t *testing.T) {
	storage := newTestStorage()

	storage.Spawn(Position{X: 1})

	writer := ecs.NewQuery[struct {
		Pos *Position
	}](storage)
	detector := ecs.NewQuery[struct {
		Pos        *Position `ecs:"readonly"`
		PosChanged ecs.Changed[Position]
	}](storage)

	// Drain the spawn edge first.
	assert.Equal(t, 1, countRows(detector))
	assert.Equal(t, 0, countRows(detector))

	// A mutable query pass stamps every yielded row.
	for _, item := range writer.Iter() {
		item.Pos.X++
	}
	assert.Equal(t, 1, countRows(detector))
}

func TestQueryChangedFilterOnSparse(t *testing.T) {
	storage := newTestStorage()

	e := storage.Spawn(Position{}, Poison{PerTick: 1})

	q := ecs.NewQuery[struct {
		Poison        *Poison `ecs:"readonly"`
		PoisonChanged ecs.Changed[Poison]
	}](storage)

	assert.Equal(t, 1, countRows(q))
	assert.Equal(t, 0, countRows(q))

	p, _ := ecs.GetMut[Poison](storage, e)
	p.PerTick = 2
	assert.Equal(t, 1, countRows(q))
}

func TestQuerySeesNewArchetypes(t *testing.T) {
	storage := newTestStorage()

	q := ecs.NewQuery[struct {
		Pos *Position `ecs:"readonly"`
	}](storage)
	assert.Equal(t, 0, q.Count())

	// Archetypes created after the query was built are picked up.
	storage.Spawn(Position{X: 1})
	assert.Equal(t, 1, q.Count())

	storage.Spawn(Position{X: 2}, Velocity{}, Name{Value: "late"})
	assert.Equal(t, 2, q.Count())
}

func TestQueryAliasingPanics(t *testing.T) {
	storage := newTestStorage()

	assert.Panics(t, func() {
		ecs.NewQuery[struct {
			A *Position
			B *Position `ecs:"readonly"`
		}](storage)
	})

	// Two read-only borrows of the same component are allowed.
	assert.NotPanics(t, func() {
		ecs.NewQuery[struct {
			A *Position `ecs:"readonly"`
			B *Position `ecs:"readonly"`
		}](storage)
	})
}

func TestQueryShapeValidation(t *testing.T) {
	storage := newTestStorage()

	assert.Panics(t, func() {
		ecs.NewQuery[struct {
			Pos Position // not a pointer
		}](storage)
	})
	assert.Panics(t, func() {
		ecs.NewQuery[struct {
			Pos *Position `ecs:"writable"` // unknown tag
		}](storage)
	})
}

func TestQueryValues(t *testing.T) {
	storage := newTestStorage()

	storage.Spawn(Position{X: 4})

	q := ecs.NewQuery[struct {
		Pos *Position `ecs:"readonly"`
	}](storage)

	total := float32(0)
	for item := range q.Values() {
		total += item.Pos.X
	}
	assert.Equal(t, float32(4), total)
}

func TestQueryEarlyBreak(t *testing.T) {
	storage := newTestStorage()

	for i := 0; i < 10; i++ {
		storage.Spawn(Position{X: float32(i)})
	}

	q := ecs.NewQuery[struct {
		Pos *Position `ecs:"readonly"`
	}](storage)

	n := 0
	for range q.Iter() {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestParForEach(t *testing.T) {
	storage := newTestStorage()

	const n = 5000
	for i := 0; i < n; i++ {
		storage.Spawn(Position{X: 1}, Velocity{DX: float32(i)})
	}

	q := ecs.NewQuery[struct {
		Pos *Position
		Vel *Velocity `ecs:"readonly"`
	}](storage)

	var visited atomic.Int64
	q.ParForEach(256, func(e ecs.Entity, item struct {
		Pos *Position
		Vel *Velocity `ecs:"readonly"`
	}) {
		item.Pos.X += item.Vel.DX
		visited.Add(1)
	})
	assert.Equal(t, int64(n), visited.Load())
}

func TestParForEachDisjointBatches(t *testing.T) {
	storage := newTestStorage()

	const n = 2000
	for i := 0; i < n; i++ {
		storage.Spawn(Score(0))
	}

	q := ecs.NewQuery[struct {
		Score *Score
	}](storage)

	var mu sync.Mutex
	rows := map[ecs.Entity]int{}
	q.ParForEach(64, func(e ecs.Entity, item struct {
		Score *Score
	}) {
		mu.Lock()
		rows[e]++
		mu.Unlock()
	})

	// Every row visited exactly once.
	assert.Equal(t, n, len(rows))
	for _, c := range rows {
		assert.Equal(t, 1, c)
	}
}

// countRows drains one iteration pass, advancing the query's window.
func countRows[T any](q *ecs.Query[T]) int {
	n := 0
	for range q.Iter() {
		n++
	}
	return n
}
