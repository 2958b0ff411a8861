package ecs

import (
	"errors"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AmbiguityPolicy decides what happens when two systems' access sets
// conflict and no ordering constraint relates them.
type AmbiguityPolicy uint8

const (
	// AmbiguityWarn logs each ambiguity and forces a deterministic order:
	// the earlier-registered system runs first. This is the default.
	AmbiguityWarn AmbiguityPolicy = iota
	// AmbiguityStrict makes Build fail on any unresolved ambiguity.
	AmbiguityStrict
	// AmbiguityIgnore leaves ambiguous pairs unordered. The executor still
	// never runs conflicting systems concurrently; which one goes first is
	// an implementation detail callers must not rely on.
	AmbiguityIgnore
)

// ScheduleOption configures a Schedule at construction.
type ScheduleOption func(*Schedule)

// WithAmbiguityPolicy selects the schedule's ambiguity handling.
func WithAmbiguityPolicy(p AmbiguityPolicy) ScheduleOption {
	return func(s *Schedule) { s.policy = p }
}

// WithWorkers fixes the worker pool size. Defaults to runtime.NumCPU.
func WithWorkers(n int) ScheduleOption {
	return func(s *Schedule) { s.workers = n }
}

// WithLogger sets the logger used for ambiguity diagnostics. Defaults to a
// no-op logger.
func WithLogger(l *zap.Logger) ScheduleOption {
	return func(s *Schedule) { s.logger = l }
}

// WithIgnoredPair suppresses ambiguity handling for one named system or set
// pair, in either order.
func WithIgnoredPair(a, b string) ScheduleOption {
	return func(s *Schedule) {
		s.ignored[[2]string{a, b}] = true
		s.ignored[[2]string{b, a}] = true
	}
}

// SystemOption configures one system at registration.
type SystemOption func(*systemNode)

// Named overrides the name derived from the system's type.
func Named(name string) SystemOption {
	return func(n *systemNode) { n.name = name }
}

// Before orders this system ahead of the named systems or sets.
func Before(labels ...string) SystemOption {
	return func(n *systemNode) { n.before = append(n.before, labels...) }
}

// After orders this system behind the named systems or sets.
func After(labels ...string) SystemOption {
	return func(n *systemNode) { n.after = append(n.after, labels...) }
}

// InSet adds the system to a labeled set, usable in ordering constraints and
// ignored pairs.
func InSet(set string) SystemOption {
	return func(n *systemNode) { n.sets = append(n.sets, set) }
}

type systemNode struct {
	index  int
	name   string
	system System
	access systemAccess
	ticked []tickedParam

	before []string
	after  []string
	sets   []string

	commands *Commands
	lastRun  Tick

	executions    int64
	minDuration   time.Duration
	maxDuration   time.Duration
	lastDuration  time.Duration
	totalDuration time.Duration
}

func (n *systemNode) recordDuration(d time.Duration) {
	n.executions++
	n.lastDuration = d
	n.totalDuration += d
	if d < n.minDuration {
		n.minDuration = d
	}
	if d > n.maxDuration {
		n.maxDuration = d
	}
}

// Schedule owns a set of systems, derives a dependency graph from their
// declared access and ordering constraints, and runs them in stages across
// a fixed worker pool. Within a stage systems are pairwise access-disjoint
// and run concurrently; stages are barrier-separated, with every system's
// command buffer flushed single-threaded between them.
//
// Lifecycle per run: build the graph (once, reused until the system set
// changes), dispatch stage by stage, flush, repeat. Run is not reentrant.
type Schedule struct {
	storage *Storage
	logger  *zap.Logger
	policy  AmbiguityPolicy
	workers int
	pool    *workerPool

	nodes     []*systemNode
	setOrder  [][2]string
	ignored   map[[2]string]bool
	nameCount map[string]int

	built  bool
	stages [][]int
}

// NewSchedule creates an empty schedule over the given store.
func NewSchedule(storage *Storage, opts ...ScheduleOption) *Schedule {
	s := &Schedule{
		storage:   storage,
		logger:    zap.NewNop(),
		ignored:   make(map[[2]string]bool),
		nameCount: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a system. Exported struct fields of param types (Query, Res,
// ResMut) are initialized against the store and folded into the system's
// access set. Adding a system invalidates any previously built stages.
func (s *Schedule) Add(system System, opts ...SystemOption) {
	node := &systemNode{
		index:       len(s.nodes),
		name:        systemName(system),
		system:      system,
		commands:    NewCommands(),
		minDuration: time.Duration(1<<63 - 1),
	}
	for _, opt := range opts {
		opt(node)
	}
	s.nameCount[node.name]++
	s.initParams(node)
	s.nodes = append(s.nodes, node)
	s.built = false
	s.stages = nil
}

// SetBefore orders every member of set a ahead of every member of set b.
func (s *Schedule) SetBefore(a, b string) {
	s.setOrder = append(s.setOrder, [2]string{a, b})
	s.built = false
	s.stages = nil
}

func systemName(system System) string {
	t := reflect.TypeOf(system)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// initParams walks the system struct's exported struct-typed fields and
// initializes the ones implementing the param protocol.
func (s *Schedule) initParams(node *systemNode) {
	v := reflect.ValueOf(node.system)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() || field.Kind() != reflect.Struct {
			continue
		}
		addr := field.Addr().Interface()
		param, ok := addr.(systemParam)
		if !ok {
			continue
		}
		param.initParam(s.storage)
		if contributor, ok := addr.(accessContributor); ok {
			contributor.addAccess(&node.access)
		}
		if ticked, ok := addr.(tickedParam); ok {
			node.ticked = append(node.ticked, ticked)
		}
	}
}

// labelTargets resolves a constraint label to node indices: an exact system
// name first, then a set label.
func (s *Schedule) labelTargets(label string) ([]int, bool) {
	var out []int
	for _, node := range s.nodes {
		if node.name == label {
			out = append(out, node.index)
		}
	}
	if len(out) > 0 {
		return out, true
	}
	found := false
	for _, node := range s.nodes {
		for _, set := range node.sets {
			if set == label {
				out = append(out, node.index)
				found = true
			}
		}
	}
	return out, found
}

func (s *Schedule) pairIgnored(a, b *systemNode) bool {
	if s.ignored[[2]string{a.name, b.name}] {
		return true
	}
	for _, sa := range a.sets {
		for _, sb := range b.sets {
			if s.ignored[[2]string{sa, sb}] {
				return true
			}
		}
	}
	return false
}

// Build derives the dependency graph and the stage layout. It reports
// unknown labels, constraint cycles, and (under the strict policy) every
// unresolved ambiguity, joined into one error.
func (s *Schedule) Build() error {
	n := len(s.nodes)
	edges := make([][]bool, n)
	for i := range edges {
		edges[i] = make([]bool, n)
	}

	var errs []error
	addEdge := func(from, to int) {
		if from != to {
			edges[from][to] = true
		}
	}
	for _, node := range s.nodes {
		for _, label := range node.before {
			targets, ok := s.labelTargets(label)
			if !ok {
				errs = append(errs, &UnknownLabelError{Label: label})
				continue
			}
			for _, t := range targets {
				addEdge(node.index, t)
			}
		}
		for _, label := range node.after {
			targets, ok := s.labelTargets(label)
			if !ok {
				errs = append(errs, &UnknownLabelError{Label: label})
				continue
			}
			for _, t := range targets {
				addEdge(t, node.index)
			}
		}
	}
	for _, pair := range s.setOrder {
		from, okA := s.labelTargets(pair[0])
		to, okB := s.labelTargets(pair[1])
		if !okA {
			errs = append(errs, &UnknownLabelError{Label: pair[0]})
		}
		if !okB {
			errs = append(errs, &UnknownLabelError{Label: pair[1]})
		}
		for _, f := range from {
			for _, t := range to {
				addEdge(f, t)
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if cyclic := findCycle(edges); cyclic != nil {
		names := make([]string, len(cyclic))
		for i, idx := range cyclic {
			names[i] = s.nodes[idx].name
		}
		return &CycleError{Systems: names}
	}

	ordered := transitiveClosure(edges)

	// Every conflicting pair with no path between them is an ambiguity. The
	// closure is updated as warn-mode edges are forced, so a pair already
	// ordered through earlier forced edges is not forced again; forcing only
	// unordered pairs keeps the graph acyclic.
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := s.nodes[i], s.nodes[j]
			if a.access.disjoint(&b.access) || ordered[i][j] || ordered[j][i] || s.pairIgnored(a, b) {
				continue
			}
			contested := a.access.conflictIds(&b.access, s.storage.registry.count())
			names := make([]string, len(contested))
			for k, id := range contested {
				names[k] = s.storage.registry.info(id).typ.String()
			}
			switch s.policy {
			case AmbiguityStrict:
				errs = append(errs, &AmbiguityError{A: a.name, B: b.name, Components: names})
			case AmbiguityWarn:
				s.logger.Warn("ambiguous system order, running in registration order",
					zap.String("first", a.name),
					zap.String("second", b.name),
					zap.Strings("conflicts", names),
				)
				addEdge(i, j)
				recordReach(ordered, i, j)
			case AmbiguityIgnore:
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	stages, err := s.buildStages(edges)
	if err != nil {
		return err
	}
	s.stages = stages

	// Validation pass: the stage layout must prove pairwise disjointness on
	// its own, independent of how it was derived.
	for _, stage := range s.stages {
		for x := 0; x < len(stage); x++ {
			for y := x + 1; y < len(stage); y++ {
				a, b := s.nodes[stage[x]], s.nodes[stage[y]]
				if !a.access.disjoint(&b.access) {
					return &AmbiguityError{
						A: a.name, B: b.name,
						Components: []string{"stage validation failed"},
					}
				}
			}
		}
	}

	s.built = true
	return nil
}

// buildStages topologically layers the graph, greedily packing each stage
// with ready systems (in registration order) that are pairwise
// access-disjoint. Conflicting ready systems spill into later stages. A pass
// that admits nothing means the remaining systems form a cycle; that is
// reported instead of looping.
func (s *Schedule) buildStages(edges [][]bool) ([][]int, error) {
	n := len(s.nodes)
	indegree := make([]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if edges[i][j] {
				indegree[j]++
			}
		}
	}
	done := make([]bool, n)
	var stages [][]int
	remaining := n
	for remaining > 0 {
		var stage []int
		for i := 0; i < n; i++ {
			if done[i] || indegree[i] > 0 {
				continue
			}
			fits := true
			for _, other := range stage {
				if !s.nodes[i].access.disjoint(&s.nodes[other].access) {
					fits = false
					break
				}
			}
			if fits {
				stage = append(stage, i)
			}
		}
		if len(stage) == 0 {
			var names []string
			for i := 0; i < n; i++ {
				if !done[i] {
					names = append(names, s.nodes[i].name)
				}
			}
			return nil, &CycleError{Systems: names}
		}
		for _, i := range stage {
			done[i] = true
			remaining--
			for j := 0; j < n; j++ {
				if edges[i][j] {
					indegree[j]--
				}
			}
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// Stages returns the built stage layout by system name, building first if
// needed. Useful for diagnostics and tests.
func (s *Schedule) Stages() ([][]string, error) {
	if !s.built {
		if err := s.Build(); err != nil {
			return nil, err
		}
	}
	out := make([][]string, len(s.stages))
	for i, stage := range s.stages {
		out[i] = make([]string, len(stage))
		for j, idx := range stage {
			out[i][j] = s.nodes[idx].name
		}
	}
	return out, nil
}

// stagePanic is the first panic captured during a stage.
type stagePanic struct {
	node  int
	value any
}

// Run executes one full pass over all stages. Within a stage systems run
// concurrently on the worker pool; the stage barrier waits for all of them,
// then flushes their command buffers in registration order.
//
// A panic inside a system is captured so its stage siblings run to
// completion; after the stage's barrier and flush the panic is re-raised.
// The panicked system's own command buffer is discarded rather than
// replayed. Structural invariants hold either way, since only the
// single-threaded flush mutates structure.
func (s *Schedule) Run(dt float64) error {
	if !s.built {
		if err := s.Build(); err != nil {
			return err
		}
	}
	if s.pool == nil {
		s.pool = newWorkerPool(s.workers)
	}

	for _, stage := range s.stages {
		var bar barrier
		bar.wg.Add(len(stage))
		for _, idx := range stage {
			node := s.nodes[idx]
			thisRun := s.storage.advanceChangeTick()
			frame := &UpdateFrame{
				DeltaTime: dt,
				Commands:  node.commands,
				Storage:   s.storage,
				LastRun:   node.lastRun,
				ThisRun:   thisRun,
			}
			for _, ticked := range node.ticked {
				ticked.setTicks(node.lastRun, thisRun)
			}
			node.lastRun = thisRun
			s.pool.submit(func() {
				defer bar.wg.Done()
				defer bar.capture(node.index)
				start := time.Now()
				node.system.Execute(frame)
				node.recordDuration(time.Since(start))
			})
		}
		bar.wg.Wait()

		failed := bar.failed()
		for _, idx := range stage {
			node := s.nodes[idx]
			if failed != nil && failed.node == idx {
				node.commands.ops = node.commands.ops[:0]
				continue
			}
			node.commands.Flush(s.storage)
		}
		if failed != nil {
			s.storage.CheckChangeTicks()
			panic(failed.value)
		}
	}

	s.storage.CheckChangeTicks()
	return nil
}

// Close drains and stops the worker pool. The schedule can no longer run.
func (s *Schedule) Close() {
	if s.pool != nil {
		s.pool.close()
		s.pool = nil
	}
}

// ScheduleStats summarizes execution timing across all systems.
type ScheduleStats struct {
	SystemCount     int
	StageCount      int
	TotalExecutions int64
	Systems         []SystemStats
}

// SystemStats is one system's execution timing.
type SystemStats struct {
	Name           string
	ExecutionCount int64
	MinDuration    time.Duration
	MaxDuration    time.Duration
	AvgDuration    time.Duration
	LastDuration   time.Duration
	TotalDuration  time.Duration
}

// Stats returns execution statistics for all registered systems.
func (s *Schedule) Stats() *ScheduleStats {
	stats := &ScheduleStats{
		SystemCount: len(s.nodes),
		StageCount:  len(s.stages),
		Systems:     make([]SystemStats, len(s.nodes)),
	}
	for i, node := range s.nodes {
		avg := time.Duration(0)
		if node.executions > 0 {
			avg = node.totalDuration / time.Duration(node.executions)
		}
		stats.Systems[i] = SystemStats{
			Name:           node.name,
			ExecutionCount: node.executions,
			MinDuration:    node.minDuration,
			MaxDuration:    node.maxDuration,
			AvgDuration:    avg,
			LastDuration:   node.lastDuration,
			TotalDuration:  node.totalDuration,
		}
		stats.TotalExecutions += node.executions
	}
	return stats
}

// findCycle returns the nodes of one dependency cycle, or nil.
func findCycle(edges [][]bool) []int {
	n := len(edges)
	const (
		unvisited = 0
		inStack   = 1
		finished  = 2
	)
	state := make([]int, n)
	var stack []int
	var cycle []int
	var visit func(i int) bool
	visit = func(i int) bool {
		state[i] = inStack
		stack = append(stack, i)
		for j := 0; j < n; j++ {
			if !edges[i][j] {
				continue
			}
			if state[j] == inStack {
				start := 0
				for k, v := range stack {
					if v == j {
						start = k
						break
					}
				}
				cycle = append([]int(nil), stack[start:]...)
				return true
			}
			if state[j] == unvisited && visit(j) {
				return true
			}
		}
		stack = stack[:len(stack)-1]
		state[i] = finished
		return false
	}
	for i := 0; i < n; i++ {
		if state[i] == unvisited && visit(i) {
			return cycle
		}
	}
	return nil
}

// transitiveClosure computes pairwise reachability over the edge matrix.
func transitiveClosure(edges [][]bool) [][]bool {
	n := len(edges)
	reach := make([][]bool, n)
	for i := range reach {
		reach[i] = make([]bool, n)
		copy(reach[i], edges[i])
	}
	for k := 0; k < n; k++ {
		for i := 0; i < n; i++ {
			if !reach[i][k] {
				continue
			}
			for j := 0; j < n; j++ {
				if reach[k][j] {
					reach[i][j] = true
				}
			}
		}
	}
	return reach
}

// recordReach folds a new edge u->v into an existing reachability closure:
// everything that reached u now reaches v and everything v reached.
func recordReach(reach [][]bool, u, v int) {
	n := len(reach)
	for a := 0; a < n; a++ {
		if a != u && !reach[a][u] {
			continue
		}
		reach[a][v] = true
		for b := 0; b < n; b++ {
			if reach[v][b] {
				reach[a][b] = true
			}
		}
	}
}

// barrier collects the first panic raised by a stage's systems.
type barrier struct {
	wg sync.WaitGroup
	mu sync.Mutex
	p  *stagePanic
}

func (b *barrier) capture(node int) {
	if r := recover(); r != nil {
		b.mu.Lock()
		if b.p == nil {
			b.p = &stagePanic{node: node, value: r}
		}
		b.mu.Unlock()
	}
}

func (b *barrier) failed() *stagePanic {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.p
}
