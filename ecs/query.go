package ecs

import (
	"fmt"
	"iter"
	"reflect"
	"runtime"
	"sync"
	"unsafe"

	"github.com/TheBitDrifter/mask"
	farm "github.com/dgryski/go-farm"
	"golang.org/x/sync/errgroup"
)

// With narrows a query to archetypes carrying C without accessing its data.
// Declare it as a zero-size field of the query's shape struct.
type With[C any] struct{}

// Without excludes archetypes carrying C.
type Without[C any] struct{}

// Added passes only rows whose C was added since the querying system last
// ran. Implies the archetype carries C.
type Added[C any] struct{}

// Changed passes only rows whose C was written since the querying system
// last ran. Implies the archetype carries C.
type Changed[C any] struct{}

type filterKind uint8

const (
	filterWith filterKind = iota
	filterWithout
	filterAdded
	filterChanged
)

type filterSpec struct {
	kind filterKind
	typ  reflect.Type
}

type queryFilter interface {
	filterSpec() filterSpec
}

func (With[C]) filterSpec() filterSpec {
	return filterSpec{kind: filterWith, typ: reflect.TypeFor[C]()}
}

func (Without[C]) filterSpec() filterSpec {
	return filterSpec{kind: filterWithout, typ: reflect.TypeFor[C]()}
}

func (Added[C]) filterSpec() filterSpec {
	return filterSpec{kind: filterAdded, typ: reflect.TypeFor[C]()}
}

func (Changed[C]) filterSpec() filterSpec {
	return filterSpec{kind: filterChanged, typ: reflect.TypeFor[C]()}
}

// shapeField is one component access in a query shape.
type shapeField struct {
	id       ComponentId
	offset   uintptr
	readonly bool
	optional bool
	sparse   bool
}

// tickFilter is one Added/Changed predicate, evaluated per row.
type tickFilter struct {
	id     ComponentId
	added  bool
	sparse bool
}

// queryShape is the parsed form of a query's type parameter: which ids it
// touches, how, and under which filters. Parsed once per Query.
type queryShape struct {
	typ         reflect.Type
	fields      []shapeField
	tickFilters []tickFilter
	required    mask.Mask
	excluded    mask.Mask
	readIds     []ComponentId
	writeIds    []ComponentId
	fingerprint uint64
}

func (sh *queryShape) addAccessTo(a *systemAccess) {
	for _, id := range sh.readIds {
		a.reads.Mark(uint32(id))
	}
	for _, id := range sh.writeIds {
		a.writes.Mark(uint32(id))
	}
}

func (sh *queryShape) matches(arch *Archetype) bool {
	return arch.mask.ContainsAll(sh.required) && sharesNoBits(arch.mask, sh.excluded)
}

// parseShape reflects over the shape struct T. Component fields must be
// pointers; the `ecs:"readonly"` tag declares read-only access and
// `ecs:"optional"` makes a match not require the component. Filter fields
// (With, Without, Added, Changed) carry no data.
//
// Requesting the same component twice with any mutable use is an aliasing
// violation and panics here, at construction time.
func parseShape(t reflect.Type, registry *ComponentRegistry) *queryShape {
	if t.Kind() != reflect.Struct {
		panic("ecs: query shape must be a struct")
	}
	sh := &queryShape{typ: t}
	mutable := make(map[ComponentId]bool)
	seen := make(map[ComponentId]int)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if f, ok := reflect.Zero(field.Type).Interface().(queryFilter); ok {
			spec := f.filterSpec()
			id := registry.mustIdOf(spec.typ)
			switch spec.kind {
			case filterWith:
				sh.required.Mark(uint32(id))
			case filterWithout:
				sh.excluded.Mark(uint32(id))
			case filterAdded, filterChanged:
				sh.required.Mark(uint32(id))
				sh.readIds = append(sh.readIds, id)
				sh.tickFilters = append(sh.tickFilters, tickFilter{
					id:     id,
					added:  spec.kind == filterAdded,
					sparse: registry.info(id).kind == StorageSparse,
				})
			}
			continue
		}

		if field.Type.Kind() != reflect.Ptr {
			panic("ecs: query shape field " + field.Name + " must be a component pointer or filter")
		}
		var readonly, optional bool
		if tag := field.Tag.Get("ecs"); tag != "" {
			switch tag {
			case "readonly":
				readonly = true
			case "optional":
				optional = true
			case "readonly,optional", "optional,readonly":
				readonly, optional = true, true
			default:
				panic("ecs: invalid ecs tag value " + fmt.Sprintf("%q", tag) + " on field " + field.Name)
			}
		}
		id := registry.mustIdOf(field.Type.Elem())
		seen[id]++
		if !readonly {
			mutable[id] = true
		}
		if !optional {
			sh.required.Mark(uint32(id))
		}
		if readonly {
			sh.readIds = append(sh.readIds, id)
		} else {
			sh.writeIds = append(sh.writeIds, id)
		}
		sh.fields = append(sh.fields, shapeField{
			id:       id,
			offset:   field.Offset,
			readonly: readonly,
			optional: optional,
			sparse:   registry.info(id).kind == StorageSparse,
		})
	}

	for id, n := range seen {
		if n > 1 && mutable[id] {
			panic(&AliasingError{Shape: t, Type: registry.info(id).typ})
		}
	}

	sh.fingerprint = shapeFingerprint(sh)
	return sh
}

func shapeFingerprint(sh *queryShape) uint64 {
	sig := make([]byte, 0, 64)
	for _, f := range sh.fields {
		sig = append(sig, byte(f.id), flagByte(f.readonly, f.optional))
	}
	sig = append(sig, 0xFF)
	for _, tf := range sh.tickFilters {
		sig = append(sig, byte(tf.id), flagByte(tf.added, false))
	}
	sig = append(sig, 0xFE)
	sig = append(sig, maskBytes(sh.required)...)
	// Separator: a required bit and an excluded bit must never collapse into
	// the same signature.
	sig = append(sig, 0xFD)
	sig = append(sig, maskBytes(sh.excluded)...)
	return farm.Fingerprint64(sig)
}

func flagByte(a, b bool) byte {
	var v byte
	if a {
		v |= 1
	}
	if b {
		v |= 2
	}
	return v
}

func maskBytes(m mask.Mask) []byte {
	out := make([]byte, 0, MaxComponentTypes/8)
	for id := 0; id < MaxComponentTypes; id++ {
		var single mask.Mask
		single.Mark(uint32(id))
		if m.ContainsAll(single) {
			out = append(out, byte(id))
		}
	}
	return out
}

// matchedArchetype is one archetype known to satisfy a shape, with column
// indices resolved once so iteration never hashes.
type matchedArchetype struct {
	arch       *Archetype
	cols       []int // per shape field; -1 = sparse-stored or absent optional
	filterCols []int // per tick filter; -1 = sparse-stored
}

// queryState is the cached match list for one distinct (shape, filter)
// pair, shared between all queries with the same fingerprint. New archetypes
// are tested incrementally against the shape; archetypes created before the
// high-water mark are never rescanned.
type queryState struct {
	shape   *queryShape
	mu      sync.Mutex
	matched []matchedArchetype
	seen    int
}

func (st *queryState) refresh(s *Storage) []matchedArchetype {
	st.mu.Lock()
	defer st.mu.Unlock()
	for ; st.seen < len(s.archetypes); st.seen++ {
		arch := s.archetypes[st.seen]
		if !st.shape.matches(arch) {
			continue
		}
		m := matchedArchetype{
			arch:       arch,
			cols:       make([]int, len(st.shape.fields)),
			filterCols: make([]int, len(st.shape.tickFilters)),
		}
		for fi, f := range st.shape.fields {
			if f.sparse {
				m.cols[fi] = -1
				continue
			}
			m.cols[fi] = arch.columnIndex(f.id)
		}
		for ti, tf := range st.shape.tickFilters {
			if tf.sparse {
				m.filterCols[ti] = -1
				continue
			}
			m.filterCols[ti] = arch.columnIndex(tf.id)
		}
		st.matched = append(st.matched, m)
	}
	return st.matched
}

// queryStateFor interns the state for a shape fingerprint.
func (s *Storage) queryStateFor(shape *queryShape) *queryState {
	s.queriesMu.Lock()
	defer s.queriesMu.Unlock()
	if st, ok := s.queries[shape.fingerprint]; ok {
		return st
	}
	st := &queryState{shape: shape}
	s.queries[shape.fingerprint] = st
	return st
}

// Query iterates entities matching a declared component shape. T is a struct
// whose pointer fields name the components accessed (tag `ecs:"readonly"`
// for read-only access, `ecs:"optional"` for optional presence) and whose
// With/Without/Added/Changed fields narrow the match.
//
// Declared as an exported system field, a Query is initialized by the
// Schedule at registration and its change-detection window is managed per
// run. Standalone queries (NewQuery) advance the store's change tick on each
// iteration and use the previous iteration as their window start.
//
// Structural changes while iterating must go through Commands; mutating the
// store directly mid-iteration invalidates rows.
type Query[T any] struct {
	storage *Storage
	shape   *queryShape
	state   *queryState
	lastRun Tick
	thisRun Tick
	bound   bool
}

// NewQuery creates a standalone query outside of a schedule.
func NewQuery[T any](storage *Storage) *Query[T] {
	q := &Query[T]{}
	q.initParam(storage)
	return q
}

func (q *Query[T]) initParam(s *Storage) {
	q.storage = s
	q.shape = parseShape(reflect.TypeFor[T](), s.registry)
	q.state = s.queryStateFor(q.shape)
}

func (q *Query[T]) addAccess(a *systemAccess) {
	q.shape.addAccessTo(a)
}

func (q *Query[T]) setTicks(lastRun, thisRun Tick) {
	q.lastRun = lastRun
	q.thisRun = thisRun
	q.bound = true
}

func (q *Query[T]) beginRun() {
	if !q.bound {
		q.thisRun = q.storage.advanceChangeTick()
	}
}

func (q *Query[T]) endRun() {
	if !q.bound {
		q.lastRun = q.thisRun
	}
}

// Iter returns a lazy, restartable sequence of matching (entity, item)
// pairs, table by table in row order. Mutable (untagged) component slots
// have their changed tick stamped as rows are yielded.
func (q *Query[T]) Iter() iter.Seq2[Entity, T] {
	q.beginRun()
	matched := q.state.refresh(q.storage)
	return func(yield func(Entity, T) bool) {
		defer q.endRun()
		for mi := range matched {
			m := &matched[mi]
			table := m.arch.table
			for row := 0; row < table.Len(); row++ {
				e := table.entities[row]
				if !q.rowPasses(m, row, e) {
					continue
				}
				var item T
				if !q.populate(&item, m, row, e) {
					continue
				}
				if !yield(e, item) {
					return
				}
			}
		}
	}
}

// Values returns an iterator over the shape structs alone.
func (q *Query[T]) Values() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, item := range q.Iter() {
			if !yield(item) {
				return
			}
		}
	}
}

// Count returns the number of rows the query currently matches, honoring
// tick filters. It does not stamp changed ticks, but it advances the same
// change window Iter does.
func (q *Query[T]) Count() int {
	q.beginRun()
	defer q.endRun()
	matched := q.state.refresh(q.storage)
	n := 0
	for mi := range matched {
		m := &matched[mi]
		if len(q.shape.tickFilters) == 0 {
			n += m.arch.table.Len()
			continue
		}
		for row := 0; row < m.arch.table.Len(); row++ {
			if q.rowPasses(m, row, m.arch.table.entities[row]) {
				n++
			}
		}
	}
	return n
}

// ParForEach iterates matching rows in parallel, splitting each table into
// batches of batchSize rows dispatched across the available cores. A
// batchSize <= 0 picks a default. fn must not mutate the store structurally;
// use Commands from within systems instead.
func (q *Query[T]) ParForEach(batchSize int, fn func(Entity, T)) {
	if batchSize <= 0 {
		batchSize = defaultParBatch
	}
	q.beginRun()
	matched := q.state.refresh(q.storage)
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for mi := range matched {
		m := &matched[mi]
		n := m.arch.table.Len()
		for start := 0; start < n; start += batchSize {
			end := min(start+batchSize, n)
			g.Go(func() error {
				table := m.arch.table
				for row := start; row < end; row++ {
					e := table.entities[row]
					if !q.rowPasses(m, row, e) {
						continue
					}
					var item T
					if !q.populate(&item, m, row, e) {
						continue
					}
					fn(e, item)
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	q.endRun()
}

const defaultParBatch = 1024

func (q *Query[T]) rowPasses(m *matchedArchetype, row int, e Entity) bool {
	for ti := range q.shape.tickFilters {
		tf := &q.shape.tickFilters[ti]
		var tk *componentTicks
		if ci := m.filterCols[ti]; ci >= 0 {
			tk = m.arch.table.columns[ci].ticks(row)
		} else {
			tk = q.storage.sparse[tf.id].ticksFor(e.Index())
		}
		if tk == nil {
			return false
		}
		stamp := tk.changed
		if tf.added {
			stamp = tk.added
		}
		if !stamp.IsNewerThan(q.lastRun, q.thisRun) {
			return false
		}
	}
	return true
}

// populate fills the shape struct's pointer fields directly through their
// precomputed offsets, and stamps changed ticks for mutable fields.
func (q *Query[T]) populate(item *T, m *matchedArchetype, row int, e Entity) bool {
	ptr := unsafe.Pointer(item)
	for fi := range q.shape.fields {
		f := &q.shape.fields[fi]
		var v any
		var tk *componentTicks
		if f.sparse {
			if sp := q.storage.sparse[f.id]; sp != nil {
				v = sp.get(e.Index())
				if v != nil {
					tk = sp.ticksFor(e.Index())
				}
			}
		} else if ci := m.cols[fi]; ci >= 0 {
			col := m.arch.table.columns[ci]
			v = col.get(row)
			tk = col.ticks(row)
		}
		fieldPtr := unsafe.Pointer(uintptr(ptr) + f.offset)
		if v == nil {
			if !f.optional {
				return false
			}
			*(*unsafe.Pointer)(fieldPtr) = nil
			continue
		}
		if !f.readonly && tk != nil {
			tk.changed = q.thisRun
		}
		*(*unsafe.Pointer)(fieldPtr) = (*iface)(unsafe.Pointer(&v)).data
	}
	return true
}

// iface mirrors the runtime layout of a non-empty interface value.
type iface struct {
	typ  unsafe.Pointer
	data unsafe.Pointer
}
