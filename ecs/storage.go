package ecs

import (
	"reflect"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/TheBitDrifter/mask"
)

// Storage is the shared entity-component store: the entity allocator, all
// archetypes and their tables, the sparse sets, and the resource slots.
//
// Storage is not internally locked. Concurrent access is safe only when a
// Schedule has proven the concurrently running systems' access sets disjoint;
// see Schedule.
type Storage struct {
	registry *ComponentRegistry
	entities entityAllocator

	// archetypes in creation order; byMask is the canonical-key lookup that
	// guarantees no two archetypes share a component set.
	archetypes []*Archetype
	byMask     map[mask.Mask]ArchetypeId

	sparse [MaxComponentTypes]sparseStore

	resources map[ComponentId]*resourceSlot

	tick      atomic.Uint32
	lastCheck Tick

	queriesMu sync.Mutex
	queries   map[uint64]*queryState
}

// NewStorage creates an empty store backed by the given component registry.
func NewStorage(registry *ComponentRegistry) *Storage {
	s := &Storage{
		registry:  registry,
		byMask:    make(map[mask.Mask]ArchetypeId),
		resources: make(map[ComponentId]*resourceSlot),
		queries:   make(map[uint64]*queryState),
	}
	// The empty archetype exists up front so component-less spawns have a home.
	s.getOrCreateArchetype(mask.Mask{}, nil)
	return s
}

// Registry returns the store's component registry.
func (s *Storage) Registry() *ComponentRegistry {
	return s.registry
}

// ChangeTick returns the store's current change tick.
func (s *Storage) ChangeTick() Tick {
	return Tick(s.tick.Load())
}

// advanceChangeTick increments and returns the change tick. Safe to call
// from concurrently running systems.
func (s *Storage) advanceChangeTick() Tick {
	return Tick(s.tick.Add(1))
}

// Spawn allocates a new entity holding the given components and places it in
// the matching archetype. Passing no components is valid; duplicate component
// types keep the last value.
func (s *Storage) Spawn(components ...any) Entity {
	return s.spawnAt(s.advanceChangeTick(), components)
}

func (s *Storage) spawnAt(tick Tick, components []any) Entity {
	var m mask.Mask
	values := make(map[ComponentId]any, len(components))
	for _, c := range components {
		id := s.registry.mustIdOf(componentType(c))
		m.Mark(uint32(id))
		values[id] = c
	}
	ids := make([]ComponentId, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	arch := s.getOrCreateArchetype(m, ids)
	e := s.entities.alloc()
	row := arch.table.Len()
	ticks := newComponentTicks(tick)
	for _, id := range ids {
		if ci := arch.columnIndex(id); ci >= 0 {
			arch.table.columns[ci].push(values[id], ticks)
		} else {
			s.sparseSet(id).insert(e.Index(), values[id], ticks)
		}
	}
	arch.table.entities = append(arch.table.entities, e)
	s.entities.setLocation(e.Index(), entityLocation{archetype: arch.id, row: row})
	return e
}

// Despawn removes the entity and frees its slot for reuse with a bumped
// generation. Returns false if the handle is already dead or stale.
func (s *Storage) Despawn(e Entity) bool {
	loc, ok := s.entities.location(e)
	if !ok {
		return false
	}
	arch := s.archetypes[loc.archetype]
	for _, cid := range arch.sparseIds {
		s.sparse[cid].remove(e.Index(), true)
	}
	moved := arch.table.swapRemove(loc.row, true)
	if moved != NoEntity {
		s.entities.setLocation(moved.Index(), loc)
	}
	return s.entities.release(e)
}

// IsAlive reports whether the handle refers to a live entity.
func (s *Storage) IsAlive(e Entity) bool {
	return s.entities.isAlive(e)
}

// EntityCount is the number of live entities.
func (s *Storage) EntityCount() int {
	return s.entities.liveCount()
}

// ArchetypeOf returns the id of the archetype the entity currently occupies.
func (s *Storage) ArchetypeOf(e Entity) (ArchetypeId, bool) {
	loc, ok := s.entities.location(e)
	if !ok {
		return 0, false
	}
	return loc.archetype, true
}

// ArchetypeById resolves an ArchetypeId.
func (s *Storage) ArchetypeById(id ArchetypeId) *Archetype {
	return s.archetypes[id]
}

// GetOrCreateArchetype returns the archetype for an exact component set,
// creating it if needed. The same set always yields the same id regardless
// of argument order.
func (s *Storage) GetOrCreateArchetype(componentIds ...ComponentId) ArchetypeId {
	ids := slices.Clone(componentIds)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	ids = slices.Compact(ids)
	var m mask.Mask
	for _, id := range ids {
		m.Mark(uint32(id))
	}
	return s.getOrCreateArchetype(m, ids).id
}

func (s *Storage) getOrCreateArchetype(m mask.Mask, ids []ComponentId) *Archetype {
	if id, ok := s.byMask[m]; ok {
		return s.archetypes[id]
	}
	arch := newArchetype(ArchetypeId(len(s.archetypes)), ids, s.registry)
	s.archetypes = append(s.archetypes, arch)
	s.byMask[m] = arch.id
	return arch
}

func (s *Storage) sparseSet(id ComponentId) sparseStore {
	if s.sparse[id] == nil {
		info := s.registry.info(id)
		s.sparse[id] = info.newSparse(info)
	}
	return s.sparse[id]
}

// InsertComponent attaches a component to a live entity, relocating it to
// the archetype that includes the component's type. Inserting a type the
// entity already has overwrites the value in place without a structural
// move. Returns false for dead or stale handles; panics if the component
// type was never registered.
func (s *Storage) InsertComponent(e Entity, component any) bool {
	loc, ok := s.entities.location(e)
	if !ok {
		return false
	}
	id := s.registry.mustIdOf(componentType(component))
	s.insertAt(e, loc, id, component, s.advanceChangeTick())
	return true
}

func (s *Storage) insertAt(e Entity, loc entityLocation, id ComponentId, component any, tick Tick) {
	arch := s.archetypes[loc.archetype]
	if arch.contains(id) {
		if ci := arch.columnIndex(id); ci >= 0 {
			arch.table.columns[ci].set(loc.row, component, tick)
		} else {
			s.sparse[id].setChanged(e.Index(), component, tick)
		}
		return
	}

	target, ok := arch.addEdges.Get(id)
	if !ok {
		m := arch.mask
		m.Mark(uint32(id))
		ids := insertSorted(arch.componentIds, id)
		target = s.getOrCreateArchetype(m, ids).id
		arch.addEdges.Put(id, target)
	}
	dst := s.archetypes[target]
	s.moveEntity(e, loc, dst, id, component, tick)
	if s.registry.info(id).kind == StorageSparse {
		s.sparseSet(id).insert(e.Index(), component, newComponentTicks(tick))
	}
}

// RemoveComponent detaches a component type from a live entity. Removing a
// type the entity does not have is a no-op returning false, as is operating
// on a dead handle.
func (s *Storage) RemoveComponent(e Entity, componentType reflect.Type) bool {
	loc, ok := s.entities.location(e)
	if !ok {
		return false
	}
	id, ok := s.registry.idOf(componentType)
	if !ok {
		return false
	}
	arch := s.archetypes[loc.archetype]
	if !arch.contains(id) {
		return false
	}

	target, ok := arch.removeEdges.Get(id)
	if !ok {
		m := arch.mask
		m.Unmark(uint32(id))
		ids := removeSorted(arch.componentIds, id)
		target = s.getOrCreateArchetype(m, ids).id
		arch.removeEdges.Put(id, target)
	}
	dst := s.archetypes[target]
	s.moveEntity(e, loc, dst, -1, nil, s.advanceChangeTick())
	return true
}

// moveEntity relocates an entity's row from its current table to dst's,
// column by column. Values for retained types keep their ticks; values for
// dropped types run their drop hook. addedId names a component being
// introduced by this transition, or -1 for removals. Both the moved entity's
// location and the swap-filled entity's location are updated.
func (s *Storage) moveEntity(e Entity, loc entityLocation, dst *Archetype, addedId ComponentId, addedVal any, tick Tick) {
	src := s.archetypes[loc.archetype]
	dstRow := dst.table.Len()

	for ci, cid := range dst.tableIds {
		if si := src.columnIndex(cid); si >= 0 {
			src.table.columns[si].copyTo(dst.table.columns[ci], loc.row)
		} else if cid == addedId {
			dst.table.columns[ci].push(addedVal, newComponentTicks(tick))
		}
	}
	for si, cid := range src.tableIds {
		if !dst.contains(cid) {
			src.table.columns[si].disposeRow(loc.row)
		}
	}
	for _, cid := range src.sparseIds {
		if !dst.contains(cid) {
			s.sparse[cid].remove(e.Index(), true)
		}
	}

	dst.table.entities = append(dst.table.entities, e)
	moved := src.table.swapRemove(loc.row, false)
	if moved != NoEntity {
		s.entities.setLocation(moved.Index(), loc)
	}
	s.entities.setLocation(e.Index(), entityLocation{archetype: dst.id, row: dstRow})
}

// component resolves an entity's component value and tick slot.
func (s *Storage) component(e Entity, id ComponentId) (any, *componentTicks, bool) {
	loc, ok := s.entities.location(e)
	if !ok {
		return nil, nil, false
	}
	arch := s.archetypes[loc.archetype]
	if !arch.contains(id) {
		return nil, nil, false
	}
	if ci := arch.columnIndex(id); ci >= 0 {
		col := arch.table.columns[ci]
		return col.get(loc.row), col.ticks(loc.row), true
	}
	sp := s.sparse[id]
	return sp.get(e.Index()), sp.ticksFor(e.Index()), true
}

// Get returns a read-only view of the entity's T, or (nil, false) when the
// entity is dead or lacks the component.
func Get[T any](s *Storage, e Entity) (*T, bool) {
	id, ok := s.registry.idOf(reflect.TypeFor[T]())
	if !ok {
		return nil, false
	}
	v, _, ok := s.component(e, id)
	if !ok {
		return nil, false
	}
	return v.(*T), true
}

// GetMut returns a mutable view of the entity's T and stamps its changed
// tick with a freshly advanced change tick.
func GetMut[T any](s *Storage, e Entity) (*T, bool) {
	id, ok := s.registry.idOf(reflect.TypeFor[T]())
	if !ok {
		return nil, false
	}
	v, ticks, ok := s.component(e, id)
	if !ok {
		return nil, false
	}
	ticks.changed = s.advanceChangeTick()
	return v.(*T), true
}

// Has reports whether the entity currently carries a T.
func Has[T any](s *Storage, e Entity) bool {
	id, ok := s.registry.idOf(reflect.TypeFor[T]())
	if !ok {
		return false
	}
	loc, ok := s.entities.location(e)
	if !ok {
		return false
	}
	return s.archetypes[loc.archetype].contains(id)
}

// CheckChangeTicks clamps every stored tick whose age crossed the scan
// threshold, keeping wrap-around false positives impossible. Schedules call
// this automatically; long-running hosts mutating the store directly should
// call it periodically.
func (s *Storage) CheckChangeTicks() {
	tick := s.ChangeTick()
	if tick.relativeTo(s.lastCheck) < checkTickThreshold {
		return
	}
	for _, arch := range s.archetypes {
		arch.table.clampTicks(tick)
	}
	for _, sp := range s.sparse {
		if sp != nil {
			sp.clampTicks(tick)
		}
	}
	for _, slot := range s.resources {
		slot.ticks.clamp(tick)
	}
	s.lastCheck = tick
}

func insertSorted(ids []ComponentId, id ComponentId) []ComponentId {
	out := make([]ComponentId, 0, len(ids)+1)
	out = append(out, ids...)
	i, _ := slices.BinarySearch(out, id)
	return slices.Insert(out, i, id)
}

func removeSorted(ids []ComponentId, id ComponentId) []ComponentId {
	out := make([]ComponentId, 0, len(ids)-1)
	for _, cid := range ids {
		if cid != id {
			out = append(out, cid)
		}
	}
	return out
}
