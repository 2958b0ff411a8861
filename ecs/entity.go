package ecs

// Entity encodes a generational handle: the slot index in the lower 32 bits
// and the slot's generation in the upper 32 bits. Generations start at 1, so
// the zero Entity is never a live handle.
type Entity uint64

// NoEntity is the zero handle; it never refers to a live entity.
const NoEntity Entity = 0

func newEntity(index, generation uint32) Entity {
	return Entity(uint64(generation)<<32 | uint64(index))
}

// Index extracts the slot index from the handle.
func (e Entity) Index() uint32 {
	return uint32(e & 0xFFFFFFFF)
}

// Generation extracts the generation from the handle.
func (e Entity) Generation() uint32 {
	return uint32(e >> 32)
}

// entityLocation is where an entity's row currently lives.
type entityLocation struct {
	archetype ArchetypeId
	row       int
}

// entityMeta is the per-slot allocator record. generation is the generation a
// live handle must carry to address this slot; row < 0 means the slot is dead.
type entityMeta struct {
	generation uint32
	loc        entityLocation
}

// entityAllocator issues generational handles and recycles freed indices
// through a LIFO free list. All operations are O(1).
type entityAllocator struct {
	metas []entityMeta
	free  []uint32
}

// alloc returns a fresh or recycled handle. The slot's location is left
// invalid until the caller places the entity.
func (a *entityAllocator) alloc() Entity {
	if n := len(a.free); n > 0 {
		index := a.free[n-1]
		a.free = a.free[:n-1]
		meta := &a.metas[index]
		meta.loc = entityLocation{archetype: -1, row: -1}
		return newEntity(index, meta.generation)
	}
	index := uint32(len(a.metas))
	a.metas = append(a.metas, entityMeta{
		generation: 1,
		loc:        entityLocation{archetype: -1, row: -1},
	})
	return newEntity(index, 1)
}

// isAlive reports whether the handle still addresses its slot.
func (a *entityAllocator) isAlive(e Entity) bool {
	index := e.Index()
	if int(index) >= len(a.metas) {
		return false
	}
	meta := &a.metas[index]
	return meta.generation == e.Generation() && meta.loc.row >= 0
}

// release frees the handle's slot and bumps its generation so stale handles
// are detectable. Returns false if the handle is already dead.
func (a *entityAllocator) release(e Entity) bool {
	if !a.isAlive(e) {
		return false
	}
	index := e.Index()
	meta := &a.metas[index]
	meta.generation++
	meta.loc = entityLocation{archetype: -1, row: -1}
	a.free = append(a.free, index)
	return true
}

// location returns the entity's current placement.
func (a *entityAllocator) location(e Entity) (entityLocation, bool) {
	if !a.isAlive(e) {
		return entityLocation{}, false
	}
	return a.metas[e.Index()].loc, true
}

// setLocation records a placement for a slot index. The slot must be live.
func (a *entityAllocator) setLocation(index uint32, loc entityLocation) {
	a.metas[index].loc = loc
}

// liveCount is the number of currently live slots.
func (a *entityAllocator) liveCount() int {
	return len(a.metas) - len(a.free)
}
