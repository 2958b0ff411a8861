package ecs

import "reflect"

// resourceSlot is one type-keyed singleton: a stable boxed pointer plus its
// own change ticks. The pointer never changes after creation, so system
// params can cache it; overwrites copy into the existing box.
type resourceSlot struct {
	info  *componentInfo
	value any // *T
	ticks componentTicks
}

// InsertResource stores a resource value, keyed by its type. A value of an
// already-present type overwrites in place (running the old value's drop
// hook if any) and stamps the changed tick; the added tick is kept.
func (s *Storage) InsertResource(v any) {
	s.insertResourceAt(s.advanceChangeTick(), v)
}

func (s *Storage) insertResourceAt(tick Tick, v any) {
	t := componentType(v)
	id := s.registry.registerResourceType(t)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	slot, ok := s.resources[id]
	if !ok {
		box := reflect.New(t)
		box.Elem().Set(val)
		s.resources[id] = &resourceSlot{
			info:  s.registry.info(id),
			value: box.Interface(),
			ticks: newComponentTicks(tick),
		}
		return
	}
	if slot.info.dispose != nil {
		slot.info.dispose(slot.value)
	}
	reflect.ValueOf(slot.value).Elem().Set(val)
	slot.ticks.changed = tick
}

// RemoveResource drops the resource of the given type, running its drop
// hook. Returns false when no such resource is present.
func (s *Storage) RemoveResource(t reflect.Type) bool {
	id, ok := s.registry.idOf(t)
	if !ok {
		return false
	}
	slot, ok := s.resources[id]
	if !ok {
		return false
	}
	if slot.info.dispose != nil {
		slot.info.dispose(slot.value)
	}
	delete(s.resources, id)
	return true
}

// HasResource reports whether a resource of the given type is present.
func (s *Storage) HasResource(t reflect.Type) bool {
	id, ok := s.registry.idOf(t)
	if !ok {
		return false
	}
	_, ok = s.resources[id]
	return ok
}

// Resource returns a read-only view of the T resource.
func Resource[T any](s *Storage) (*T, bool) {
	id, ok := s.registry.idOf(reflect.TypeFor[T]())
	if !ok {
		return nil, false
	}
	slot, ok := s.resources[id]
	if !ok {
		return nil, false
	}
	return slot.value.(*T), true
}

// ResourceMut returns a mutable view of the T resource and stamps its
// changed tick with a freshly advanced change tick.
func ResourceMut[T any](s *Storage) (*T, bool) {
	id, ok := s.registry.idOf(reflect.TypeFor[T]())
	if !ok {
		return nil, false
	}
	slot, ok := s.resources[id]
	if !ok {
		return nil, false
	}
	slot.ticks.changed = s.advanceChangeTick()
	return slot.value.(*T), true
}

// ResourceChanged reports whether the T resource was written in the
// (lastRun, thisRun] window.
func ResourceChanged[T any](s *Storage, lastRun, thisRun Tick) bool {
	id, ok := s.registry.idOf(reflect.TypeFor[T]())
	if !ok {
		return false
	}
	slot, ok := s.resources[id]
	if !ok {
		return false
	}
	return slot.ticks.changed.IsNewerThan(lastRun, thisRun)
}

// Res declares read-only access to the T resource from inside a system.
// Declare it as an exported struct field; the Schedule initializes it at
// registration and folds it into the system's access set.
type Res[T any] struct {
	storage *Storage
	id      ComponentId
}

// NewRes creates a standalone accessor outside of a schedule.
func NewRes[T any](storage *Storage) *Res[T] {
	r := &Res[T]{}
	r.initParam(storage)
	return r
}

func (r *Res[T]) initParam(s *Storage) {
	r.storage = s
	r.id = s.registry.registerResourceType(reflect.TypeFor[T]())
}

func (r *Res[T]) addAccess(a *systemAccess) {
	a.reads.Mark(uint32(r.id))
}

// Get returns the resource, or nil if it was never inserted.
func (r *Res[T]) Get() *T {
	slot, ok := r.storage.resources[r.id]
	if !ok {
		return nil
	}
	return slot.value.(*T)
}

// Exists reports whether the resource is present.
func (r *Res[T]) Exists() bool {
	_, ok := r.storage.resources[r.id]
	return ok
}

// ResMut declares read-write access to the T resource from inside a system.
// Get stamps the resource's changed tick with the running system's tick.
type ResMut[T any] struct {
	storage *Storage
	id      ComponentId
	thisRun Tick
}

// NewResMut creates a standalone accessor outside of a schedule.
func NewResMut[T any](storage *Storage) *ResMut[T] {
	r := &ResMut[T]{}
	r.initParam(storage)
	return r
}

func (r *ResMut[T]) initParam(s *Storage) {
	r.storage = s
	r.id = s.registry.registerResourceType(reflect.TypeFor[T]())
}

func (r *ResMut[T]) addAccess(a *systemAccess) {
	a.writes.Mark(uint32(r.id))
}

func (r *ResMut[T]) setTicks(lastRun, thisRun Tick) {
	r.thisRun = thisRun
}

// Get returns the resource, stamping its changed tick, or nil if absent.
func (r *ResMut[T]) Get() *T {
	slot, ok := r.storage.resources[r.id]
	if !ok {
		return nil
	}
	if r.thisRun != 0 {
		slot.ticks.changed = r.thisRun
	} else {
		slot.ticks.changed = r.storage.advanceChangeTick()
	}
	return slot.value.(*T)
}

// Exists reports whether the resource is present.
func (r *ResMut[T]) Exists() bool {
	_, ok := r.storage.resources[r.id]
	return ok
}
