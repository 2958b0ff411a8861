package ecs

import (
	"fmt"
	"reflect"
)

// ComponentId is a dense integer assigned to each distinct component or
// resource type at first registration. Ids are append-only for the life of
// the registry; resources share the same id space so a single access mask
// covers both.
type ComponentId int

// MaxComponentTypes caps the number of registrable component and resource
// types. It matches the width of the component bitmask used for archetype
// keys and access sets.
const MaxComponentTypes = 64

// StorageKind selects how a component type is stored.
type StorageKind uint8

const (
	// StorageTable stores values in contiguous per-archetype columns,
	// iterated in row order.
	StorageTable StorageKind = iota
	// StorageSparse stores values in a world-level sparse set keyed by
	// entity index; lookups are per-entity, structural moves are cheap.
	StorageSparse
)

// Disposable components get their Dispose hook called when a value is
// discarded by a structural transition (despawn, or component removal).
// Plain data components need no hook.
type Disposable interface {
	Dispose()
}

var disposableType = reflect.TypeOf((*Disposable)(nil)).Elem()

// componentInfo is the registry record for one component or resource type.
type componentInfo struct {
	id        ComponentId
	typ       reflect.Type
	kind      StorageKind
	resource  bool
	newColumn func(info *componentInfo) column
	newSparse func(info *componentInfo) sparseStore
	dispose   func(ptr any) // nil for plain data
}

// ComponentRegistry assigns ComponentIds and records layout, storage kind
// and drop behavior for each type. Each Storage owns one registry, so
// independent worlds never interfere.
type ComponentRegistry struct {
	infos  []*componentInfo
	byType map[reflect.Type]ComponentId
}

// NewComponentRegistry creates an empty registry.
func NewComponentRegistry() *ComponentRegistry {
	return &ComponentRegistry{
		byType: make(map[reflect.Type]ComponentId),
	}
}

// RegisterComponent registers T as a table-stored component and returns its
// id. Registration is idempotent: the same T always maps to the same id.
func RegisterComponent[T any](r *ComponentRegistry) ComponentId {
	return registerColumnType[T](r, StorageTable)
}

// RegisterSparseComponent registers T as a sparse-stored component.
func RegisterSparseComponent[T any](r *ComponentRegistry) ComponentId {
	return registerColumnType[T](r, StorageSparse)
}

// RegisterResource registers T as a resource type and returns its id.
// Resource registration also happens implicitly on first insert or access.
func RegisterResource[T any](r *ComponentRegistry) ComponentId {
	return r.registerResourceType(reflect.TypeFor[T]())
}

func (r *ComponentRegistry) registerResourceType(t reflect.Type) ComponentId {
	if id, ok := r.byType[t]; ok {
		if !r.infos[id].resource {
			panic("ecs: type " + t.String() + " already registered as a component")
		}
		return id
	}
	info := r.newInfo(t)
	info.resource = true
	return info.id
}

func registerColumnType[T any](r *ComponentRegistry, kind StorageKind) ComponentId {
	t := reflect.TypeFor[T]()
	if id, ok := r.byType[t]; ok {
		info := r.infos[id]
		if info.resource {
			panic("ecs: type " + t.String() + " already registered as a resource")
		}
		if info.kind != kind {
			panic("ecs: type " + t.String() + " already registered with a different storage kind")
		}
		return id
	}
	info := r.newInfo(t)
	info.kind = kind
	info.newColumn = func(info *componentInfo) column {
		return &tableColumn[T]{dispose: info.dispose}
	}
	info.newSparse = func(info *componentInfo) sparseStore {
		return &sparseColumn[T]{dispose: info.dispose}
	}
	return info.id
}

func (r *ComponentRegistry) newInfo(t reflect.Type) *componentInfo {
	switch t.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.Func:
		panic("ecs: component types cannot be pointers, maps, channels, or functions")
	}
	if len(r.infos) >= MaxComponentTypes {
		panic(fmt.Sprintf("ecs: component type limit (%d) exceeded registering %s", MaxComponentTypes, t))
	}
	info := &componentInfo{
		id:  ComponentId(len(r.infos)),
		typ: t,
	}
	if reflect.PointerTo(t).Implements(disposableType) {
		info.dispose = func(ptr any) {
			ptr.(Disposable).Dispose()
		}
	}
	r.infos = append(r.infos, info)
	r.byType[t] = info.id
	return info
}

// idOf looks up the id for a registered type.
func (r *ComponentRegistry) idOf(t reflect.Type) (ComponentId, bool) {
	id, ok := r.byType[t]
	return id, ok
}

// mustIdOf is idOf for callers that require prior registration.
func (r *ComponentRegistry) mustIdOf(t reflect.Type) ComponentId {
	id, ok := r.byType[t]
	if !ok {
		panic("ecs: component type " + t.String() + " not registered")
	}
	return id
}

// info returns the record for an id.
func (r *ComponentRegistry) info(id ComponentId) *componentInfo {
	return r.infos[id]
}

// count is the number of registered types.
func (r *ComponentRegistry) count() int {
	return len(r.infos)
}

// componentType normalizes a component value's type, unwrapping pointers the
// same way values are accepted both as T and *T.
func componentType(c any) reflect.Type {
	t := reflect.TypeOf(c)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
