package ecs

import "reflect"

// Commands buffers structural mutations issued from inside running systems.
// Nothing touches the store until Flush, which a Schedule calls
// single-threaded at the stage boundary; this is what keeps archetype moves
// from invalidating another system's in-flight iteration.
//
// Operations are replayed in submission order. Operations addressing an
// entity despawned earlier in the same flush fall out naturally: the
// handle's generation is already stale by the time the operation runs.
type Commands struct {
	ops []command
}

// NewCommands creates an empty buffer. Systems normally use the buffer
// handed to them on the UpdateFrame instead.
func NewCommands() *Commands {
	return &Commands{}
}

type commandKind uint8

const (
	cmdSpawn commandKind = iota
	cmdDespawn
	cmdInsert
	cmdRemove
	cmdInsertResource
	cmdDefer
)

type command struct {
	kind       commandKind
	entity     Entity
	component  any
	compType   reflect.Type
	components []any
	fn         func(*Storage)
}

// Spawn queues an entity spawn with the given components.
func (c *Commands) Spawn(components ...any) {
	c.ops = append(c.ops, command{kind: cmdSpawn, components: components})
}

// Despawn queues an entity despawn.
func (c *Commands) Despawn(e Entity) {
	c.ops = append(c.ops, command{kind: cmdDespawn, entity: e})
}

// Insert queues a component insertion on an entity.
func (c *Commands) Insert(e Entity, component any) {
	c.ops = append(c.ops, command{kind: cmdInsert, entity: e, component: component})
}

// Remove queues a component removal from an entity.
func (c *Commands) Remove(e Entity, componentType reflect.Type) {
	c.ops = append(c.ops, command{kind: cmdRemove, entity: e, compType: componentType})
}

// InsertResource queues a resource insertion.
func (c *Commands) InsertResource(v any) {
	c.ops = append(c.ops, command{kind: cmdInsertResource, component: v})
}

// Defer queues an arbitrary function to run against the store at flush time.
func (c *Commands) Defer(fn func(*Storage)) {
	c.ops = append(c.ops, command{kind: cmdDefer, fn: fn})
}

// Len is the number of queued operations.
func (c *Commands) Len() int {
	return len(c.ops)
}

// Flush applies all queued operations to the store in submission order and
// resets the buffer. Must not be called while systems are running.
func (c *Commands) Flush(storage *Storage) {
	for i := range c.ops {
		op := &c.ops[i]
		switch op.kind {
		case cmdSpawn:
			storage.Spawn(op.components...)
		case cmdDespawn:
			storage.Despawn(op.entity)
		case cmdInsert:
			storage.InsertComponent(op.entity, op.component)
		case cmdRemove:
			storage.RemoveComponent(op.entity, op.compType)
		case cmdInsertResource:
			storage.InsertResource(op.component)
		case cmdDefer:
			op.fn(storage)
		}
	}
	c.ops = c.ops[:0]
}
