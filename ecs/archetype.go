package ecs

import (
	"github.com/TheBitDrifter/mask"
	"github.com/kamstrup/intmap"
)

// ArchetypeId identifies one archetype within a Storage. Ids are assigned
// sequentially in creation order.
type ArchetypeId int

// Archetype is the set of entities sharing one exact component-type set.
// Identity is the canonical component bitmask; the backing Table holds the
// table-stored columns, sparse components live in world-level sparse sets.
type Archetype struct {
	id           ArchetypeId
	mask         mask.Mask
	componentIds []ComponentId // sorted, includes sparse-stored ids
	tableIds     []ComponentId // sorted, table-stored ids only
	sparseIds    []ComponentId // sorted, sparse-stored ids only
	table        *Table

	// slot maps a ComponentId to its column index in the table, or -1.
	// Sparse members are marked present with -2.
	slot [MaxComponentTypes]int16

	// Edge caches memoize the target archetype of a single-component add or
	// remove, so repeated structural changes on entities sharing a shape
	// amortize to O(1) after the first occurrence.
	addEdges    *intmap.Map[ComponentId, ArchetypeId]
	removeEdges *intmap.Map[ComponentId, ArchetypeId]
}

func newArchetype(id ArchetypeId, componentIds []ComponentId, registry *ComponentRegistry) *Archetype {
	a := &Archetype{
		id:           id,
		componentIds: componentIds,
		addEdges:     intmap.New[ComponentId, ArchetypeId](8),
		removeEdges:  intmap.New[ComponentId, ArchetypeId](8),
	}
	for i := range a.slot {
		a.slot[i] = -1
	}
	for _, cid := range componentIds {
		a.mask.Mark(uint32(cid))
		info := registry.info(cid)
		if info.kind == StorageSparse {
			a.slot[cid] = -2
			a.sparseIds = append(a.sparseIds, cid)
			continue
		}
		a.slot[cid] = int16(len(a.tableIds))
		a.tableIds = append(a.tableIds, cid)
	}
	a.table = newTable(a.tableIds, registry)
	return a
}

// ID returns the archetype's identifier.
func (a *Archetype) ID() ArchetypeId {
	return a.id
}

// ComponentIds returns the archetype's sorted component set.
func (a *Archetype) ComponentIds() []ComponentId {
	return a.componentIds
}

// Table returns the archetype's backing table.
func (a *Archetype) Table() *Table {
	return a.table
}

// Len is the number of entities currently in the archetype.
func (a *Archetype) Len() int {
	return a.table.Len()
}

// contains reports whether the component id is part of the archetype's set.
func (a *Archetype) contains(id ComponentId) bool {
	return a.slot[id] != -1
}

// columnIndex returns the table column index for a table-stored member, or
// -1 for absent and sparse-stored ids.
func (a *Archetype) columnIndex(id ComponentId) int {
	s := a.slot[id]
	if s < 0 {
		return -1
	}
	return int(s)
}

// Table is the columnar backing storage for one archetype: one contiguous
// column per table-stored component type, all the same logical length, plus
// the entity handle per row. Rows are dense; removal swap-fills from the end.
type Table struct {
	entities []Entity
	columns  []column
}

func newTable(tableIds []ComponentId, registry *ComponentRegistry) *Table {
	t := &Table{
		columns: make([]column, len(tableIds)),
	}
	for i, cid := range tableIds {
		info := registry.info(cid)
		t.columns[i] = info.newColumn(info)
	}
	return t
}

// Len is the table's row count.
func (t *Table) Len() int {
	return len(t.entities)
}

// EntityAt returns the entity occupying a row.
func (t *Table) EntityAt(row int) Entity {
	return t.entities[row]
}

// swapRemove removes a row from every column and the entity list. It returns
// the entity that was relocated into the freed row, or NoEntity if the
// removed row was the last one.
func (t *Table) swapRemove(row int, dispose bool) Entity {
	for _, col := range t.columns {
		col.swapRemove(row, dispose)
	}
	last := len(t.entities) - 1
	moved := NoEntity
	if row != last {
		moved = t.entities[last]
		t.entities[row] = moved
	}
	t.entities = t.entities[:last]
	return moved
}

func (t *Table) clampTicks(current Tick) {
	for _, col := range t.columns {
		col.clampTicks(current)
	}
}
