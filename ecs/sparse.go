package ecs

// sparseStore is world-level storage for a sparse-kind component type, keyed
// by entity index rather than table row. Archetypes still carry the
// component's bit in their mask, so queries match on it; only the value
// lookup goes through here.
type sparseStore interface {
	insert(index uint32, v any, ticks componentTicks)
	// setChanged overwrites an existing value, running the old value's drop
	// hook and stamping the changed tick.
	setChanged(index uint32, v any, changed Tick)
	get(index uint32) any
	ticksFor(index uint32) *componentTicks
	has(index uint32) bool
	remove(index uint32, dispose bool) bool
	clampTicks(current Tick)
}

// sparseColumn is a sparse set: dense value/tick/key arrays plus a sparse
// index from entity index to dense row. Removal swap-fills the dense arrays.
type sparseColumn[T any] struct {
	dense    []T
	tickRows []componentTicks
	keys     []uint32
	sparse   []int32 // entity index -> dense row, -1 when absent
	dispose  func(ptr any)
}

func (s *sparseColumn[T]) rowOf(index uint32) int32 {
	if int(index) >= len(s.sparse) {
		return -1
	}
	return s.sparse[index]
}

func (s *sparseColumn[T]) ensure(index uint32) {
	for int(index) >= len(s.sparse) {
		s.sparse = append(s.sparse, -1)
	}
}

func (s *sparseColumn[T]) insert(index uint32, v any, ticks componentTicks) {
	s.ensure(index)
	if row := s.sparse[index]; row >= 0 {
		s.dense[row] = concrete[T](v)
		s.tickRows[row] = ticks
		return
	}
	s.sparse[index] = int32(len(s.dense))
	s.dense = append(s.dense, concrete[T](v))
	s.tickRows = append(s.tickRows, ticks)
	s.keys = append(s.keys, index)
}

func (s *sparseColumn[T]) setChanged(index uint32, v any, changed Tick) {
	row := s.rowOf(index)
	if s.dispose != nil {
		s.dispose(&s.dense[row])
	}
	s.dense[row] = concrete[T](v)
	s.tickRows[row].changed = changed
}

func (s *sparseColumn[T]) get(index uint32) any {
	row := s.rowOf(index)
	if row < 0 {
		return nil
	}
	return &s.dense[row]
}

func (s *sparseColumn[T]) ticksFor(index uint32) *componentTicks {
	row := s.rowOf(index)
	if row < 0 {
		return nil
	}
	return &s.tickRows[row]
}

func (s *sparseColumn[T]) has(index uint32) bool {
	return s.rowOf(index) >= 0
}

func (s *sparseColumn[T]) remove(index uint32, dispose bool) bool {
	row := s.rowOf(index)
	if row < 0 {
		return false
	}
	if dispose && s.dispose != nil {
		s.dispose(&s.dense[row])
	}
	last := int32(len(s.dense) - 1)
	if row != last {
		s.dense[row] = s.dense[last]
		s.tickRows[row] = s.tickRows[last]
		s.keys[row] = s.keys[last]
		s.sparse[s.keys[row]] = row
	}
	var zero T
	s.dense[last] = zero
	s.dense = s.dense[:last]
	s.tickRows = s.tickRows[:last]
	s.keys = s.keys[:last]
	s.sparse[index] = -1
	return true
}

func (s *sparseColumn[T]) clampTicks(current Tick) {
	for i := range s.tickRows {
		s.tickRows[i].clamp(current)
	}
}
