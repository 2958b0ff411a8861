package ecs

// column is type-erased storage for one component type within one table.
// Rows are dense: swapRemove fills the freed slot with the last row, so
// indices never contain gaps.
type column interface {
	// push appends a value (accepted as T or *T) with the given ticks and
	// returns the new row.
	push(v any, ticks componentTicks) int
	// set overwrites the value at row in place, running the old value's drop
	// hook, keeping the added tick and stamping the changed tick.
	set(row int, v any, changed Tick)
	// get returns a *T for the row, boxed as any.
	get(row int) any
	// ticks returns the tick slot for the row.
	ticks(row int) *componentTicks
	// copyTo appends the row's value and ticks onto dst, which must store
	// the same component type. The source row is left in place.
	copyTo(dst column, row int)
	// swapRemove removes the row, moving the last row into its place. When
	// dispose is set the removed value's drop hook runs first.
	swapRemove(row int, dispose bool)
	// disposeRow runs the drop hook on the row's value without removing it.
	// Used when a structural move drops the component type.
	disposeRow(row int)
	len() int
	// clampTicks pins all stored ticks so their age never exceeds the
	// change-detection window.
	clampTicks(current Tick)
}

// tableColumn is the generic column implementation: one contiguous value
// array plus a parallel tick array.
type tableColumn[T any] struct {
	data     []T
	tickRows []componentTicks
	dispose  func(ptr any)
}

func (c *tableColumn[T]) push(v any, ticks componentTicks) int {
	c.data = append(c.data, concrete[T](v))
	c.tickRows = append(c.tickRows, ticks)
	return len(c.data) - 1
}

func (c *tableColumn[T]) set(row int, v any, changed Tick) {
	if c.dispose != nil {
		c.dispose(&c.data[row])
	}
	c.data[row] = concrete[T](v)
	c.tickRows[row].changed = changed
}

func (c *tableColumn[T]) get(row int) any {
	return &c.data[row]
}

func (c *tableColumn[T]) ticks(row int) *componentTicks {
	return &c.tickRows[row]
}

func (c *tableColumn[T]) copyTo(dst column, row int) {
	d := dst.(*tableColumn[T])
	d.data = append(d.data, c.data[row])
	d.tickRows = append(d.tickRows, c.tickRows[row])
}

func (c *tableColumn[T]) swapRemove(row int, dispose bool) {
	if dispose && c.dispose != nil {
		c.dispose(&c.data[row])
	}
	last := len(c.data) - 1
	c.data[row] = c.data[last]
	c.tickRows[row] = c.tickRows[last]
	var zero T
	c.data[last] = zero
	c.data = c.data[:last]
	c.tickRows = c.tickRows[:last]
}

func (c *tableColumn[T]) disposeRow(row int) {
	if c.dispose != nil {
		c.dispose(&c.data[row])
	}
}

func (c *tableColumn[T]) len() int {
	return len(c.data)
}

func (c *tableColumn[T]) clampTicks(current Tick) {
	for i := range c.tickRows {
		c.tickRows[i].clamp(current)
	}
}

// concrete unwraps a component value passed as either T or *T.
func concrete[T any](v any) T {
	switch val := v.(type) {
	case T:
		return val
	case *T:
		return *val
	default:
		panic("ecs: component value has wrong type for column")
	}
}
