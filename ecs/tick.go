package ecs

// Tick is a monotonically increasing change counter. It wraps around, so all
// comparisons go through IsNewerThan rather than raw ordering.
type Tick uint32

const (
	// checkTickThreshold is how far the world tick may advance before stored
	// component ticks are clamped. Scanning this often keeps tick ages well
	// below the wrap-around point.
	checkTickThreshold = 518_400_000

	// maxChangeAge is the oldest age a stored tick may report. Anything not
	// touched within this window is treated as unchanged instead of risking
	// a false positive after the counter wraps.
	maxChangeAge = ^Tick(0) - (2*checkTickThreshold - 1)
)

// relativeTo returns the wrapping distance from other to t.
func (t Tick) relativeTo(other Tick) Tick {
	return t - other
}

// IsNewerThan reports whether t occurred after lastRun, using thisRun as the
// anchor for wrap-around handling. Ages are clamped to maxChangeAge so the
// comparison stays deterministic across clamp scans.
func (t Tick) IsNewerThan(lastRun, thisRun Tick) bool {
	ticksSinceChange := min(thisRun.relativeTo(t), maxChangeAge)
	ticksSinceSystem := min(thisRun.relativeTo(lastRun), maxChangeAge)
	return ticksSinceSystem > ticksSinceChange
}

// clamp pins t so its age relative to current never exceeds maxChangeAge.
// Returns true if t was adjusted.
func (t *Tick) clamp(current Tick) bool {
	if current.relativeTo(*t) > maxChangeAge {
		*t = current - maxChangeAge
		return true
	}
	return false
}

// componentTicks records when a component slot was added and last written.
type componentTicks struct {
	added   Tick
	changed Tick
}

func newComponentTicks(at Tick) componentTicks {
	return componentTicks{added: at, changed: at}
}

func (ct *componentTicks) clamp(current Tick) {
	ct.added.clamp(current)
	ct.changed.clamp(current)
}
