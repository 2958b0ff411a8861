package ecs

import "github.com/TheBitDrifter/mask"

// systemAccess is the set of component and resource ids a system reads and
// writes, computed once at registration from the system's declared parameter
// fields. The scheduler admits two systems into the same concurrent stage
// only when their access sets are provably disjoint.
type systemAccess struct {
	reads  mask.Mask
	writes mask.Mask
}

// disjoint reports whether two access sets can run concurrently: neither
// side writes anything the other touches.
func (a *systemAccess) disjoint(b *systemAccess) bool {
	return sharesNoBits(a.writes, b.reads) &&
		sharesNoBits(a.writes, b.writes) &&
		sharesNoBits(b.writes, a.reads)
}

// sharesNoBits is ContainsNone with the empty-argument case made explicit:
// mask.ContainsNone reports false for an empty argument, but an empty set
// trivially overlaps nothing.
func sharesNoBits(m, other mask.Mask) bool {
	return other == (mask.Mask{}) || m.ContainsNone(other)
}

// conflictIds enumerates the ids contested between two access sets, for
// diagnostics. count bounds the scan to registered ids.
func (a *systemAccess) conflictIds(b *systemAccess, count int) []ComponentId {
	var out []ComponentId
	for id := 0; id < count; id++ {
		var single mask.Mask
		single.Mark(uint32(id))
		aw := a.writes.ContainsAll(single)
		bw := b.writes.ContainsAll(single)
		ar := aw || a.reads.ContainsAll(single)
		br := bw || b.reads.ContainsAll(single)
		if (aw && br) || (bw && ar) {
			out = append(out, ComponentId(id))
		}
	}
	return out
}
