package region

import "github.com/oriys/fabrickv/internal/domain"

// Slot addresses a byte span inside one of an arena's registered base
// slabs: (arenaID, offset) stands in for the C++ raw pointer so no unsafe
// arithmetic ever crosses a slab boundary.
type Slot struct {
	ArenaID int
	Offset  int
}

type extent struct {
	offset, length int
}

// arena carves fixed-size regions out of registered base slabs using a
// sorted free-extent list per slab, falling back to the next slab when one
// is exhausted. It never grows a slab; callers register capacity up front
// via addBase.
type arena struct {
	bases []([]byte)
	free  [][]extent // free[i] is the free-extent list for bases[i]
}

func newArena() *arena {
	return &arena{}
}

func (a *arena) addBase(base []byte) int {
	id := len(a.bases)
	a.bases = append(a.bases, base)
	a.free = append(a.free, []extent{{offset: 0, length: len(base)}})
	return id
}

// alloc carves a contiguous span of n bytes from the first slab with
// sufficient free space, returning its Slot.
func (a *arena) alloc(n int) (Slot, error) {
	for id := range a.bases {
		list := a.free[id]
		for i, e := range list {
			if e.length < n {
				continue
			}
			if e.length == n {
				a.free[id] = append(list[:i], list[i+1:]...)
			} else {
				list[i] = extent{offset: e.offset + n, length: e.length - n}
			}
			return Slot{ArenaID: id, Offset: e.offset}, nil
		}
	}
	return Slot{}, domain.ErrBadAlloc
}

func (a *arena) bytes(s Slot, n int) []byte {
	return a.bases[s.ArenaID][s.Offset : s.Offset+n]
}
