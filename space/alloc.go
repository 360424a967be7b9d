package space

import (
	"sync/atomic"

	"github.com/pthm-cable/cellspace/cell"
)

// IDAllocator hands out monotonically increasing cell IDs. It is safe for
// concurrent use.
type IDAllocator struct {
	next atomic.Uint64
}

// NewIDAllocator returns an allocator whose first ID is start.
func NewIDAllocator(start cell.ID) *IDAllocator {
	a := &IDAllocator{}
	a.next.Store(uint64(start))
	return a
}

// Next returns a fresh ID.
func (a *IDAllocator) Next() cell.ID {
	return cell.ID(a.next.Add(1) - 1)
}

// Peek returns the ID the next call to Next will return.
func (a *IDAllocator) Peek() cell.ID {
	return cell.ID(a.next.Load())
}

// Seed moves the allocator forward so that no ID below min is handed out
// again. It never moves it backwards.
func (a *IDAllocator) Seed(min cell.ID) {
	for {
		cur := a.next.Load()
		if cur >= uint64(min) {
			return
		}
		if a.next.CompareAndSwap(cur, uint64(min)) {
			return
		}
	}
}
