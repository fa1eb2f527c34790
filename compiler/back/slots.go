package back

import (
	"github.com/slowlang/stackptx/compiler/ir"
	"github.com/slowlang/stackptx/compiler/set"
	"nikand.dev/go/heap"
)

// slots is a linear allocator over stack_size temp slots.
// The lowest free slot is reused first.
type slots struct {
	free heap.Heap[int]
	live set.Bits[int]

	next int
	high int
	size int
}

func newSlots(size int) *slots {
	return &slots{
		free: heap.Heap[int]{Less: slotsLess},
		live: set.MakeBits[int](size),
		size: size,
	}
}

func (s *slots) Get() (int, error) {
	var x int

	switch {
	case s.free.Len() != 0:
		x = s.free.Pop()
	case s.next < s.size:
		x = s.next
		s.next++
	default:
		return -1, ir.NewLimitError(ir.LimitStackSize, s.size)
	}

	s.live.Set(x)

	if n := s.live.Size(); n > s.high {
		s.high = n
	}

	return x, nil
}

func (s *slots) Put(x int) {
	if !s.live.IsSet(x) {
		panic("slot is not live")
	}

	s.live.Clear(x)
	s.free.Push(x)
}

func slotsLess(d []int, i, j int) bool {
	return d[i] < d[j]
}
