package tier

import (
	"container/heap"

	"github.com/dd0wney/burrowdb/pkg/index"
)

// resident is a hot document's slot in the eviction heap
type resident struct {
	entry *index.Entry
	size  int64
	rank  float64
	pos   int
}

// residentHeap is a min-heap keyed on decayed-score rank; the root is the
// coldest resident. Equal ranks fall back to the older access.
type residentHeap []*resident

var _ heap.Interface = (*residentHeap)(nil)

func (h residentHeap) Len() int { return len(h) }

func (h residentHeap) Less(i, j int) bool {
	if h[i].rank != h[j].rank {
		return h[i].rank < h[j].rank
	}
	return h[i].entry.Stats.LastAccess.Before(h[j].entry.Stats.LastAccess)
}

func (h residentHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *residentHeap) Push(x any) {
	r := x.(*resident)
	r.pos = len(*h)
	*h = append(*h, r)
}

func (h *residentHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.pos = -1
	*h = old[:n-1]
	return r
}

// coldestExcept returns the coldest resident other than key. In a binary
// heap the runner-up is one of the root's children.
func (h residentHeap) coldestExcept(key string) *resident {
	if len(h) == 0 {
		return nil
	}
	if h[0].entry.Key != key {
		return h[0]
	}
	switch len(h) {
	case 1:
		return nil
	case 2:
		return h[1]
	}
	if h.Less(2, 1) {
		return h[2]
	}
	return h[1]
}
