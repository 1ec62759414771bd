// Package pools recycles the scratch buffers used to encode log frames and
// cold documents, so a steady write load does not allocate one buffer per
// record.
package pools

import (
	"sync"
)

// Buffer size classes, sized for encoded records
const (
	SmallSize  = 256     // keys, deletes, tiny documents
	MediumSize = 4096    // typical documents
	LargeSize  = 65536   // large documents
	HugeSize   = 1 << 20 // values near the default size limit
	MaxPool    = HugeSize
)

var classes = [...]int{SmallSize, MediumSize, LargeSize, HugeSize}

// BytePool provides size-class based pooling for byte slices
type BytePool struct {
	pools [len(classes)]sync.Pool
	stats Stats
	mu    sync.Mutex
}

// Stats counts pool traffic
type Stats struct {
	Hits     uint64
	Misses   uint64
	Returned uint64
	Dropped  uint64
}

func NewBytePool() *BytePool {
	return &BytePool{}
}

func classFor(size int) int {
	for i, c := range classes {
		if size <= c {
			return i
		}
	}
	return -1
}

// Get returns a zero-length slice with at least size capacity
func (p *BytePool) Get(size int) []byte {
	i := classFor(size)
	if i < 0 {
		p.count(func(s *Stats) { s.Misses++ })
		return make([]byte, 0, size)
	}

	if bp, ok := p.pools[i].Get().(*[]byte); ok && cap(*bp) >= size {
		p.count(func(s *Stats) { s.Hits++ })
		return (*bp)[:0]
	}
	p.count(func(s *Stats) { s.Misses++ })
	return make([]byte, 0, classes[i])
}

// GetSized returns a slice of exactly size bytes. Contents are not zeroed.
func (p *BytePool) GetSized(size int) []byte {
	return p.Get(size)[:size]
}

// Put hands b back for reuse. The caller must not touch b afterwards.
func (p *BytePool) Put(b []byte) {
	c := cap(b)
	if c > MaxPool || c < SmallSize {
		p.count(func(s *Stats) { s.Dropped++ })
		return
	}

	// File under the largest class b can fully serve.
	i := len(classes) - 1
	for i > 0 && classes[i] > c {
		i--
	}
	b = b[:0]
	p.pools[i].Put(&b)
	p.count(func(s *Stats) { s.Returned++ })
}

// Stats returns a snapshot of the counters
func (p *BytePool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *BytePool) count(f func(*Stats)) {
	p.mu.Lock()
	f(&p.stats)
	p.mu.Unlock()
}

var defaultBytePool = NewBytePool()

// GetBytesSized returns a slice of exactly size bytes from the default pool
func GetBytesSized(size int) []byte {
	return defaultBytePool.GetSized(size)
}

// PutBytes returns b to the default pool
func PutBytes(b []byte) {
	defaultBytePool.Put(b)
}

// DefaultStats reports the default pool's counters
func DefaultStats() Stats {
	return defaultBytePool.Stats()
}
