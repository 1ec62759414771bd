package pools

import (
	"sync"
	"testing"
)

func TestBytePool_GetCapacity(t *testing.T) {
	pool := NewBytePool()

	tests := []struct {
		name    string
		size    int
		wantCap int
	}{
		{"empty", 0, SmallSize},
		{"small", 100, SmallSize},
		{"small_exact", SmallSize, SmallSize},
		{"medium", SmallSize + 1, MediumSize},
		{"large", 10000, LargeSize},
		{"huge", LargeSize + 1, HugeSize},
		{"oversized", HugeSize + 1, HugeSize + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := pool.Get(tt.size)
			if len(b) != 0 {
				t.Errorf("Get(%d) length = %d, want 0", tt.size, len(b))
			}
			if cap(b) != tt.wantCap {
				t.Errorf("Get(%d) capacity = %d, want %d", tt.size, cap(b), tt.wantCap)
			}
		})
	}
}

func TestBytePool_GetSized(t *testing.T) {
	pool := NewBytePool()

	b := pool.GetSized(300)
	if len(b) != 300 {
		t.Errorf("GetSized(300) length = %d, want 300", len(b))
	}
}

func TestBytePool_PutFilesUnderServableClass(t *testing.T) {
	pool := NewBytePool()

	// A 5000-byte buffer cannot serve a LargeSize request, so it must come
	// back for medium requests only.
	pool.Put(make([]byte, 0, 5000))
	b := pool.Get(MediumSize)
	if cap(b) < MediumSize {
		t.Fatalf("capacity %d below request", cap(b))
	}

	l := pool.Get(LargeSize)
	if cap(l) < LargeSize {
		t.Fatalf("large request got capacity %d", cap(l))
	}
}

func TestBytePool_DropsOddSizes(t *testing.T) {
	pool := NewBytePool()

	pool.Put(make([]byte, 10))
	pool.Put(make([]byte, MaxPool+1))

	s := pool.Stats()
	if s.Dropped != 2 || s.Returned != 0 {
		t.Errorf("stats = %+v, want 2 dropped and 0 returned", s)
	}
}

func TestBytePool_Concurrent(t *testing.T) {
	pool := NewBytePool()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				b := pool.GetSized(64 + g*100)
				for j := range b {
					b[j] = byte(g)
				}
				for j := range b {
					if b[j] != byte(g) {
						t.Errorf("buffer shared between goroutines")
						return
					}
				}
				pool.Put(b)
			}
		}(g)
	}
	wg.Wait()

	s := pool.Stats()
	if s.Hits+s.Misses != 8000 {
		t.Errorf("hits+misses = %d, want 8000", s.Hits+s.Misses)
	}
}
