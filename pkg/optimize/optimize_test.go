package optimize

import (
	"testing"
)

func TestBytePool(t *testing.T) {
	pool := NewBytePool(1400)

	buf := pool.Get()
	if len(buf) != 1400 {
		t.Errorf("expected buffer size 1400, got %d", len(buf))
	}
	pool.Put(buf[:10])

	buf2 := pool.Get()
	if len(buf2) != 1400 {
		t.Errorf("expected buffer size 1400 after reuse, got %d", len(buf2))
	}

	// Undersized slices are dropped instead of poisoning the pool.
	pool.Put(make([]byte, 10))
	if got := len(pool.Get()); got != 1400 {
		t.Errorf("expected buffer size 1400, got %d", got)
	}
}

func BenchmarkBytePool(b *testing.B) {
	pool := NewBytePool(1400)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf := pool.Get()
		buf[0] = byte(i)
		pool.Put(buf)
	}
}
