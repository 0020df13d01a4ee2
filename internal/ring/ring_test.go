package ring

import (
	"bytes"
	"testing"
)

func TestPushWithinCapacity(t *testing.T) {
	b := New(8)
	b.Push([]byte("abc"))
	b.Push([]byte("de"))

	if got := b.Bytes(); !bytes.Equal(got, []byte("abcde")) {
		t.Fatalf("got %q, want %q", got, "abcde")
	}
	if b.Len() != 5 {
		t.Fatalf("len = %d, want 5", b.Len())
	}
}

func TestPushDropsOldestOnOverflow(t *testing.T) {
	b := New(5)
	b.Push([]byte("abcde"))
	b.Push([]byte("fg"))

	// Capacity 5; after "abcde"+"fg" = 7 bytes, oldest 2 dropped -> "cdefg".
	if got := b.Bytes(); !bytes.Equal(got, []byte("cdefg")) {
		t.Fatalf("got %q, want %q", got, "cdefg")
	}
}

func TestPushLargerThanCapacity(t *testing.T) {
	b := New(4)
	b.Push([]byte("0123456789"))

	if got := b.Bytes(); !bytes.Equal(got, []byte("6789")) {
		t.Fatalf("got %q, want %q", got, "6789")
	}
}

func TestLenNeverExceedsCapacity(t *testing.T) {
	b := New(16)
	for i := 0; i < 100; i++ {
		b.Push([]byte("0123456789"))
		if b.Len() > b.Cap() {
			t.Fatalf("len %d exceeded cap %d", b.Len(), b.Cap())
		}
	}
}

func TestZeroCapacity(t *testing.T) {
	b := New(0)
	b.Push([]byte("abc"))
	if got := b.Bytes(); len(got) != 0 {
		t.Fatalf("expected empty buffer, got %q", got)
	}
}

func BenchmarkRingPush(b *testing.B) {
	ring := New(65536)
	chunk := bytes.Repeat([]byte("x"), 1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ring.Push(chunk)
	}
}
