package keyring

import (
	"sync"
	"testing"
)

func TestNew_RoundsCapacityUpToPowerOfTwo(t *testing.T) {
	r := New(10)
	if r.Cap() != 16 {
		t.Fatalf("expected capacity 16, got %d", r.Cap())
	}
}

func TestPutTake_RoundTrip(t *testing.T) {
	r := New(8)
	in := []byte{1, 2, 3, 4}
	if err := r.Put(in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := make([]byte, 4)
	if err := r.Take(out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("byte %d: got %d, want %d", i, out[i], in[i])
		}
	}
}

func TestPut_ReturnsWouldBlockWhenFull(t *testing.T) {
	r := New(4)
	if err := r.Put([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("unexpected error filling ring: %v", err)
	}
	if err := r.Put([]byte{5}); err != ErrWouldBlock {
		t.Fatalf("expected ErrWouldBlock, got %v", err)
	}
}

func TestTake_ReturnsEmptyWhenEmpty(t *testing.T) {
	r := New(4)
	out := make([]byte, 1)
	if err := r.Take(out); err != ErrEmpty {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestPut_AtomicOnShortage(t *testing.T) {
	r := New(4)
	if err := r.Put([]byte{1, 2, 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Put([]byte{4, 5}); err != ErrWouldBlock {
		t.Fatalf("expected ErrWouldBlock, got %v", err)
	}
	if got := r.Len(); got != 3 {
		t.Fatalf("partial put must not have been written; len=%d", got)
	}
}

func TestRing_WrapsAround(t *testing.T) {
	r := New(4)
	for round := 0; round < 10; round++ {
		in := []byte{byte(round), byte(round + 1)}
		if err := r.Put(in); err != nil {
			t.Fatalf("round %d: put error: %v", round, err)
		}
		out := make([]byte, 2)
		if err := r.Take(out); err != nil {
			t.Fatalf("round %d: take error: %v", round, err)
		}
		if out[0] != in[0] || out[1] != in[1] {
			t.Fatalf("round %d: got %v, want %v", round, out, in)
		}
	}
}

func TestRing_ConcurrentSingleProducerSingleConsumer(t *testing.T) {
	r := New(64)
	const total = 5000
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			rec := []byte{byte(i)}
			for r.Put(rec) == ErrWouldBlock {
			}
		}
	}()

	received := make([]byte, 0, total)
	go func() {
		defer wg.Done()
		buf := make([]byte, 1)
		for len(received) < total {
			if err := r.Take(buf); err == nil {
				received = append(received, buf[0])
			}
		}
	}()

	wg.Wait()
	for i := 0; i < total; i++ {
		if received[i] != byte(i) {
			t.Fatalf("index %d: got %d, want %d", i, received[i], byte(i))
		}
	}
}

func TestTakeBytes_ReturnsRequestedWidth(t *testing.T) {
	r := New(64)
	if err := r.Put([]byte("0123456789abcdef")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := r.TakeBytes(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "0123456789abcdef" {
		t.Fatalf("got %q", got)
	}
}

func TestTakeBytes_EmptyRingErrors(t *testing.T) {
	r := New(16)
	if _, err := r.TakeBytes(4); err != ErrEmpty {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}
