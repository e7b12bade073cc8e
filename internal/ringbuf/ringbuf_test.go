package ringbuf

import (
	"runtime"
	"testing"
	"time"
)

type event struct {
	seq  int64
	name string
}

func TestRing_BasicPushPop(t *testing.T) {
	r := New[event](4)

	if !r.Push(event{seq: 1, name: "book"}) {
		t.Fatal("push 1 should succeed")
	}
	if !r.Push(event{seq: 2, name: "fill"}) {
		t.Fatal("push 2 should succeed")
	}
	if r.Len() != 2 {
		t.Fatalf("expected len=2, got %d", r.Len())
	}

	got, ok := r.Pop()
	if !ok || got.name != "book" {
		t.Fatalf("expected book, got %v ok=%v", got.name, ok)
	}
	got, ok = r.Pop()
	if !ok || got.name != "fill" {
		t.Fatalf("expected fill, got %v ok=%v", got.name, ok)
	}
	if _, ok = r.Pop(); ok {
		t.Fatal("pop from empty should return false")
	}
}

func TestRing_FullRejectsUntilPopped(t *testing.T) {
	r := New[int](2)

	r.Push(1)
	r.Push(2)

	if r.Push(3) {
		t.Fatal("push to full buffer should return false")
	}
	if r.Cap() != 2 {
		t.Fatalf("expected cap=2, got %d", r.Cap())
	}
	if v, _ := r.Pop(); v != 1 {
		t.Fatalf("expected 1, got %d", v)
	}
	if !r.Push(3) {
		t.Fatal("push after pop should succeed")
	}
	if r.Len() != 2 {
		t.Fatalf("expected len=2, got %d", r.Len())
	}
}

func TestRing_CapacityRoundsUp(t *testing.T) {
	cases := []struct{ in, want int }{{0, 2}, {1, 2}, {3, 4}, {4, 4}, {1000, 1024}}
	for _, c := range cases {
		if got := New[int](c.in).Cap(); got != c.want {
			t.Errorf("New(%d): expected cap %d, got %d", c.in, c.want, got)
		}
	}
}

func TestRing_Wraparound(t *testing.T) {
	r := New[int64](4)

	for round := 0; round < 5; round++ {
		for i := 0; i < 4; i++ {
			if !r.Push(int64(round*10 + i)) {
				t.Fatalf("round %d push %d failed", round, i)
			}
		}
		for i := 0; i < 4; i++ {
			v, ok := r.Pop()
			if !ok {
				t.Fatalf("round %d pop %d failed", round, i)
			}
			if v != int64(round*10+i) {
				t.Fatalf("round %d pop %d: expected %d, got %d", round, i, round*10+i, v)
			}
		}
	}
}

func TestRing_ProducerConsumerKeepOrder(t *testing.T) {
	const count = 100_000
	r := New[int64](64)

	go func() {
		for i := int64(0); i < count; i++ {
			for !r.Push(i) {
				runtime.Gosched()
			}
		}
	}()

	deadline := time.Now().Add(10 * time.Second)
	var next int64
	for next < count {
		v, ok := r.Pop()
		if !ok {
			if time.Now().After(deadline) {
				t.Fatalf("timed out after %d of %d values", next, count)
			}
			runtime.Gosched()
			continue
		}
		if v != next {
			t.Fatalf("expected %d, got %d", next, v)
		}
		next++
	}
	if r.Len() != 0 {
		t.Errorf("expected empty ring, got len %d", r.Len())
	}
}

func TestRing_NextPow2(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {5, 8}, {7, 8}, {8, 8}, {9, 16}, {1023, 1024},
	}
	for _, tc := range cases {
		if got := nextPow2(tc.in); got != tc.want {
			t.Errorf("nextPow2(%d): expected %d, got %d", tc.in, tc.want, got)
		}
	}
}
