package buffer

import (
	"fmt"
	"testing"
)

func TestRing_TailOrder(t *testing.T) {
	r := New(10, 5)
	for i := 0; i < 4; i++ {
		r.Append(fmt.Sprintf("line-%d", i))
	}

	tail := r.Tail(2)
	if len(tail) != 2 {
		t.Fatalf("tail len = %d, want 2", len(tail))
	}
	if tail[0] != "line-2" || tail[1] != "line-3" {
		t.Fatalf("tail = %v, want [line-2 line-3]", tail)
	}
}

func TestRing_TailMoreThanBuffered(t *testing.T) {
	r := New(10, 5)
	r.Append("only")

	tail := r.Tail(100)
	if len(tail) != 1 || tail[0] != "only" {
		t.Fatalf("tail = %v, want [only]", tail)
	}
	if got := r.Tail(0); got != nil {
		t.Fatalf("tail(0) = %v, want nil", got)
	}
}

func TestRing_CompactionBoundsMemory(t *testing.T) {
	r := New(100, 40)
	for i := 0; i < 10000; i++ {
		r.Append(fmt.Sprintf("line-%d", i))
		if r.Len() > 100 {
			t.Fatalf("buffer grew to %d lines, high water is 100", r.Len())
		}
	}

	// The newest lines survive compaction in order.
	tail := r.Tail(3)
	want := []string{"line-9997", "line-9998", "line-9999"}
	for i := range want {
		if tail[i] != want[i] {
			t.Fatalf("tail = %v, want %v", tail, want)
		}
	}
}

func TestRing_Reset(t *testing.T) {
	r := New(10, 5)
	r.Append("a")
	r.Append("b")
	r.Reset()

	if r.Len() != 0 {
		t.Fatalf("len after reset = %d, want 0", r.Len())
	}
	if tail := r.Tail(5); tail != nil {
		t.Fatalf("tail after reset = %v, want nil", tail)
	}
}

func TestRing_BadWatermarksFallBack(t *testing.T) {
	r := New(5, 50)
	if r.highWater != DefaultHighWater || r.lowWater != DefaultLowWater {
		t.Fatalf("watermarks = %d/%d, want defaults", r.highWater, r.lowWater)
	}
}
