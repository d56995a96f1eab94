package common

import (
	"sync/atomic"
	"testing"
)

func TestParallelFor_VisitsEveryIndexOnce(t *testing.T) {
	const n = 257
	var hits [n]atomic.Int32

	ParallelFor(n, func(y int) {
		hits[y].Add(1)
	})

	for i := range hits {
		if got := hits[i].Load(); got != 1 {
			t.Fatalf("index %d visited %d times, want 1", i, got)
		}
	}
}

func TestParallelFor_ZeroWork(t *testing.T) {
	called := false
	ParallelFor(0, func(int) { called = true })
	if called {
		t.Fatal("fn called for n=0")
	}
}

func TestParallelForStop_StopsEarly(t *testing.T) {
	if !ParallelForStop(100, func(y int) bool { return y == 42 }) {
		t.Fatal("expected ParallelForStop to report an early stop")
	}
	if ParallelForStop(100, func(int) bool { return false }) {
		t.Fatal("expected ParallelForStop to report completion without stop")
	}
}
