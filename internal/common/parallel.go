package common

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// ParallelFor runs fn(y) over y in [0, n) using up to GOMAXPROCS workers.
// Work is distributed by striding to balance uneven workloads.
func ParallelFor(n int, fn func(y int)) {
	_ = ParallelForStop(n, func(y int) bool {
		fn(y)
		return false
	})
}

// ParallelForStop runs fn(y) over y in [0, n) using up to GOMAXPROCS workers.
// If any fn invocation returns true, all workers stop early and the function returns true.
// Returns false if all work completed without any fn returning true.
func ParallelForStop(n int, fn func(y int) bool) bool {
	if n <= 0 {
		return false
	}
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}

	var stop atomic.Bool
	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for y := w; y < n && !stop.Load(); y += workers {
				if fn(y) {
					stop.Store(true)
					return
				}
			}
		}()
	}

	wg.Wait()
	return stop.Load()
}
