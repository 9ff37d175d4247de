package harness

import "github.com/sourcegraph/conc"

// Fanout runs fn for every index in [0, n) concurrently and returns once
// all calls have returned. Results are indexed by i. Concurrency is not
// bounded. A panic in any call is re-raised after every call finishes.
func Fanout[T any](n int, fn func(i int) T) []T {
	if n <= 0 {
		return nil
	}
	results := make([]T, n)
	var wg conc.WaitGroup
	for i := range n {
		wg.Go(func() {
			results[i] = fn(i)
		})
	}
	wg.Wait()
	return results
}

// FanoutTasks is Fanout for work without a result.
func FanoutTasks(n int, fn func(i int)) {
	Fanout(n, func(i int) struct{} {
		fn(i)
		return struct{}{}
	})
}
