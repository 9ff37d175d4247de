package harness

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanout_Results(t *testing.T) {
	got := Fanout(20, func(i int) int { return i * i })
	require.Len(t, got, 20)
	for i, v := range got {
		assert.Equal(t, i*i, v)
	}
}

func TestFanout_NonPositive(t *testing.T) {
	for _, n := range []int{0, -3} {
		called := false
		assert.Nil(t, Fanout(n, func(int) int { called = true; return 0 }))
		assert.False(t, called)
	}
}

func TestFanoutTasks_RunsConcurrently(t *testing.T) {
	const n = 16
	var started sync.WaitGroup
	started.Add(n)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Every unit waits for all others to start, so a sequential
		// fan-out would never return.
		FanoutTasks(n, func(int) {
			started.Done()
			started.Wait()
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fan-out units did not run concurrently")
	}
}

func TestFanoutTasks_PanicAfterAllFinish(t *testing.T) {
	var finished atomic.Int32
	assert.Panics(t, func() {
		FanoutTasks(5, func(i int) {
			if i == 2 {
				panic("unit failed")
			}
			time.Sleep(10 * time.Millisecond)
			finished.Add(1)
		})
	})
	assert.Equal(t, int32(4), finished.Load())
}
