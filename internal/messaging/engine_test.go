package messaging

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collector() (Dispatch[int], func() []int) {
	var mu sync.Mutex
	var got []int
	return func(i int) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, i)
			return nil
		}, func() []int {
			mu.Lock()
			defer mu.Unlock()
			out := make([]int, len(got))
			copy(out, got)
			return out
		}
}

func TestEngine_ProcessesInOrder(t *testing.T) {
	dispatch, results := collector()
	e := New("test", 8, dispatch)
	e.Start()

	for i := 0; i < 5; i++ {
		e.Execute(i)
	}
	e.Stop()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, results())
}

func TestEngine_StopDrainsQueuedItems(t *testing.T) {
	block := make(chan struct{})
	var processed sync.WaitGroup
	processed.Add(3)
	dispatch := func(i int) error {
		<-block
		processed.Done()
		return nil
	}
	e := New("drain", 8, dispatch)
	e.Start()

	e.Execute(1)
	e.Execute(2)
	e.Execute(3)

	stopped := make(chan struct{})
	go func() {
		e.Stop()
		close(stopped)
	}()

	close(block)
	processed.Wait()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after queue drained")
	}
}

func TestEngine_KillDoesNotDrainQueue(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	dispatch := func(i int) error {
		close(started)
		<-block
		return nil
	}
	e := New("kill", 8, dispatch)
	e.Start()

	e.Execute(1) // picked up immediately, blocks in dispatch
	<-started
	e.Execute(2) // left queued, never dispatched
	e.Execute(3)

	require.Equal(t, 2, e.QSize())
	e.Kill()
	close(block)

	assert.Equal(t, 2, e.QSize(), "Kill must not drain the residual queue")
}

func TestEngine_DispatchErrorIsLoggedAndDropped(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	dispatch := func(i int) error {
		mu.Lock()
		seen = append(seen, i)
		mu.Unlock()
		if i == 2 {
			return assertError{}
		}
		return nil
	}
	e := New("errs", 4, dispatch)
	e.Start()
	e.Execute(1)
	e.Execute(2)
	e.Execute(3)
	e.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, seen)
}

type assertError struct{}

func (assertError) Error() string { return "dispatch failure" }

func TestEngine_StartIsIdempotent(t *testing.T) {
	dispatch, results := collector()
	e := New("idempotent", 4, dispatch)
	e.Start()
	e.Start()
	e.Execute(7)
	e.Stop()
	assert.Equal(t, []int{7}, results())
}

func TestEngine_QSizeReflectsBacklog(t *testing.T) {
	block := make(chan struct{})
	dispatch := func(i int) error {
		<-block
		return nil
	}
	e := New("qsize", 4, dispatch)
	e.Start()
	e.Execute(1)
	e.Execute(2)
	require.Eventually(t, func() bool { return e.QSize() == 1 }, time.Second, time.Millisecond)
	close(block)
	e.Stop()
}
