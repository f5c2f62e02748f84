package irq

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlersRunInOrderWithoutNesting(t *testing.T) {
	c := New(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	var inside int32
	var order []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		require.True(t, c.Post(func() error {
			if !atomic.CompareAndSwapInt32(&inside, 0, 1) {
				t.Error("nested handler")
			}
			order = append(order, i)
			time.Sleep(time.Millisecond)
			atomic.StoreInt32(&inside, 0)
			if i == 4 {
				close(done)
			}
			return nil
		}))
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, uint32(5), c.Served())
}

func TestFaultHook(t *testing.T) {
	c := New(4)
	got := make(chan error, 1)
	c.OnFault(func(err error) { got <- err })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	boom := errors.New("boom")
	c.Post(func() error { return boom })
	select {
	case err := <-got:
		assert.Same(t, boom, err)
	case <-time.After(2 * time.Second):
		t.Fatal("fault not reported")
	}
}

func TestPostDropsWhenFull(t *testing.T) {
	c := New(2)
	noop := func() error { return nil }
	assert.True(t, c.Post(noop))
	assert.True(t, c.Post(noop))
	assert.False(t, c.Post(noop))
	assert.Equal(t, uint32(1), c.Drops())
}

func TestRunStopsOnCancel(t *testing.T) {
	c := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	cancel()
	select {
	case <-c.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
