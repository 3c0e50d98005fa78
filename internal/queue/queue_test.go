package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPopPreservesOrder(t *testing.T) {
	q := New[int]()
	for i := range 1000 {
		require.True(t, q.Push(i))
	}
	assert.Equal(t, 1000, q.Len())

	ctx := context.Background()
	for i := range 1000 {
		v, err := q.Pop(ctx)
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
	assert.Equal(t, 0, q.Len())
}

func TestPopWaitsForPush(t *testing.T) {
	q := New[string]()
	got := make(chan string, 1)
	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			got <- v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push("late")

	select {
	case v := <-got:
		assert.Equal(t, "late", v)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up")
	}
}

func TestPopHonorsContext(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCloseDrainsThenErrors(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Close()
	assert.False(t, q.Push(3))

	ctx := context.Background()
	v, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	q := New[[2]int]()
	const producers, perProducer = 4, 500

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				q.Push([2]int{p, i})
			}
		}()
	}
	wg.Wait()

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	q.Close()
	ctx := context.Background()
	for range producers * perProducer {
		v, err := q.Pop(ctx)
		require.NoError(t, err)
		require.Greater(t, v[1], last[v[0]])
		last[v[0]] = v[1]
	}
	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}
