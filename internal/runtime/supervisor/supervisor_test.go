package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoRestartReinvokesAfterError(t *testing.T) {
	var mu sync.Mutex
	var deaths []error
	sup := NewSupervisor(context.Background(), WithDeathHook(func(name string, err error) {
		mu.Lock()
		deaths = append(deaths, err)
		mu.Unlock()
	}))

	var runs atomic.Int32
	done := make(chan struct{})
	sup.GoRestart("sender", func(ctx context.Context) error {
		n := runs.Add(1)
		if n < 3 {
			return errors.New("send failed")
		}
		close(done)
		<-ctx.Done()
		return ctx.Err()
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task was not restarted")
	}

	st, ok := sup.Stats("sender")
	require.True(t, ok)
	assert.Equal(t, uint64(3), st.Started)
	assert.Equal(t, uint64(2), st.Restarts)
	assert.Contains(t, st.LastErr, "send failed")

	mu.Lock()
	require.Len(t, deaths, 2)
	mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Stop(ctx))
}

func TestGoRestartRecoversPanicsAndCleanExits(t *testing.T) {
	sup := NewSupervisor(context.Background())

	var runs atomic.Int32
	done := make(chan struct{})
	sup.GoRestart("listener", func(ctx context.Context) error {
		switch runs.Add(1) {
		case 1:
			panic("callback exploded")
		case 2:
			return nil
		default:
			close(done)
			<-ctx.Done()
			return nil
		}
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task was not restarted after panic and clean exit")
	}

	st, _ := sup.Stats("listener")
	assert.Equal(t, uint64(1), st.Panics)
	assert.Equal(t, uint64(2), st.Restarts)
	assert.Contains(t, st.LastErr, ErrExited.Error())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Stop(ctx))
}

func TestGoRestartStopsWithContext(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	sup := NewSupervisor(parent)

	started := make(chan struct{})
	var once sync.Once
	sup.GoRestart("poller", func(ctx context.Context) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	})
	<-started
	cancelParent()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Wait(ctx))

	st, _ := sup.Stats("poller")
	assert.Equal(t, uint64(0), st.Restarts)
	assert.Empty(t, st.LastErr)
	assert.Equal(t, int64(0), sup.Counters().Active)
}

func TestGoRecordsFirstError(t *testing.T) {
	sup := NewSupervisor(context.Background(), WithCancelOnError(true))
	sup.Go("metrics", func(ctx context.Context) error { return errors.New("listen failed") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics: listen failed")
	assert.Error(t, sup.Context().Err())
}

func TestRestartLogSamplingNeverDelaysRestarts(t *testing.T) {
	sup := NewSupervisor(context.Background(), WithRestartLogRate(time.Hour, 1))

	var runs atomic.Int32
	done := make(chan struct{})
	sup.GoRestart("denied", func(ctx context.Context) error {
		if runs.Add(1) == 50 {
			close(done)
			<-ctx.Done()
			return nil
		}
		return errors.New("permission denied")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("restarts were throttled")
	}
	assert.Greater(t, sup.suppressed.Load(), uint64(0))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Stop(ctx))
}
