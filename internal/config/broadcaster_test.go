package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "xsnotifier/pkg/logx"
)

func TestBroadcasterPublishReplacesSnapshot(t *testing.T) {
	b := NewBroadcaster(Defaults())
	assert.Equal(t, uint64(0), b.Version())

	next := Defaults()
	next.Host = "overlay.lan"
	b.Publish(next)

	assert.Equal(t, "overlay.lan", b.Load().Host)
	assert.Equal(t, uint64(1), b.Version())
}

func TestBroadcasterLoadIsACopy(t *testing.T) {
	b := NewBroadcaster(Defaults())
	cfg := b.Load()
	cfg.Port = 1
	assert.Equal(t, DefaultPort, b.Load().Port)
}

func TestBroadcasterNoTornReads(t *testing.T) {
	b := NewBroadcaster(Config{Host: "h0", Port: 0})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				c := b.Load()
				if c.Host != fmt.Sprintf("h%d", c.Port) {
					t.Errorf("torn read: host=%s port=%d", c.Host, c.Port)
					return
				}
			}
		}()
	}
	for i := 1; ctx.Err() == nil; i++ {
		b.Publish(Config{Host: fmt.Sprintf("h%d", i), Port: i})
	}
	wg.Wait()
}

func TestBroadcasterSubscribersGetLatest(t *testing.T) {
	b := NewBroadcaster(Defaults())
	ch, unsub := b.Subscribe(1)
	defer unsub()

	for i := 1; i <= 3; i++ {
		c := Defaults()
		c.Port = i
		b.Publish(c)
	}

	got := <-ch
	assert.Equal(t, 3, got.Port, "slow subscriber should see the newest snapshot")

	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Defaults())
}

func TestWatcherReload(t *testing.T) {
	path := writeFile(t, "config.toml", "host = \"a\"\n")
	loader := Loader{Path: path}
	initial, err := loader.Load()
	require.NoError(t, err)

	b := NewBroadcaster(*initial)
	w := NewWatcher(loader, b, logx.Nop())

	assert.False(t, w.Reload(), "unchanged content must not publish")

	require.NoError(t, os.WriteFile(path, []byte("host = \"b\"\n"), 0o600))
	assert.True(t, w.Reload())
	assert.Equal(t, "b", b.Load().Host)

	require.NoError(t, os.WriteFile(path, []byte("port = \"nope\"\n"), 0o600))
	assert.False(t, w.Reload(), "invalid content must be ignored")
	assert.Equal(t, "b", b.Load().Host)
	assert.Equal(t, uint64(1), b.Version())
}

func TestWatcherPicksUpFileEdits(t *testing.T) {
	path := writeFile(t, "config.toml", "polling_rate = 250\n")
	loader := Loader{Path: path}
	initial, err := loader.Load()
	require.NoError(t, err)

	b := NewBroadcaster(*initial)
	updates, unsub := b.Subscribe(4)
	defer unsub()

	w := NewWatcher(loader, b, logx.Nop())
	w.Debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("polling_rate = 1000\n"), 0o600))

	select {
	case cfg := <-updates:
		assert.Equal(t, 1000, cfg.PollingRate)
	case <-time.After(5 * time.Second):
		t.Fatal("config edit was not published")
	}
}
