package config

import (
	"sync"
	"sync/atomic"
)

// Broadcaster is a single-writer, multi-reader configuration cell.
//
// Readers call Load and always get the latest complete snapshot. Writers
// replace the snapshot wholesale with Publish; fields are never patched.
// Subscribers get a latest-wins notification per publish, for components
// that react to changes (logging, reload summaries) rather than poll.
type Broadcaster struct {
	cur     atomic.Pointer[Config]
	version atomic.Uint64

	// subsMu guards the subscriber list and ensures we never send on a channel
	// that is concurrently being closed by an unsubscribe.
	subsMu sync.Mutex
	subs   map[uint64]chan Config
	seq    uint64
}

// NewBroadcaster seeds the cell with the startup snapshot.
func NewBroadcaster(initial Config) *Broadcaster {
	b := &Broadcaster{subs: map[uint64]chan Config{}}
	cp := initial
	b.cur.Store(&cp)
	return b
}

// Load returns the latest published snapshot.
func (b *Broadcaster) Load() Config {
	return *b.cur.Load()
}

// Version counts publishes since startup; the seed is version 0.
func (b *Broadcaster) Version() uint64 { return b.version.Load() }

// Publish replaces the current snapshot and notifies subscribers.
func (b *Broadcaster) Publish(cfg Config) {
	cp := cfg
	b.cur.Store(&cp)
	b.version.Add(1)

	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for _, ch := range b.subs {
		// Always try to deliver the latest config. If the subscriber is slow
		// and its buffer is full, drop the oldest queued item first.
		select {
		case ch <- cp:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cp:
		default:
		}
	}
}

// Subscribe returns a channel receiving each published snapshot.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Config, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Config, buffer)
	b.subsMu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = ch
	b.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.subsMu.Lock()
			delete(b.subs, id)
			b.subsMu.Unlock()
			close(ch)
		})
	}
}
