// Package fakehost is an in-memory host.Subsystem for tests.
package fakehost

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"xsnotifier/internal/host"
)

// Host keeps an ordered live set and calls subscription handlers
// synchronously from Add and Remove.
type Host struct {
	mu         sync.Mutex
	order      []host.ID
	live       map[host.ID]host.Record
	nextID     host.ID
	access     host.AccessStatus
	accessErr  error
	accessReqs int
	listErr    error
	fetchErr   map[host.ID]error
	subs       map[int]*Subscription
	subSeq     int
}

func New() *Host {
	return &Host{
		live:     map[host.ID]host.Record{},
		access:   host.AccessAllowed,
		fetchErr: map[host.ID]error{},
		subs:     map[int]*Subscription{},
	}
}

// SetAccess controls what RequestAccess answers.
func (h *Host) SetAccess(status host.AccessStatus, err error) {
	h.mu.Lock()
	h.access, h.accessErr = status, err
	h.mu.Unlock()
}

// AccessRequests counts RequestAccess calls.
func (h *Host) AccessRequests() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.accessReqs
}

// FailList makes Notifications fail with err until cleared with nil.
func (h *Host) FailList(err error) {
	h.mu.Lock()
	h.listErr = err
	h.mu.Unlock()
}

// FailFetch makes Notification(id) fail with err.
func (h *Host) FailFetch(id host.ID, err error) {
	h.mu.Lock()
	h.fetchErr[id] = err
	h.mu.Unlock()
}

// Add makes a new notification live with a fresh id and returns that id.
func (h *Host) Add(app string, text ...string) host.ID {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.mu.Unlock()
	h.Put(host.Record{ID: id, AppName: app, Text: text})
	return id
}

// Put makes rec live under its own id, appending it to the live order.
func (h *Host) Put(rec host.Record) {
	h.mu.Lock()
	if _, ok := h.live[rec.ID]; !ok {
		h.order = append(h.order, rec.ID)
	}
	h.live[rec.ID] = rec
	if rec.ID > h.nextID {
		h.nextID = rec.ID
	}
	subs := h.subsLocked()
	h.mu.Unlock()
	for _, s := range subs {
		s.handler(host.ChangeEvent{Kind: host.Added, ID: rec.ID})
	}
}

func (h *Host) Remove(id host.ID) {
	h.mu.Lock()
	if _, ok := h.live[id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.live, id)
	for i, v := range h.order {
		if v == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	subs := h.subsLocked()
	h.mu.Unlock()
	for _, s := range subs {
		s.handler(host.ChangeEvent{Kind: host.Removed, ID: id})
	}
}

// Break fails every open subscription with err.
func (h *Host) Break(err error) {
	h.mu.Lock()
	subs := h.subsLocked()
	h.mu.Unlock()
	for _, s := range subs {
		s.fail(err)
	}
}

// Subscribers reports the number of open subscriptions.
func (h *Host) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Host) subsLocked() []*Subscription {
	out := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		out = append(out, s)
	}
	return out
}

func (h *Host) RequestAccess(ctx context.Context) (host.AccessStatus, error) {
	if err := ctx.Err(); err != nil {
		return host.AccessUnspecified, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accessReqs++
	return h.access, h.accessErr
}

func (h *Host) Subscribe(handler func(host.ChangeEvent)) (host.Subscription, error) {
	if handler == nil {
		return nil, errors.New("nil handler")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subSeq++
	s := &Subscription{owner: h, id: h.subSeq, handler: handler, errCh: make(chan error, 1)}
	h.subs[s.id] = s
	return s, nil
}

func (h *Host) Notifications(ctx context.Context) ([]host.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listErr != nil {
		return nil, h.listErr
	}
	out := make([]host.Record, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.live[id])
	}
	return out, nil
}

func (h *Host) Notification(ctx context.Context, id host.ID) (host.Record, error) {
	if err := ctx.Err(); err != nil {
		return host.Record{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fetchErr[id]; err != nil {
		return host.Record{}, err
	}
	rec, ok := h.live[id]
	if !ok {
		return host.Record{}, fmt.Errorf("%w: %d", host.ErrNotFound, id)
	}
	return rec, nil
}

type Subscription struct {
	owner   *Host
	id      int
	handler func(host.ChangeEvent)
	errCh   chan error
	once    sync.Once
}

func (s *Subscription) Err() <-chan error { return s.errCh }

func (s *Subscription) fail(err error) {
	s.once.Do(func() {
		s.errCh <- err
		s.detach()
	})
}

func (s *Subscription) Close() error {
	s.once.Do(s.detach)
	return nil
}

func (s *Subscription) detach() {
	s.owner.mu.Lock()
	delete(s.owner.subs, s.id)
	s.owner.mu.Unlock()
}
