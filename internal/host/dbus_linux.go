//go:build linux

package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	logx "xsnotifier/pkg/logx"
)

const (
	dbusNotifyInterface = "org.freedesktop.Notifications"
	dbusMonitorMethod   = "org.freedesktop.DBus.Monitoring.BecomeMonitor"
	dbusAccessDenied    = "org.freedesktop.DBus.Error.AccessDenied"
)

const (
	// defaultExpiry applies when a sender leaves expiry to the server.
	defaultExpiry = 5 * time.Second
	// maxExpiry caps "never expires" and very long timeouts so the live set
	// stays bounded when close signals are missed.
	maxExpiry = time.Minute
)

var monitorRules = []string{
	"type='method_call',interface='" + dbusNotifyInterface + "',member='Notify'",
	"type='method_return',sender='" + dbusNotifyInterface + "'",
	"type='signal',interface='" + dbusNotifyInterface + "',member='NotificationClosed'",
}

// New returns the host subsystem for this platform.
func New(log logx.Logger) Subsystem { return NewDBus(log) }

type liveEntry struct {
	rec      Record
	serverID uint32
	timer    *time.Timer
}

type pendingKey struct {
	sender string
	serial uint32
}

// DBus observes org.freedesktop.Notifications traffic on the session bus
// as a monitor. Each observed Notify call becomes a live record with a
// local id; records leave the live set when they expire or are closed.
type DBus struct {
	log logx.Logger

	// connect is swapped in tests.
	connect func() (*dbus.Conn, error)

	mu       sync.Mutex
	conn     *dbus.Conn
	order    []ID
	live     map[ID]*liveEntry
	byServer map[uint32]ID
	pending  map[pendingKey]ID
	nextID   ID
	subs     map[uint64]*dbusSubscription
	subSeq   uint64

	now func() time.Time
}

func NewDBus(log logx.Logger) *DBus {
	return &DBus{
		log:      log,
		connect:  func() (*dbus.Conn, error) { return dbus.ConnectSessionBus() },
		live:     map[ID]*liveEntry{},
		byServer: map[uint32]ID{},
		pending:  map[pendingKey]ID{},
		subs:     map[uint64]*dbusSubscription{},
		now:      time.Now,
	}
}

// RequestAccess turns a private session bus connection into a monitor. A
// bus policy refusal maps to AccessDenied; other failures are errors.
func (d *DBus) RequestAccess(ctx context.Context) (AccessStatus, error) {
	d.mu.Lock()
	if d.conn != nil && d.conn.Connected() {
		d.mu.Unlock()
		return AccessAllowed, nil
	}
	d.mu.Unlock()

	conn, err := d.connect()
	if err != nil {
		return AccessUnspecified, fmt.Errorf("session bus: %w", err)
	}
	call := conn.BusObject().CallWithContext(ctx, dbusMonitorMethod, 0, monitorRules, uint32(0))
	if call.Err != nil {
		_ = conn.Close()
		if isAccessDenied(call.Err) {
			d.log.Warn("session bus refused monitoring", logx.Err(call.Err))
			return AccessDenied, nil
		}
		return AccessUnspecified, fmt.Errorf("become monitor: %w", call.Err)
	}

	ch := make(chan *dbus.Message, 64)
	conn.Eavesdrop(ch)

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	go d.pump(conn, ch)
	d.log.Info("monitoring session bus notifications")
	return AccessAllowed, nil
}

func (d *DBus) pump(conn *dbus.Conn, ch <-chan *dbus.Message) {
	ctx := conn.Context()
	for {
		select {
		case msg, ok := <-ch:
			if ok {
				if msg != nil {
					d.handle(msg)
				}
				continue
			}
			ch = nil
		case <-ctx.Done():
			d.mu.Lock()
			if d.conn == conn {
				d.conn = nil
			}
			subs := make([]*dbusSubscription, 0, len(d.subs))
			for _, s := range d.subs {
				subs = append(subs, s)
			}
			d.mu.Unlock()
			for _, s := range subs {
				s.fail(fmt.Errorf("session bus connection closed: %w", context.Cause(ctx)))
			}
			return
		}
	}
}

func isAccessDenied(err error) bool {
	var de dbus.Error
	if errors.As(err, &de) {
		return de.Name == dbusAccessDenied
	}
	var dep *dbus.Error
	if errors.As(err, &dep) && dep != nil {
		return dep.Name == dbusAccessDenied
	}
	return false
}

func (d *DBus) handle(msg *dbus.Message) {
	switch msg.Type {
	case dbus.TypeMethodCall:
		if member, _ := msg.Headers[dbus.FieldMember].Value().(string); member == "Notify" {
			d.observeNotify(msg)
		}
	case dbus.TypeMethodReply:
		d.observeReply(msg)
	case dbus.TypeSignal:
		if member, _ := msg.Headers[dbus.FieldMember].Value().(string); member == "NotificationClosed" {
			d.observeClosed(msg)
		}
	}
}

func (d *DBus) observeNotify(msg *dbus.Message) {
	n, err := parseNotify(msg.Body)
	if err != nil {
		d.log.Debug("ignoring malformed Notify call", logx.Err(err))
		return
	}
	sender, _ := msg.Headers[dbus.FieldSender].Value().(string)

	d.mu.Lock()
	if n.replacesID != 0 {
		if old, ok := d.byServer[n.replacesID]; ok {
			d.removeLocked(old)
		}
	}
	d.nextID++
	id := d.nextID
	rec := n.record(id, d.log)
	e := &liveEntry{rec: rec, serverID: n.replacesID}
	e.timer = time.AfterFunc(n.expiry(), func() { d.expire(id) })
	d.live[id] = e
	d.order = append(d.order, id)
	if n.replacesID != 0 {
		d.byServer[n.replacesID] = id
	} else if sender != "" {
		d.pending[pendingKey{sender: sender, serial: msg.Serial()}] = id
	}
	handlers := d.handlersLocked()
	d.mu.Unlock()

	d.log.Debug("notification observed", logx.Uint32("id", uint32(id)), logx.String("app", rec.AppName))
	for _, h := range handlers {
		h(ChangeEvent{Kind: Added, ID: id})
	}
}

func (d *DBus) observeReply(msg *dbus.Message) {
	dest, _ := msg.Headers[dbus.FieldDestination].Value().(string)
	serial, _ := msg.Headers[dbus.FieldReplySerial].Value().(uint32)
	key := pendingKey{sender: dest, serial: serial}

	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.pending[key]
	if !ok {
		return
	}
	delete(d.pending, key)
	if len(msg.Body) == 0 {
		return
	}
	serverID, ok := msg.Body[0].(uint32)
	if !ok {
		return
	}
	if e, live := d.live[id]; live {
		e.serverID = serverID
		d.byServer[serverID] = id
	}
}

func (d *DBus) observeClosed(msg *dbus.Message) {
	if len(msg.Body) == 0 {
		return
	}
	serverID, ok := msg.Body[0].(uint32)
	if !ok {
		return
	}
	d.mu.Lock()
	id, found := d.byServer[serverID]
	var handlers []func(ChangeEvent)
	if found && d.removeLocked(id) {
		handlers = d.handlersLocked()
	}
	d.mu.Unlock()
	for _, h := range handlers {
		h(ChangeEvent{Kind: Removed, ID: id})
	}
}

func (d *DBus) expire(id ID) {
	d.mu.Lock()
	removed := d.removeLocked(id)
	var handlers []func(ChangeEvent)
	if removed {
		handlers = d.handlersLocked()
	}
	d.mu.Unlock()
	for _, h := range handlers {
		h(ChangeEvent{Kind: Removed, ID: id})
	}
}

func (d *DBus) removeLocked(id ID) bool {
	e, ok := d.live[id]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(d.live, id)
	if e.serverID != 0 && d.byServer[e.serverID] == id {
		delete(d.byServer, e.serverID)
	}
	for k, v := range d.pending {
		if v == id {
			delete(d.pending, k)
		}
	}
	for i, v := range d.order {
		if v == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return true
}

func (d *DBus) handlersLocked() []func(ChangeEvent) {
	if len(d.subs) == 0 {
		return nil
	}
	out := make([]func(ChangeEvent), 0, len(d.subs))
	for _, s := range d.subs {
		out = append(out, s.handler)
	}
	return out
}

func (d *DBus) Subscribe(handler func(ChangeEvent)) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("nil handler")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subSeq++
	s := &dbusSubscription{
		owner:   d,
		id:      d.subSeq,
		handler: handler,
		errCh:   make(chan error, 1),
	}
	d.subs[s.id] = s
	return s, nil
}

func (d *DBus) Notifications(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Record, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.live[id].rec)
	}
	return out, nil
}

func (d *DBus) Notification(ctx context.Context, id ID) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.live[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return e.rec, nil
}

// Close drops the monitor connection.
func (d *DBus) Close() error {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

type dbusSubscription struct {
	owner   *DBus
	id      uint64
	handler func(ChangeEvent)
	errCh   chan error
	once    sync.Once
}

func (s *dbusSubscription) Err() <-chan error { return s.errCh }

func (s *dbusSubscription) fail(err error) {
	s.once.Do(func() {
		s.errCh <- err
		s.owner.mu.Lock()
		delete(s.owner.subs, s.id)
		s.owner.mu.Unlock()
	})
}

func (s *dbusSubscription) Close() error {
	s.once.Do(func() {
		s.owner.mu.Lock()
		delete(s.owner.subs, s.id)
		s.owner.mu.Unlock()
	})
	return nil
}
