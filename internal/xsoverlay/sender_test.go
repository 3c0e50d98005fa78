package xsoverlay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xsnotifier/internal/config"
	"xsnotifier/internal/queue"
)

func listen(t *testing.T) (net.PacketConn, int) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return pc, pc.LocalAddr().(*net.UDPAddr).Port
}

func readMessage(t *testing.T, pc net.PacketConn) Message {
	t.Helper()
	buf := make([]byte, 64*1024)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(5*time.Second)))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(buf[:n], &msg))
	return msg
}

func expectSilence(t *testing.T, pc net.PacketConn) {
	t.Helper()
	buf := make([]byte, 64*1024)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := pc.ReadFrom(buf)
	var ne net.Error
	require.True(t, errors.As(err, &ne) && ne.Timeout(), "expected no datagram, got err=%v", err)
}

func loopbackConfig(port int) config.Config {
	cfg := config.Defaults()
	cfg.Host = "127.0.0.1"
	cfg.Port = port
	return cfg
}

func titled(title string) Message {
	m := NewPopup(2)
	m.Title = title
	m.SourceApp = "test"
	return m
}

func runSender(t *testing.T, s *Sender, q *queue.Unbounded[Message]) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, q) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestMessageWireKeys(t *testing.T) {
	b, err := json.Marshal(NewPopup(2))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{
		"messageType", "index", "timeout", "height", "opacity", "volume",
		"audioPath", "title", "content", "useBase64Icon", "icon", "sourceApp",
	}, keys)
	assert.Equal(t, float64(1), m["messageType"])
	assert.Equal(t, float64(175), m["height"])
	assert.Equal(t, 0.7, m["volume"])
	assert.Equal(t, "default", m["audioPath"])
}

func TestSenderDeliversInOrder(t *testing.T) {
	pc, port := listen(t)
	s := NewSender(config.NewBroadcaster(loopbackConfig(port)))
	q := queue.New[Message]()
	runSender(t, s, q)

	for _, title := range []string{"a", "b", "c"} {
		q.Push(titled(title))
	}
	for _, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, readMessage(t, pc).Title)
	}
}

func TestSenderReconnectsOnConfigChange(t *testing.T) {
	first, port1 := listen(t)
	second, port2 := listen(t)

	cfg := config.NewBroadcaster(loopbackConfig(port1))
	var dials atomic.Int32
	var d net.Dialer
	s := NewSender(cfg, WithDialer(func(ctx context.Context, network, addr string) (net.Conn, error) {
		dials.Add(1)
		return d.DialContext(ctx, network, addr)
	}))
	q := queue.New[Message]()
	runSender(t, s, q)

	q.Push(titled("before"))
	assert.Equal(t, "before", readMessage(t, first).Title)

	// A publish that keeps the destination must not redial.
	same := loopbackConfig(port1)
	same.PollingRate = 1000
	cfg.Publish(same)
	q.Push(titled("same"))
	assert.Equal(t, "same", readMessage(t, first).Title)
	assert.Equal(t, int32(1), dials.Load())

	cfg.Publish(loopbackConfig(port2))
	q.Push(titled("after"))
	assert.Equal(t, "after", readMessage(t, second).Title)
	assert.Equal(t, int32(2), dials.Load())
	expectSilence(t, first)
}

type flakyConn struct {
	net.Conn
	writes *atomic.Int32
	failAt int32
}

func (c *flakyConn) Write(p []byte) (int, error) {
	if c.writes.Add(1) == c.failAt {
		return 0, errors.New("network is unreachable")
	}
	return c.Conn.Write(p)
}

func TestSenderFailureDropsInFlightMessage(t *testing.T) {
	pc, port := listen(t)
	var (
		writes atomic.Int32
		mu     sync.Mutex
		conns  []net.Conn
	)
	var d net.Dialer
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		c, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
		return &flakyConn{Conn: c, writes: &writes, failAt: 2}, nil
	}

	s := NewSender(config.NewBroadcaster(loopbackConfig(port)), WithDialer(dial))
	q := queue.New[Message]()
	for _, title := range []string{"m1", "m2", "m3"} {
		q.Push(titled(title))
	}

	err := s.Run(context.Background(), q)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, "m1", readMessage(t, pc).Title)
	assert.Equal(t, 1, q.Len(), "only the failed message leaves the queue")

	// The next run gets a fresh socket and continues after the lost message.
	_, done := runSender(t, s, q)
	assert.Equal(t, "m3", readMessage(t, pc).Title)
	expectSilence(t, pc)

	mu.Lock()
	require.Len(t, conns, 2)
	assert.NotEqual(t, conns[0].LocalAddr().String(), conns[1].LocalAddr().String())
	mu.Unlock()

	q.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sender did not stop after queue close")
	}
}

func TestSenderDialFailure(t *testing.T) {
	s := NewSender(config.NewBroadcaster(loopbackConfig(1)), WithDialer(func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("no route")
	}))
	err := s.Run(context.Background(), queue.New[Message]())
	assert.ErrorIs(t, err, ErrTransport)
}

type recorder struct {
	mu    sync.Mutex
	addrs []string
}

func (r *recorder) RecordDelivery(_ context.Context, _ Message, addr string) error {
	r.mu.Lock()
	r.addrs = append(r.addrs, addr)
	r.mu.Unlock()
	return errors.New("disk full")
}

func TestSenderRecorderErrorsDoNotStopDelivery(t *testing.T) {
	pc, port := listen(t)
	rec := &recorder{}
	s := NewSender(config.NewBroadcaster(loopbackConfig(port)), WithRecorder(rec))
	q := queue.New[Message]()
	runSender(t, s, q)

	q.Push(titled("one"))
	q.Push(titled("two"))
	readMessage(t, pc)
	readMessage(t, pc)

	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.addrs) == 2
	}, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	assert.Equal(t, "127.0.0.1:"+strconv.Itoa(port), rec.addrs[0])
	rec.mu.Unlock()
}
