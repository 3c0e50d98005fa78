package xsoverlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dustin/go-humanize"

	"xsnotifier/internal/config"
	"xsnotifier/internal/eventbus"
	"xsnotifier/internal/queue"
	logx "xsnotifier/pkg/logx"
)

// ErrTransport marks socket failures. They end the sender run; the
// supervisor starts a fresh one with a new socket.
var ErrTransport = errors.New("xsoverlay transport error")

// ConfigSource is the read side of config.Broadcaster.
type ConfigSource interface {
	Load() config.Config
	Version() uint64
}

// DialFunc opens a connected datagram socket.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Recorder receives every message after it left the socket.
type Recorder interface {
	RecordDelivery(ctx context.Context, msg Message, addr string) error
}

// Observer is notified about sender activity (metrics).
type Observer interface {
	MessageSent(bytes int)
	SendFailed()
	Reconnected()
}

type Option func(*Sender)

func WithDialer(d DialFunc) Option {
	return func(s *Sender) {
		if d != nil {
			s.dial = d
		}
	}
}

func WithLogger(log logx.Logger) Option { return func(s *Sender) { s.log = log } }

func WithRecorder(r Recorder) Option { return func(s *Sender) { s.rec = r } }

func WithObserver(o Observer) Option { return func(s *Sender) { s.obs = o } }

func WithEventBus(bus eventbus.Bus) Option { return func(s *Sender) { s.bus = bus } }

// Sender is the delivery task. Each Run owns one socket.
type Sender struct {
	cfg  ConfigSource
	dial DialFunc
	log  logx.Logger
	rec  Recorder
	obs  Observer
	bus  eventbus.Bus
}

func NewSender(cfg ConfigSource, opts ...Option) *Sender {
	var d net.Dialer
	s := &Sender{
		cfg:  cfg,
		dial: d.DialContext,
		log:  logx.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

type link struct {
	conn    net.Conn
	addr    string
	version uint64
}

func (s *Sender) connect(ctx context.Context) (link, error) {
	version := s.cfg.Version()
	addr := s.cfg.Load().Addr()
	conn, err := s.dial(ctx, "udp", addr)
	if err != nil {
		return link{}, fmt.Errorf("%w: dial %s: %v", ErrTransport, addr, err)
	}
	s.log.Info("xsoverlay socket ready", logx.String("addr", addr), logx.String("local", conn.LocalAddr().String()))
	return link{conn: conn, addr: addr, version: version}, nil
}

// Run delivers messages from q until ctx ends, the queue is closed, or the
// socket fails. A message whose send fails is dropped, never retried.
func (s *Sender) Run(ctx context.Context, q *queue.Unbounded[Message]) error {
	l, err := s.connect(ctx)
	if err != nil {
		s.failed()
		return err
	}
	defer func() { _ = l.conn.Close() }()

	for {
		msg, err := q.Pop(ctx)
		if errors.Is(err, queue.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}

		// A version bump is the only signal that the destination may have
		// changed; otherwise the established socket is reused as is.
		if v := s.cfg.Version(); v != l.version {
			if addr := s.cfg.Load().Addr(); addr != l.addr {
				next, err := s.connect(ctx)
				if err != nil {
					s.dropped(msg, err)
					return err
				}
				_ = l.conn.Close()
				l = next
				if s.obs != nil {
					s.obs.Reconnected()
				}
			} else {
				l.version = v
			}
		}

		payload, err := json.Marshal(msg)
		if err != nil {
			s.log.Warn("cannot encode message; dropping", logx.String("app", msg.SourceApp), logx.Err(err))
			s.dropped(msg, err)
			continue
		}
		if _, err := l.conn.Write(payload); err != nil {
			err = fmt.Errorf("%w: send to %s: %v", ErrTransport, l.addr, err)
			s.dropped(msg, err)
			return err
		}
		s.sent(ctx, msg, l.addr, len(payload))
	}
}

func (s *Sender) sent(ctx context.Context, msg Message, addr string, n int) {
	s.log.Debug("sending notification",
		logx.String("app", msg.SourceApp),
		logx.String("addr", addr),
		logx.String("size", humanize.Bytes(uint64(n))),
	)
	if s.obs != nil {
		s.obs.MessageSent(n)
	}
	if s.rec != nil {
		if err := s.rec.RecordDelivery(ctx, msg, addr); err != nil {
			s.log.Warn("history record failed", logx.Err(err))
		}
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeMessageSent, Time: time.Now(), Data: map[string]any{
			"app":   msg.SourceApp,
			"title": msg.Title,
			"addr":  addr,
		}})
	}
}

func (s *Sender) failed() {
	if s.obs != nil {
		s.obs.SendFailed()
	}
}

func (s *Sender) dropped(msg Message, err error) {
	s.failed()
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeMessageDropped, Time: time.Now(), Data: map[string]any{
			"app":    msg.SourceApp,
			"reason": err.Error(),
		}})
	}
}
