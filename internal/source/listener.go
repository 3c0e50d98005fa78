package source

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"xsnotifier/internal/host"
	"xsnotifier/internal/queue"
	logx "xsnotifier/pkg/logx"
)

// Listener reacts to host change events. The host callback only queues the
// id; fetching happens on the Run goroutine.
type Listener struct {
	sub host.Subsystem
	log logx.Logger
}

func NewListener(sub host.Subsystem, log logx.Logger) *Listener {
	return &Listener{sub: sub, log: log.With(logx.String("source", "listener"))}
}

func (l *Listener) Name() string { return "listener" }

func (l *Listener) Run(ctx context.Context, emit func(host.Record)) error {
	if err := requestAccess(ctx, l.sub, l.log); err != nil {
		return err
	}

	// Ids the host reports after the queue closed; counted here and logged
	// once on exit so the host callback never does I/O.
	var skipped atomic.Uint64
	defer func() {
		if n := skipped.Load(); n > 0 {
			l.log.Debug("notifications arrived after listener stopped", logx.Uint64("skipped", n))
		}
	}()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	ids := queue.New[host.ID]()
	defer ids.Close()

	subscription, err := l.sub.Subscribe(func(ev host.ChangeEvent) {
		if ev.Kind != host.Added {
			return
		}
		if !ids.Push(ev.ID) {
			skipped.Add(1)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to notification changes: %w", err)
	}
	defer func() { _ = subscription.Close() }()

	go func() {
		select {
		case err := <-subscription.Err():
			cancel(fmt.Errorf("notification subscription failed: %w", err))
		case <-ctx.Done():
		}
	}()

	for {
		id, err := ids.Pop(ctx)
		if errors.Is(err, queue.ErrClosed) {
			return nil
		}
		if err != nil {
			return context.Cause(ctx)
		}

		l.log.Debug("handling new notification", logx.Uint32("id", uint32(id)), logx.Int("backlog", ids.Len()))
		rec, err := l.sub.Notification(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			l.log.Warn("failed to fetch notification; dropping", logx.Uint32("id", uint32(id)), logx.Err(err))
			continue
		}
		emit(rec)
	}
}
