package source

import (
	"context"
	"fmt"
	"time"

	"xsnotifier/internal/host"
	logx "xsnotifier/pkg/logx"
)

// Poller diffs full snapshots of the live notification set.
type Poller struct {
	sub host.Subsystem
	cfg ConfigSource
	log logx.Logger
}

func NewPoller(sub host.Subsystem, cfg ConfigSource, log logx.Logger) *Poller {
	return &Poller{sub: sub, cfg: cfg, log: log.With(logx.String("source", "polling"))}
}

func (p *Poller) Name() string { return "polling" }

// Run polls until ctx ends. The interval is re-read before every sleep so a
// reload changes the cadence of a running poller. A failed pull ends the run.
func (p *Poller) Run(ctx context.Context, emit func(host.Record)) error {
	if err := requestAccess(ctx, p.sub, p.log); err != nil {
		return err
	}

	var diff Differ
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		snap, err := p.sub.Notifications(ctx)
		if err != nil {
			return fmt.Errorf("poll notifications: %w", err)
		}
		fresh := diff.Next(snap)
		if len(fresh) > 0 {
			p.log.Debug("new notifications", logx.Int("count", len(fresh)), logx.Int("live", len(snap)))
		}
		for _, rec := range fresh {
			emit(rec)
		}

		timer.Reset(p.cfg.Load().PollingInterval())
	}
}
