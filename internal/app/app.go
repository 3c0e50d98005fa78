// Package app wires the relay: host source, normalizer, delivery queue,
// UDP sender, configuration reload and the ambient services around them.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"xsnotifier/internal/config"
	"xsnotifier/internal/eventbus"
	"xsnotifier/internal/host"
	"xsnotifier/internal/metrics"
	"xsnotifier/internal/normalize"
	"xsnotifier/internal/queue"
	"xsnotifier/internal/runtime/supervisor"
	"xsnotifier/internal/source"
	"xsnotifier/internal/storage"
	"xsnotifier/internal/xsoverlay"
	logx "xsnotifier/pkg/logx"
)

// Task names, as they appear in logs, stats and metrics.
const (
	TaskIngestion = "ingestion"
	TaskDelivery  = "delivery"
)

// Options carries the pieces that differ between production and tests.
// Zero values select the production implementation.
type Options struct {
	// Loader re-reads configuration on file changes. Without a Path no
	// watcher runs.
	Loader config.Loader
	// Host is the notification subsystem. Defaults to host.New.
	Host host.Subsystem
	// Dial opens the XSOverlay socket. Defaults to net.Dialer.
	Dial xsoverlay.DialFunc
	// Notify reports service state to the init system. Defaults to sd_notify.
	Notify func(state string)
	// RestartLogEvery and RestartLogBurst sample "task died" log lines.
	RestartLogEvery time.Duration
	RestartLogBurst int
}

type App struct {
	opts Options

	cfg   *config.Broadcaster
	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	m     *metrics.Metrics

	src        source.Source
	normalizer *normalize.Normalizer
	sender     *xsoverlay.Sender
	deliveries *queue.Unbounded[xsoverlay.Message]

	sup     *supervisor.Supervisor
	ingest  *supervisor.Supervisor
	deliver *supervisor.Supervisor
	cron    *cron.Cron
}

func logConfig(cfg config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.LogLevel,
		Console: true,
		File: logx.FileConfig{
			Enabled: strings.TrimSpace(cfg.LogFile) != "",
			Path:    cfg.LogFile,
		},
	}
}

// NewApp builds every component from the startup snapshot. Nothing runs
// until Start.
func NewApp(cfg config.Config, opts Options) (*App, error) {
	bus := eventbus.New()
	logSvc, log := logx.New(logConfig(cfg), bus)

	store, err := storage.Open(cfg.HistoryPath, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open history %q: %w", cfg.HistoryPath, err)
	}

	sub := opts.Host
	if sub == nil {
		sub = host.New(log.With(logx.String("comp", "host")))
	}
	if opts.Notify == nil {
		opts.Notify = sdNotify(log)
	}

	cell := config.NewBroadcaster(cfg)
	src, err := source.New(cfg.NotificationStrategy, sub, cell, log.With(logx.String("comp", "source")))
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		logSvc.Close()
		return nil, err
	}

	m := metrics.New()
	deliveries := queue.New[xsoverlay.Message]()
	m.ObserveQueueDepth(deliveries.Len)

	senderOpts := []xsoverlay.Option{
		xsoverlay.WithLogger(log.With(logx.String("comp", "sender"))),
		xsoverlay.WithObserver(m),
		xsoverlay.WithEventBus(bus),
		xsoverlay.WithDialer(opts.Dial),
	}
	if store != nil {
		senderOpts = append(senderOpts, xsoverlay.WithRecorder(storage.Recorder{Store: store}))
	}

	return &App{
		opts:       opts,
		cfg:        cell,
		log:        log.With(logx.String("comp", "app")),
		logs:       logSvc,
		bus:        bus,
		store:      store,
		m:          m,
		src:        src,
		normalizer: normalize.New(log.With(logx.String("comp", "normalize"))),
		sender:     xsoverlay.NewSender(cell, senderOpts...),
		deliveries: deliveries,
	}, nil
}

// Config is the live configuration cell shared by every component.
func (a *App) Config() *config.Broadcaster { return a.cfg }

// Logs streams log records as they are written. Slow readers miss records.
func (a *App) Logs(buffer int) (<-chan logx.Record, func()) {
	events, unsub := a.bus.Subscribe(buffer)
	out := make(chan logx.Record, max(1, buffer))
	go func() {
		defer close(out)
		for e := range events {
			if e.Type != eventbus.TypeLog {
				continue
			}
			rec, ok := e.Data.(logx.Record)
			if !ok {
				continue
			}
			select {
			case out <- rec:
			default:
			}
		}
	}()
	return out, unsub
}

// Events exposes the lifecycle event bus.
func (a *App) Events() eventbus.Bus { return a.bus }

// Err reports why the app stopped on its own: the first failure of an
// auxiliary service such as the metrics listener. Nil after a clean Stop.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Done is closed when the app context ends, either through Stop or because
// an auxiliary service failed.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) taskDied(name string, err error) {
	a.m.TaskRestarted(name)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskDied, Data: map[string]any{
		"task": name,
		"err":  err.Error(),
	}})
}

func (a *App) newTaskSupervisor(parent context.Context, name string) *supervisor.Supervisor {
	opts := []supervisor.SupervisorOption{
		supervisor.WithLogger(a.log.With(logx.String("task", name))),
		supervisor.WithDeathHook(a.taskDied),
	}
	if a.opts.RestartLogEvery != 0 {
		opts = append(opts, supervisor.WithRestartLogRate(a.opts.RestartLogEvery, a.opts.RestartLogBurst))
	}
	return supervisor.NewSupervisor(parent, opts...)
}

// Start launches the ingestion and delivery tasks, each under its own
// restart-forever supervisor, plus the auxiliary services.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfg.Load()
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.ingest = a.newTaskSupervisor(a.sup.Context(), TaskIngestion)
	a.deliver = a.newTaskSupervisor(a.sup.Context(), TaskDelivery)

	if strings.TrimSpace(cfg.MetricsAddr) != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, a.m, a.log.With(logx.String("comp", "metrics")))
		if err := srv.Listen(); err != nil {
			a.sup.Cancel()
			return fmt.Errorf("metrics listen %s: %w", cfg.MetricsAddr, err)
		}
		a.sup.Go("metrics", srv.Serve)
	}

	a.deliver.GoRestart(TaskDelivery, func(c context.Context) error {
		return a.sender.Run(c, a.deliveries)
	})
	a.ingest.GoRestart(TaskIngestion, a.runIngestion)

	if strings.TrimSpace(a.opts.Loader.Path) != "" {
		w := config.NewWatcher(a.opts.Loader, a.cfg, a.log.With(logx.String("comp", "config")))
		a.sup.Go("config.watch", w.Watch)
	}
	a.startReloadFanout()
	if err := a.startStats(cfg); err != nil {
		a.log.Warn("stats reporter disabled", logx.Err(err))
	}

	a.opts.Notify(daemon.SdNotifyReady)
	a.log.Info("relay started",
		logx.String("strategy", a.src.Name()),
		logx.String("xsoverlay", cfg.Addr()),
		logx.Int("polling_rate_ms", cfg.PollingRate),
		logx.Float64("timeout", cfg.Timeout),
	)
	return nil
}

// runIngestion is one run of the ingestion task: pull records from the
// source, normalize them and queue the popups.
func (a *App) runIngestion(ctx context.Context) error {
	strategy := a.src.Name()
	return a.src.Run(ctx, func(rec host.Record) {
		a.m.Received(strategy)
		msg, err := a.normalizer.Normalize(ctx, rec, a.cfg.Load().Timeout)
		if err != nil {
			a.log.Warn("failed to convert notification; dropping", logx.Uint32("id", uint32(rec.ID)), logx.String("app", rec.AppName), logx.Err(err))
			a.m.Dropped(metrics.ReasonNormalize)
			a.bus.Publish(eventbus.Event{Type: eventbus.TypeMessageDropped, Data: map[string]any{
				"app":    rec.AppName,
				"reason": err.Error(),
			}})
			return
		}
		a.deliveries.Push(msg)
	})
}

func (a *App) startReloadFanout() {
	updates, unsub := a.cfg.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer unsub()
		last := a.cfg.Load()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
}

func (a *App) applyConfig(prev, next config.Config) {
	changed, fields := config.Summarize(prev, next)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, key := range changed {
		if config.RestartRequired[key] {
			a.log.Warn("config key changed; restart required for it to take effect", logx.String("key", key))
		}
	}
	a.logs.Apply(logConfig(next))
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigPublished, Data: map[string]any{
		"version": a.cfg.Version(),
		"changed": changed,
	}})
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, fields...)...)
}

func (a *App) startStats(cfg config.Config) error {
	sched, err := cfg.ParseStatsSchedule()
	if err != nil || sched == nil {
		return err
	}
	a.cron = cron.New()
	a.cron.Schedule(sched, cron.FuncJob(a.logStats))
	a.cron.Start()
	a.sup.Go0("stats", func(c context.Context) {
		<-c.Done()
		<-a.cron.Stop().Done()
	})
	return nil
}

func sdNotify(log logx.Logger) func(string) {
	return func(state string) {
		sent, err := daemon.SdNotify(false, state)
		if err != nil {
			log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
			return
		}
		if sent {
			log.Debug("sd_notify sent", logx.String("state", state))
		}
	}
}

// Stop cancels every task and waits for them within ctx.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.opts.Notify(daemon.SdNotifyStopping)
	a.log.Info("stopping")
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("ingestion", 2*time.Second, a.ingest.Wait)
	step("delivery", 2*time.Second, a.deliver.Wait)
	step("services", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.Int("undelivered", a.deliveries.Len()))
	return a.logs.Close()
}
