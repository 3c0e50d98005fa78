package app

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"xsnotifier/internal/eventbus"
	"xsnotifier/internal/runtime/supervisor"
	logx "xsnotifier/pkg/logx"
)

// Stats is a point-in-time view of the relay.
type Stats struct {
	Ingestion  supervisor.GoroutineStats
	Delivery   supervisor.GoroutineStats
	QueueDepth int
	// EventsDropped counts bus events a slow subscriber missed.
	EventsDropped uint64
	// LastDelivery is zero when no history is kept or nothing was sent.
	LastDelivery time.Time
}

func (a *App) Stats(ctx context.Context) Stats {
	var st Stats
	if a.ingest != nil {
		st.Ingestion, _ = a.ingest.Stats(TaskIngestion)
	}
	if a.deliver != nil {
		st.Delivery, _ = a.deliver.Stats(TaskDelivery)
	}
	st.QueueDepth = a.deliveries.Len()
	st.EventsDropped = eventbus.Dropped(a.bus)
	if a.store != nil {
		if recent, err := a.store.Recent(ctx, 1); err == nil && len(recent) > 0 {
			st.LastDelivery = recent[0].At
		}
	}
	return st
}

func (a *App) logStats() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st := a.Stats(ctx)

	fields := []logx.Field{
		logx.Uint64("ingestion_restarts", st.Ingestion.Restarts),
		logx.Uint64("delivery_restarts", st.Delivery.Restarts),
		logx.Int("queue_depth", st.QueueDepth),
	}
	if st.EventsDropped > 0 {
		fields = append(fields, logx.Uint64("events_dropped", st.EventsDropped))
	}
	if st.Ingestion.LastErr != "" {
		fields = append(fields, logx.String("ingestion_last_err", st.Ingestion.LastErr))
	}
	if st.Delivery.LastErr != "" {
		fields = append(fields, logx.String("delivery_last_err", st.Delivery.LastErr))
	}
	if !st.LastDelivery.IsZero() {
		fields = append(fields, logx.String("last_delivery", humanize.Time(st.LastDelivery)))
	}
	a.log.Info("relay stats", fields...)
}
