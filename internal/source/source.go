// Package source acquires notification records from the host, either by
// subscribing to change events or by diffing periodic snapshots.
package source

import (
	"context"
	"errors"
	"fmt"

	"xsnotifier/internal/config"
	"xsnotifier/internal/host"
	logx "xsnotifier/pkg/logx"
)

// ErrPermissionDenied is returned when the host refuses notification access.
var ErrPermissionDenied = errors.New("notification access not granted")

// Source produces records until ctx ends or the run fails. emit is called
// from the Run goroutine only, in arrival order.
type Source interface {
	Name() string
	Run(ctx context.Context, emit func(host.Record)) error
}

// ConfigSource is the read side of config.Broadcaster.
type ConfigSource interface {
	Load() config.Config
}

// New selects the acquisition strategy. It is chosen once per process.
func New(strategy config.Strategy, sub host.Subsystem, cfg ConfigSource, log logx.Logger) (Source, error) {
	switch strategy {
	case config.StrategyListener:
		return NewListener(sub, log), nil
	case config.StrategyPolling:
		return NewPoller(sub, cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown notification strategy %q", strategy)
	}
}

func requestAccess(ctx context.Context, sub host.Subsystem, log logx.Logger) error {
	log.Info("requesting notification access")
	status, err := sub.RequestAccess(ctx)
	if err != nil {
		return err
	}
	if status != host.AccessAllowed {
		return fmt.Errorf("%w: access status %s", ErrPermissionDenied, status)
	}
	log.Info("notification access granted")
	return nil
}
