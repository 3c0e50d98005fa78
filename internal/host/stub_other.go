//go:build !linux

package host

import (
	"context"

	logx "xsnotifier/pkg/logx"
)

// New returns the host subsystem for this platform.
func New(log logx.Logger) Subsystem { return unsupported{log: log} }

type unsupported struct{ log logx.Logger }

func (u unsupported) RequestAccess(context.Context) (AccessStatus, error) {
	u.log.Warn("no notification backend for this platform")
	return AccessDenied, ErrUnsupported
}

func (unsupported) Subscribe(func(ChangeEvent)) (Subscription, error) {
	return nil, ErrUnsupported
}

func (unsupported) Notifications(context.Context) ([]Record, error) {
	return nil, ErrUnsupported
}

func (unsupported) Notification(context.Context, ID) (Record, error) {
	return Record{}, ErrUnsupported
}
