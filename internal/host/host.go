// Package host is the contract with the operating system's notification
// subsystem: access requests, change events, snapshots and per-id lookups.
package host

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a notification id is no longer live.
	ErrNotFound = errors.New("notification not found")
	// ErrUnsupported is returned on platforms without a backend.
	ErrUnsupported = errors.New("notification subsystem unsupported on this platform")
	// ErrNoIcon is returned by IconFunc when a record has no icon asset.
	ErrNoIcon = errors.New("notification has no icon")
)

// ID identifies a notification within the host subsystem. It is opaque and
// only meaningful while the notification is live.
type ID uint32

// IconFunc fetches the raw icon asset of a notification's source app.
type IconFunc func(ctx context.Context) ([]byte, error)

// Record is one notification as the host reports it. Records are immutable
// after they are produced.
type Record struct {
	ID      ID
	AppName string
	// Text holds the ordered text elements. Element 0 is the title.
	Text []string
	Icon IconFunc
}

// FetchIcon calls Icon, or reports ErrNoIcon when the record has none.
func (r Record) FetchIcon(ctx context.Context) ([]byte, error) {
	if r.Icon == nil {
		return nil, ErrNoIcon
	}
	return r.Icon(ctx)
}

type ChangeKind int

const (
	Added ChangeKind = iota
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// ChangeEvent is delivered to subscription handlers.
type ChangeEvent struct {
	Kind ChangeKind
	ID   ID
}

type AccessStatus int

const (
	AccessUnspecified AccessStatus = iota
	AccessAllowed
	AccessDenied
)

func (s AccessStatus) String() string {
	switch s {
	case AccessAllowed:
		return "allowed"
	case AccessDenied:
		return "denied"
	default:
		return "unspecified"
	}
}

// Subscription is a live change-event registration.
type Subscription interface {
	// Err yields at most one error when the subscription breaks.
	Err() <-chan error
	Close() error
}

// Subsystem is the host notification service.
//
// Handlers passed to Subscribe are invoked on host-owned goroutines and must
// not block.
type Subsystem interface {
	RequestAccess(ctx context.Context) (AccessStatus, error)
	Subscribe(handler func(ChangeEvent)) (Subscription, error)
	// Notifications returns every live notification in host order.
	Notifications(ctx context.Context) ([]Record, error)
	Notification(ctx context.Context, id ID) (Record, error)
}
