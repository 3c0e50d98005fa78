package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Delivery is one message that left the socket.
type Delivery struct {
	At         time.Time `json:"at"`
	SourceApp  string    `json:"source_app"`
	Title      string    `json:"title"`
	Content    string    `json:"content,omitempty"`
	Addr       string    `json:"addr"`
	Base64Icon bool      `json:"base64_icon"`
}

// Store is the history API used by the sender hook and the stats reporter.
type Store interface {
	Record(ctx context.Context, d Delivery) error
	// Recent returns up to n deliveries, newest first.
	Recent(ctx context.Context, n int) ([]Delivery, error)
	Close() error
}
