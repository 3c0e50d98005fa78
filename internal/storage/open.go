package storage

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"xsnotifier/internal/xsoverlay"
	logx "xsnotifier/pkg/logx"
)

// Open picks the backend from the file extension. It returns (nil, nil)
// when path is empty.
func Open(path string, log logx.Logger) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return openSQLite(path, log)
	default:
		return openFile(path, log)
	}
}

// Recorder adapts a Store to the sender's delivery hook.
type Recorder struct {
	Store Store
	Now   func() time.Time
}

func (r Recorder) RecordDelivery(ctx context.Context, msg xsoverlay.Message, addr string) error {
	if r.Store == nil {
		return ErrDisabled
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return r.Store.Record(ctx, Delivery{
		At:         now(),
		SourceApp:  msg.SourceApp,
		Title:      msg.Title,
		Content:    msg.Content,
		Addr:       addr,
		Base64Icon: msg.UseBase64Icon,
	})
}
