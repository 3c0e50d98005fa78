// Package normalize turns host notification records into XSOverlay popups.
package normalize

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"xsnotifier/internal/host"
	"xsnotifier/internal/xsoverlay"
	logx "xsnotifier/pkg/logx"
)

// ErrNormalize marks a record that lacks the metadata a popup needs.
var ErrNormalize = errors.New("notification normalization failed")

type Normalizer struct {
	log logx.Logger
}

func New(log logx.Logger) *Normalizer {
	return &Normalizer{log: log}
}

// Normalize builds the popup for rec. The first text element is the title;
// every remaining element is appended to the content followed by a newline.
//
// Icon failures are not errors: the popup falls back to XSOverlay's
// built-in "default" icon with UseBase64Icon cleared.
func (n *Normalizer) Normalize(ctx context.Context, rec host.Record, timeout float64) (xsoverlay.Message, error) {
	if len(rec.Text) == 0 {
		return xsoverlay.Message{}, fmt.Errorf("%w: notification %d from %q has no text elements", ErrNormalize, rec.ID, rec.AppName)
	}

	msg := xsoverlay.NewPopup(timeout)
	msg.SourceApp = rec.AppName
	msg.Title = rec.Text[0]

	var content strings.Builder
	for _, part := range rec.Text[1:] {
		content.WriteString(part)
		content.WriteByte('\n')
	}
	msg.Content = content.String()

	icon, err := fetchIcon(ctx, rec)
	switch {
	case err == nil && len(icon) > 0:
		msg.Icon = base64.StdEncoding.EncodeToString(icon)
		msg.UseBase64Icon = true
	case err == nil:
		n.log.Debug("empty icon; using default", logx.Uint32("id", uint32(rec.ID)), logx.String("app", rec.AppName))
	case errors.Is(err, host.ErrNoIcon):
		n.log.Debug("no icon; using default", logx.Uint32("id", uint32(rec.ID)), logx.String("app", rec.AppName))
	default:
		n.log.Warn("failed to read icon; using default", logx.Uint32("id", uint32(rec.ID)), logx.String("app", rec.AppName), logx.Err(err))
	}
	return msg, nil
}

// fetchIcon runs the host's icon callback, turning a panic into an error so
// one bad record cannot take the ingestion task down.
func fetchIcon(ctx context.Context, rec host.Record) (icon []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			icon, err = nil, fmt.Errorf("icon fetch panicked: %v", r)
		}
	}()
	return rec.FetchIcon(ctx)
}
